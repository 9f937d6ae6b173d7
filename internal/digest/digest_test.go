package digest

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sony/gobreaker"
)

func TestResponseGoldenVector(t *testing.T) {
	// RFC 2617 section 3.5.
	got := Response("testrealm@host.com", "dcd98b7102dd2f0e8b11d0f600bfb0c093", "0a4f113b", "00000001",
		"Mufasa", "Circle Of Life", "GET", "/dir/index.html")
	want := "6629fae49393a05397450978507c4ef1"
	if got != want {
		t.Errorf("Response: got %s, want %s", got, want)
	}
}

func TestQuotedParam(t *testing.T) {
	h := `Digest realm="iirr cloud", qop="auth", nonce="abc123", opaque="x"`
	tests := []struct {
		name, want string
	}{
		{"realm", "iirr cloud"},
		{"nonce", "abc123"},
		{"opaque", "x"},
		{"missing", ""},
	}
	for _, tt := range tests {
		if got := quotedParam(h, tt.name); got != tt.want {
			t.Errorf("quotedParam(%q): got %q, want %q", tt.name, got, tt.want)
		}
	}
	if got := quotedParam(`Digest realm="unterminated`, "realm"); got != "" {
		t.Errorf("unterminated: got %q, want empty", got)
	}
}

func TestCnonceFormat(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 20; i++ {
		c := newCnonce()
		if len(c) != 8 {
			t.Fatalf("cnonce %q: length %d, want 8", c, len(c))
		}
		for _, r := range c {
			if !strings.ContainsRune(cnonceChars, r) {
				t.Fatalf("cnonce %q: unexpected rune %q", c, r)
			}
		}
		seen[c] = true
	}
	if len(seen) < 2 {
		t.Error("cnonce should vary between calls")
	}
}

// digestServer is a minimal Digest-protected endpoint.
type digestServer struct {
	user, pass, realm, nonce string

	mu         sync.Mutex
	probes     int
	authorized int
	probeBody  []string
	bodies     []string
	chunked    []bool
	badAuth    int
}

func (s *digestServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	s.mu.Lock()
	defer s.mu.Unlock()

	authz := r.Header.Get("Authorization")
	if authz == "" {
		s.probes++
		s.probeBody = append(s.probeBody, string(body))
		w.Header().Set("WWW-Authenticate", fmt.Sprintf(`Digest realm="%s", qop="auth", nonce="%s"`, s.realm, s.nonce))
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	cnonce := quotedParam(authz, "cnonce")
	uri := quotedParam(authz, "uri")
	want := Response(s.realm, s.nonce, cnonce, "00000001", s.user, s.pass, r.Method, uri)
	if quotedParam(authz, "response") != want || uri != r.URL.RequestURI() ||
		!strings.Contains(authz, "qop=auth") || !strings.Contains(authz, "nc=00000001") {
		s.badAuth++
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	s.authorized++
	s.bodies = append(s.bodies, string(body))
	s.chunked = append(s.chunked, len(r.TransferEncoding) > 0 && r.TransferEncoding[0] == "chunked")
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, `{"status":0}`)
}

func newDigestServer(t *testing.T) (*digestServer, *httptest.Server) {
	t.Helper()
	ds := &digestServer{user: "plot7", pass: "s3cret", realm: "iirr", nonce: "n0nce"}
	srv := httptest.NewServer(ds)
	t.Cleanup(srv.Close)
	return ds, srv
}

func TestGetAuthenticates(t *testing.T) {
	ds, srv := newDigestServer(t)
	c := New(ds.user, ds.pass, Options{})

	resp, err := c.Get(context.Background(), srv.URL+"/v100/datalog/send-params?x=1")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	if string(b) != `{"status":0}` {
		t.Errorf("body: got %q", b)
	}
	if ds.probes != 1 || ds.authorized != 1 || ds.badAuth != 0 {
		t.Errorf("rounds: probes=%d authorized=%d bad=%d, want 1/1/0", ds.probes, ds.authorized, ds.badAuth)
	}
}

func TestPostSendsBodyChunked(t *testing.T) {
	ds, srv := newDigestServer(t)
	c := New(ds.user, ds.pass, Options{})

	body := "20240101T000000,1.00,2.00,3.00,0\n20240101T000500,1.00,2.00,3.00,0\n"
	resp, err := c.Post(context.Background(), srv.URL+"/v100/datalog/send", "text/csv", strings.NewReader(body))
	if err != nil {
		t.Fatalf("Post: %v", err)
	}
	resp.Body.Close()

	if len(ds.probeBody) != 1 || ds.probeBody[0] != "" {
		t.Errorf("probe body: got %q, want one empty body", ds.probeBody)
	}
	if len(ds.bodies) != 1 || ds.bodies[0] != body {
		t.Errorf("authorized body: got %q, want %q", ds.bodies, body)
	}
	if len(ds.chunked) != 1 || !ds.chunked[0] {
		t.Error("authorized POST should use chunked transfer encoding")
	}
}

func TestWrongPasswordReturnsStatus(t *testing.T) {
	ds, srv := newDigestServer(t)
	c := New(ds.user, "wrong", Options{})

	_, err := c.Get(context.Background(), srv.URL+"/v100/msglog/send-params")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusUnauthorized {
		t.Errorf("error: got %v, want StatusError 401", err)
	}
}

func TestNoAuthHeader(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	_, err := New("u", "p", Options{}).Get(context.Background(), srv.URL)
	if !errors.Is(err, ErrNoAuthHeader) {
		t.Errorf("error: got %v, want ErrNoAuthHeader", err)
	}
}

func TestNonChallengeStatusPassedThrough(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := New("u", "p", Options{}).Get(context.Background(), srv.URL)
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusServiceUnavailable {
		t.Errorf("error: got %v, want StatusError 503", err)
	}
}

func TestUnprotectedGetIsSingleRound(t *testing.T) {
	calls := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	resp, err := New("u", "p", Options{}).Get(context.Background(), srv.URL+"/v100/generate_204")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || calls != 1 {
		t.Errorf("got status %d after %d calls, want 204 after 1", resp.StatusCode, calls)
	}
}

type failingTransport struct{ calls int }

func (f *failingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	f.calls++
	return nil, errors.New("connection refused")
}

func TestTransportFailureOpensBreaker(t *testing.T) {
	ft := &failingTransport{}
	c := New("u", "p", Options{Transport: ft, BreakerFailures: 3, BreakerTimeout: time.Hour})

	for i := 0; i < 3; i++ {
		_, err := c.Get(context.Background(), "http://cloud.invalid/v100/datalog/send-params")
		var be *BeginError
		if !errors.As(err, &be) || be.Round != 1 || be.Method != http.MethodGet {
			t.Fatalf("call %d: got %v, want BeginError round 1 GET", i, err)
		}
	}
	if got := c.BreakerState(); got != gobreaker.StateOpen {
		t.Fatalf("breaker state: got %v, want open", got)
	}

	_, err := c.Get(context.Background(), "http://cloud.invalid/")
	if !errors.Is(err, gobreaker.ErrOpenState) {
		t.Errorf("error with open breaker: got %v, want ErrOpenState", err)
	}
	if ft.calls != 3 {
		t.Errorf("transport calls: got %d, want 3", ft.calls)
	}
}

func TestLineReaderOneLinePerRead(t *testing.T) {
	lr := &lineReader{r: bufio.NewReader(strings.NewReader("a,1\nbb,2\nccc"))}
	buf := make([]byte, 64)
	var got []string
	for {
		n, err := lr.Read(buf)
		if n > 0 {
			got = append(got, string(buf[:n]))
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
	}
	want := []string{"a,1\n", "bb,2\n", "ccc"}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("reads: got %q, want %q", got, want)
	}
}
