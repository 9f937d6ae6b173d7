package datalog

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/srmq/IIRR/internal/sensor"
)

func newTestStore(t *testing.T, keepDays int) *Store {
	t.Helper()
	return NewStore(filepath.Join(t.TempDir(), "logs"), time.UTC, keepDays, zaptest.NewLogger(t).Sugar())
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	return string(data)
}

func TestTimestampRoundTrip(t *testing.T) {
	ts := time.Date(2019, 5, 12, 14, 37, 24, 0, time.UTC)
	s := FormatTimestamp(ts)
	if s != "20190512T143724" {
		t.Errorf("FormatTimestamp: got %q", s)
	}
	got, err := ParseTimestamp(s, time.UTC)
	if err != nil {
		t.Fatalf("ParseTimestamp: %v", err)
	}
	if !got.Equal(ts) {
		t.Errorf("ParseTimestamp: got %v, want %v", got, ts)
	}
}

func TestAppendReading(t *testing.T) {
	s := newTestStore(t, 30)
	ts := time.Date(2024, 2, 29, 23, 59, 1, 0, time.UTC)

	if err := s.AppendReading(sensor.Reading{Time: ts, Surface: 12.346, Middle: 50, Deep: sensor.OpenCircuit}, true); err != nil {
		t.Fatalf("AppendReading: %v", err)
	}
	if err := s.AppendReading(sensor.Reading{Time: ts.Add(5 * time.Second), Surface: 1, Middle: 2, Deep: 3}, false); err != nil {
		t.Fatalf("AppendReading: %v", err)
	}

	got := readFile(t, filepath.Join(s.Dir(), "sensor20240229.txt"))
	want := "20240229T235901,12.35,50.00,-1.00,1\n20240229T235906,1.00,2.00,3.00,0\n"
	if got != want {
		t.Errorf("file contents:\n got %q\nwant %q", got, want)
	}
}

func TestAppendReadingUsesLocation(t *testing.T) {
	loc := time.FixedZone("BRT", -3*3600)
	s := NewStore(t.TempDir(), loc, 30, zaptest.NewLogger(t).Sugar())
	// 01:00 UTC on Mar 1 is still Feb 29 in BRT.
	ts := time.Date(2024, 3, 1, 1, 0, 0, 0, time.UTC)
	if err := s.AppendReading(sensor.Reading{Time: ts}, false); err != nil {
		t.Fatal(err)
	}
	got := readFile(t, filepath.Join(s.Dir(), "sensor20240229.txt"))
	if got[:15] != "20240229T220000" {
		t.Errorf("timestamp: got %q", got[:15])
	}
}

func TestAppendMessage(t *testing.T) {
	s := newTestStore(t, 30)
	ts := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)

	m := NewMessage(ts, SevErr, CodeSyncFailed, "datalog", "dial tcp: refused, again")
	if err := s.AppendMessage(m); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	if err := s.AppendMessage(NewMessage(ts, SevInfo, CodeEmptyTriggered)); err != nil {
		t.Fatalf("AppendMessage: %v", err)
	}
	got := readFile(t, filepath.Join(s.Dir(), "msg20240102.txt"))
	want := "20240102T030405,3,6,datalog,dial tcp: refused; again\n20240102T030405,1,1\n"
	if got != want {
		t.Errorf("file contents:\n got %q\nwant %q", got, want)
	}
}

func TestMaintenanceOnNewDay(t *testing.T) {
	s := newTestStore(t, 30)
	if err := os.MkdirAll(s.Dir(), 0o755); err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{"sensor20240101.txt", "msg20240101.txt", "sensor20240201.txt", "notes.txt"} {
		if err := os.WriteFile(filepath.Join(s.Dir(), name), []byte("x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	// Feb 1 is 31 days after Jan 1: removed. Feb 1 itself stays.
	if err := s.AppendReading(sensor.Reading{Time: time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC)}, false); err != nil {
		t.Fatal(err)
	}
	names, err := s.List()
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"notes.txt", "sensor20240201.txt"}
	if len(names) != len(want) {
		t.Fatalf("List: got %v, want %v", names, want)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Errorf("List[%d]: got %q, want %q", i, names[i], want[i])
		}
	}
}

func TestMaintenanceKeepsBoundary(t *testing.T) {
	s := newTestStore(t, 30)
	os.MkdirAll(s.Dir(), 0o755)
	os.WriteFile(filepath.Join(s.Dir(), "msg20240102.txt"), []byte("x\n"), 0o644)

	if err := s.Maintain(time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatal(err)
	}
	if _, err := os.Stat(filepath.Join(s.Dir(), "msg20240102.txt")); err != nil {
		t.Error("file exactly keepDays old should be kept")
	}
}

func TestFormatList(t *testing.T) {
	if got := FormatList([]string{"a.txt", "b.txt"}); got != `"a.txt","b.txt"` {
		t.Errorf("FormatList: got %s", got)
	}
	if got := FormatList(nil); got != "" {
		t.Errorf("FormatList(nil): got %q", got)
	}
}

func TestOpen(t *testing.T) {
	s := newTestStore(t, 30)
	ts := time.Date(2024, 4, 4, 4, 4, 4, 0, time.UTC)
	s.AppendReading(sensor.Reading{Time: ts}, false)

	f, err := s.Open("sensor20240404.txt")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	data, _ := io.ReadAll(f)
	f.Close()
	if len(data) == 0 {
		t.Error("expected file contents")
	}

	for _, bad := range []string{"../sensor20240404.txt", "sensor2024040.txt", "/etc/passwd", "other20240404.txt", "sensor2024abcd.txt"} {
		if _, err := s.Open(bad); !errors.Is(err, ErrInvalidName) {
			t.Errorf("Open(%q): got %v, want ErrInvalidName", bad, err)
		}
	}
	if _, err := s.Open("msg20990101.txt"); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Open missing: got %v, want ErrNotExist", err)
	}
}

func TestOldestOnOrAfter(t *testing.T) {
	s := newTestStore(t, 0)
	os.MkdirAll(s.Dir(), 0o755)
	for _, name := range []string{"sensor20240103.txt", "sensor20240105.txt", "sensor20240110.txt", "msg20240101.txt"} {
		os.WriteFile(filepath.Join(s.Dir(), name), nil, 0o644)
	}
	d := func(day int) time.Time { return time.Date(2024, 1, day, 15, 0, 0, 0, time.UTC) }

	tests := []struct {
		kind     Kind
		from, to time.Time
		want     string
		ok       bool
	}{
		{Data, d(1), d(31), "sensor20240103.txt", true},
		{Data, d(3), d(31), "sensor20240103.txt", true},
		{Data, d(4), d(31), "sensor20240105.txt", true},
		{Data, d(6), d(9), "", false},
		{Data, d(11), d(31), "", false},
		{Msg, d(1), d(1), "msg20240101.txt", true},
		{Msg, d(2), d(31), "", false},
	}
	for _, tt := range tests {
		name, date, ok, err := s.OldestOnOrAfter(tt.kind, tt.from, tt.to)
		if err != nil {
			t.Fatalf("OldestOnOrAfter: %v", err)
		}
		if ok != tt.ok || name != tt.want {
			t.Errorf("OldestOnOrAfter(%v, %v, %v): got (%q, %v), want (%q, %v)", tt.kind, tt.from, tt.to, name, ok, tt.want, tt.ok)
		}
		if ok && FileName(tt.kind, date) != name {
			t.Errorf("date %v does not match %q", date, name)
		}
	}
}

func TestAvailable(t *testing.T) {
	s := newTestStore(t, 30)
	if s.Available() {
		t.Error("directory does not exist yet")
	}
	os.MkdirAll(s.Dir(), 0o755)
	if !s.Available() {
		t.Error("directory exists")
	}
}
