// Package cloud ships the per-day data and message logs to the cloud
// archive. The server reports, per stream, the newest line it holds; each
// cycle resumes from there and sends at most the number of lines the server
// asks for.
package cloud

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/srmq/IIRR/internal/clock"
	"github.com/srmq/IIRR/internal/datalog"
	"github.com/srmq/IIRR/internal/digest"
	"github.com/srmq/IIRR/internal/params"
)

// Precondition and protocol failures. All of them abort the current cycle
// and are retried on the next one.
var (
	ErrClockInvalid  = errors.New("cloud: local clock not set")
	ErrNotConnected  = errors.New("cloud: service unreachable")
	ErrFSUnavailable = errors.New("cloud: log filesystem unavailable")
	ErrNoCloudConf   = errors.New("cloud: no cloud configuration")
	ErrCloudDisabled = errors.New("cloud: sync disabled")
	ErrBadSendParams = errors.New("cloud: invalid send-params response")
)

// Client is the authenticated HTTP client used for the cloud service.
type Client interface {
	Get(ctx context.Context, url string) (*http.Response, error)
	Post(ctx context.Context, url, contentType string, body io.Reader) (*http.Response, error)
}

// ConfSource provides the current cloud configuration.
type ConfSource interface {
	Cloud() (params.CloudConf, bool)
}

// LogStore is the part of the log store the syncer reads.
type LogStore interface {
	Available() bool
	Location() *time.Location
	OldestOnOrAfter(kind datalog.Kind, from, until time.Time) (string, time.Time, bool, error)
	Open(name string) (*os.File, error)
	AppendMessage(m datalog.Message) error
}

// Options tunes the sync cadence.
type Options struct {
	SteadyInterval time.Duration
	RetryInterval  time.Duration
	Jitter         float64
	RequestTimeout time.Duration
	ClockTolerance time.Duration
}

// DefaultOptions returns the production cadence.
func DefaultOptions() Options {
	return Options{
		SteadyInterval: 4 * time.Minute,
		RetryInterval:  30 * time.Second,
		Jitter:         0.5,
		RequestTimeout: 30 * time.Second,
		ClockTolerance: 120 * time.Second,
	}
}

// StreamResult is the outcome of one stream in one cycle.
type StreamResult struct {
	Kind     datalog.Kind
	File     string
	Sent     int
	CaughtUp bool
	Err      error
}

// Result is the outcome of one cycle.
type Result struct {
	ID      string
	Err     error
	Streams []StreamResult
	Next    time.Duration
	Clock   time.Duration // correction applied, zero when none
}

// CaughtUp reports whether every stream is caught up for today.
func (r Result) CaughtUp() bool {
	if r.Err != nil || len(r.Streams) == 0 {
		return false
	}
	for _, s := range r.Streams {
		if !s.CaughtUp {
			return false
		}
	}
	return true
}

// StreamStatus is the last known state of one stream.
type StreamStatus struct {
	LastAttempt time.Time `json:"last_attempt"`
	LastSend    time.Time `json:"last_send"`
	LinesSent   int       `json:"lines_sent"`
	TotalLines  int       `json:"total_lines"`
	CaughtUp    bool      `json:"caught_up"`
	LastError   string    `json:"last_error,omitempty"`
}

// Status summarises the syncer for status views.
type Status struct {
	InCycle   bool                    `json:"in_cycle"`
	LastCycle time.Time               `json:"last_cycle"`
	LastError string                  `json:"last_error,omitempty"`
	NextIn    time.Duration           `json:"next_in_ns"`
	Streams   map[string]StreamStatus `json:"streams"`
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithClientFactory replaces the digest client constructor.
func WithClientFactory(f func(params.CloudConf) Client) Option {
	return func(s *Syncer) { s.newClient = f }
}

// WithResultHook registers a function called at the end of every cycle.
func WithResultHook(fn func(Result)) Option {
	return func(s *Syncer) { s.onResult = fn }
}

// Syncer runs sync cycles one bounded step at a time. Tick must be called
// from a single goroutine; Status is safe for concurrent use.
type Syncer struct {
	conf  ConfSource
	logs  LogStore
	clock clock.Settable
	opts  Options
	sched *Schedule
	log   *zap.SugaredLogger

	newClient  func(params.CloudConf) Client
	onResult   func(Result)
	client     Client
	clientConf params.CloudConf

	cycle *cycle

	mu     sync.Mutex
	status Status
}

type cycle struct {
	id      string
	base    string
	client  Client
	today   time.Time
	clock   time.Duration
	streams []*cursor
}

type cursor struct {
	kind   datalog.Kind
	params SendParams
	search time.Time
	done   bool
	res    StreamResult
}

// NewSyncer returns an idle syncer. The first Tick starts a cycle.
func NewSyncer(conf ConfSource, logs LogStore, clk clock.Settable, opts Options, log *zap.SugaredLogger, options ...Option) *Syncer {
	s := &Syncer{
		conf:  conf,
		logs:  logs,
		clock: clk,
		opts:  opts,
		sched: NewSchedule(opts.SteadyInterval, opts.RetryInterval, opts.Jitter),
		log:   log,
		status: Status{
			Streams: map[string]StreamStatus{},
		},
	}
	s.newClient = func(c params.CloudConf) Client {
		return digest.New(c.Login, c.Pass, digest.Options{Timeout: opts.RequestTimeout, CertHash: c.CertHash})
	}
	for _, o := range options {
		o(s)
	}
	return s
}

// Status returns a copy of the current status.
func (s *Syncer) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.status
	st.Streams = make(map[string]StreamStatus, len(s.status.Streams))
	for k, v := range s.status.Streams {
		st.Streams[k] = v
	}
	return st
}

// Tick performs one step: starting a cycle, one search or send for one
// stream, or finishing the cycle. It returns 0 while the cycle is still in
// progress, otherwise the delay until the next cycle should start.
func (s *Syncer) Tick(ctx context.Context) time.Duration {
	if s.cycle == nil {
		c, err := s.begin(ctx)
		if err != nil {
			return s.finish(&cycle{id: c.id}, err)
		}
		s.cycle = c
		s.setInCycle(true)
		return 0
	}

	c := s.cycle
	for _, cur := range c.streams {
		if cur.done {
			continue
		}
		s.step(ctx, c, cur)
		break
	}
	for _, cur := range c.streams {
		if !cur.done {
			return 0
		}
	}
	s.cycle = nil
	return s.finish(c, nil)
}

func (s *Syncer) begin(ctx context.Context) (*cycle, error) {
	c := &cycle{id: uuid.NewString()}

	now := s.clock.Now()
	if !clock.Valid(now) {
		return c, ErrClockInvalid
	}
	if !s.logs.Available() {
		return c, ErrFSUnavailable
	}
	conf, ok := s.conf.Cloud()
	if !ok {
		return c, ErrNoCloudConf
	}
	if !conf.Enabled {
		return c, ErrCloudDisabled
	}

	c.base = strings.TrimRight(conf.BaseURL, "/")
	c.client = s.clientFor(conf)
	if err := s.probe(ctx, c); err != nil {
		return c, fmt.Errorf("%w: %v", ErrNotConnected, err)
	}

	start := s.clock.Now()
	for _, kind := range datalog.Kinds {
		p, err := s.fetchParams(ctx, c, kind)
		if err != nil {
			return c, fmt.Errorf("%s send-params: %w", kind, err)
		}
		cur := &cursor{kind: kind, params: p, res: StreamResult{Kind: kind}}
		if !p.LastAck.IsZero() {
			cur.search = p.LastAck
		}
		c.streams = append(c.streams, cur)
	}
	rtt := s.clock.Now().Sub(start)
	c.clock = s.reconcile(c.streams[len(c.streams)-1].params.ServerNow, rtt)
	c.today = s.clock.Now()

	s.log.Debugw("cloud: cycle started", "cycle", c.id, "rtt", rtt)
	return c, nil
}

func (s *Syncer) clientFor(conf params.CloudConf) Client {
	if s.client == nil || s.clientConf != conf {
		s.client = s.newClient(conf)
		s.clientConf = conf
	}
	return s.client
}

// probe checks that the service answers generate_204 with an empty 204.
func (s *Syncer) probe(ctx context.Context, c *cycle) error {
	resp, err := c.client.Get(ctx, c.base+"/v100/generate_204")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent || resp.ContentLength > 0 {
		return fmt.Errorf("generate_204 answered %d with %d bytes", resp.StatusCode, resp.ContentLength)
	}
	return nil
}

func (s *Syncer) fetchParams(ctx context.Context, c *cycle, kind datalog.Kind) (SendParams, error) {
	resp, err := c.client.Get(ctx, c.base+"/v100/"+kind.String()+"/send-params")
	if err != nil {
		return SendParams{}, err
	}
	defer resp.Body.Close()
	return DecodeSendParams(resp.Body)
}

// reconcile corrects the local clock when the server time, advanced by half
// the round trip, differs by more than the tolerance.
func (s *Syncer) reconcile(serverNow time.Time, rtt time.Duration) time.Duration {
	adjusted := serverNow.Add(rtt / 2)
	local := s.clock.Now()
	diff := adjusted.Sub(local)
	if diff <= s.opts.ClockTolerance && diff >= -s.opts.ClockTolerance {
		return 0
	}
	if err := s.clock.Set(adjusted); err != nil {
		s.log.Warnw("cloud: unable to adjust clock", "error", err)
		return 0
	}
	s.log.Infow("cloud: clock adjusted", "old", local, "new", adjusted)
	s.message(datalog.NewMessage(adjusted, datalog.SevWarn, datalog.CodeClockAdjusted,
		datalog.FormatTimestamp(local.In(s.logs.Location())), datalog.FormatTimestamp(adjusted.In(s.logs.Location()))))
	return diff
}

// step looks at the oldest file not yet fully acknowledged and either sends
// its unacknowledged lines, marks the stream caught up, or moves the search
// to the next day.
func (s *Syncer) step(ctx context.Context, c *cycle, cur *cursor) {
	loc := s.logs.Location()
	name, date, ok, err := s.logs.OldestOnOrAfter(cur.kind, cur.search, c.today)
	if err != nil {
		s.failStream(c, cur, fmt.Errorf("listing logs: %w", err))
		return
	}
	if !ok {
		s.log.Warnw("cloud: no log file to send", "cycle", c.id, "stream", cur.kind, "from", cur.search.In(loc).Format("2006-01-02"))
		cur.done = true
		return
	}
	cur.res.File = name

	f, err := s.logs.Open(name)
	if err != nil {
		s.failStream(c, cur, err)
		return
	}
	defer f.Close()

	start, end, found, err := findUnsent(f, cur.params.LastAck, loc)
	if err != nil {
		s.failStream(c, cur, fmt.Errorf("scanning %s: %w", name, err))
		return
	}
	if !found {
		if sameDay(date, c.today.In(loc)) {
			cur.res.CaughtUp = true
			cur.done = true
			return
		}
		cur.search = date.AddDate(0, 0, 1)
		return
	}

	lr := NewLineLimitedReader(io.NewSectionReader(f, start, end-start), cur.params.MaxLines)
	resp, err := c.client.Post(ctx, c.base+"/v100/"+cur.kind.String()+"/send", "text/csv", lr)
	if err != nil {
		s.failStream(c, cur, fmt.Errorf("sending %s: %w", name, err))
		return
	}
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
	resp.Body.Close()

	cur.res.Sent = lr.LinesRead()
	cur.done = true
	s.log.Infow("cloud: lines sent", "cycle", c.id, "stream", cur.kind, "file", name, "lines", cur.res.Sent)
}

func (s *Syncer) failStream(c *cycle, cur *cursor, err error) {
	cur.res.Err = err
	cur.done = true
	s.log.Warnw("cloud: stream sync failed", "cycle", c.id, "stream", cur.kind, "error", err)
	s.message(datalog.NewMessage(s.clock.Now(), datalog.SevWarn, datalog.CodeSyncFailed, cur.kind, err))
}

func (s *Syncer) finish(c *cycle, err error) time.Duration {
	res := Result{ID: c.id, Err: err, Clock: c.clock}
	for _, cur := range c.streams {
		res.Streams = append(res.Streams, cur.res)
	}
	res.Next = s.sched.Next(res.CaughtUp())

	switch {
	case err == nil:
		s.log.Debugw("cloud: cycle finished", "cycle", c.id, "caught_up", res.CaughtUp(), "next", res.Next)
	case errors.Is(err, ErrNoCloudConf), errors.Is(err, ErrCloudDisabled), errors.Is(err, ErrClockInvalid):
		s.log.Debugw("cloud: cycle skipped", "reason", err, "next", res.Next)
	default:
		s.log.Warnw("cloud: cycle failed", "cycle", c.id, "error", err, "next", res.Next)
		if !errors.Is(err, ErrFSUnavailable) {
			s.message(datalog.NewMessage(s.clock.Now(), datalog.SevWarn, datalog.CodeSyncFailed, "cycle", err))
		}
	}

	s.record(res)
	if s.onResult != nil {
		s.onResult(res)
	}
	return res.Next
}

func (s *Syncer) record(res Result) {
	now := s.clock.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status.InCycle = false
	s.status.LastCycle = now
	s.status.NextIn = res.Next
	s.status.LastError = ""
	if res.Err != nil {
		s.status.LastError = res.Err.Error()
	}
	for _, r := range res.Streams {
		st := s.status.Streams[r.Kind.String()]
		st.LastAttempt = now
		st.CaughtUp = r.CaughtUp
		st.LinesSent = r.Sent
		st.TotalLines += r.Sent
		st.LastError = ""
		if r.Err != nil {
			st.LastError = r.Err.Error()
		}
		if r.Sent > 0 {
			st.LastSend = now
		}
		s.status.Streams[r.Kind.String()] = st
	}
}

func (s *Syncer) setInCycle(v bool) {
	s.mu.Lock()
	s.status.InCycle = v
	s.mu.Unlock()
}

func (s *Syncer) message(m datalog.Message) {
	if err := s.logs.AppendMessage(m); err != nil {
		s.log.Warnw("cloud: unable to write message log", "error", err)
	}
}

// findUnsent scans a log file for the first complete line newer than after
// (every line when after is zero). It returns the byte range from that line
// to the end of the last complete line; a trailing partial line still being
// written is left for the next cycle.
func findUnsent(r io.Reader, after time.Time, loc *time.Location) (start, end int64, found bool, err error) {
	br := bufio.NewReader(r)
	var off int64
	for {
		line, rerr := br.ReadString('\n')
		if strings.HasSuffix(line, "\n") {
			if !found && lineAfter(line, after, loc) {
				start, found = off, true
			}
			off += int64(len(line))
			end = off
		}
		if rerr == io.EOF {
			return start, end, found, nil
		}
		if rerr != nil {
			return 0, 0, false, rerr
		}
	}
}

func lineAfter(line string, after time.Time, loc *time.Location) bool {
	if len(line) < len(datalog.TimestampLayout) {
		return false
	}
	t, err := datalog.ParseTimestamp(line[:len(datalog.TimestampLayout)], loc)
	if err != nil {
		return false
	}
	return after.IsZero() || t.After(after)
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
