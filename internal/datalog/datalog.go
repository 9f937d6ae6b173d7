// Package datalog writes the per-day sensor and message log files and
// serves them back for the boundary API and the cloud sync engine.
//
// Every line starts with a YYYYMMDDThhmmss timestamp in the configured
// timezone. Files are append-only.
package datalog

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/srmq/IIRR/internal/sensor"
)

// Kind selects one of the two log streams.
type Kind int

const (
	Data Kind = iota
	Msg
)

// Kinds lists both streams.
var Kinds = [...]Kind{Data, Msg}

func (k Kind) String() string {
	if k == Msg {
		return "msglog"
	}
	return "datalog"
}

func (k Kind) prefix() string {
	if k == Msg {
		return "msg"
	}
	return "sensor"
}

const (
	// TimestampLayout is the line timestamp format.
	TimestampLayout = "20060102T150405"
	dateLayout      = "20060102"
	fileExt         = ".txt"
)

// ErrInvalidName is returned by Open for names that are not log files.
var ErrInvalidName = errors.New("datalog: invalid file name")

// FormatTimestamp renders t as YYYYMMDDThhmmss in t's location.
func FormatTimestamp(t time.Time) string {
	return t.Format(TimestampLayout)
}

// ParseTimestamp parses a line timestamp in loc.
func ParseTimestamp(s string, loc *time.Location) (time.Time, error) {
	return time.ParseInLocation(TimestampLayout, s, loc)
}

// FileName returns the base name of kind's file for the day of t.
func FileName(kind Kind, t time.Time) string {
	return kind.prefix() + t.Format(dateLayout) + fileExt
}

// Store manages the log directory.
type Store struct {
	dir      string
	loc      *time.Location
	keepDays int
	log      *zap.SugaredLogger

	mu      sync.Mutex
	lastDay string // day of the previous write, for maintenance
}

// NewStore returns a store over dir. Days are calendar days in loc.
func NewStore(dir string, loc *time.Location, keepDays int, log *zap.SugaredLogger) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{dir: dir, loc: loc, keepDays: keepDays, log: log}
}

// Dir returns the log directory.
func (s *Store) Dir() string { return s.dir }

// Location returns the timezone used for file names and timestamps.
func (s *Store) Location() *time.Location { return s.loc }

// Available reports whether the log directory exists and is a directory.
func (s *Store) Available() bool {
	fi, err := os.Stat(s.dir)
	return err == nil && fi.IsDir()
}

// AppendReading writes one data line.
func (s *Store) AppendReading(r sensor.Reading, irrigating bool) error {
	flag := '0'
	if irrigating {
		flag = '1'
	}
	t := r.Time.In(s.loc)
	line := fmt.Sprintf("%s,%.2f,%.2f,%.2f,%c\n", FormatTimestamp(t), r.Surface, r.Middle, r.Deep, flag)
	return s.append(Data, t, line)
}

// AppendMessage writes one message line.
func (s *Store) AppendMessage(m Message) error {
	return s.append(Msg, m.Time.In(s.loc), m.line(s.loc))
}

func (s *Store) append(kind Kind, t time.Time, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", s.dir, err)
	}
	day := t.Format(dateLayout)
	if day != s.lastDay {
		if err := s.maintainLocked(t); err != nil {
			s.log.Warnw("datalog: maintenance failed", "error", err)
		}
		s.lastDay = day
	}

	path := filepath.Join(s.dir, FileName(kind, t))
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	if _, err := f.WriteString(line); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// Maintain removes log files more than keepDays days older than now.
func (s *Store) Maintain(now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.maintainLocked(now)
}

func (s *Store) maintainLocked(now time.Time) error {
	if s.keepDays <= 0 {
		return nil
	}
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return err
	}
	today := dayOf(now.In(s.loc))
	var errs []error
	for _, e := range entries {
		for _, kind := range Kinds {
			date, ok := s.parseName(kind, e.Name())
			if !ok {
				continue
			}
			if elapsedDays(date, today) > s.keepDays {
				if err := os.Remove(filepath.Join(s.dir, e.Name())); err != nil {
					errs = append(errs, err)
				} else {
					s.log.Infow("datalog: removed old log", "file", e.Name())
				}
			}
		}
	}
	return errors.Join(errs...)
}

// List returns the names of all log files, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.Type().IsRegular() && strings.HasSuffix(e.Name(), fileExt) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	return names, nil
}

// FormatList renders names as "a","b",...
func FormatList(names []string) string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = `"` + n + `"`
	}
	return strings.Join(quoted, ",")
}

// Open opens a log file for reading. name must be a bare file name of one
// of the two streams.
func (s *Store) Open(name string) (*os.File, error) {
	valid := false
	for _, kind := range Kinds {
		if _, ok := s.parseName(kind, name); ok {
			valid = true
		}
	}
	if !valid {
		return nil, fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return os.Open(filepath.Join(s.dir, name))
}

// OldestOnOrAfter returns the earliest file of kind dated on or after the
// day of from and not after the day of until.
func (s *Store) OldestOnOrAfter(kind Kind, from, until time.Time) (name string, date time.Time, ok bool, err error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return "", time.Time{}, false, err
	}
	lo, hi := dayOf(from.In(s.loc)), dayOf(until.In(s.loc))
	for _, e := range entries {
		d, match := s.parseName(kind, e.Name())
		if !match || d.Before(lo) || d.After(hi) {
			continue
		}
		if !ok || d.Before(date) {
			name, date, ok = e.Name(), d, true
		}
	}
	return name, date, ok, nil
}

// Path returns the full path of a file name in the store.
func (s *Store) Path(name string) string {
	return filepath.Join(s.dir, name)
}

func (s *Store) parseName(kind Kind, name string) (time.Time, bool) {
	p := kind.prefix()
	if len(name) != len(p)+len(dateLayout)+len(fileExt) ||
		!strings.HasPrefix(name, p) || !strings.HasSuffix(name, fileExt) {
		return time.Time{}, false
	}
	d, err := time.ParseInLocation(dateLayout, name[len(p):len(p)+len(dateLayout)], s.loc)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func dayOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// elapsedDays counts calendar days from a to b.
func elapsedDays(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 0, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
