package gpio

import "sync"

// FakePump records relay transitions.
type FakePump struct {
	mu sync.Mutex

	// On is the current relay state.
	On bool

	// Sets records every value passed to Set, in order.
	Sets []bool

	// SetError, if set, is returned by Set and the state is unchanged.
	SetError error

	// Closed tracks if Close was called.
	Closed bool
}

// Set records the transition.
func (f *FakePump) Set(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SetError != nil {
		return f.SetError
	}
	f.On = on
	f.Sets = append(f.Sets, on)
	return nil
}

// Close releases the relay and marks the pump closed.
func (f *FakePump) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.On = false
	f.Closed = true
	return nil
}

// IsOn returns the relay state.
func (f *FakePump) IsOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.On
}

// Transitions returns a copy of the recorded Set values.
func (f *FakePump) Transitions() []bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]bool(nil), f.Sets...)
}

// FakePulseCounter returns scripted counts. Each Count call after a Reset
// consumes the next entry of Counts; when the script is exhausted the last
// entry repeats. Rate, if non-nil, overrides the script.
type FakePulseCounter struct {
	mu sync.Mutex

	Counts []uint64
	Rate   func() uint64

	index   int
	Enabled bool
	Resets  int
	Closed  bool
}

// NewFakePulseCounter creates a counter with the given scripted counts.
func NewFakePulseCounter(counts ...uint64) *FakePulseCounter {
	return &FakePulseCounter{Counts: counts}
}

func (f *FakePulseCounter) Enable(on bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Enabled = on
	return nil
}

func (f *FakePulseCounter) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Resets++
}

func (f *FakePulseCounter) Count() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Rate != nil {
		return f.Rate()
	}
	if len(f.Counts) == 0 {
		return 0
	}
	n := f.Counts[f.index]
	if f.index < len(f.Counts)-1 {
		f.index++
	}
	return n
}

func (f *FakePulseCounter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	f.Enabled = false
	return nil
}
