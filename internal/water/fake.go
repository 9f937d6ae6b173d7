package water

import "sync"

// Fake is a scripted WaterController for engine and API tests.
type Fake struct {
	mu sync.Mutex

	// Status is returned by CurrStatus when no fault is latched.
	Status FlowStatus
	// Configured controls whether StartWater reports NoConf.
	Configured bool
	// ConfigureOK is returned by ConfigureFlow.
	ConfigureOK bool

	// StopFails makes StopWater leave the pump running, like a failed
	// relay write.
	StopFails bool

	On      bool
	Empty   bool
	Starts  int
	Stops   int
	Checks  int
	Configs int
	Closed  bool
}

// NewFake returns a configured fake that reports Flowing.
func NewFake() *Fake {
	return &Fake{Status: Flowing, Configured: true, ConfigureOK: true}
}

func (f *Fake) StartWater(ignoreNoConf bool) StartStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !ignoreNoConf && !f.Configured {
		return StartNoConf
	}
	if f.Empty {
		return StartEmpty
	}
	if f.On {
		return StartNoAction
	}
	f.On = true
	f.Starts++
	return StartOK
}

func (f *Fake) StopWater() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stops++
	if f.StopFails {
		return
	}
	f.On = false
}

func (f *Fake) CurrStatus() FlowStatus {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Checks++
	if f.Empty {
		return Empty
	}
	if !f.Configured {
		return NoConf
	}
	if f.Status == Empty {
		f.On = false
		f.Empty = true
	}
	return f.Status
}

func (f *Fake) ResetEmpty() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Empty = false
	if f.Status == Empty {
		f.Status = Stop
	}
}

func (f *Fake) ConfigureFlow() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Configs++
	return f.ConfigureOK
}

func (f *Fake) PumpIsOn() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.On
}

func (f *Fake) EmptyTriggered() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Empty
}

func (f *Fake) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.On = false
	f.Closed = true
	return nil
}

// Snapshot returns the counters under the lock.
func (f *Fake) Snapshot() (on bool, starts, stops int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.On, f.Starts, f.Stops
}
