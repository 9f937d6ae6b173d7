package water

import "sync"

// LearnStatus is the state of the asynchronous flow calibration job.
type LearnStatus int

const (
	LearnNotRequested LearnStatus = iota
	LearnInProgress
	LearnDone
	LearnError
)

func (s LearnStatus) String() string {
	switch s {
	case LearnNotRequested:
		return "NOT_REQUESTED"
	case LearnInProgress:
		return "IN_PROGRESS"
	case LearnDone:
		return "DONE"
	case LearnError:
		return "ERROR"
	}
	return "UNKNOWN"
}

// LearnJob queues a flow calibration requested by the admin API so the
// sensor task can run it between readings. At most one job is in flight.
type LearnJob struct {
	mu      sync.Mutex
	pending bool
	status  LearnStatus
}

// Request queues a calibration. It is a no-op while one is queued or
// running and reports whether a new job was queued.
func (j *LearnJob) Request() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.pending || j.status == LearnInProgress {
		return false
	}
	j.pending = true
	return true
}

// Status returns the state of the last job.
func (j *LearnJob) Status() LearnStatus {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// Reset returns a finished job to NotRequested. A running job is not
// affected.
func (j *LearnJob) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != LearnInProgress {
		j.status = LearnNotRequested
	}
}

// RunPending runs a queued calibration on ctrl, blocking until it
// finishes. It reports whether a job ran.
func (j *LearnJob) RunPending(ctrl WaterController) bool {
	j.mu.Lock()
	if !j.pending {
		j.mu.Unlock()
		return false
	}
	j.pending = false
	j.status = LearnInProgress
	j.mu.Unlock()

	ok := ctrl.ConfigureFlow()

	j.mu.Lock()
	if ok {
		j.status = LearnDone
	} else {
		j.status = LearnError
	}
	j.mu.Unlock()
	return true
}
