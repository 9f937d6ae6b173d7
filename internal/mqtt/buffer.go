package mqtt

import "go.uber.org/zap"

// bufferedMsg is a serialized message kept for replay after reconnection.
type bufferedMsg struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// ringBuffer is a fixed-capacity FIFO that keeps messages while
// disconnected. Not safe for concurrent use.
type ringBuffer struct {
	buf      []bufferedMsg
	head     int // next write position
	count    int
	overflow bool // a message was dropped since the last drain
	dropped  int
	log      *zap.SugaredLogger
}

func newRingBuffer(capacity int, log *zap.SugaredLogger) *ringBuffer {
	if capacity < 1 {
		capacity = 1
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &ringBuffer{buf: make([]bufferedMsg, capacity), log: log}
}

// push appends msg, overwriting the oldest entry when full. It reports
// whether a message was dropped.
func (r *ringBuffer) push(msg bufferedMsg) bool {
	capacity := len(r.buf)
	r.buf[r.head] = msg
	r.head = (r.head + 1) % capacity
	if r.count < capacity {
		r.count++
		return false
	}
	r.dropped++
	if !r.overflow {
		r.log.Warnw("mqtt: buffer full, dropping oldest", "capacity", capacity)
		r.overflow = true
	}
	return true
}

// drainAll returns the buffered messages oldest first and empties the
// buffer.
func (r *ringBuffer) drainAll() []bufferedMsg {
	if r.count == 0 {
		return nil
	}
	capacity := len(r.buf)
	out := make([]bufferedMsg, r.count)
	start := (r.head - r.count + capacity) % capacity
	for i := range out {
		out[i] = r.buf[(start+i)%capacity]
	}
	r.count = 0
	r.head = 0
	r.overflow = false
	return out
}

func (r *ringBuffer) len() int {
	return r.count
}
