package mqtt

import (
	"testing"

	"go.uber.org/zap/zaptest"
)

func push(rb *ringBuffer, from, to int) (dropped int) {
	for i := from; i < to; i++ {
		if rb.push(bufferedMsg{topic: "iirr/events", payload: []byte{byte(i)}}) {
			dropped++
		}
	}
	return dropped
}

func TestRingBufferEmptyDrain(t *testing.T) {
	rb := newRingBuffer(10, nil)
	if got := rb.drainAll(); got != nil {
		t.Errorf("empty drain: got %d items, want nil", len(got))
	}
}

func TestRingBufferPushAndDrain(t *testing.T) {
	rb := newRingBuffer(10, zaptest.NewLogger(t).Sugar())
	if d := push(rb, 0, 5); d != 0 {
		t.Errorf("dropped: got %d, want 0", d)
	}

	got := rb.drainAll()
	if len(got) != 5 {
		t.Fatalf("drain: got %d items, want 5", len(got))
	}
	for i, m := range got {
		if m.payload[0] != byte(i) {
			t.Errorf("item %d: got payload %d, want %d", i, m.payload[0], i)
		}
	}
	if got := rb.drainAll(); got != nil {
		t.Errorf("second drain: got %d items, want nil", len(got))
	}
}

func TestRingBufferOverflowKeepsNewest(t *testing.T) {
	rb := newRingBuffer(5, zaptest.NewLogger(t).Sugar())
	if d := push(rb, 0, 8); d != 3 {
		t.Errorf("dropped: got %d, want 3", d)
	}
	if rb.dropped != 3 {
		t.Errorf("dropped counter: got %d, want 3", rb.dropped)
	}

	got := rb.drainAll()
	if len(got) != 5 {
		t.Fatalf("drain: got %d items, want 5", len(got))
	}
	for i, m := range got {
		if want := byte(i + 3); m.payload[0] != want {
			t.Errorf("item %d: got payload %d, want %d", i, m.payload[0], want)
		}
	}
	if rb.overflow {
		t.Error("overflow flag should reset on drain")
	}
}

func TestRingBufferMultipleCycles(t *testing.T) {
	rb := newRingBuffer(5, nil)
	push(rb, 0, 3)
	if got := rb.drainAll(); len(got) != 3 {
		t.Fatalf("cycle 1: got %d items, want 3", len(got))
	}

	push(rb, 10, 14)
	got := rb.drainAll()
	if len(got) != 4 {
		t.Fatalf("cycle 2: got %d items, want 4", len(got))
	}
	for i, m := range got {
		if want := byte(10 + i); m.payload[0] != want {
			t.Errorf("cycle 2 item %d: got %d, want %d", i, m.payload[0], want)
		}
	}
}

func TestRingBufferLen(t *testing.T) {
	rb := newRingBuffer(10, nil)
	if rb.len() != 0 {
		t.Errorf("len: got %d, want 0", rb.len())
	}
	push(rb, 0, 2)
	if rb.len() != 2 {
		t.Errorf("len: got %d, want 2", rb.len())
	}
	rb.drainAll()
	if rb.len() != 0 {
		t.Errorf("len after drain: got %d, want 0", rb.len())
	}
}

func TestRingBufferMinimumCapacity(t *testing.T) {
	rb := newRingBuffer(0, nil)
	push(rb, 0, 3)
	got := rb.drainAll()
	if len(got) != 1 || got[0].payload[0] != 2 {
		t.Errorf("capacity 0 buffer: got %v, want the last message only", got)
	}
}

func TestRingBufferPreservesFields(t *testing.T) {
	rb := newRingBuffer(10, nil)
	rb.push(bufferedMsg{topic: "iirr/system", payload: []byte(`{"test":true}`), qos: 1, retained: true})

	got := rb.drainAll()
	if len(got) != 1 {
		t.Fatalf("drain: got %d items, want 1", len(got))
	}
	m := got[0]
	if m.topic != "iirr/system" || string(m.payload) != `{"test":true}` || m.qos != 1 || !m.retained {
		t.Errorf("fields: got %+v", m)
	}
}
