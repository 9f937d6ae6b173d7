package sensor

import "sync"

// FakeReader returns fixed values per depth.
type FakeReader struct {
	mu     sync.Mutex
	values [3]float64
	Reads  int
}

// NewFakeReader returns a reader reporting the given values.
func NewFakeReader(surface, middle, deep float64) *FakeReader {
	return &FakeReader{values: [3]float64{surface, middle, deep}}
}

// Set replaces the reported values.
func (f *FakeReader) Set(surface, middle, deep float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.values = [3]float64{surface, middle, deep}
}

func (f *FakeReader) Read(d Depth) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Reads++
	return f.values[d]
}
