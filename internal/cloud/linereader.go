package cloud

import "io"

// LineLimitedReader passes through at most maxLines newline-terminated
// lines of the underlying reader.
type LineLimitedReader struct {
	r        io.Reader
	maxLines int
	lines    int
}

// NewLineLimitedReader wraps r.
func NewLineLimitedReader(r io.Reader, maxLines int) *LineLimitedReader {
	return &LineLimitedReader{r: r, maxLines: maxLines}
}

// Read returns io.EOF once maxLines lines have been read, even when the
// underlying reader has more data. Bytes read past the last allowed newline
// are dropped.
func (l *LineLimitedReader) Read(p []byte) (int, error) {
	if l.Available() == 0 {
		return 0, io.EOF
	}
	n, err := l.r.Read(p)
	for i := 0; i < n; i++ {
		if p[i] != '\n' {
			continue
		}
		l.lines++
		if l.lines == l.maxLines {
			return i + 1, nil
		}
	}
	return n, err
}

// Available returns how many more lines may be read. It is 0 once the cap
// is reached.
func (l *LineLimitedReader) Available() int {
	if l.lines >= l.maxLines {
		return 0
	}
	return l.maxLines - l.lines
}

// LinesRead returns the number of complete lines passed through.
func (l *LineLimitedReader) LinesRead() int {
	return l.lines
}
