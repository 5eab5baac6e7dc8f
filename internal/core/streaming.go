package core

import (
	"io"
	"sync/atomic"
)

// countingReader tracks how much of a file the row reader has consumed so
// progress can be reported as a percentage.
type countingReader struct {
	reader io.Reader
	read   atomic.Int64
	total  int64 // 0 if unknown
}

func newCountingReader(r io.Reader, total int64) *countingReader {
	return &countingReader{reader: r, total: total}
}

func (r *countingReader) Read(p []byte) (int, error) {
	n, err := r.reader.Read(p)
	r.read.Add(int64(n))
	return n, err
}

// Percent returns the read progress (0-100), or 0 if the size is unknown.
func (r *countingReader) Percent() int {
	if r.total <= 0 {
		return 0
	}
	pct := int(r.read.Load() * 100 / r.total)
	if pct > 100 {
		pct = 100
	}
	return pct
}
