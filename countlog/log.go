// Package countlog holds the per-worker count log: one unsigned counter per
// elapsed second of a worker's run
package countlog

import (
	"errors"
	"fmt"
)

const (
	// GrowChunk is the number of buckets added each time the log grows
	GrowChunk = 900

	// DefaultMaxBuckets bounds a log at roughly 194 days of one-second buckets
	DefaultMaxBuckets = 1 << 24
)

// ErrExhausted is returned when the log would have to grow past its maximum
var ErrExhausted = errors.New("count log exhausted")

// Log is a growable array of counters indexed by elapsed seconds. A Log is
// owned by a single worker and is not safe for concurrent use
type Log struct {
	buckets []uint64
	filled  int
	max     int
}

// New returns an empty log that may grow to at most max buckets. A
// non-positive max selects DefaultMaxBuckets
func New(max int) *Log {
	if max <= 0 {
		max = DefaultMaxBuckets
	}
	return &Log{max: max}
}

// EnsureCapacity grows the log in GrowChunk steps until it holds at least n
// buckets. Existing values are preserved and new buckets are zero
func (l *Log) EnsureCapacity(n int) error {
	if n <= len(l.buckets) {
		return nil
	}
	if n > l.max {
		return fmt.Errorf("%w: need %d buckets, limit %d", ErrExhausted, n, l.max)
	}
	size := len(l.buckets)
	for size < n {
		size += GrowChunk
	}
	if size > l.max {
		size = l.max
	}
	grown := make([]uint64, size)
	copy(grown, l.buckets)
	l.buckets = grown
	return nil
}

// Record adds amount to the bucket at index, growing the log as needed.
// Callers pass non-decreasing indices
func (l *Log) Record(index int, amount uint64) error {
	if index < 0 {
		return fmt.Errorf("record: negative bucket index %d", index)
	}
	if err := l.EnsureCapacity(index + 1); err != nil {
		return err
	}
	l.buckets[index] += amount
	if index+1 > l.filled {
		l.filled = index + 1
	}
	return nil
}

// Filled returns the number of buckets written so far
func (l *Log) Filled() int {
	return l.filled
}

// Cap returns the number of allocated buckets
func (l *Log) Cap() int {
	return len(l.buckets)
}

// At returns the bucket at index i, or zero past the allocated range
func (l *Log) At(i int) uint64 {
	if i < 0 || i >= len(l.buckets) {
		return 0
	}
	return l.buckets[i]
}

// Window returns a copy of the first n buckets. n must not exceed Cap
func (l *Log) Window(n int) ([]uint64, error) {
	if n < 0 || n > len(l.buckets) {
		return nil, fmt.Errorf("window of %d buckets exceeds capacity %d", n, len(l.buckets))
	}
	w := make([]uint64, n)
	copy(w, l.buckets[:n])
	return w, nil
}

// Sum returns the total of all filled buckets
func (l *Log) Sum() uint64 {
	var s uint64
	for _, v := range l.buckets[:l.filled] {
		s += v
	}
	return s
}
