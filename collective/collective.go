// Package collective provides the group-wide operations that workers use to
// coordinate: barrier, sum-reduce, max-all-reduce and gather.
//
// Every member of a group must issue the same operations, with the same
// roots and vector lengths, in the same order. A member that deviates is
// detected and the whole group is aborted
package collective

import (
	"context"
	"errors"
	"fmt"
)

// Root is the rank of the coordinating worker
const Root = 0

// ErrProtocol marks an operation sequence that differs between members
var ErrProtocol = errors.New("collective protocol violation")

// Collective is one member's view of a worker group
type Collective interface {
	Rank() int
	Size() int

	// Barrier returns once every member has entered it
	Barrier(ctx context.Context) error

	// ReduceSum sums vals element-wise across members. Only root receives
	// the result; other members receive nil
	ReduceSum(ctx context.Context, vals []uint64, root int) ([]uint64, error)

	// AllReduceMax returns the maximum of v across members to every member
	AllReduceMax(ctx context.Context, v uint64) (uint64, error)

	// Gather collects one value per member, ordered by rank, at root.
	// Other members receive nil
	Gather(ctx context.Context, v uint64, root int) ([]uint64, error)

	// Abort fails every pending and future operation of every member
	Abort(code int, cause error)
}

// AbortError is returned by operations once the group has been aborted
type AbortError struct {
	Rank  int
	Code  int
	Msg   string
	cause error
}

func (e *AbortError) Error() string {
	return fmt.Sprintf("group aborted by rank %d (code %d): %s", e.Rank, e.Code, e.Msg)
}

// Unwrap returns the original cause when the abort happened in this process
func (e *AbortError) Unwrap() error {
	return e.cause
}

func newAbortError(rank, code int, cause error) *AbortError {
	msg := "aborted"
	if cause != nil {
		msg = cause.Error()
	}
	return &AbortError{Rank: rank, Code: code, Msg: msg, cause: cause}
}

// opName identifies an operation so members can check they agree on it
func opName(kind string, root, n int) string {
	switch kind {
	case "reduce":
		return fmt.Sprintf("reduce/%d/%d", root, n)
	case "gather":
		return fmt.Sprintf("gather/%d", root)
	}
	return kind
}

// combine computes the result of an operation from every member's
// contribution, indexed by rank
func combine(kind string, contrib [][]uint64) ([]uint64, error) {
	switch kind {
	case "barrier":
		return nil, nil
	case "reduce":
		n := len(contrib[0])
		sum := make([]uint64, n)
		for r, vals := range contrib {
			if len(vals) != n {
				return nil, fmt.Errorf("%w: rank %d reduced %d values, rank 0 reduced %d", ErrProtocol, r, len(vals), n)
			}
			for i, v := range vals {
				sum[i] += v
			}
		}
		return sum, nil
	case "max":
		var m uint64
		for _, vals := range contrib {
			if vals[0] > m {
				m = vals[0]
			}
		}
		return []uint64{m}, nil
	case "gather":
		out := make([]uint64, len(contrib))
		for r, vals := range contrib {
			out[r] = vals[0]
		}
		return out, nil
	}
	return nil, fmt.Errorf("%w: unknown operation %q", ErrProtocol, kind)
}

func checkRoot(root, size int) error {
	if root < 0 || root >= size {
		return fmt.Errorf("%w: root %d outside group of %d", ErrProtocol, root, size)
	}
	return nil
}
