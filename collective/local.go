package collective

import (
	"context"
	"fmt"
	"sync"
)

// Group is an in-process worker group. Each member is driven by its own
// goroutine; operations rendezvous on shared rounds
type Group struct {
	size int

	mu       sync.Mutex
	rounds   map[uint64]*round
	abortErr *AbortError
	aborted  chan struct{}
}

type round struct {
	kind    string
	op      string
	contrib [][]uint64
	arrived int
	left    int
	done    chan struct{}
	result  []uint64
	err     error
}

type member struct {
	g    *Group
	rank int
	seq  uint64
}

// NewGroup returns a group of size members
func NewGroup(size int) *Group {
	return &Group{
		size:    size,
		rounds:  make(map[uint64]*round),
		aborted: make(chan struct{}),
	}
}

// Member returns the Collective for rank. Each rank must be driven by at
// most one goroutine
func (g *Group) Member(rank int) Collective {
	return &member{g: g, rank: rank}
}

// Members returns one Collective per rank
func (g *Group) Members() []Collective {
	ms := make([]Collective, g.size)
	for r := range ms {
		ms[r] = g.Member(r)
	}
	return ms
}

// Err returns the abort error, or nil if the group has not been aborted
func (g *Group) Err() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.abortErr == nil {
		return nil
	}
	return g.abortErr
}

func (g *Group) abort(rank, code int, cause error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.abortL(rank, code, cause)
}

func (g *Group) abortL(rank, code int, cause error) {
	if g.abortErr != nil {
		return
	}
	g.abortErr = newAbortError(rank, code, cause)
	close(g.aborted)
}

func (m *member) Rank() int { return m.rank }
func (m *member) Size() int { return m.g.size }

func (m *member) Abort(code int, cause error) {
	m.g.abort(m.rank, code, cause)
}

func (m *member) Barrier(ctx context.Context) error {
	_, err := m.run(ctx, "barrier", 0, nil)
	return err
}

func (m *member) ReduceSum(ctx context.Context, vals []uint64, root int) ([]uint64, error) {
	if err := checkRoot(root, m.g.size); err != nil {
		return nil, err
	}
	res, err := m.run(ctx, "reduce", root, vals)
	if err != nil || m.rank != root {
		return nil, err
	}
	return res, nil
}

func (m *member) AllReduceMax(ctx context.Context, v uint64) (uint64, error) {
	res, err := m.run(ctx, "max", 0, []uint64{v})
	if err != nil {
		return 0, err
	}
	return res[0], nil
}

func (m *member) Gather(ctx context.Context, v uint64, root int) ([]uint64, error) {
	if err := checkRoot(root, m.g.size); err != nil {
		return nil, err
	}
	res, err := m.run(ctx, "gather", root, []uint64{v})
	if err != nil || m.rank != root {
		return nil, err
	}
	return res, nil
}

// run contributes vals to this member's next round and waits until every
// member has contributed
func (m *member) run(ctx context.Context, kind string, root int, vals []uint64) ([]uint64, error) {
	g := m.g
	op := opName(kind, root, len(vals))
	m.seq++
	seq := m.seq

	g.mu.Lock()
	if g.abortErr != nil {
		err := g.abortErr
		g.mu.Unlock()
		return nil, err
	}
	r, ok := g.rounds[seq]
	if !ok {
		r = &round{
			kind:    kind,
			op:      op,
			contrib: make([][]uint64, g.size),
			done:    make(chan struct{}),
		}
		g.rounds[seq] = r
	}
	if r.op != op {
		g.abortL(m.rank, 0, fmt.Errorf("%w: rank %d issued %s as operation %d, group issued %s", ErrProtocol, m.rank, op, seq, r.op))
		err := g.abortErr
		g.mu.Unlock()
		return nil, err
	}
	r.contrib[m.rank] = append([]uint64(nil), vals...)
	r.arrived++
	if r.arrived == g.size {
		r.result, r.err = combine(kind, r.contrib)
		close(r.done)
	}
	g.mu.Unlock()

	select {
	case <-r.done:
	case <-g.aborted:
		return nil, g.Err()
	case <-ctx.Done():
		g.abort(m.rank, 0, ctx.Err())
		return nil, g.Err()
	}

	g.mu.Lock()
	r.left++
	if r.left == g.size {
		delete(g.rounds, seq)
	}
	g.mu.Unlock()

	if r.err != nil {
		g.abort(m.rank, 0, r.err)
		return nil, g.Err()
	}
	if r.result == nil {
		return nil, nil
	}
	return append([]uint64(nil), r.result...), nil
}
