package collective_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"createabunch/collective"
)

// runAll drives fn on every member concurrently and returns the per-rank
// errors
func runAll(members []collective.Collective, fn func(c collective.Collective) error) []error {
	errs := make([]error, len(members))
	var wg sync.WaitGroup
	for r, c := range members {
		wg.Add(1)
		go func(r int, c collective.Collective) {
			defer wg.Done()
			errs[r] = fn(c)
		}(r, c)
	}
	wg.Wait()
	return errs
}

func TestBarrierOrdersMembers(t *testing.T) {
	const n = 4
	g := collective.NewGroup(n)
	var mu sync.Mutex
	before := 0
	seen := make([]int, n)
	errs := runAll(g.Members(), func(c collective.Collective) error {
		mu.Lock()
		before++
		mu.Unlock()
		if err := c.Barrier(context.Background()); err != nil {
			return err
		}
		mu.Lock()
		seen[c.Rank()] = before
		mu.Unlock()
		return nil
	})
	for r := 0; r < n; r++ {
		assert.Nil(t, errs[r])
		assert.Equal(t, n, seen[r], "rank %d left the barrier early", r)
	}
}

func TestReduceSum(t *testing.T) {
	g := collective.NewGroup(3)
	results := make([][]uint64, 3)
	errs := runAll(g.Members(), func(c collective.Collective) error {
		r := uint64(c.Rank())
		res, err := c.ReduceSum(context.Background(), []uint64{r, 10 * r, 1}, collective.Root)
		results[c.Rank()] = res
		return err
	})
	for _, err := range errs {
		assert.Nil(t, err)
	}
	assert.Equal(t, []uint64{3, 30, 3}, results[0])
	assert.Nil(t, results[1])
	assert.Nil(t, results[2])
}

func TestReduceSumCopiesInput(t *testing.T) {
	g := collective.NewGroup(1)
	c := g.Member(0)
	in := []uint64{1, 2}
	out, err := c.ReduceSum(context.Background(), in, 0)
	require.Nil(t, err)
	in[0] = 50
	assert.Equal(t, []uint64{1, 2}, out)
}

func TestAllReduceMax(t *testing.T) {
	g := collective.NewGroup(5)
	results := make([]uint64, 5)
	errs := runAll(g.Members(), func(c collective.Collective) error {
		v, err := c.AllReduceMax(context.Background(), uint64(7*c.Rank()%5))
		results[c.Rank()] = v
		return err
	})
	for r := range results {
		assert.Nil(t, errs[r])
		assert.Equal(t, uint64(4), results[r])
	}
}

func TestGatherRankOrder(t *testing.T) {
	g := collective.NewGroup(4)
	results := make([][]uint64, 4)
	errs := runAll(g.Members(), func(c collective.Collective) error {
		// Stagger arrival so gather order cannot follow arrival order
		time.Sleep(time.Duration(4-c.Rank()) * time.Millisecond)
		res, err := c.Gather(context.Background(), uint64(100+c.Rank()), 2)
		results[c.Rank()] = res
		return err
	})
	for _, err := range errs {
		assert.Nil(t, err)
	}
	assert.Equal(t, []uint64{100, 101, 102, 103}, results[2])
	assert.Nil(t, results[0])
}

func TestManyRounds(t *testing.T) {
	g := collective.NewGroup(3)
	sums := make([]uint64, 0, 100)
	errs := runAll(g.Members(), func(c collective.Collective) error {
		for i := 0; i < 100; i++ {
			res, err := c.Gather(context.Background(), uint64(i), 0)
			if err != nil {
				return err
			}
			if c.Rank() == 0 {
				sums = append(sums, res[0]+res[1]+res[2])
			}
		}
		return nil
	})
	for _, err := range errs {
		assert.Nil(t, err)
	}
	require.Len(t, sums, 100)
	for i, s := range sums {
		assert.Equal(t, uint64(3*i), s)
	}
}

func TestMismatchAbortsGroup(t *testing.T) {
	g := collective.NewGroup(2)
	errs := runAll(g.Members(), func(c collective.Collective) error {
		if c.Rank() == 0 {
			return c.Barrier(context.Background())
		}
		_, err := c.Gather(context.Background(), 1, 0)
		return err
	})
	for r, err := range errs {
		var ab *collective.AbortError
		require.True(t, errors.As(err, &ab), "rank %d: %v", r, err)
		assert.True(t, errors.Is(err, collective.ErrProtocol))
	}
}

func TestReduceLengthMismatch(t *testing.T) {
	g := collective.NewGroup(2)
	errs := runAll(g.Members(), func(c collective.Collective) error {
		vals := make([]uint64, 2+c.Rank())
		_, err := c.ReduceSum(context.Background(), vals, 0)
		return err
	})
	for _, err := range errs {
		assert.True(t, errors.Is(err, collective.ErrProtocol))
	}
}

func TestAbortReleasesWaiters(t *testing.T) {
	g := collective.NewGroup(3)
	boom := errors.New("boom")
	errs := runAll(g.Members(), func(c collective.Collective) error {
		if c.Rank() == 2 {
			c.Abort(5, boom)
			return boom
		}
		return c.Barrier(context.Background())
	})
	for r := 0; r < 2; r++ {
		var ab *collective.AbortError
		require.True(t, errors.As(errs[r], &ab))
		assert.Equal(t, 2, ab.Rank)
		assert.Equal(t, 5, ab.Code)
		assert.True(t, errors.Is(errs[r], boom))
	}
	assert.NotNil(t, g.Err())

	// Later operations fail immediately
	_, err := g.Member(0).AllReduceMax(context.Background(), 1)
	assert.NotNil(t, err)
}

func TestContextCancelAborts(t *testing.T) {
	g := collective.NewGroup(2)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := g.Member(0).Barrier(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	err = g.Member(1).Barrier(context.Background())
	var ab *collective.AbortError
	assert.True(t, errors.As(err, &ab))
}

func TestBadRoot(t *testing.T) {
	g := collective.NewGroup(2)
	_, err := g.Member(0).Gather(context.Background(), 1, 2)
	assert.True(t, errors.Is(err, collective.ErrProtocol))
}
