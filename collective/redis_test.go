package collective_test

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"createabunch/collective"
)

// redisMembers joins n members to a fresh run on the server named by
// CREATEABUNCH_REDIS, skipping the test when none is configured
func redisMembers(t *testing.T, n int) []collective.Collective {
	addr := os.Getenv("CREATEABUNCH_REDIS")
	if addr == "" {
		t.Skip("CREATEABUNCH_REDIS not set")
	}
	runID := uuid.NewString()
	ms := make([]collective.Collective, n)
	for r := range ms {
		client := redis.NewClient(&redis.Options{Addr: addr})
		t.Cleanup(func() { client.Close() })
		m, err := collective.NewRedis(context.Background(), client, runID, r, n)
		require.Nil(t, err)
		ms[r] = m
	}
	return ms
}

func TestRedisReduceAndGather(t *testing.T) {
	ms := redisMembers(t, 3)
	sums := make([][]uint64, 3)
	rows := make([][]uint64, 3)
	maxes := make([]uint64, 3)
	errs := runAll(ms, func(c collective.Collective) error {
		if err := c.Barrier(context.Background()); err != nil {
			return err
		}
		m, err := c.AllReduceMax(context.Background(), uint64(c.Rank()+1))
		if err != nil {
			return err
		}
		maxes[c.Rank()] = m
		s, err := c.ReduceSum(context.Background(), []uint64{1, uint64(c.Rank())}, 0)
		if err != nil {
			return err
		}
		sums[c.Rank()] = s
		row, err := c.Gather(context.Background(), uint64(c.Rank()*c.Rank()), 0)
		rows[c.Rank()] = row
		return err
	})
	for _, err := range errs {
		assert.Nil(t, err)
	}
	assert.Equal(t, []uint64{3, 3, 3}, maxes)
	assert.Equal(t, []uint64{3, 3}, sums[0])
	assert.Equal(t, []uint64{0, 1, 4}, rows[0])
	assert.Nil(t, rows[1])
}

func TestRedisAbort(t *testing.T) {
	ms := redisMembers(t, 2)
	errs := runAll(ms, func(c collective.Collective) error {
		if c.Rank() == 1 {
			c.Abort(3, errors.New("mkdir failed"))
			return nil
		}
		return c.Barrier(context.Background())
	})
	var ab *collective.AbortError
	require.True(t, errors.As(errs[0], &ab))
	assert.Equal(t, 1, ab.Rank)
	assert.Equal(t, 3, ab.Code)
	assert.Equal(t, "mkdir failed", ab.Msg)
}

func TestNewRedisRejectsBadRank(t *testing.T) {
	_, err := collective.NewRedis(context.Background(), redis.NewClient(&redis.Options{Addr: "127.0.0.1:0"}), "run", 2, 2)
	assert.NotNil(t, err)
}
