package collective

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

const (
	redisKeyTTL   = 24 * time.Hour
	redisPollMin  = time.Millisecond
	redisPollMax  = 50 * time.Millisecond
	redisKeyspace = "createabunch"
)

// Redis is a group member whose peers are other processes, possibly on
// other hosts, sharing one Redis server. Each operation is a hash keyed by
// run id and sequence number holding one field per rank
type Redis struct {
	client *redis.Client
	runID  string
	rank   int
	size   int
	seq    uint64
}

// NewRedis joins the group identified by runID as rank of size members
func NewRedis(ctx context.Context, client *redis.Client, runID string, rank, size int) (*Redis, error) {
	if runID == "" {
		return nil, fmt.Errorf("redis group: empty run id")
	}
	if size <= 0 || rank < 0 || rank >= size {
		return nil, fmt.Errorf("redis group: rank %d outside group of %d", rank, size)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis group: ping: %w", err)
	}
	return &Redis{
		client: client,
		runID:  runID,
		rank:   rank,
		size:   size,
	}, nil
}

func (r *Redis) Rank() int { return r.rank }
func (r *Redis) Size() int { return r.size }

func (r *Redis) key(parts ...string) string {
	return redisKeyspace + ":" + r.runID + ":" + strings.Join(parts, ":")
}

// Abort publishes the abort so every member's next poll fails. The first
// abort wins
func (r *Redis) Abort(code int, cause error) {
	msg := "aborted"
	if cause != nil {
		msg = cause.Error()
	}
	val := fmt.Sprintf("%d|%d|%s", r.rank, code, msg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.client.SetNX(ctx, r.key("abort"), val, redisKeyTTL).Err(); err != nil {
		zap.S().Errorw("publish abort", "rank", r.rank, "err", err)
	}
}

func (r *Redis) aborted(ctx context.Context) (*AbortError, error) {
	val, err := r.client.Get(ctx, r.key("abort")).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	parts := strings.SplitN(val, "|", 3)
	if len(parts) != 3 {
		return &AbortError{Rank: -1, Msg: val}, nil
	}
	rank, _ := strconv.Atoi(parts[0])
	code, _ := strconv.Atoi(parts[1])
	return &AbortError{Rank: rank, Code: code, Msg: parts[2]}, nil
}

func (r *Redis) Barrier(ctx context.Context) error {
	_, err := r.run(ctx, "barrier", 0, nil, true)
	return err
}

func (r *Redis) ReduceSum(ctx context.Context, vals []uint64, root int) ([]uint64, error) {
	if err := checkRoot(root, r.size); err != nil {
		return nil, err
	}
	return r.run(ctx, "reduce", root, vals, r.rank == root)
}

func (r *Redis) AllReduceMax(ctx context.Context, v uint64) (uint64, error) {
	res, err := r.run(ctx, "max", 0, []uint64{v}, true)
	if err != nil {
		return 0, err
	}
	return res[0], nil
}

func (r *Redis) Gather(ctx context.Context, v uint64, root int) ([]uint64, error) {
	if err := checkRoot(root, r.size); err != nil {
		return nil, err
	}
	return r.run(ctx, "gather", root, []uint64{v}, r.rank == root)
}

// run publishes this member's contribution. When wait is set it polls until
// all members have contributed and returns the combined result; members that
// receive nothing return as soon as their contribution is stored
func (r *Redis) run(ctx context.Context, kind string, root int, vals []uint64, wait bool) ([]uint64, error) {
	op := opName(kind, root, len(vals))
	r.seq++
	key := r.key("op", strconv.FormatUint(r.seq, 10))

	if ab, err := r.aborted(ctx); err != nil {
		return nil, fmt.Errorf("redis group: %w", err)
	} else if ab != nil {
		return nil, ab
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, strconv.Itoa(r.rank), encodeContrib(op, vals))
	pipe.Expire(ctx, key, redisKeyTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, r.fail(fmt.Errorf("redis group: publish %s: %w", op, err))
	}
	if !wait {
		return nil, nil
	}

	poll := redisPollMin
	for {
		n, err := r.client.HLen(ctx, key).Result()
		if err != nil {
			return nil, r.fail(fmt.Errorf("redis group: poll %s: %w", op, err))
		}
		if int(n) == r.size {
			break
		}
		if ab, err := r.aborted(ctx); err != nil {
			return nil, r.fail(fmt.Errorf("redis group: %w", err))
		} else if ab != nil {
			return nil, ab
		}
		select {
		case <-ctx.Done():
			return nil, r.fail(ctx.Err())
		case <-time.After(poll):
		}
		if poll < redisPollMax {
			poll *= 2
		}
	}

	fields, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, r.fail(fmt.Errorf("redis group: read %s: %w", op, err))
	}
	contrib := make([][]uint64, r.size)
	for field, val := range fields {
		rank, err := strconv.Atoi(field)
		if err != nil || rank < 0 || rank >= r.size {
			return nil, r.fail(fmt.Errorf("%w: stray field %q in %s", ErrProtocol, field, key))
		}
		peerOp, peerVals, err := decodeContrib(val)
		if err != nil {
			return nil, r.fail(err)
		}
		if peerOp != op {
			return nil, r.fail(fmt.Errorf("%w: rank %d issued %s as operation %d, rank %d issued %s", ErrProtocol, rank, peerOp, r.seq, r.rank, op))
		}
		contrib[rank] = peerVals
	}
	res, err := combine(kind, contrib)
	if err != nil {
		return nil, r.fail(err)
	}
	return res, nil
}

// fail aborts the group on behalf of this member and returns the error
// every member will see
func (r *Redis) fail(cause error) error {
	r.Abort(0, cause)
	return newAbortError(r.rank, 0, cause)
}

func encodeContrib(op string, vals []uint64) string {
	var b strings.Builder
	b.WriteString(op)
	b.WriteByte('|')
	for i, v := range vals {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatUint(v, 10))
	}
	return b.String()
}

func decodeContrib(s string) (string, []uint64, error) {
	op, rest, ok := strings.Cut(s, "|")
	if !ok {
		return "", nil, fmt.Errorf("%w: malformed contribution %q", ErrProtocol, s)
	}
	if rest == "" {
		return op, nil, nil
	}
	fields := strings.Split(rest, ",")
	vals := make([]uint64, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseUint(f, 10, 64)
		if err != nil {
			return "", nil, fmt.Errorf("%w: malformed value %q: %v", ErrProtocol, f, err)
		}
		vals[i] = v
	}
	return op, vals, nil
}
