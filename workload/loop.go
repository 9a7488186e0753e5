// Package workload drives one worker's file creation and records how many
// files it created in each elapsed second
package workload

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"createabunch/collective"
	"createabunch/countlog"
)

// Creator makes one empty file
type Creator interface {
	Create(ctx context.Context, name string) error
}

// Observer is told about every count flushed into the log
type Observer interface {
	Flushed(rank, index int, count uint64)
}

// Limits bounds a run. At least one limit must be set
type Limits struct {
	FileCount    uint64
	FileCountSet bool
	TimeLimit    uint64 // seconds
	TimeLimitSet bool
}

// Validate rejects limits that would never stop the loop
func (l Limits) Validate() error {
	if !l.FileCountSet && !l.TimeLimitSet {
		return fmt.Errorf("no file count or time limit")
	}
	return nil
}

// Result is one worker's outcome. Aggregate fields are filled only on the
// coordinating worker
type Result struct {
	Rank     int
	Total    uint64
	Elapsed  uint64 // whole seconds, measured after the end barrier
	Duration time.Duration

	Workers        int
	AggregateTotal uint64
}

// Rate returns the aggregate creates per second. ok is false when the run
// took less than a second and the rate is undefined
func (r *Result) Rate() (rate uint64, ok bool) {
	if r.Elapsed == 0 {
		return 0, false
	}
	return r.AggregateTotal / r.Elapsed, true
}

func (r *Result) String() string {
	if rate, ok := r.Rate(); ok {
		return fmt.Sprintf("Created %d total files in %d secs (%d per sec)", r.AggregateTotal, r.Elapsed, rate)
	}
	return fmt.Sprintf("Created %d total files in %d secs (rate undefined)", r.AggregateTotal, r.Elapsed)
}

// Loop is one worker's workload
type Loop struct {
	comm     collective.Collective
	log      *countlog.Log
	creator  Creator
	limits   Limits
	clock    Clock
	observer Observer
}

// Option configures a Loop
type Option func(*Loop)

// WithClock replaces the wall clock
func WithClock(c Clock) Option {
	return func(l *Loop) { l.clock = c }
}

// WithObserver reports each flush to o
func WithObserver(o Observer) Option {
	return func(l *Loop) { l.observer = o }
}

// NewLoop returns a loop recording into log
func NewLoop(comm collective.Collective, log *countlog.Log, creator Creator, limits Limits, opts ...Option) *Loop {
	l := &Loop{
		comm:    comm,
		log:     log,
		creator: creator,
		limits:  limits,
		clock:   WallClock,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// FileName is the name of a worker's seq'th file
func FileName(rank int, seq uint64) string {
	return "many-" + strconv.Itoa(rank) + "-" + strconv.FormatUint(seq, 10)
}

func (l *Loop) elapsed(start time.Time) int {
	return int(l.clock.Now().Sub(start) / time.Second)
}

func (l *Loop) record(index int, count uint64) error {
	if err := l.log.Record(index, count); err != nil {
		return err
	}
	if l.observer != nil {
		l.observer.Flushed(l.comm.Rank(), index, count)
	}
	return nil
}

// Run creates files until a limit is reached, then joins the other workers
// to total the files created. Every worker must call Run
func (l *Loop) Run(ctx context.Context) (*Result, error) {
	if err := l.limits.Validate(); err != nil {
		return nil, err
	}
	rank := l.comm.Rank()
	var share uint64
	if l.limits.FileCountSet {
		share = Share(l.limits.FileCount, l.comm.Size(), rank)
	}

	if err := l.comm.Barrier(ctx); err != nil {
		return nil, fmt.Errorf("start barrier: %w", err)
	}
	start := l.clock.Now()
	zap.S().Debugw("workload started", "rank", rank, "share", share)

	var recent, total uint64
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if err := l.creator.Create(ctx, FileName(rank, total)); err != nil {
			return nil, fmt.Errorf("rank %d file %d: %w", rank, total, err)
		}
		recent++
		total++

		// Log at most once per second; later creates in the same second
		// carry over into the next flush
		idx := l.elapsed(start)
		if idx >= l.log.Filled() {
			if err := l.record(idx, recent); err != nil {
				return nil, err
			}
			recent = 0
		}

		if l.limits.TimeLimitSet && uint64(idx) > l.limits.TimeLimit {
			break
		}
		if l.limits.FileCountSet && total >= share {
			if err := l.record(idx, recent); err != nil {
				return nil, err
			}
			break
		}
	}

	if err := l.comm.Barrier(ctx); err != nil {
		return nil, fmt.Errorf("end barrier: %w", err)
	}
	res := &Result{
		Rank:     rank,
		Total:    total,
		Elapsed:  uint64(l.elapsed(start)),
		Duration: l.clock.Now().Sub(start),
		Workers:  l.comm.Size(),
	}
	sum, err := l.comm.ReduceSum(ctx, []uint64{total}, collective.Root)
	if err != nil {
		return nil, fmt.Errorf("reduce totals: %w", err)
	}
	if sum != nil {
		res.AggregateTotal = sum[0]
	}
	zap.S().Debugw("workload finished", "rank", rank, "total", total, "buckets", l.log.Filled())
	return res, nil
}
