// Package aggregate combines the workers' count logs once every worker has
// stopped. Both passes are collective: every worker calls them, in the same
// order, and only the coordinating worker writes output
package aggregate

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"createabunch/collective"
	"createabunch/countlog"
)

const (
	// AggregateLog receives one line per second with the total of all workers
	AggregateLog = "createabunch.log"
	// AllLog receives one line per second with every worker's count
	AllLog = "createabunch_all.log"
)

// ErrOutput is returned when a result file cannot be written
var ErrOutput = errors.New("cannot write results")

// Reconcile grows log to the largest filled count in the group and returns
// that count. Workers that stopped early end up with trailing zero buckets
func Reconcile(ctx context.Context, comm collective.Collective, log *countlog.Log) (int, error) {
	max, err := comm.AllReduceMax(ctx, uint64(log.Filled()))
	if err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}
	if err := log.EnsureCapacity(int(max)); err != nil {
		return 0, fmt.Errorf("reconcile: %w", err)
	}
	return int(max), nil
}

// Sum returns, at root, the per-second totals across all workers. Other
// workers receive nil
func Sum(ctx context.Context, comm collective.Collective, log *countlog.Log, root int) ([]uint64, error) {
	n, err := Reconcile(ctx, comm, log)
	if err != nil {
		return nil, err
	}
	window, err := log.Window(n)
	if err != nil {
		return nil, err
	}
	sums, err := comm.ReduceSum(ctx, window, root)
	if err != nil {
		return nil, fmt.Errorf("aggregate: %w", err)
	}
	return sums, nil
}

// Matrix gathers every worker's count for each second at root, calling row
// with the second and the counts in rank order. Other workers never see row
// called
func Matrix(ctx context.Context, comm collective.Collective, log *countlog.Log, root int, row func(second int, counts []uint64) error) error {
	n, err := Reconcile(ctx, comm, log)
	if err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		counts, err := comm.Gather(ctx, log.At(i), root)
		if err != nil {
			return fmt.Errorf("gather second %d: %w", i, err)
		}
		if counts == nil {
			continue
		}
		if err := row(i, counts); err != nil {
			return err
		}
	}
	return nil
}

// WriteSeries writes one "<second> <total>" line per element
func WriteSeries(w io.Writer, sums []uint64) error {
	bw := bufio.NewWriter(w)
	for i, v := range sums {
		if _, err := fmt.Fprintf(bw, "%d %d\n", i, v); err != nil {
			return err
		}
	}
	return bw.Flush()
}

func writeRow(w *bufio.Writer, second int, counts []uint64) error {
	w.WriteString(strconv.Itoa(second))
	for _, c := range counts {
		w.WriteByte(' ')
		w.WriteString(strconv.FormatUint(c, 10))
	}
	return w.WriteByte('\n')
}

// Dumper writes the aggregate and full logs into dir on behalf of one worker
type Dumper struct {
	comm collective.Collective
	log  *countlog.Log
	dir  string
}

// NewDumper returns a dumper for this worker's log
func NewDumper(comm collective.Collective, log *countlog.Log, dir string) *Dumper {
	return &Dumper{comm: comm, log: log, dir: dir}
}

func (d *Dumper) isRoot() bool {
	return d.comm.Rank() == collective.Root
}

// DumpAggregate runs the aggregate pass and, at the coordinator, replaces
// AggregateLog. The per-second totals are returned at the coordinator
func (d *Dumper) DumpAggregate(ctx context.Context) ([]uint64, error) {
	sums, err := Sum(ctx, d.comm, d.log, collective.Root)
	if err != nil {
		return nil, err
	}
	if !d.isRoot() {
		return nil, nil
	}
	path := filepath.Join(d.dir, AggregateLog)
	zap.S().Infof("Logging aggregate create data to %q", path)
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("%w: create %s: %v", ErrOutput, path, err)
	}
	if err := WriteSeries(f, sums); err != nil {
		f.Close()
		return nil, fmt.Errorf("%w: write %s: %v", ErrOutput, path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: close %s: %v", ErrOutput, path, err)
	}
	return sums, nil
}

// DumpAll runs the full-matrix pass and, at the coordinator, replaces AllLog.
// The rows are returned at the coordinator, indexed by second
func (d *Dumper) DumpAll(ctx context.Context) ([][]uint64, error) {
	var (
		f    *os.File
		bw   *bufio.Writer
		rows [][]uint64
		path = filepath.Join(d.dir, AllLog)
	)
	if d.isRoot() {
		zap.S().Infof("Logging all create data to %q", path)
		var err error
		if f, err = os.Create(path); err != nil {
			return nil, fmt.Errorf("%w: create %s: %v", ErrOutput, path, err)
		}
		defer f.Close()
		bw = bufio.NewWriter(f)
	}

	err := Matrix(ctx, d.comm, d.log, collective.Root, func(second int, counts []uint64) error {
		rows = append(rows, counts)
		if err := writeRow(bw, second, counts); err != nil {
			return fmt.Errorf("%w: write %s: %v", ErrOutput, path, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !d.isRoot() {
		return nil, nil
	}
	if err := bw.Flush(); err != nil {
		return nil, fmt.Errorf("%w: write %s: %v", ErrOutput, path, err)
	}
	if err := f.Close(); err != nil {
		return nil, fmt.Errorf("%w: close %s: %v", ErrOutput, path, err)
	}
	return rows, nil
}
