package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"createabunch/aggregate"
	"createabunch/collective"
	"createabunch/config"
	"createabunch/countlog"
	"createabunch/instances"
	"createabunch/storage"
	"createabunch/workload"
)

// hostSampleInterval is how often host utilisation is exported
const hostSampleInterval = 10 * time.Second

// BenchmarkRunner manages the benchmark execution
type BenchmarkRunner struct {
	cfg          *config.Config
	target       instances.Target
	members      []collective.Collective
	redis        *redis.Client
	hostMonitor  *instances.HostMonitor
	promExporter *storage.PrometheusExporter
	stdout       io.Writer
	stopChan     chan struct{}
	wg           sync.WaitGroup
}

func newBenchmarkRunner(ctx context.Context, cfg *config.Config, stdout io.Writer) (*BenchmarkRunner, error) {
	loc, err := instances.ParseLocation(cfg.Target)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrUsage, err)
	}
	target, err := instances.Open(ctx, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", instances.ErrMkdir, err)
	}

	br := &BenchmarkRunner{
		cfg:          cfg,
		target:       target,
		hostMonitor:  instances.NewHostMonitor(),
		promExporter: storage.NewPrometheusExporter(),
		stdout:       stdout,
		stopChan:     make(chan struct{}),
	}

	if cfg.Distributed() {
		br.redis = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		comm, err := collective.NewRedis(ctx, br.redis, cfg.RunID, cfg.Rank, cfg.Size)
		if err != nil {
			br.redis.Close()
			return nil, fmt.Errorf("failed to join run %s: %w", cfg.RunID, err)
		}
		br.members = []collective.Collective{comm}
	} else {
		br.members = collective.NewGroup(cfg.Workers).Members()
	}
	return br, nil
}

func (br *BenchmarkRunner) cleanup() {
	close(br.stopChan)
	br.wg.Wait()
	if err := br.promExporter.Shutdown(context.Background()); err != nil {
		zap.S().Warnw("Prometheus server shutdown", "error", err)
	}
	if br.redis != nil {
		br.redis.Close()
	}
}

// run starts every local worker and waits for all of them. The first
// failing worker aborts the whole group
func (br *BenchmarkRunner) run(ctx context.Context) error {
	size := br.members[0].Size()
	br.promExporter.UpdateWorkers(size)

	if br.cfg.PrometheusAddr != "" {
		go func() {
			zap.S().Infof("Starting Prometheus server on %s", br.cfg.PrometheusAddr)
			if err := br.promExporter.StartServer(br.cfg.PrometheusAddr); err != nil {
				zap.S().Errorw("Prometheus server error", "error", err)
			}
		}()
		br.wg.Add(1)
		go br.monitorHost()
	}

	zap.S().Infow("Starting createabunch",
		"target", br.target.String(),
		"workers", size,
		"local_workers", len(br.members),
		"run_id", br.cfg.RunID)

	g, gctx := errgroup.WithContext(ctx)
	for _, comm := range br.members {
		comm := comm
		g.Go(func() error {
			err := br.worker(gctx, comm)
			if err != nil {
				comm.Abort(exitCode(err), err)
			}
			return err
		})
	}
	return g.Wait()
}

// worker is one participant's whole run: handshake, workload and both
// aggregation passes
func (br *BenchmarkRunner) worker(ctx context.Context, comm collective.Collective) error {
	rank := comm.Rank()
	if err := handshake(ctx, comm, br.cfg.Fingerprint()); err != nil {
		return err
	}

	if rank == collective.Root {
		if err := br.prepare(ctx); err != nil {
			return err
		}
	}

	log := countlog.New(br.cfg.MaxBuckets)
	if err := log.EnsureCapacity(min(countlog.GrowChunk, br.cfg.MaxBuckets)); err != nil {
		return err
	}

	loop := workload.NewLoop(comm, log, br.target, br.cfg.Limits(), workload.WithObserver(br.promExporter))
	res, err := loop.Run(ctx)
	if err != nil {
		return err
	}
	if rank == collective.Root {
		fmt.Fprintln(br.stdout, res.String())
	}

	dumper := aggregate.NewDumper(comm, log, br.cfg.OutputDir)
	sums, err := dumper.DumpAggregate(ctx)
	if err != nil {
		return err
	}
	var matrix [][]uint64
	if br.cfg.DumpAll {
		if matrix, err = dumper.DumpAll(ctx); err != nil {
			return err
		}
	}

	if rank == collective.Root {
		if err := br.report(sums, matrix); err != nil {
			return err
		}
	}

	// A coordinator failure after the last reduce or gather reaches the
	// other members only here
	if err := comm.Barrier(ctx); err != nil {
		return fmt.Errorf("final barrier: %w", err)
	}
	return nil
}

// prepare readies the target and output directory on the coordinator
func (br *BenchmarkRunner) prepare(ctx context.Context) error {
	if err := br.target.Prepare(ctx); err != nil {
		return err
	}
	if err := os.MkdirAll(br.cfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("%w: %v", aggregate.ErrOutput, err)
	}
	if br.cfg.Check {
		return checkTarget(ctx, br.target)
	}
	return nil
}

// report prints the rate summary and writes the parquet export
func (br *BenchmarkRunner) report(sums []uint64, matrix [][]uint64) error {
	summary, err := aggregate.Summarize(sums)
	if err != nil {
		return err
	}
	fmt.Fprintln(br.stdout, summary.String())

	if br.cfg.ParquetDir == "" {
		return nil
	}
	pw, err := storage.NewParquetWriter(br.cfg.ParquetDir, 1000)
	if err != nil {
		return fmt.Errorf("%w: %v", aggregate.ErrOutput, err)
	}
	if err := pw.WriteSeries(br.cfg.RunID, br.members[0].Size(), sums, matrix); err != nil {
		pw.Close()
		return fmt.Errorf("%w: %v", aggregate.ErrOutput, err)
	}
	if err := pw.Close(); err != nil {
		return fmt.Errorf("%w: %v", aggregate.ErrOutput, err)
	}
	zap.S().Infof("Wrote parquet series to %q", pw.GetFilePath())
	return nil
}

func (br *BenchmarkRunner) monitorHost() {
	defer br.wg.Done()

	ticker := time.NewTicker(hostSampleInterval)
	defer ticker.Stop()

	host := br.hostMonitor.Hostname()
	for {
		select {
		case <-ticker.C:
			stats, err := br.hostMonitor.Sample()
			if err != nil {
				zap.S().Debugw("Host sample failed", "error", err)
				continue
			}
			br.promExporter.UpdateHostStats(host, stats.CPUUtilization, stats.MemoryUsage)
		case <-br.stopChan:
			return
		}
	}
}
