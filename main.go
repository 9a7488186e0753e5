// Command createabunch measures how fast a group of workers can create empty
// files in a directory or bucket, and logs the creates completed in each
// second of the run
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"createabunch/config"
)

func main() {
	os.Exit(run(context.Background(), os.Args[1:], os.Stdout, os.Stderr))
}

// run executes one benchmark and returns the process exit status. Report
// lines go to stdout, logs and errors to stderr
func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, err := config.Parse(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitOK
	}
	if err != nil {
		fmt.Fprintf(stderr, "createabunch: %v\n", err)
		return exitCode(err)
	}

	logger := newLogger(cfg.Debug, stderr)
	defer logger.Sync()
	undo := zap.ReplaceGlobals(logger)
	defer undo()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	runner, err := newBenchmarkRunner(ctx, cfg, stdout)
	if err != nil {
		zap.S().Errorw("Failed to initialize benchmark", "error", err)
		return exitCode(err)
	}
	defer runner.cleanup()

	if err := runner.run(ctx); err != nil {
		zap.S().Errorw("Benchmark failed", "error", err)
		return exitCode(err)
	}
	return exitOK
}

func newLogger(debug bool, w io.Writer) *zap.Logger {
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	level := zapcore.InfoLevel
	if debug {
		encoder = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
		level = zapcore.DebugLevel
	}
	core := zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(w)), level)
	if debug {
		return zap.New(core, zap.AddCaller(), zap.Development())
	}
	return zap.New(core)
}
