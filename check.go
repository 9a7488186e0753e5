package main

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"createabunch/collective"
	"createabunch/config"
	"createabunch/instances"
)

// handshake makes sure every worker was started with the same benchmark
// parameters. The coordinator compares the fingerprints
func handshake(ctx context.Context, comm collective.Collective, fingerprint uint64) error {
	fingerprints, err := comm.Gather(ctx, fingerprint, collective.Root)
	if err != nil {
		return fmt.Errorf("config handshake: %w", err)
	}
	for rank, fp := range fingerprints {
		if fp != fingerprint {
			return fmt.Errorf("%w: rank %d was started with different parameters", config.ErrUsage, rank)
		}
	}
	return nil
}

// checkTarget creates and removes a probe file to prove the target accepts
// creates before the timed run starts
func checkTarget(ctx context.Context, target instances.Target) error {
	name := "createabunch-check-" + uuid.NewString()

	zap.S().Infof("Starting validity check for %s", target)
	start := time.Now()
	if err := target.Create(ctx, name); err != nil {
		return fmt.Errorf("validity check: %w", err)
	}
	created := time.Since(start)

	if err := target.Remove(ctx, name); err != nil {
		return fmt.Errorf("%w: validity check: remove %s: %v", instances.ErrCreate, name, err)
	}
	zap.S().Infow("Validity check passed", "target", target.String(), "create", created, "total", time.Since(start))
	return nil
}
