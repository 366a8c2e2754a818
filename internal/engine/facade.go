// Package engine implements the Engine Facade (C9): serves on-demand
// investigation requests, enforcing a per-process concurrency cap,
// grounded in spec §4.9 and in the teacher's overall dependency-
// injection shape (cmd/engine/main.go wiring C1..C9 explicitly, no
// hidden globals).
package engine

import (
	"context"

	"golang.org/x/sync/semaphore"

	"github.com/rawblock/coinjoin-tracer/internal/tracer"
	"github.com/rawblock/coinjoin-tracer/pkg/models"
)

type Config struct {
	MaxConcurrentInvestigations int64
}

type Facade struct {
	tracer *tracer.Tracer
	sem    *semaphore.Weighted
}

func New(tr *tracer.Tracer, cfg Config) *Facade {
	n := cfg.MaxConcurrentInvestigations
	if n < 1 {
		n = 1
	}
	return &Facade{tracer: tr, sem: semaphore.NewWeighted(n)}
}

// InvestigateTx and InvestigateAddress are the facade's two operations
// (spec §4.9). max_depth, when non-zero, overrides the globally
// configured tracer default for this request only.
func (f *Facade) InvestigateTx(ctx context.Context, txid string, maxDepthOverride int) (*models.TreeNode, models.InvestigationMetadata, error) {
	if !f.sem.TryAcquire(1) {
		return nil, models.InvestigationMetadata{}, models.ErrBusy
	}
	defer f.sem.Release(1)

	withOverride := f.tracer
	if maxDepthOverride > 0 {
		withOverride = f.tracer.WithMaxDepth(maxDepthOverride)
	}
	return withOverride.InvestigateTx(ctx, txid, "facade")
}

func (f *Facade) InvestigateAddress(ctx context.Context, address string, maxDepthOverride int) ([]*models.TreeNode, models.InvestigationMetadata, error) {
	if !f.sem.TryAcquire(1) {
		return nil, models.InvestigationMetadata{}, models.ErrBusy
	}
	defer f.sem.Release(1)

	withOverride := f.tracer
	if maxDepthOverride > 0 {
		withOverride = f.tracer.WithMaxDepth(maxDepthOverride)
	}
	return withOverride.InvestigateAddress(ctx, address, "facade")
}
