// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package jobs

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"

	"github.com/ManuGH/ytvault/internal/types"
)

// Pools bounds blocking work per resource domain so a batch against one
// backend cannot starve the others.
type Pools struct {
	sems map[types.PoolDomain]*semaphore.Weighted
}

// NewPools builds one weighted semaphore per domain. size returns the
// capacity for a domain; non-positive capacities fall back to 1.
func NewPools(size func(types.PoolDomain) int) *Pools {
	domains := types.AllPoolDomains()
	sems := make(map[types.PoolDomain]*semaphore.Weighted, len(domains))
	for _, d := range domains {
		n := size(d)
		if n <= 0 {
			n = 1
		}
		sems[d] = semaphore.NewWeighted(int64(n))
	}
	return &Pools{sems: sems}
}

// Do runs fn while holding one slot of the domain's pool. Acquisition blocks
// until a slot frees up or ctx ends.
func (p *Pools) Do(ctx context.Context, domain types.PoolDomain, fn func(ctx context.Context) error) error {
	sem, ok := p.sems[domain]
	if !ok {
		return fmt.Errorf("unknown pool domain %q", domain)
	}
	if err := sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer sem.Release(1)
	return fn(ctx)
}
