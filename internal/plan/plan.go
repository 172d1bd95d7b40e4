// Package plan defines the declarative sync plan: which entity kinds
// synchronize, in what dependency order, and under what batch and retry
// policy.
//
// Plans are written in CUE and validated against an embedded schema, so a
// malformed plan is rejected at load time with a positioned error instead
// of failing mid-cycle. The zero-configuration default plan covers all
// kinds in canonical dependency order.
package plan

import (
	"fmt"
	"time"

	"github.com/bidstack/marketsync/internal/domain"
)

// Plan drives the orchestrator's phases.
type Plan struct {
	// Kinds is the download dependency order: independent kinds before
	// kinds that reference them.
	Kinds []domain.Kind

	// BatchSize caps how many dirty records are uploaded per kind per
	// cycle.
	BatchSize int

	// Retry is the offline-action retry policy.
	Retry RetryPolicy
}

// RetryPolicy bounds action replay attempts.
type RetryPolicy struct {
	// MaxRetries is the attempt budget before an action is dead-lettered.
	MaxRetries int

	// BackoffBase is the delay after the first failure; each further
	// failure doubles it.
	BackoffBase time.Duration

	// BackoffCap bounds the doubled delay.
	BackoffCap time.Duration
}

// Backoff returns the delay before attempt retryCount+1: base doubled per
// prior failure, capped.
func (p RetryPolicy) Backoff(retryCount int) time.Duration {
	d := p.BackoffBase
	for i := 0; i < retryCount; i++ {
		d *= 2
		if d >= p.BackoffCap {
			return p.BackoffCap
		}
	}
	if d > p.BackoffCap {
		return p.BackoffCap
	}
	return d
}

// Default returns the built-in plan: all kinds in canonical dependency
// order, batch size 50, five retries from 30s doubling up to 1h.
func Default() *Plan {
	return &Plan{
		Kinds:     domain.DownloadOrder(),
		BatchSize: 50,
		Retry: RetryPolicy{
			MaxRetries:  5,
			BackoffBase: 30 * time.Second,
			BackoffCap:  time.Hour,
		},
	}
}

// Validate checks structural and ordering invariants.
func (p *Plan) Validate() error {
	if len(p.Kinds) == 0 {
		return fmt.Errorf("plan: no kinds to sync")
	}
	if p.BatchSize <= 0 {
		return fmt.Errorf("plan: batch size must be positive, got %d", p.BatchSize)
	}
	if p.Retry.MaxRetries <= 0 {
		return fmt.Errorf("plan: max retries must be positive, got %d", p.Retry.MaxRetries)
	}
	if p.Retry.BackoffBase <= 0 || p.Retry.BackoffCap < p.Retry.BackoffBase {
		return fmt.Errorf("plan: backoff base %s and cap %s are inconsistent",
			p.Retry.BackoffBase, p.Retry.BackoffCap)
	}

	pos := make(map[domain.Kind]int, len(p.Kinds))
	for i, k := range p.Kinds {
		if !k.Valid() {
			return fmt.Errorf("plan: unknown kind %q", k)
		}
		if _, dup := pos[k]; dup {
			return fmt.Errorf("plan: duplicate kind %q", k)
		}
		pos[k] = i
	}

	// Referenced kinds must download before their dependents when both
	// are present.
	deps := map[domain.Kind]domain.Kind{
		domain.KindJob:     domain.KindAccount,
		domain.KindMessage: domain.KindJob,
		domain.KindBid:     domain.KindJob,
	}
	for kind, dep := range deps {
		ki, kok := pos[kind]
		di, dok := pos[dep]
		if kok && dok && di > ki {
			return fmt.Errorf("plan: %q must download before %q", dep, kind)
		}
	}

	return nil
}
