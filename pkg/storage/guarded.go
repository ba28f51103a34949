package storage

import (
	"context"
	"fmt"

	"randooprun/pkg/resilience"
)

// GuardedLogStore fails fast once the wrapped store keeps failing, so an
// unreachable bucket does not add a network timeout to every run.
type GuardedLogStore struct {
	inner   LogStore
	breaker *resilience.CircuitBreaker
}

func NewGuardedLogStore(inner LogStore, breaker *resilience.CircuitBreaker) *GuardedLogStore {
	return &GuardedLogStore{inner: inner, breaker: breaker}
}

func (g *GuardedLogStore) Store(ctx context.Context, runID, packageName string, logs []byte) (string, error) {
	var ref string
	err := g.breaker.Execute(ctx, func(ctx context.Context) error {
		var err error
		ref, err = g.inner.Store(ctx, runID, packageName, logs)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("%s: %w", g.breaker.Name(), err)
	}
	return ref, nil
}

// Retrieve is not guarded; it serves an interactive request.
func (g *GuardedLogStore) Retrieve(ctx context.Context, reference string) ([]byte, error) {
	return g.inner.Retrieve(ctx, reference)
}
