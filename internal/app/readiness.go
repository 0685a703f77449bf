package app

import (
	"context"
	"fmt"
)

// Pinger is anything that can report liveness of a backing service.
type Pinger interface{ Ping(ctx context.Context) error }

// BuildStoreCheck returns the readiness probe for the shared store, or nil
// when state is process-local and always available.
func BuildStoreCheck(p Pinger) func(ctx context.Context) error {
	if p == nil {
		return nil
	}
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("op=app.StoreCheck: %w", err)
		}
		return nil
	}
}
