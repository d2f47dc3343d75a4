// Package workerpool provides the bounded-concurrency helper shared by the
// reputation clients (C8) and the package checker (C9), so that a large
// package.json or a long `npm install x y z …` cannot produce unbounded
// outstanding requests (§ATK-14).
package workerpool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Size is the default fan-out width for reputation and package-check
// batches (spec §9).
const Size = 8

// Run calls fn once per index in [0, n) with at most Size calls in flight at
// once. It returns the first non-nil error, but still lets the other
// in-flight calls finish (errgroup semantics) rather than leaking
// goroutines.
func Run(ctx context.Context, n int, fn func(ctx context.Context, i int) error) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(Size)
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			return fn(ctx, i)
		})
	}
	return g.Wait()
}

// RunEach is a convenience wrapper for slices: it maps items to results in
// place, running at most Size calls at a time. fn has no error return, so
// every item always runs; a per-item failure is carried in fn's R value,
// which lets the caller fail open per item.
func RunEach[T any, R any](ctx context.Context, items []T, fn func(ctx context.Context, item T) R) []R {
	results := make([]R, len(items))
	_ = Run(ctx, len(items), func(ctx context.Context, i int) error {
		results[i] = fn(ctx, items[i])
		return nil
	})
	return results
}
