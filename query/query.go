// Package query defines the three-stage query protocol (preprocess/local/
// combine) every query class implements, and dispatches it across a
// snapshotted buffer view and shard cascade in parallel via
// golang.org/x/sync/errgroup -- the same fan-out-and-join shape
// go-ethereum's snapshot iterator stack uses when walking multiple diff
// layers, generalized here to run concurrently instead of sequentially
// since shard locals have no shared mutable state (spec.md §4.4 step 3).
package query

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/psu-db/dynext/buffer"
	"github.com/psu-db/dynext/record"
	"github.com/psu-db/dynext/shard"
)

// Class is the contract a query implementation satisfies: three pure
// functions plus two compile-time policy flags, exactly spec.md §4.4's
// "every supported query class Q defines three pure functions ...".
type Class[K record.Key[K], V comparable, S shard.Shard[K, V], P any, LS any, BS any, LR any, FR any] interface {
	// Preprocess may compute shard-wide summaries (e.g. sampling weights)
	// and returns one LocalState per shard plus a BufferState for the
	// buffer view. It may mutate params to inject data shared across every
	// local call (e.g. a precomputed total weight).
	Preprocess(shards []S, bufView *buffer.View[K, V], params *P) ([]LS, BS)

	// Local examines exactly one shard and produces a partial answer.
	Local(s S, state LS, params *P) LR

	// LocalBuffer examines the buffer view and produces a partial answer.
	LocalBuffer(bufView *buffer.View[K, V], state BS, params *P) LR

	// Combine merges every partial answer (shard locals in newest-to-oldest
	// shard order, followed by the buffer's local result) into the final
	// answer. This is where cross-shard tombstone cancellation happens for
	// order-sensitive classes. Sampling redraws tombstoned hits in its
	// Local/LocalBuffer stages; its Combine only aggregates.
	Combine(results []LR, params *P) FR

	// EarlyAbort reports whether Combine may short-circuit once its policy
	// is satisfied (e.g. point lookup stopping at the first hit).
	EarlyAbort() bool

	// SkipDeleteFilter reports whether Local/LocalBuffer already guarantee
	// no deleted record can appear in their output, letting Combine skip
	// the cross-shard tombstone pass entirely.
	SkipDeleteFilter() bool
}

// View is the immutable snapshot a single query executes against: a
// buffer view plus a consistent copy of the shard cascade, newest level
// first, newest shard first within a level (spec.md §5 "Shared state").
type View[K record.Key[K], V comparable, S shard.Shard[K, V]] struct {
	Buffer *buffer.View[K, V]
	Shards []S
}

// Execute runs the full protocol of spec.md §4.4 "Query dispatch" over a
// View: preprocess once, dispatch Local across every shard and the buffer
// concurrently (an errgroup-managed fan-out, cancelled as a unit if the
// context is cancelled or any local stage errors), then Combine.
func Execute[K record.Key[K], V comparable, S shard.Shard[K, V], P any, LS any, BS any, LR any, FR any](
	ctx context.Context,
	q Class[K, V, S, P, LS, BS, LR, FR],
	view View[K, V, S],
	params *P,
) (FR, error) {
	var zero FR
	states, bufState := q.Preprocess(view.Shards, view.Buffer, params)

	results := make([]LR, len(view.Shards)+1)
	g, gctx := errgroup.WithContext(ctx)
	for i := range view.Shards {
		i := i
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = q.Local(view.Shards[i], states[i], params)
			return nil
		})
	}
	g.Go(func() error {
		if err := gctx.Err(); err != nil {
			return err
		}
		results[len(view.Shards)] = q.LocalBuffer(view.Buffer, bufState, params)
		return nil
	})
	if err := g.Wait(); err != nil {
		return zero, err
	}

	return q.Combine(results, params), nil
}
