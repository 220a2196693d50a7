// Package level implements the leveled shard cascade a buffer flush
// installs into (spec.md §4.5 "Buffer flush"): a sequence of levels, each
// growing by the configured scale factor, under either a Tiering or
// Leveling discipline. Structurally this plays the role go-ethereum's
// core/state/snapshot.Tree.cap/diffToDisk plays -- walking downward,
// flattening layers once a capacity threshold is crossed, and replacing
// the prior layout with the merged result -- generalized from "exactly one
// flatten target, the disk layer" to an arbitrary number of levels with two
// selectable disciplines.
package level

import (
	"fmt"

	"github.com/psu-db/dynext/record"
	"github.com/psu-db/dynext/shard"
)

// Discipline selects how a level absorbs an incoming shard once resident
// (spec.md §4.5).
type Discipline int

const (
	// Tiering accumulates up to ScaleFactor resident shards per level
	// before merge-constructing them all (plus the incoming shard) into a
	// single shard installed at the next level down.
	Tiering Discipline = iota
	// Leveling keeps at most one resident shard per level; an incoming
	// shard always merges with it immediately.
	Leveling
)

func (d Discipline) String() string {
	if d == Leveling {
		return "leveling"
	}
	return "tiering"
}

// tier is one rung of the cascade.
type tier[K record.Key[K], V comparable, S shard.Shard[K, V]] struct {
	shards []S
}

// Cascade owns the full leveled shard structure beneath the buffer. It is
// rebuilt by copy-on-write on every flush (spec.md §5 "an immutable tree of
// pointers published atomically"): Install never mutates an existing
// Cascade in place, it returns a new one sharing untouched levels' slices.
type Cascade[K record.Key[K], V comparable, S shard.Shard[K, V]] struct {
	discipline    Discipline
	scaleFactor   int
	bufCapacity   int
	maxTombRatio  float64
	builder       shard.Builder[K, V, S]
	levels        []tier[K, V, S]
}

// New builds an empty cascade. bufCapacity is C (the buffer's record
// capacity), used to size each level's record-count threshold under
// Leveling; scaleFactor is s (>= 2); maxTombRatio is δ.
func New[K record.Key[K], V comparable, S shard.Shard[K, V]](
	discipline Discipline, scaleFactor, bufCapacity int, maxTombRatio float64, builder shard.Builder[K, V, S],
) *Cascade[K, V, S] {
	if scaleFactor < 2 {
		panic("level: scale_factor must be >= 2")
	}
	return &Cascade[K, V, S]{
		discipline:   discipline,
		scaleFactor:  scaleFactor,
		bufCapacity:  bufCapacity,
		maxTombRatio: maxTombRatio,
		builder:      builder,
	}
}

// clone returns a shallow copy whose levels slice is independently
// growable, so installing into the clone never mutates c.
func (c *Cascade[K, V, S]) clone() *Cascade[K, V, S] {
	cp := *c
	cp.levels = make([]tier[K, V, S], len(c.levels))
	for i, lvl := range c.levels {
		shards := make([]S, len(lvl.shards))
		copy(shards, lvl.shards)
		cp.levels[i] = tier[K, V, S]{shards: shards}
	}
	return &cp
}

// recordCapacity returns the record-count threshold a shard resident at
// level i must not exceed under Leveling: C * s^(i+1), the standard
// geometric level sizing (each level s times larger than the one above).
func (c *Cascade[K, V, S]) recordCapacity(i int) int {
	threshold := c.bufCapacity
	for j := 0; j <= i; j++ {
		threshold *= c.scaleFactor
	}
	return threshold
}

// Shards returns every resident shard across the whole cascade, newest
// level first and, within a level, newest shard first (tiering levels may
// hold more than one), for use as a query.View.
func (c *Cascade[K, V, S]) Shards() []S {
	var out []S
	for _, lvl := range c.levels {
		out = append(out, lvl.shards...)
	}
	return out
}

// Install places incoming at level 0, cascading downward per spec.md
// §4.5 steps 3-4, and returns the resulting Cascade. The receiver is left
// untouched; callers publish the returned Cascade as the new shared root
// under their write lock.
func (c *Cascade[K, V, S]) Install(incoming S) (*Cascade[K, V, S], error) {
	cp := c.clone()
	if err := cp.install(incoming, 0); err != nil {
		return nil, err
	}
	return cp, nil
}

func (c *Cascade[K, V, S]) ensureLevel(i int) {
	for len(c.levels) <= i {
		c.levels = append(c.levels, tier[K, V, S]{})
	}
}

// install places incoming at level i, the recursive step behind Install.
// A level with no resident shard always accepts incoming unconditionally
// and stops there -- this is what guarantees the cascade terminates, and
// is the "... or a new empty level is created to host it" half of
// spec.md §4.5 step 4: once nothing remains to merge against, a
// tombstone-heavy shard has nowhere further to usefully go. Only a
// non-empty level's overflow/bound check can push the recursion deeper.
func (c *Cascade[K, V, S]) install(incoming S, i int) error {
	c.ensureLevel(i)
	lvl := &c.levels[i]

	if len(lvl.shards) == 0 {
		lvl.shards = []S{incoming}
		return nil
	}

	switch c.discipline {
	case Tiering:
		// A tier keeps its shards newest first, the order query.View and
		// BuildFromMerge both expect.
		candidate := make([]S, 0, len(lvl.shards)+1)
		candidate = append(candidate, incoming)
		candidate = append(candidate, lvl.shards...)
		if len(candidate) <= c.scaleFactor && !violatesTombstoneBound(candidate, c.maxTombRatio) {
			lvl.shards = candidate
			return nil
		}
		merged, err := c.builder.BuildFromMerge(candidate)
		if err != nil {
			return fmt.Errorf("level: merging tier %d: %w", i, err)
		}
		lvl.shards = nil
		return c.install(merged, i+1)

	case Leveling:
		resident := lvl.shards[0]
		// incoming is newer than resident: BuildFromMerge requires its
		// input ordered youngest first.
		merged, err := c.builder.BuildFromMerge([]S{incoming, resident})
		if err != nil {
			return fmt.Errorf("level: merging level %d: %w", i, err)
		}
		lvl.shards = nil
		if merged.RecordCount() > c.recordCapacity(i) || violatesTombstoneBound([]S{merged}, c.maxTombRatio) {
			return c.install(merged, i+1)
		}
		lvl.shards = []S{merged}
		return nil

	default:
		panic("level: unknown discipline")
	}
}

func violatesTombstoneBound[K record.Key[K], V comparable, S shard.Shard[K, V]](shards []S, maxRatio float64) bool {
	if maxRatio >= 1 {
		return false
	}
	var records, tombs int
	for _, s := range shards {
		records += s.RecordCount()
		tombs += s.TombstoneCount()
	}
	if records == 0 {
		return false
	}
	return float64(tombs)/float64(records) > maxRatio
}
