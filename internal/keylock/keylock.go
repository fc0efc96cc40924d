// Package keylock serializes work on string keys without a global lock.
// Keys hash onto a fixed set of shards; a caller locking several keys takes
// their shards in ascending order, so two callers can never deadlock.
package keylock

import (
	"context"
	"hash/fnv"
	"sort"

	"golang.org/x/sync/semaphore"
)

type Table struct {
	shards []*semaphore.Weighted
}

func New(shards int) *Table {
	if shards < 1 {
		shards = 1
	}
	t := &Table{shards: make([]*semaphore.Weighted, shards)}
	for i := range t.shards {
		t.shards[i] = semaphore.NewWeighted(1)
	}
	return t
}

// Lock acquires every shard covering keys and returns the release func.
// If ctx ends while waiting, shards already taken are released and the
// context error is returned.
func (t *Table) Lock(ctx context.Context, keys ...string) (func(), error) {
	idx := t.shardsFor(keys)
	held := make([]int, 0, len(idx))

	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			t.shards[held[i]].Release(1)
		}
		held = held[:0]
	}

	for _, i := range idx {
		if err := t.shards[i].Acquire(ctx, 1); err != nil {
			release()
			return nil, err
		}
		held = append(held, i)
	}
	return release, nil
}

func (t *Table) shardsFor(keys []string) []int {
	seen := make(map[int]bool, len(keys))
	out := make([]int, 0, len(keys))
	for _, k := range keys {
		i := t.shard(k)
		if !seen[i] {
			seen[i] = true
			out = append(out, i)
		}
	}
	sort.Ints(out)
	return out
}

func (t *Table) shard(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(t.shards)))
}
