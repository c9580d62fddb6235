package history

import (
	"maps"
	"slices"
)

// removalBatcher coalesces removals scheduled during one turn of the runner
// into a single flush.
type removalBatcher struct {
	runner  TaskRunner
	pending map[uint32]struct{}
	flush   func(ids []uint32)
}

func newRemovalBatcher(runner TaskRunner, flush func(ids []uint32)) *removalBatcher {
	return &removalBatcher{
		runner:  runner,
		pending: make(map[uint32]struct{}),
		flush:   flush,
	}
}

// schedule adds id to the batch. Only the empty to non-empty transition posts
// a flush task.
func (b *removalBatcher) schedule(id uint32) {
	if _, ok := b.pending[id]; ok {
		return
	}

	armed := len(b.pending) > 0
	b.pending[id] = struct{}{}

	if !armed {
		b.runner.PostTask(b.run)
	}
}

func (b *removalBatcher) contains(id uint32) bool {
	_, ok := b.pending[id]

	return ok
}

func (b *removalBatcher) size() int {
	return len(b.pending)
}

// take swaps out the pending set and returns its ids in ascending order.
func (b *removalBatcher) take() []uint32 {
	if len(b.pending) == 0 {
		return nil
	}

	ids := slices.Sorted(maps.Keys(b.pending))
	b.pending = make(map[uint32]struct{})

	return ids
}

func (b *removalBatcher) run() {
	ids := b.take()
	if len(ids) == 0 {
		return
	}

	b.flush(ids)
}
