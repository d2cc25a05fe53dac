// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpures

import "sync/atomic"

// releaseQueue is a lock-free intrusive stack of resources whose last
// reference was dropped outside the owner's guard.
//
// Any goroutine may push; the link lives in the resource itself, so a push
// never allocates and never blocks. The single consumer (the guard holder)
// takes the whole stack with one swap, which sidesteps ABA on pop.
type releaseQueue struct {
	head   atomic.Pointer[Resource]
	pushes atomic.Uint64
}

// push adds r to the queue. The caller must own the right to enqueue r
// (see Resource.queued); a resource is never in the queue twice.
func (q *releaseQueue) push(r *Resource) {
	for {
		old := q.head.Load()
		r.qnext = old
		if q.head.CompareAndSwap(old, r) {
			q.pushes.Add(1)
			return
		}
	}
}

// drain detaches every queued resource and returns them oldest first.
func (q *releaseQueue) drain() []*Resource {
	top := q.head.Swap(nil)
	if top == nil {
		return nil
	}

	var out []*Resource
	for r := top; r != nil; {
		next := r.qnext
		r.qnext = nil
		out = append(out, r)
		r = next
	}

	// The stack yields newest first.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

// empty reports whether nothing is queued at the moment of the call.
func (q *releaseQueue) empty() bool {
	return q.head.Load() == nil
}
