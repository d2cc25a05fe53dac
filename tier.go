// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpures

import "fmt"

// Tier is one of the manager's eviction-eligibility lists. Every
// registered resource is in exactly one tier.
type Tier uint8

const (
	// TierNone means the resource is not registered or already destroyed.
	TierNone Tier = iota

	// TierNonEvictable holds resources the manager never evicts on its own.
	TierNonEvictable

	// TierPrevFrame holds evictable resources last used in an earlier frame.
	// These are the first eviction candidates, oldest first.
	TierPrevFrame

	// TierCurrentFrame holds evictable resources used in the current frame
	// outside any use-context.
	TierCurrentFrame

	// TierCurrentFrameInUse holds evictable resources used in the current
	// frame while a use-context was open. Evicted only on explicit
	// desperation and never while a use-context is open.
	TierCurrentFrameInUse

	// TierPendingRelease holds released resources that must survive one more
	// frame before physical destruction.
	TierPendingRelease

	numTiers
)

// String returns a human-readable name for the tier.
func (t Tier) String() string {
	switch t {
	case TierNone:
		return "None"
	case TierNonEvictable:
		return "NonEvictable"
	case TierPrevFrame:
		return "PrevFrame"
	case TierCurrentFrame:
		return "CurrentFrame"
	case TierCurrentFrameInUse:
		return "CurrentFrameInUse"
	case TierPendingRelease:
		return "PendingRelease"
	default:
		return fmt.Sprintf("Unknown(%d)", t)
	}
}

// tierList is an intrusive doubly-linked list of resources.
// The list is not thread-safe; the owner's guard serializes access.
//
// The head is the least recently inserted, the tail the most recent.
type tierList struct {
	head *Resource
	tail *Resource
	len  int
}

// pushBack appends r at the tail. r must not be linked in any list.
func (l *tierList) pushBack(r *Resource) {
	r.prev = l.tail
	r.next = nil
	if l.tail == nil {
		l.head = r
	} else {
		l.tail.next = r
	}
	l.tail = r
	l.len++
}

// remove unlinks r from the list and clears its link pointers.
func (l *tierList) remove(r *Resource) {
	if r.prev != nil {
		r.prev.next = r.next
	} else {
		l.head = r.next
	}

	if r.next != nil {
		r.next.prev = r.prev
	} else {
		l.tail = r.prev
	}

	r.prev = nil
	r.next = nil
	l.len--
}

// snapshot copies the list into a slice so callers can destroy entries
// while iterating.
func (l *tierList) snapshot() []*Resource {
	out := make([]*Resource, 0, l.len)
	for r := l.head; r != nil; r = r.next {
		out = append(out, r)
	}
	return out
}
