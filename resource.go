// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpures

import (
	"sync"
	"sync/atomic"
	"weak"
)

// Destroyer is the teardown hook of a concrete resource kind. The manager
// calls DestroyResource exactly once, after the resource has been unlinked
// and its size removed from the running total, to free the underlying
// device allocation.
type Destroyer interface {
	DestroyResource()
}

// DestroyerFunc adapts a plain function to the Destroyer interface.
type DestroyerFunc func()

// DestroyResource calls f.
func (f DestroyerFunc) DestroyResource() { f() }

// noCopy lets go vet flag accidental copies of a Resource.
type noCopy struct{}

func (*noCopy) Lock()   {}
func (*noCopy) Unlock() {}

var _ sync.Locker = (*noCopy)(nil)

// Resource is a handle to one GPU-resident allocation tracked by a Manager.
//
// Concrete kinds (textures, buffers) embed a Resource and register it
// through [Guard.Register]. A Resource must not be copied after first use.
//
// Fields other than the reference count, the valid flag and the queue
// link are owned by the manager and change only under the owner's guard.
type Resource struct {
	_ noCopy

	id    uint32
	label string
	mgr   weak.Pointer[Manager]

	destroyer Destroyer
	size      uint64
	evictable bool
	delayed   bool

	// lastUsedFrame is the manager frame of the most recent Use.
	lastUsedFrame uint64
	// usedInContext is meaningful only while lastUsedFrame is the current frame.
	usedInContext bool
	// parkedFrame is the frame the resource entered TierPendingRelease.
	parkedFrame   uint64

	tier Tier
	prev *Resource
	next *Resource

	refs   atomic.Int32
	valid  atomic.Bool
	queued atomic.Bool
	qnext  *Resource
}

// ID returns the registration number of the resource. IDs increase
// monotonically per manager and break eviction ties (oldest first).
// Zero means the resource was never registered.
func (r *Resource) ID() uint32 { return r.id }

// Label returns the debug label given at registration.
func (r *Resource) Label() string { return r.label }

// SizeEstimate returns the best-effort size of the allocation in bytes.
func (r *Resource) SizeEstimate() uint64 { return r.size }

// IsValid reports whether the resource is registered and not yet destroyed.
// Safe to call from any goroutine.
func (r *Resource) IsValid() bool { return r.valid.Load() }

// Evictable reports whether the resource opted into automatic eviction.
func (r *Resource) Evictable() bool { return r.evictable }

// DelayedReleaseRequired reports whether physical destruction must wait
// one additional frame after release.
func (r *Resource) DelayedReleaseRequired() bool { return r.delayed }

// Tier returns the list the resource currently belongs to.
// Call it while holding the owner's guard.
func (r *Resource) Tier() Tier { return r.tier }

// LastUsedFrame returns the manager frame in which the resource was last used.
func (r *Resource) LastUsedFrame() uint64 { return r.lastUsedFrame }

// RefCount returns the current number of external references.
func (r *Resource) RefCount() int32 { return r.refs.Load() }

// AddRef adds an external reference. Adding a reference to a resource whose
// count already dropped to zero is a contract violation and is ignored.
// Safe to call from any goroutine.
func (r *Resource) AddRef() {
	for {
		n := r.refs.Load()
		if n <= 0 {
			if m := r.mgr.Value(); m != nil {
				m.violation("AddRef on released resource", "id", r.id, "label", r.label)
			}
			return
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return
		}
	}
}

// Release drops an external reference. When the last reference goes away
// the resource is pushed onto its manager's deferred-release queue and is
// destroyed the next time the owner calls DestroyResources.
//
// Release is safe to call from any goroutine and never blocks. Code that
// holds the owner's guard should call [Guard.Release] instead to destroy
// the resource immediately.
func (r *Resource) Release() {
	if !r.dropRef() {
		return
	}
	m := r.mgr.Value()
	if m == nil || !r.valid.Load() {
		return
	}
	if r.queued.CompareAndSwap(false, true) {
		m.queue.push(r)
	}
}

// dropRef decrements the reference count and reports whether it reached
// zero. Underflow is a contract violation and leaves the count at zero.
func (r *Resource) dropRef() bool {
	for {
		n := r.refs.Load()
		if n <= 0 {
			if m := r.mgr.Value(); m != nil {
				m.violation("Release on released resource", "id", r.id, "label", r.label)
			}
			return false
		}
		if r.refs.CompareAndSwap(n, n-1) {
			return n == 1
		}
	}
}

// manager returns the owning manager, or nil once it has been collected.
func (r *Resource) manager() *Manager { return r.mgr.Value() }
