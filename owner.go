// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpures

import (
	"sync"

	"github.com/gogpu/gpucontext"
)

// Owner is the single logical owner of a Manager. It serializes rendering
// calls and hands out the [Guard] that every mutating manager operation
// requires.
//
// Owner is safe for concurrent use; the manager behind it is not.
type Owner struct {
	mu     sync.Mutex
	mgr    *Manager
	device gpucontext.Device
}

// NewOwner creates an owner with an empty resource manager.
//
// Example:
//
//	owner := gpures.NewOwner(gpures.WithDevice(provider.Device()))
//	g := owner.Protect()
//	defer g.Unlock()
func NewOwner(opts ...OwnerOption) *Owner {
	var o ownerOptions
	for _, opt := range opts {
		opt(&o)
	}
	return &Owner{
		mgr:    newManager(o.logger),
		device: o.device,
	}
}

// Manager returns the owner's resource manager. Its exported methods are
// read-only counters; mutation requires a Guard.
func (o *Owner) Manager() *Manager { return o.mgr }

// Protect blocks until no other guard is held and returns a new one.
// Guards do not nest: pass the guard down the call stack instead of
// calling Protect again.
func (o *Owner) Protect() *Guard {
	o.mu.Lock()
	return &Guard{owner: o, m: o.mgr, held: true}
}

// EndFrame closes the current rendering frame. It polls the device, if
// one is attached, reaps released resources with delay and rotates the
// frame.
func (o *Owner) EndFrame() {
	g := o.Protect()
	defer g.Unlock()

	if p, ok := o.device.(poller); ok {
		p.Poll(false)
	}
	g.EndFrame()
	g.DestroyResources(WithDelay)
}

// HandleDeviceLost destroys every resource after unrecoverable device loss
// and leaves the manager ready for resources created on a new device.
func (o *Owner) HandleDeviceLost() {
	g := o.Protect()
	defer g.Unlock()

	o.mgr.log().Info("gpures: device lost, destroying all resources")
	g.DestroyAllResources()
}

// Close destroys every resource and closes the manager. Later
// registrations fail with ErrManagerClosed.
func (o *Owner) Close() {
	g := o.Protect()
	defer g.Unlock()

	if o.mgr.closed {
		return
	}
	g.DestroyAllResources()
	o.mgr.closed = true
}

// poller is implemented by devices that retire completed GPU work on
// demand. gpucontext.Device is an opaque token; devices without Poll are
// left alone.
type poller interface {
	Poll(wait bool)
}

// Guard is the proof that the caller holds the owner's protection. All
// list mutation of the manager is reachable only through a held guard.
//
// A Guard must not be shared between goroutines and must not be used
// after Unlock.
type Guard struct {
	owner *Owner
	m     *Manager
	held  bool
}

// Held reports whether the guard still holds the owner's protection.
func (g *Guard) Held() bool { return g.held }

// Unlock gives up the protection. Unlocking twice is a contract violation
// and is otherwise ignored.
func (g *Guard) Unlock() {
	if !g.held {
		g.m.violation("Unlock of released guard")
		return
	}
	g.held = false
	g.owner.mu.Unlock()
}

// check verifies the guard before a protected operation.
func (g *Guard) check(op string) bool {
	if !g.held {
		g.m.violation(op + " through released guard")
		return false
	}
	return true
}

// Manager returns the protected manager.
func (g *Guard) Manager() *Manager { return g.m }

// Register adds r to the manager, taking the creator's reference. d is the
// teardown hook invoked on physical destruction; it may be nil.
func (g *Guard) Register(r *Resource, d Destroyer, opts ...RegisterOption) error {
	if !g.check("Register") {
		return ErrGuardReleased
	}
	return g.m.register(r, d, opts...)
}

// Use marks r as used in the current frame.
func (g *Guard) Use(r *Resource) {
	if g.check("Use") {
		g.m.use(r)
	}
}

// MarkEvictable opts r into automatic eviction.
func (g *Guard) MarkEvictable(r *Resource) {
	if g.check("MarkEvictable") {
		g.m.markEvictable(r)
	}
}

// Release drops a reference with protection held. The last reference
// destroys the resource immediately, or parks it for one frame if it was
// registered with DelayedRelease.
func (g *Guard) Release(r *Resource) {
	if g.check("Release") {
		g.m.releaseProtected(r)
	}
}

// DestroyAndRelease destroys r immediately, whatever its reference count.
// It returns false, without touching the accounting, if r was already
// destroyed.
func (g *Guard) DestroyAndRelease(r *Resource) bool {
	if !g.check("DestroyAndRelease") {
		return false
	}
	return g.m.destroyAndRelease(r)
}

// EnterUseContext opens a nested use-context. Resources used until the
// matching ExitUseContext cannot be evicted while any context is open.
func (g *Guard) EnterUseContext() UseToken {
	if !g.check("EnterUseContext") {
		return 0
	}
	return g.m.enterUseContext()
}

// ExitUseContext closes the use-context opened with tok.
func (g *Guard) ExitUseContext(tok UseToken) {
	if g.check("ExitUseContext") {
		g.m.exitUseContext(tok)
	}
}

// WithUseContext runs fn inside a use-context and always closes it,
// including when fn fails or panics.
func (g *Guard) WithUseContext(fn func() error) error {
	tok := g.EnterUseContext()
	defer g.ExitUseContext(tok)
	return fn()
}

// EndFrame rotates current-frame resources into the previous-frame tier and
// advances the frame counter. It must be called exactly once per frame with
// no use-context open.
func (g *Guard) EndFrame() {
	if g.check("EndFrame") {
		g.m.endFrame()
	}
}

// DestroyResources physically destroys released resources and returns the
// number of bytes freed.
func (g *Guard) DestroyResources(style ReleaseStyle) uint64 {
	if !g.check("DestroyResources") {
		return 0
	}
	return g.m.destroyResources(style)
}

// FreeSomeVideoMemory is the out-of-memory recovery entry point. Call it
// right after a creation call failed; retry the allocation once if it
// returns true and fail otherwise.
//
// It returns true whenever any bytes were freed, even if less than
// req.Bytes. That includes a desperate request made while a use-context
// is open: the in-use tier is skipped, but memory freed from the other
// tiers still makes a single retry worthwhile.
//
// Resources registered with DelayedRelease and used in the current frame
// are never evicted; the GPU may still read them.
func (g *Guard) FreeSomeVideoMemory(req EvictionRequest) bool {
	if !g.check("FreeSomeVideoMemory") {
		return false
	}
	return g.m.freeSomeVideoMemory(req)
}

// DestroyAllResources tears down every resource regardless of tier or
// use-context. Use it only at shutdown or after device loss.
func (g *Guard) DestroyAllResources() {
	if g.check("DestroyAllResources") {
		g.m.destroyAll()
	}
}

// Frame returns the current frame number.
func (g *Guard) Frame() uint64 { return g.m.frame }

// UseContextDepth returns the number of open use-contexts.
func (g *Guard) UseContextDepth() uint32 { return g.m.useDepth }

// TierLen returns the number of resources in tier t.
func (g *Guard) TierLen(t Tier) int {
	if t == TierNone || t >= numTiers {
		return 0
	}
	return g.m.tiers[t].len
}

// QueuedReleases reports whether releases are waiting in the deferred queue.
func (g *Guard) QueuedReleases() bool { return !g.m.queue.empty() }
