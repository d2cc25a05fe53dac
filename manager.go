// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpures

import (
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
	"weak"

	"golang.org/x/time/rate"
)

// ReleaseStyle selects whether DestroyResources honors the one-frame delay
// of resources registered with DelayedRelease.
type ReleaseStyle uint8

const (
	// WithDelay keeps delay-required resources alive until at least one
	// EndFrame has passed since they were released.
	WithDelay ReleaseStyle = iota

	// WithoutDelay destroys every released resource immediately. Use it only
	// when the GPU is known to be idle.
	WithoutDelay
)

// String returns a human-readable name for the release style.
func (s ReleaseStyle) String() string {
	switch s {
	case WithDelay:
		return "WithDelay"
	case WithoutDelay:
		return "WithoutDelay"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// Manager tracks every registered GPU resource in ordered tiers, reclaims
// released resources and evicts the least valuable ones when the device
// runs out of memory.
//
// Manager does no locking of its own. Every mutation goes through a
// [Guard], which the [Owner] hands out one at a time. Only
// [Resource.Release] and the byte counters are safe from other goroutines.
type Manager struct {
	tiers [numTiers]tierList
	queue releaseQueue

	frame    uint64
	useDepth uint32
	nextID   uint32
	closed   bool

	bytesInUse atomic.Uint64
	peakBytes  atomic.Uint64

	evictions        uint64
	evictedBytes     uint64
	deferredReleases uint64
	violations       atomic.Uint64

	logger *slog.Logger
	oomLog rate.Sometimes
}

// newManager creates an empty manager. A nil logger falls back to the
// package logger at every call.
func newManager(logger *slog.Logger) *Manager {
	return &Manager{
		nextID: 1,
		logger: logger,
		oomLog: rate.Sometimes{Interval: time.Second},
	}
}

func (m *Manager) log() *slog.Logger {
	if m.logger != nil {
		return m.logger
	}
	return Logger()
}

// BytesInUse returns the sum of the size estimates of all registered
// resources that have not been physically destroyed yet.
// Safe to call from any goroutine.
func (m *Manager) BytesInUse() uint64 { return m.bytesInUse.Load() }

// PeakBytesInUse returns the highest value BytesInUse has reached.
// Safe to call from any goroutine.
func (m *Manager) PeakBytesInUse() uint64 { return m.peakBytes.Load() }

// Violations returns the number of contract violations observed so far.
// Safe to call from any goroutine.
func (m *Manager) Violations() uint64 { return m.violations.Load() }

// register inserts r into the non-evictable or current-frame tier.
func (m *Manager) register(r *Resource, d Destroyer, opts ...RegisterOption) error {
	if r == nil {
		return ErrNilResource
	}
	if m.closed {
		return ErrManagerClosed
	}
	if r.id != 0 {
		return fmt.Errorf("%w: id=%d label=%q", ErrAlreadyRegistered, r.id, r.label)
	}

	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	r.id = m.nextID
	m.nextID++
	r.label = o.label
	r.mgr = weak.Make(m)
	r.destroyer = d
	r.size = o.size
	r.evictable = o.evictable
	r.delayed = o.delayed
	r.lastUsedFrame = m.frame
	r.usedInContext = m.useDepth > 0
	r.refs.Store(1)
	r.valid.Store(true)

	switch {
	case !r.evictable:
		m.link(r, TierNonEvictable)
	case r.usedInContext:
		m.link(r, TierCurrentFrameInUse)
	default:
		m.link(r, TierCurrentFrame)
	}
	m.addBytes(r.size)
	return nil
}

// owns reports whether r is a live resource of this manager. A foreign or
// dead resource is a contract violation.
func (m *Manager) owns(r *Resource, op string) bool {
	if r == nil {
		m.violation(op+" on nil resource")
		return false
	}
	if r.manager() != m {
		m.violation(op+" on resource of another manager", "id", r.id, "label", r.label)
		return false
	}
	if !r.valid.Load() {
		m.violation(op+" on destroyed resource", "id", r.id, "label", r.label)
		return false
	}
	return true
}

// use marks r as used in the current frame.
func (m *Manager) use(r *Resource) {
	if !m.owns(r, "Use") {
		return
	}
	if r.tier == TierPendingRelease {
		m.violation("Use on released resource", "id", r.id, "label", r.label)
		return
	}

	inContext := m.useDepth > 0
	if r.lastUsedFrame == m.frame {
		r.usedInContext = r.usedInContext || inContext
	} else {
		r.lastUsedFrame = m.frame
		r.usedInContext = inContext
	}

	if r.tier == TierNonEvictable {
		return
	}
	if r.usedInContext {
		m.move(r, TierCurrentFrameInUse)
	} else {
		m.move(r, TierCurrentFrame)
	}
}

// markEvictable moves r from the non-evictable tier into the evictable tier
// matching its last use.
func (m *Manager) markEvictable(r *Resource) {
	if !m.owns(r, "MarkEvictable") || r.evictable {
		return
	}
	r.evictable = true
	if r.tier != TierNonEvictable {
		return
	}
	switch {
	case r.lastUsedFrame != m.frame:
		m.move(r, TierPrevFrame)
	case r.usedInContext:
		m.move(r, TierCurrentFrameInUse)
	default:
		m.move(r, TierCurrentFrame)
	}
}

// endFrame rotates both current-frame tiers into the previous-frame tier
// and advances the frame counter.
func (m *Manager) endFrame() {
	if m.useDepth > 0 {
		m.violation("EndFrame with open use-context", "depth", m.useDepth)
		m.useDepth = 0
	}

	rotated := m.tiers[TierCurrentFrame].len + m.tiers[TierCurrentFrameInUse].len
	for _, t := range []Tier{TierCurrentFrame, TierCurrentFrameInUse} {
		for r := m.tiers[t].head; r != nil; r = m.tiers[t].head {
			m.move(r, TierPrevFrame)
		}
	}
	m.frame++

	m.log().Debug("gpures: end frame",
		"frame", m.frame,
		"rotated", rotated,
		"bytes", m.bytesInUse.Load())
}

// destroyResources drains the deferred-release queue and reaps parked
// resources whose delay has expired. Returns the bytes physically freed.
func (m *Manager) destroyResources(style ReleaseStyle) uint64 {
	var freed uint64

	for _, r := range m.queue.drain() {
		r.queued.Store(false)
		if !r.valid.Load() || r.tier == TierPendingRelease {
			continue
		}
		m.deferredReleases++
		freed += m.retire(r, style)
	}

	pending := &m.tiers[TierPendingRelease]
	for r := pending.head; r != nil; {
		next := r.next
		if style == WithoutDelay || r.parkedFrame < m.frame {
			freed += m.destroy(r)
		}
		r = next
	}

	if freed > 0 {
		m.log().Debug("gpures: destroyed released resources",
			"style", style,
			"freed", freed,
			"pending", pending.len)
	}
	return freed
}

// retire handles a resource whose last reference is gone: destroy it now,
// or park it for one frame when its kind requires a delay.
func (m *Manager) retire(r *Resource, style ReleaseStyle) uint64 {
	if r.delayed && style == WithDelay {
		r.parkedFrame = m.frame
		m.move(r, TierPendingRelease)
		return 0
	}
	return m.destroy(r)
}

// destroyAndRelease destroys r immediately regardless of its tier.
func (m *Manager) destroyAndRelease(r *Resource) bool {
	if !m.owns(r, "DestroyAndRelease") {
		return false
	}
	m.destroy(r)
	return true
}

// releaseProtected drops a reference on the owner's side. The last
// reference retires the resource without going through the queue.
func (m *Manager) releaseProtected(r *Resource) {
	if !m.owns(r, "Release") {
		return
	}
	if !r.dropRef() {
		return
	}
	m.retire(r, WithDelay)
}

// destroyAll tears down every resource in every tier, including queued
// and parked ones, regardless of open use-contexts.
func (m *Manager) destroyAll() {
	for _, r := range m.queue.drain() {
		r.queued.Store(false)
	}

	var count int
	for t := TierNonEvictable; t < numTiers; t++ {
		for r := m.tiers[t].head; r != nil; r = m.tiers[t].head {
			m.destroy(r)
			count++
		}
	}
	m.useDepth = 0

	if left := m.bytesInUse.Load(); left != 0 {
		m.violation("byte accounting drift after DestroyAllResources", "bytes", left)
		m.bytesInUse.Store(0)
	}

	m.log().Info("gpures: destroyed all resources", "count", count, "frame", m.frame)
}

// link puts an unlinked resource into tier t.
func (m *Manager) link(r *Resource, t Tier) {
	m.tiers[t].pushBack(r)
	r.tier = t
}

// move relinks r at the tail of tier t.
func (m *Manager) move(r *Resource, t Tier) {
	m.tiers[r.tier].remove(r)
	m.link(r, t)
}

// destroy unlinks r, settles the accounting and only then runs the
// teardown hook, so the manager is consistent even if the hook panics.
func (m *Manager) destroy(r *Resource) uint64 {
	if r.tier != TierNone {
		m.tiers[r.tier].remove(r)
		r.tier = TierNone
	}
	r.valid.Store(false)
	r.refs.Store(0)
	m.subBytes(r.size)

	d := r.destroyer
	r.destroyer = nil
	if d != nil {
		d.DestroyResource()
	}
	return r.size
}

func (m *Manager) addBytes(n uint64) {
	total := m.bytesInUse.Add(n)
	for {
		peak := m.peakBytes.Load()
		if total <= peak || m.peakBytes.CompareAndSwap(peak, total) {
			return
		}
	}
}

func (m *Manager) subBytes(n uint64) {
	for {
		cur := m.bytesInUse.Load()
		next := cur - n
		if n > cur {
			m.violation("byte accounting underflow", "bytes", cur, "sub", n)
			next = 0
		}
		if m.bytesInUse.CompareAndSwap(cur, next) {
			return
		}
	}
}
