// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpures

import (
	"cmp"
	"slices"

	"github.com/dustin/go-humanize"
)

// EvictionRequest describes a failed allocation the caller wants to retry.
type EvictionRequest struct {
	// Failure is the classified reason the allocation failed. Only
	// recoverable failures (see FailureCode.Recoverable) trigger eviction.
	Failure FailureCode

	// Bytes is the estimated size of the failed allocation. Zero means the
	// size is unknown: eviction stops after the first tier that frees
	// anything.
	Bytes uint64

	// Desperate allows evicting resources used inside a use-context earlier
	// in the current frame. Even then they are skipped while any
	// use-context is still open.
	Desperate bool
}

// freeSomeVideoMemory runs the out-of-memory recovery policy and reports
// whether any memory was freed. It visits each resource at most once and
// never retries; retry policy belongs to the caller.
func (m *Manager) freeSomeVideoMemory(req EvictionRequest) bool {
	if !req.Failure.Recoverable() {
		m.log().Debug("gpures: failure not recoverable by eviction", "failure", req.Failure)
		return false
	}

	// Already released resources are the cheapest win.
	freed := m.destroyResources(WithDelay)
	enough := func() bool {
		if req.Bytes == 0 {
			return freed > 0
		}
		return freed >= req.Bytes
	}

	tiers := []Tier{TierPrevFrame, TierCurrentFrame}
	if req.Desperate {
		if m.useDepth == 0 {
			tiers = append(tiers, TierCurrentFrameInUse)
		} else {
			m.log().Debug("gpures: skipping in-use tier with open use-context", "depth", m.useDepth)
		}
	}

	for _, t := range tiers {
		if enough() {
			break
		}
		var need uint64
		if req.Bytes > 0 {
			need = req.Bytes - freed
		}
		freed += m.evictTier(t, need)
	}

	if !enough() {
		m.oomLog.Do(func() {
			m.log().Warn("gpures: eviction could not satisfy allocation",
				"failure", req.Failure,
				"requested", humanize.IBytes(req.Bytes),
				"freed", humanize.IBytes(freed),
				"in_use", humanize.IBytes(m.bytesInUse.Load()),
				"desperate", req.Desperate)
		})
	}
	return freed > 0
}

// evictTier destroys evictable resources of tier t in eviction order until
// need bytes are freed. need == 0 evicts the whole tier. Delay-required
// resources used this frame are skipped: the GPU may still read them
// until the next EndFrame.
func (m *Manager) evictTier(t Tier, need uint64) uint64 {
	candidates := m.tiers[t].snapshot()
	slices.SortFunc(candidates, evictionOrder)

	var freed uint64
	for _, r := range candidates {
		if need > 0 && freed >= need {
			break
		}
		if !r.evictable || (r.delayed && r.lastUsedFrame == m.frame) {
			continue
		}
		size := m.destroy(r)
		freed += size
		m.evictions++
		m.evictedBytes += size

		m.log().Debug("gpures: evicted resource",
			"id", r.id,
			"label", r.label,
			"tier", t,
			"size", size,
			"last_used", r.lastUsedFrame)
	}
	return freed
}

// evictionOrder sorts least recently used first, ties by registration.
func evictionOrder(a, b *Resource) int {
	if c := cmp.Compare(a.lastUsedFrame, b.lastUsedFrame); c != 0 {
		return c
	}
	return cmp.Compare(a.id, b.id)
}
