// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpures

import (
	"fmt"

	"github.com/RoaringBitmap/roaring/v2"
	"github.com/dustin/go-humanize"
)

// Stats contains resource manager statistics.
type Stats struct {
	// BytesInUse is the sum of size estimates of undestroyed resources.
	BytesInUse uint64

	// PeakBytesInUse is the highest BytesInUse observed.
	PeakBytesInUse uint64

	// NonEvictable, PrevFrame, CurrentFrame, CurrentFrameInUse and
	// PendingRelease are the resource counts per tier.
	NonEvictable      int
	PrevFrame         int
	CurrentFrame      int
	CurrentFrameInUse int
	PendingRelease    int

	// Frame is the current frame number.
	Frame uint64

	// UseContextDepth is the number of open use-contexts.
	UseContextDepth uint32

	// Evictions is the number of resources evicted under memory pressure.
	Evictions uint64

	// EvictedBytes is the total size of evicted resources.
	EvictedBytes uint64

	// DeferredReleases is the number of resources reclaimed from the
	// deferred-release queue.
	DeferredReleases uint64

	// Violations is the number of contract violations observed.
	Violations uint64
}

// Resources returns the number of registered, undestroyed resources.
func (s Stats) Resources() int {
	return s.NonEvictable + s.PrevFrame + s.CurrentFrame + s.CurrentFrameInUse + s.PendingRelease
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("Resources[frame %d, %d live, %s in use (peak %s), tiers %d/%d/%d/%d, %d pending, %d evictions (%s)]",
		s.Frame,
		s.Resources(),
		humanize.IBytes(s.BytesInUse),
		humanize.IBytes(s.PeakBytesInUse),
		s.NonEvictable,
		s.PrevFrame,
		s.CurrentFrame,
		s.CurrentFrameInUse,
		s.PendingRelease,
		s.Evictions,
		humanize.IBytes(s.EvictedBytes))
}

// Stats returns current manager statistics.
func (g *Guard) Stats() Stats {
	m := g.m
	return Stats{
		BytesInUse:        m.bytesInUse.Load(),
		PeakBytesInUse:    m.peakBytes.Load(),
		NonEvictable:      m.tiers[TierNonEvictable].len,
		PrevFrame:         m.tiers[TierPrevFrame].len,
		CurrentFrame:      m.tiers[TierCurrentFrame].len,
		CurrentFrameInUse: m.tiers[TierCurrentFrameInUse].len,
		PendingRelease:    m.tiers[TierPendingRelease].len,
		Frame:             m.frame,
		UseContextDepth:   m.useDepth,
		Evictions:         m.evictions,
		EvictedBytes:      m.evictedBytes,
		DeferredReleases:  m.deferredReleases,
		Violations:        m.violations.Load(),
	}
}

// Snapshot is a point-in-time view of tier membership by resource ID.
type Snapshot struct {
	Frame uint64
	tiers [numTiers]*roaring.Bitmap
	bytes [numTiers]uint64
}

// Members returns the IDs of the resources in tier t. The bitmap belongs
// to the snapshot; clone it before modifying.
func (s *Snapshot) Members(t Tier) *roaring.Bitmap {
	if t >= numTiers || s.tiers[t] == nil {
		return roaring.New()
	}
	return s.tiers[t]
}

// TierOf returns the tier holding the resource with the given ID, or
// TierNone if no tier does.
func (s *Snapshot) TierOf(id uint32) Tier {
	for t := TierNonEvictable; t < numTiers; t++ {
		if s.tiers[t].Contains(id) {
			return t
		}
	}
	return TierNone
}

// Bytes returns the summed size estimates of tier t.
func (s *Snapshot) Bytes(t Tier) uint64 {
	if t >= numTiers {
		return 0
	}
	return s.bytes[t]
}

// TotalBytes returns the summed size estimates across all tiers. It equals
// the manager's BytesInUse at the time of the snapshot.
func (s *Snapshot) TotalBytes() uint64 {
	var total uint64
	for _, b := range s.bytes {
		total += b
	}
	return total
}

// Snapshot captures tier membership for diagnostics and tests.
func (g *Guard) Snapshot() *Snapshot {
	s := &Snapshot{Frame: g.m.frame}
	for t := TierNone; t < numTiers; t++ {
		bm := roaring.New()
		for r := g.m.tiers[t].head; r != nil; r = r.next {
			bm.Add(r.id)
			s.bytes[t] += r.size
		}
		s.tiers[t] = bm
	}
	return s
}
