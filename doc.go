// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Package gpures tracks GPU-resident resources against a scarce video
// memory budget.
//
// # Overview
//
// A [Manager] keeps every registered [Resource] in exactly one of four
// ordered tiers, from "never evict" to "evict only in desperation":
//
//   - [TierNonEvictable]: resources that did not opt into eviction
//   - [TierPrevFrame]: evictable, last used in an earlier frame (LRU first)
//   - [TierCurrentFrame]: evictable, used this frame outside a use-context
//   - [TierCurrentFrameInUse]: evictable, used this frame inside a use-context
//
// Released resources whose kind needs the GPU to finish the previous frame
// wait in [TierPendingRelease] for one more frame.
//
// # Quick Start
//
//	owner := gpures.NewOwner()
//	g := owner.Protect()
//	defer g.Unlock()
//
//	tex := newTexture() // embeds gpures.Resource, implements Destroyer
//	if err := g.Register(&tex.Resource, tex, gpures.WithSize(1<<20), gpures.Evictable()); err != nil {
//	    return err
//	}
//
//	err := g.WithUseContext(func() error {
//	    g.Use(&tex.Resource)
//	    return draw(tex)
//	})
//
//	g.EndFrame()
//
// # Protection
//
// The manager takes no locks. Every mutation goes through a [Guard] from
// [Owner.Protect]; the type system makes unprotected mutation impossible
// and a guard used after Unlock is reported as a contract violation.
//
// The one exception is [Resource.Release], which any goroutine may call.
// Dropping the last reference there pushes the resource onto a lock-free
// queue; the owner destroys it on the next [Guard.DestroyResources].
//
// # Out of memory
//
// When a device allocation fails for lack of memory, the allocation wrapper
// calls [Guard.FreeSomeVideoMemory] and retries once if it returns true.
// Eviction drains the release queue first, then evicts previous-frame
// resources oldest first, then current-frame resources. Resources used
// inside a use-context are touched only on explicit desperation and never
// while a use-context is open.
//
// # Contract violations
//
// Double destruction, use-context underflow and similar defects panic when
// built with -tags gpuresdebug. Otherwise they are logged at warn level,
// counted in [Stats] and ignored without corrupting the accounting.
package gpures
