// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halres

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpures"
)

// copyBufferAlignment is the size alignment required for copy operations.
const copyBufferAlignment uint64 = 4

// BufferConfig holds configuration for creating a buffer.
type BufferConfig struct {
	// Size is the requested buffer size in bytes. It is rounded up to the
	// copy alignment.
	Size uint64

	// Usage flags. Must not be empty.
	Usage gputypes.BufferUsage

	// Label is an optional debug label.
	Label string

	// Evictable lets the manager destroy the buffer under memory pressure.
	Evictable bool

	// DelayedRelease keeps the buffer alive for one frame after release,
	// for vertex and uniform data the previous frame may still reference.
	DelayedRelease bool
}

// Buffer is a GPU buffer tracked by a gpures manager.
type Buffer struct {
	gpures.Resource

	device hal.Device
	raw    hal.Buffer
	size   uint64
	usage  gputypes.BufferUsage
}

// Raw returns the HAL buffer, or nil once the buffer has been destroyed.
func (b *Buffer) Raw() hal.Buffer { return b.raw }

// Size returns the aligned buffer size in bytes.
func (b *Buffer) Size() uint64 { return b.size }

// Usage returns the buffer usage flags.
func (b *Buffer) Usage() gputypes.BufferUsage { return b.usage }

// DestroyResource frees the HAL buffer. Called by the manager.
func (b *Buffer) DestroyResource() {
	if b.raw == nil {
		return
	}
	b.device.DestroyBuffer(b.raw)
	b.raw = nil
	gpures.Logger().Debug("halres: buffer destroyed", "id", b.ID(), "label", b.Label())
}

// alignedSize rounds size up to the copy alignment.
func alignedSize(size uint64) uint64 {
	return (size + copyBufferAlignment - 1) &^ (copyBufferAlignment - 1)
}

func (cfg BufferConfig) descriptor() *hal.BufferDescriptor {
	return &hal.BufferDescriptor{
		Label: cfg.Label,
		Size:  alignedSize(cfg.Size),
		Usage: cfg.Usage,
	}
}
