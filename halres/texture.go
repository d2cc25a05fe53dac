// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halres

import (
	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpures"
)

// DefaultTextureUsage is the usage for textures created without specific flags.
const DefaultTextureUsage = gputypes.TextureUsageCopySrc | gputypes.TextureUsageCopyDst | gputypes.TextureUsageTextureBinding

// TextureConfig holds configuration for creating a texture.
type TextureConfig struct {
	// Width and Height are the texture size in pixels. Both must be positive.
	Width  uint32
	Height uint32

	// Format is the pixel format. Defaults to RGBA8Unorm.
	Format gputypes.TextureFormat

	// Usage flags. Defaults to DefaultTextureUsage.
	Usage gputypes.TextureUsage

	// MipLevelCount defaults to 1.
	MipLevelCount uint32

	// SampleCount defaults to 1.
	SampleCount uint32

	// Label is an optional debug label.
	Label string

	// Evictable lets the manager destroy the texture under memory pressure.
	// Only use it for textures the caller can recreate (caches, atlases).
	Evictable bool

	// DelayedRelease keeps the texture alive for one frame after release,
	// for render targets the GPU may still be reading.
	DelayedRelease bool
}

// Texture is a GPU texture tracked by a gpures manager.
type Texture struct {
	gpures.Resource

	device hal.Device
	raw    hal.Texture
	width  uint32
	height uint32
	format gputypes.TextureFormat
}

// Raw returns the HAL texture, or nil once the texture has been destroyed.
// Callers must hold the owner's guard and should Use the resource first.
func (t *Texture) Raw() hal.Texture { return t.raw }

// Width returns the texture width in pixels.
func (t *Texture) Width() uint32 { return t.width }

// Height returns the texture height in pixels.
func (t *Texture) Height() uint32 { return t.height }

// Format returns the pixel format.
func (t *Texture) Format() gputypes.TextureFormat { return t.format }

// DestroyResource frees the HAL texture. Called by the manager.
func (t *Texture) DestroyResource() {
	if t.raw == nil {
		return
	}
	t.device.DestroyTexture(t.raw)
	t.raw = nil
	gpures.Logger().Debug("halres: texture destroyed", "id", t.ID(), "label", t.Label())
}

// BytesPerPixel returns the storage size of one texel of format f. Unknown
// formats are assumed to take four bytes.
func BytesPerPixel(f gputypes.TextureFormat) uint64 {
	switch f {
	case gputypes.TextureFormatR8Unorm:
		return 1
	case gputypes.TextureFormatRGBA8Unorm,
		gputypes.TextureFormatBGRA8Unorm,
		gputypes.TextureFormatDepth24PlusStencil8:
		return 4
	default:
		return 4
	}
}

// TextureSize estimates the device memory of a texture: every mip level of
// every sample.
func TextureSize(cfg TextureConfig) uint64 {
	cfg = cfg.withDefaults()
	bpp := BytesPerPixel(cfg.Format)

	var total uint64
	w, h := uint64(cfg.Width), uint64(cfg.Height)
	for range cfg.MipLevelCount {
		total += w * h * bpp
		w = max(w/2, 1)
		h = max(h/2, 1)
	}
	return total * uint64(cfg.SampleCount)
}

func (cfg TextureConfig) withDefaults() TextureConfig {
	if cfg.Format == gputypes.TextureFormatUndefined {
		cfg.Format = gputypes.TextureFormatRGBA8Unorm
	}
	if cfg.Usage == 0 {
		cfg.Usage = DefaultTextureUsage
	}
	if cfg.MipLevelCount == 0 {
		cfg.MipLevelCount = 1
	}
	if cfg.SampleCount == 0 {
		cfg.SampleCount = 1
	}
	return cfg
}

func (cfg TextureConfig) descriptor() *hal.TextureDescriptor {
	return &hal.TextureDescriptor{
		Label: cfg.Label,
		Size: hal.Extent3D{
			Width:              cfg.Width,
			Height:             cfg.Height,
			DepthOrArrayLayers: 1,
		},
		MipLevelCount: cfg.MipLevelCount,
		SampleCount:   cfg.SampleCount,
		Dimension:     gputypes.TextureDimension2D,
		Format:        cfg.Format,
		Usage:         cfg.Usage,
	}
}
