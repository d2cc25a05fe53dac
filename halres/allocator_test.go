// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halres

import (
	"errors"
	"fmt"
	"testing"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"

	"github.com/gogpu/gpures"
)

// createNoopDevice creates a noop device for testing.
// Returns the device and a cleanup function.
func createNoopDevice(t *testing.T) (hal.Device, func()) {
	t.Helper()
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		t.Fatalf("CreateInstance failed: %v", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		t.Fatalf("Open failed: %v", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, cleanup
}

// countingDevice wraps a HAL device, counts creations and destructions and
// can fail the next creations with an out-of-memory error.
type countingDevice struct {
	hal.Device

	failNext          int
	failErr           error
	createdTextures   int
	destroyedTextures int
	createdBuffers    int
	destroyedBuffers  int
}

func (d *countingDevice) fail() error {
	if d.failNext == 0 {
		return nil
	}
	d.failNext--
	if d.failErr != nil {
		return d.failErr
	}
	return fmt.Errorf("device: %w", gpures.ErrOutOfVideoMemory)
}

func (d *countingDevice) CreateTexture(desc *hal.TextureDescriptor) (hal.Texture, error) {
	if err := d.fail(); err != nil {
		return nil, err
	}
	d.createdTextures++
	return d.Device.CreateTexture(desc)
}

func (d *countingDevice) DestroyTexture(t hal.Texture) {
	d.destroyedTextures++
	d.Device.DestroyTexture(t)
}

func (d *countingDevice) CreateBuffer(desc *hal.BufferDescriptor) (hal.Buffer, error) {
	if err := d.fail(); err != nil {
		return nil, err
	}
	d.createdBuffers++
	return d.Device.CreateBuffer(desc)
}

func (d *countingDevice) DestroyBuffer(b hal.Buffer) {
	d.destroyedBuffers++
	d.Device.DestroyBuffer(b)
}

func newTestAllocator(t *testing.T, opts ...AllocatorOption) (*countingDevice, *Allocator, *gpures.Guard) {
	t.Helper()
	device, cleanup := createNoopDevice(t)
	dev := &countingDevice{Device: device}

	alloc, err := NewAllocator(dev, opts...)
	if err != nil {
		cleanup()
		t.Fatalf("NewAllocator() error = %v", err)
	}

	owner := gpures.NewOwner()
	g := owner.Protect()
	t.Cleanup(func() {
		g.DestroyAllResources()
		g.Unlock()
		cleanup()
	})
	return dev, alloc, g
}

func TestNewAllocatorNilDevice(t *testing.T) {
	if _, err := NewAllocator(nil); !errors.Is(err, ErrNilDevice) {
		t.Errorf("NewAllocator(nil) error = %v, want ErrNilDevice", err)
	}
}

func TestCreateTexture(t *testing.T) {
	dev, alloc, g := newTestAllocator(t)

	tex, err := alloc.CreateTexture(g, TextureConfig{
		Width:     64,
		Height:    32,
		Label:     "atlas",
		Evictable: true,
	})
	if err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}

	if tex.Raw() == nil {
		t.Error("Raw() = nil after creation")
	}
	if tex.Width() != 64 || tex.Height() != 32 {
		t.Errorf("size = %dx%d, want 64x32", tex.Width(), tex.Height())
	}
	if tex.Format() != gputypes.TextureFormatRGBA8Unorm {
		t.Errorf("Format() = %v, want RGBA8Unorm", tex.Format())
	}
	if got := tex.SizeEstimate(); got != 64*32*4 {
		t.Errorf("SizeEstimate() = %d, want %d", got, 64*32*4)
	}
	if got := tex.Tier(); got != gpures.TierCurrentFrame {
		t.Errorf("Tier() = %v, want %v", got, gpures.TierCurrentFrame)
	}
	if got := g.Manager().BytesInUse(); got != 64*32*4 {
		t.Errorf("BytesInUse() = %d, want %d", got, 64*32*4)
	}

	if !g.DestroyAndRelease(&tex.Resource) {
		t.Fatal("DestroyAndRelease() = false")
	}
	if tex.Raw() != nil {
		t.Error("Raw() should be nil after destruction")
	}
	if dev.destroyedTextures != 1 {
		t.Errorf("device destroyed %d textures, want 1", dev.destroyedTextures)
	}
}

func TestCreateTextureInvalid(t *testing.T) {
	_, alloc, g := newTestAllocator(t)

	for _, cfg := range []TextureConfig{
		{Width: 0, Height: 10},
		{Width: 10, Height: 0},
	} {
		if _, err := alloc.CreateTexture(g, cfg); !errors.Is(err, ErrInvalidDimensions) {
			t.Errorf("CreateTexture(%dx%d) error = %v, want ErrInvalidDimensions", cfg.Width, cfg.Height, err)
		}
	}
}

func TestCreateBuffer(t *testing.T) {
	dev, alloc, g := newTestAllocator(t)

	buf, err := alloc.CreateBuffer(g, BufferConfig{
		Size:           10,
		Usage:          gputypes.BufferUsageVertex | gputypes.BufferUsageCopyDst,
		Label:          "vertices",
		DelayedRelease: true,
	})
	if err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	if got := buf.Size(); got != 12 {
		t.Errorf("Size() = %d, want 12 (aligned)", got)
	}
	if got := buf.SizeEstimate(); got != 12 {
		t.Errorf("SizeEstimate() = %d, want 12", got)
	}
	if !buf.DelayedReleaseRequired() {
		t.Error("DelayedReleaseRequired() = false")
	}

	// Released from another goroutine's point of view: queued, then parked.
	buf.Release()
	g.DestroyResources(gpures.WithDelay)
	if dev.destroyedBuffers != 0 {
		t.Fatal("buffer destroyed in the frame it was released")
	}
	g.EndFrame()
	g.DestroyResources(gpures.WithDelay)
	if dev.destroyedBuffers != 1 {
		t.Errorf("device destroyed %d buffers, want 1", dev.destroyedBuffers)
	}
}

func TestCreateBufferInvalid(t *testing.T) {
	_, alloc, g := newTestAllocator(t)

	tests := []struct {
		name string
		cfg  BufferConfig
		want error
	}{
		{"zero size", BufferConfig{Usage: gputypes.BufferUsageUniform}, ErrInvalidBufferSize},
		{"empty usage", BufferConfig{Size: 16}, ErrEmptyUsage},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := alloc.CreateBuffer(g, tt.cfg); !errors.Is(err, tt.want) {
				t.Errorf("CreateBuffer() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestAllocatorRetriesAfterEviction(t *testing.T) {
	dev, alloc, g := newTestAllocator(t)

	old, err := alloc.CreateTexture(g, TextureConfig{Width: 16, Height: 16, Label: "old", Evictable: true})
	if err != nil {
		t.Fatalf("CreateTexture(old) error = %v", err)
	}
	g.EndFrame()

	dev.failNext = 1
	tex, err := alloc.CreateTexture(g, TextureConfig{Width: 16, Height: 16, Label: "new"})
	if err != nil {
		t.Fatalf("CreateTexture(new) error = %v", err)
	}
	if old.IsValid() {
		t.Error("old texture should have been evicted")
	}
	if !tex.IsValid() {
		t.Error("new texture should be valid")
	}
	if alloc.Retries() != 1 {
		t.Errorf("Retries() = %d, want 1", alloc.Retries())
	}
}

func TestAllocatorFailsWhenNothingEvictable(t *testing.T) {
	dev, alloc, g := newTestAllocator(t)

	if _, err := alloc.CreateTexture(g, TextureConfig{Width: 16, Height: 16, Label: "pinned"}); err != nil {
		t.Fatalf("CreateTexture(pinned) error = %v", err)
	}

	dev.failNext = 2
	_, err := alloc.CreateTexture(g, TextureConfig{Width: 16, Height: 16})
	if !errors.Is(err, gpures.ErrOutOfVideoMemory) {
		t.Errorf("CreateTexture() error = %v, want ErrOutOfVideoMemory", err)
	}
	if dev.failNext != 1 {
		t.Errorf("device tried %d times, want exactly one attempt without eviction", 2-dev.failNext)
	}
}

func TestAllocatorRetriesOnlyOnce(t *testing.T) {
	dev, alloc, g := newTestAllocator(t)

	if _, err := alloc.CreateBuffer(g, BufferConfig{Size: 64, Usage: gputypes.BufferUsageUniform, Evictable: true}); err != nil {
		t.Fatalf("CreateBuffer() error = %v", err)
	}
	g.EndFrame()

	dev.failNext = 5
	_, err := alloc.CreateBuffer(g, BufferConfig{Size: 64, Usage: gputypes.BufferUsageUniform})
	if !errors.Is(err, gpures.ErrOutOfVideoMemory) {
		t.Errorf("CreateBuffer() error = %v, want ErrOutOfVideoMemory", err)
	}
	if dev.failNext != 3 {
		t.Errorf("device tried %d times, want 2", 5-dev.failNext)
	}
}

func TestAllocatorIgnoresUnrecoverableErrors(t *testing.T) {
	errLost := errors.New("device lost")
	dev, alloc, g := newTestAllocator(t)

	victim, err := alloc.CreateTexture(g, TextureConfig{Width: 8, Height: 8, Evictable: true})
	if err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}
	g.EndFrame()

	dev.failNext = 1
	dev.failErr = errLost
	if _, err := alloc.CreateTexture(g, TextureConfig{Width: 8, Height: 8}); !errors.Is(err, errLost) {
		t.Errorf("CreateTexture() error = %v, want %v", err, errLost)
	}
	if !victim.IsValid() {
		t.Error("resource evicted for an unrecoverable failure")
	}
}

func TestAllocatorCustomClassifier(t *testing.T) {
	errDeviceOOM := errors.New("vk: out of device memory")
	classify := func(err error) gpures.FailureCode {
		if errors.Is(err, errDeviceOOM) {
			return gpures.FailureOutOfVideoMemory
		}
		return DefaultClassifier(err)
	}
	dev, alloc, g := newTestAllocator(t, WithClassifier(classify))

	if _, err := alloc.CreateTexture(g, TextureConfig{Width: 8, Height: 8, Evictable: true}); err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}
	g.EndFrame()

	dev.failNext = 1
	dev.failErr = errDeviceOOM
	if _, err := alloc.CreateTexture(g, TextureConfig{Width: 8, Height: 8}); err != nil {
		t.Errorf("CreateTexture() error = %v, want success after eviction", err)
	}
}

func TestAllocatorBudget(t *testing.T) {
	const texSize = 32 * 32 * 4
	_, alloc, g := newTestAllocator(t, WithBudget(2*texSize))

	var textures []*Texture
	for i := range 2 {
		tex, err := alloc.CreateTexture(g, TextureConfig{Width: 32, Height: 32, Label: fmt.Sprint(i), Evictable: true})
		if err != nil {
			t.Fatalf("CreateTexture(%d) error = %v", i, err)
		}
		textures = append(textures, tex)
	}
	g.EndFrame()
	g.Use(&textures[1].Resource)

	third, err := alloc.CreateTexture(g, TextureConfig{Width: 32, Height: 32, Label: "third"})
	if err != nil {
		t.Fatalf("CreateTexture(third) error = %v", err)
	}
	if textures[0].IsValid() {
		t.Error("least recently used texture should be evicted")
	}
	if !textures[1].IsValid() || !third.IsValid() {
		t.Error("recently used and new textures should be valid")
	}
	if got := g.Manager().BytesInUse(); got > 2*texSize {
		t.Errorf("BytesInUse() = %d exceeds budget %d", got, 2*texSize)
	}
}

func TestAllocatorDesperation(t *testing.T) {
	const texSize = 16 * 16 * 4
	_, alloc, g := newTestAllocator(t, WithBudget(texSize), WithDesperation(true))

	tex, err := alloc.CreateTexture(g, TextureConfig{Width: 16, Height: 16, Evictable: true})
	if err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}

	// Open context: the in-use texture must survive even when desperate.
	tok := g.EnterUseContext()
	g.Use(&tex.Resource)
	if _, err := alloc.CreateTexture(g, TextureConfig{Width: 16, Height: 16}); !errors.Is(err, gpures.ErrOutOfVideoMemory) {
		t.Errorf("CreateTexture() inside context error = %v, want ErrOutOfVideoMemory", err)
	}
	g.ExitUseContext(tok)
	if !tex.IsValid() {
		t.Fatal("texture evicted inside an open use-context")
	}

	// Context closed: desperation may take it.
	if _, err := alloc.CreateTexture(g, TextureConfig{Width: 16, Height: 16}); err != nil {
		t.Errorf("CreateTexture() after context error = %v", err)
	}
	if tex.IsValid() {
		t.Error("in-use texture should be evicted once contexts are closed")
	}
}

func TestTextureSize(t *testing.T) {
	tests := []struct {
		name string
		cfg  TextureConfig
		want uint64
	}{
		{"rgba8", TextureConfig{Width: 10, Height: 10}, 400},
		{"r8", TextureConfig{Width: 10, Height: 10, Format: gputypes.TextureFormatR8Unorm}, 100},
		{"msaa x4", TextureConfig{Width: 10, Height: 10, SampleCount: 4}, 1600},
		{"mips", TextureConfig{Width: 4, Height: 4, MipLevelCount: 3}, (16 + 4 + 1) * 4},
		{"mips clamp", TextureConfig{Width: 4, Height: 1, MipLevelCount: 3, Format: gputypes.TextureFormatR8Unorm}, 4 + 2 + 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := TextureSize(tt.cfg); got != tt.want {
				t.Errorf("TextureSize() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestDefaultClassifier(t *testing.T) {
	tests := []struct {
		err  error
		want gpures.FailureCode
	}{
		{nil, gpures.FailureNone},
		{gpures.ErrOutOfVideoMemory, gpures.FailureOutOfVideoMemory},
		{fmt.Errorf("wrapped: %w", gpures.ErrOutOfVideoMemory), gpures.FailureOutOfVideoMemory},
		{errors.New("other"), gpures.FailureOther},
	}
	for _, tt := range tests {
		if got := DefaultClassifier(tt.err); got != tt.want {
			t.Errorf("DefaultClassifier(%v) = %v, want %v", tt.err, got, tt.want)
		}
	}
}
