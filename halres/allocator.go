// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package halres

import (
	"errors"
	"fmt"

	"github.com/gogpu/wgpu/hal"

	"github.com/gogpu/gpures"
)

// Allocator errors.
var (
	// ErrNilDevice is returned when creating an allocator without a device.
	ErrNilDevice = errors.New("halres: device is nil")

	// ErrInvalidDimensions is returned for textures with a zero dimension.
	ErrInvalidDimensions = errors.New("halres: invalid texture dimensions")

	// ErrInvalidBufferSize is returned for zero-sized buffers.
	ErrInvalidBufferSize = errors.New("halres: invalid buffer size")

	// ErrEmptyUsage is returned for buffers without usage flags.
	ErrEmptyUsage = errors.New("halres: buffer usage is empty")
)

// Classifier maps a creation error to a failure code. Out-of-memory codes
// make the allocator try eviction before failing.
type Classifier func(error) gpures.FailureCode

// DefaultClassifier recognizes gpures.ErrOutOfVideoMemory anywhere in the
// error chain and reports every other error as FailureOther.
func DefaultClassifier(err error) gpures.FailureCode {
	switch {
	case err == nil:
		return gpures.FailureNone
	case errors.Is(err, gpures.ErrOutOfVideoMemory):
		return gpures.FailureOutOfVideoMemory
	default:
		return gpures.FailureOther
	}
}

// AllocatorOption configures an Allocator.
type AllocatorOption func(*Allocator)

// WithBudget caps the bytes the manager may have in use. A creation that
// would exceed it fails as out of video memory before reaching the device,
// which lets the eviction policy run against a synthetic budget. Zero
// means no cap.
func WithBudget(bytes uint64) AllocatorOption {
	return func(a *Allocator) {
		a.budget = bytes
	}
}

// WithClassifier replaces DefaultClassifier, for devices that report memory
// exhaustion with their own errors.
func WithClassifier(c Classifier) AllocatorOption {
	return func(a *Allocator) {
		if c != nil {
			a.classify = c
		}
	}
}

// WithDesperation allows eviction of resources used inside an already
// closed use-context of the current frame.
func WithDesperation(desperate bool) AllocatorOption {
	return func(a *Allocator) {
		a.desperate = desperate
	}
}

// Allocator creates textures and buffers on a HAL device and registers them
// with the resource manager. Every method requires the owner's guard.
type Allocator struct {
	device    hal.Device
	budget    uint64
	classify  Classifier
	desperate bool
	retries   uint64
}

// NewAllocator creates an allocator for device.
func NewAllocator(device hal.Device, opts ...AllocatorOption) (*Allocator, error) {
	if device == nil {
		return nil, ErrNilDevice
	}
	a := &Allocator{
		device:   device,
		classify: DefaultClassifier,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a, nil
}

// Retries returns how many allocations succeeded only after eviction.
func (a *Allocator) Retries() uint64 { return a.retries }

// CreateTexture creates and registers a texture.
func (a *Allocator) CreateTexture(g *gpures.Guard, cfg TextureConfig) (*Texture, error) {
	if cfg.Width == 0 || cfg.Height == 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidDimensions, cfg.Width, cfg.Height)
	}
	cfg = cfg.withDefaults()
	size := TextureSize(cfg)

	var raw hal.Texture
	err := a.allocate(g, size, func() error {
		var err error
		raw, err = a.device.CreateTexture(cfg.descriptor())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create texture %q: %w", cfg.Label, err)
	}

	t := &Texture{
		device: a.device,
		raw:    raw,
		width:  cfg.Width,
		height: cfg.Height,
		format: cfg.Format,
	}
	if err := g.Register(&t.Resource, t, registerOptions(cfg.Label, size, cfg.Evictable, cfg.DelayedRelease)...); err != nil {
		a.device.DestroyTexture(raw)
		return nil, fmt.Errorf("register texture %q: %w", cfg.Label, err)
	}
	return t, nil
}

// CreateBuffer creates and registers a buffer.
func (a *Allocator) CreateBuffer(g *gpures.Guard, cfg BufferConfig) (*Buffer, error) {
	if cfg.Size == 0 {
		return nil, ErrInvalidBufferSize
	}
	if cfg.Usage == 0 {
		return nil, ErrEmptyUsage
	}
	desc := cfg.descriptor()

	var raw hal.Buffer
	err := a.allocate(g, desc.Size, func() error {
		var err error
		raw, err = a.device.CreateBuffer(desc)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("create buffer %q: %w", cfg.Label, err)
	}

	b := &Buffer{
		device: a.device,
		raw:    raw,
		size:   desc.Size,
		usage:  cfg.Usage,
	}
	if err := g.Register(&b.Resource, b, registerOptions(cfg.Label, desc.Size, cfg.Evictable, cfg.DelayedRelease)...); err != nil {
		a.device.DestroyBuffer(raw)
		return nil, fmt.Errorf("register buffer %q: %w", cfg.Label, err)
	}
	return b, nil
}

// allocate runs create, and on a recoverable failure frees video memory and
// retries exactly once.
func (a *Allocator) allocate(g *gpures.Guard, size uint64, create func() error) error {
	err := a.try(g, size, create)
	if err == nil {
		return nil
	}

	code := a.classify(err)
	if !code.Recoverable() {
		return err
	}
	req := gpures.EvictionRequest{Failure: code, Bytes: size, Desperate: a.desperate}
	if !g.FreeSomeVideoMemory(req) {
		return err
	}

	if err := a.try(g, size, create); err != nil {
		return err
	}
	a.retries++
	gpures.Logger().Debug("halres: allocation succeeded after eviction", "size", size)
	return nil
}

// try enforces the budget and calls create.
func (a *Allocator) try(g *gpures.Guard, size uint64, create func() error) error {
	if a.budget > 0 {
		if inUse := g.Manager().BytesInUse(); inUse+size > a.budget {
			return fmt.Errorf("%w: need %d bytes, %d of %d in use",
				gpures.ErrOutOfVideoMemory, size, inUse, a.budget)
		}
	}
	return create()
}

func registerOptions(label string, size uint64, evictable, delayed bool) []gpures.RegisterOption {
	opts := []gpures.RegisterOption{gpures.WithSize(size), gpures.WithLabel(label)}
	if evictable {
		opts = append(opts, gpures.Evictable())
	}
	if delayed {
		opts = append(opts, gpures.DelayedRelease())
	}
	return opts
}
