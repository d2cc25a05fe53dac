// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpures

import (
	"log/slog"

	"github.com/gogpu/gpucontext"
)

// RegisterOption configures a resource during registration.
//
// Example:
//
//	err := g.Register(&tex.Resource, tex,
//	    gpures.WithSize(tex.SizeBytes()),
//	    gpures.Evictable(),
//	    gpures.WithLabel("glyph-atlas"))
type RegisterOption func(*registerOptions)

// registerOptions holds optional configuration for Register.
type registerOptions struct {
	size      uint64
	evictable bool
	delayed   bool
	label     string
}

// WithSize sets the best-effort size estimate of the allocation in bytes.
func WithSize(bytes uint64) RegisterOption {
	return func(o *registerOptions) {
		o.size = bytes
	}
}

// Evictable opts the resource into automatic eviction under memory pressure.
// Resources are non-evictable by default.
func Evictable() RegisterOption {
	return func(o *registerOptions) {
		o.evictable = true
	}
}

// DelayedRelease marks a resource kind whose physical destruction must wait
// one additional frame after release, because the GPU may still read the
// previous frame's copy.
func DelayedRelease() RegisterOption {
	return func(o *registerOptions) {
		o.delayed = true
	}
}

// WithLabel sets a debug label used in log output.
func WithLabel(label string) RegisterOption {
	return func(o *registerOptions) {
		o.label = label
	}
}

// OwnerOption configures an Owner during creation.
type OwnerOption func(*ownerOptions)

// ownerOptions holds optional configuration for NewOwner.
type ownerOptions struct {
	device gpucontext.Device
	logger *slog.Logger
}

// WithDevice attaches the device the owner renders with. If the device
// has a Poll(wait bool) method, Owner.EndFrame polls it without waiting
// before rotating frames, so completed GPU work is retired before delayed
// releases are reaped.
func WithDevice(d gpucontext.Device) OwnerOption {
	return func(o *ownerOptions) {
		o.device = d
	}
}

// WithLogger sets a logger for this owner and its manager, overriding the
// package logger configured by SetLogger.
func WithLogger(l *slog.Logger) OwnerOption {
	return func(o *ownerOptions) {
		o.logger = l
	}
}
