// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

// Command gpuresdemo drives the gpures manager through a synthetic render
// loop on a noop HAL device and prints memory statistics per frame.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"os"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"github.com/gogpu/wgpu/hal/noop"
	"golang.org/x/sync/errgroup"

	"github.com/gogpu/gpures"
	"github.com/gogpu/gpures/halres"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "gpuresdemo: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		frames   = flag.Int("frames", 10, "number of frames to simulate")
		budgetMB = flag.Int("budget", 64, "video memory budget in MB")
		textures = flag.Int("textures", 48, "size of the texture working set")
		debug    = flag.Bool("debug", false, "enable debug logging")
		seed     = flag.Uint64("seed", 1, "random seed")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	gpures.SetLogger(logger)

	device, cleanup, err := openNoopDevice()
	if err != nil {
		return fmt.Errorf("open device: %w", err)
	}
	defer cleanup()

	//nolint:gosec // G115: budget flag is small and positive
	alloc, err := halres.NewAllocator(device, halres.WithBudget(uint64(*budgetMB)<<20))
	if err != nil {
		return fmt.Errorf("create allocator: %w", err)
	}

	dev := &polledDevice{Device: device}
	owner := gpures.NewOwner(gpures.WithDevice(dev), gpures.WithLogger(logger))
	defer owner.Close()

	sim := &simulation{
		owner: owner,
		alloc: alloc,
		pool:  make([]*halres.Texture, *textures),
		rng:   rand.New(rand.NewPCG(*seed, *seed)),
	}
	for frame := range *frames {
		if err := sim.frame(); err != nil {
			return fmt.Errorf("frame %d: %w", frame, err)
		}
		g := owner.Protect()
		fmt.Println(g.Stats())
		g.Unlock()
	}
	fmt.Printf("allocations skipped for lack of memory: %d\n", sim.skipped)
	fmt.Printf("device polls: %d\n", dev.polls)
	return nil
}

// polledDevice adapts a HAL device to the owner's frame-end poll. The noop
// backend completes work synchronously, so polling only counts calls.
type polledDevice struct {
	hal.Device
	polls int
}

// Poll retires completed GPU work. It never blocks on the noop backend.
func (d *polledDevice) Poll(wait bool) { d.polls++ }

// simulation keeps a working set of cache textures alive across frames,
// recreating whatever the manager evicted.
type simulation struct {
	owner   *gpures.Owner
	alloc   *halres.Allocator
	pool    []*halres.Texture
	rng     *rand.Rand
	skipped int
}

func (s *simulation) frame() error {
	g := s.owner.Protect()

	for i, tex := range s.pool {
		if tex != nil && tex.IsValid() {
			continue
		}
		side := uint32(128 << s.rng.IntN(4))
		t, err := s.alloc.CreateTexture(g, halres.TextureConfig{
			Width:     side,
			Height:    side,
			Format:    gputypes.TextureFormatRGBA8Unorm,
			Label:     fmt.Sprintf("cache-%d", i),
			Evictable: true,
		})
		if err != nil {
			// Out of memory for this frame: draw without it.
			s.pool[i] = nil
			s.skipped++
			continue
		}
		s.pool[i] = t
	}

	err := g.WithUseContext(func() error {
		for _, tex := range s.pool {
			if tex != nil && tex.IsValid() && s.rng.IntN(3) == 0 {
				g.Use(&tex.Resource)
			}
		}
		return nil
	})

	// Drop a few textures from worker goroutines; they land on the
	// deferred-release queue.
	var released []*halres.Texture
	for i, tex := range s.pool {
		if tex != nil && tex.IsValid() && s.rng.IntN(10) == 0 {
			released = append(released, tex)
			s.pool[i] = nil
		}
	}
	g.Unlock()
	if err != nil {
		return err
	}

	var eg errgroup.Group
	for _, tex := range released {
		eg.Go(func() error {
			tex.Release()
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}

	s.owner.EndFrame()
	return nil
}

// openNoopDevice opens the first adapter of the noop HAL backend.
func openNoopDevice() (hal.Device, func(), error) {
	api := noop.API{}
	instance, err := api.CreateInstance(nil)
	if err != nil {
		return nil, nil, fmt.Errorf("create instance: %w", err)
	}
	adapters := instance.EnumerateAdapters(nil)
	if len(adapters) == 0 {
		instance.Destroy()
		return nil, nil, fmt.Errorf("no adapters")
	}
	openDev, err := adapters[0].Adapter.Open(0, gputypes.DefaultLimits())
	if err != nil {
		instance.Destroy()
		return nil, nil, fmt.Errorf("open adapter: %w", err)
	}
	cleanup := func() {
		openDev.Device.Destroy()
		instance.Destroy()
	}
	return openDev.Device, cleanup, nil
}
