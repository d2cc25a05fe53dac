// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpures

import (
	"errors"
	"testing"
)

func TestUseContextNesting(t *testing.T) {
	_, g := newTestGuard(t)

	outer := g.EnterUseContext()
	inner := g.EnterUseContext()
	if outer != 1 || inner != 2 {
		t.Fatalf("tokens = %d, %d, want 1, 2", outer, inner)
	}
	if got := g.UseContextDepth(); got != 2 {
		t.Errorf("UseContextDepth() = %d, want 2", got)
	}

	g.ExitUseContext(inner)
	g.ExitUseContext(outer)
	if got := g.UseContextDepth(); got != 0 {
		t.Errorf("UseContextDepth() = %d, want 0", got)
	}
	if got := g.Manager().Violations(); got != 0 {
		t.Errorf("Violations() = %d, want 0", got)
	}
}

func TestUseContextViolations(t *testing.T) {
	if debugChecks {
		t.Skip("contract violations panic in debug builds")
	}

	tests := []struct {
		name      string
		enter     int
		exit      UseToken
		wantDepth uint32
	}{
		{"underflow", 0, 1, 0},
		{"out of order unwinds", 3, 2, 1},
		{"unknown token", 2, 5, 2},
		{"zero token", 1, 0, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, g := newTestGuard(t)
			for range tt.enter {
				g.EnterUseContext()
			}

			g.ExitUseContext(tt.exit)

			if got := g.UseContextDepth(); got != tt.wantDepth {
				t.Errorf("UseContextDepth() = %d, want %d", got, tt.wantDepth)
			}
			if got := g.Manager().Violations(); got != 1 {
				t.Errorf("Violations() = %d, want 1", got)
			}
		})
	}
}

func TestWithUseContextExitsOnError(t *testing.T) {
	_, g := newTestGuard(t)

	errDraw := errors.New("draw failed")
	err := g.WithUseContext(func() error {
		if got := g.UseContextDepth(); got != 1 {
			t.Errorf("UseContextDepth() inside = %d, want 1", got)
		}
		return errDraw
	})
	if !errors.Is(err, errDraw) {
		t.Errorf("WithUseContext() error = %v, want %v", err, errDraw)
	}
	if got := g.UseContextDepth(); got != 0 {
		t.Errorf("UseContextDepth() after error = %d, want 0", got)
	}
}

func TestWithUseContextExitsOnPanic(t *testing.T) {
	_, g := newTestGuard(t)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_ = g.WithUseContext(func() error {
			panic("boom")
		})
	}()

	if got := g.UseContextDepth(); got != 0 {
		t.Errorf("UseContextDepth() after panic = %d, want 0", got)
	}
}

func TestNestedUseContextProtectsOuterResources(t *testing.T) {
	_, g := newTestGuard(t)

	outerRes := mustRegister(t, g, "outer", 100, Evictable())
	innerRes := mustRegister(t, g, "inner", 100, Evictable())

	err := g.WithUseContext(func() error {
		g.Use(&outerRes.Resource)
		return g.WithUseContext(func() error {
			g.Use(&innerRes.Resource)
			req := oom(200)
			req.Desperate = true
			if g.FreeSomeVideoMemory(req) {
				t.Error("FreeSomeVideoMemory() = true inside nested use-contexts")
			}
			return nil
		})
	})
	if err != nil {
		t.Fatalf("WithUseContext() error = %v", err)
	}
	if !outerRes.IsValid() || !innerRes.IsValid() {
		t.Error("resources evicted while referenced by open use-contexts")
	}
}
