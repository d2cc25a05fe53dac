// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package gpures

// UseToken identifies one level of nested use-context. It is the depth the
// manager reached when the context was entered and must be passed back to
// ExitUseContext in strict stack order.
type UseToken uint32

// enterUseContext opens a nested use-context.
func (m *Manager) enterUseContext() UseToken {
	m.useDepth++
	return UseToken(m.useDepth)
}

// exitUseContext closes the use-context identified by tok. Out-of-order
// exits unwind every context nested inside tok; stale or unknown tokens
// and underflow leave the depth untouched.
func (m *Manager) exitUseContext(tok UseToken) {
	depth := uint32(tok)
	switch {
	case m.useDepth == 0:
		m.violation("ExitUseContext underflow", "token", depth)
	case depth == m.useDepth:
		m.useDepth--
	case depth == 0 || depth > m.useDepth:
		m.violation("ExitUseContext with unknown token", "token", depth, "depth", m.useDepth)
	default:
		m.violation("ExitUseContext out of order", "token", depth, "depth", m.useDepth)
		m.useDepth = depth - 1
	}
}
