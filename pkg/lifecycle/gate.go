// Package lifecycle is the runtime support library imported by code that
// autoclose generates. It provides the per-level teardown gate and the
// nil-tolerant release helpers generated teardown methods call for members.
package lifecycle

import (
	"sync/atomic"
)

// State is the teardown state of one embedding level.
type State uint32

const (
	// Live means no teardown entry point has won the gate yet.
	Live State = iota
	// Closing means a winner is running the teardown sequence.
	Closing
	// Closed means the winner finished (or panicked out of) the sequence.
	Closed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case Live:
		return "live"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	default:
		return "unknown"
	}
}

// Gate is the exclusivity slot a type reserves for generated teardown.
// Exactly one Enter call ever succeeds. The zero value is a live gate.
//
// The state and the armed flag share one word so that Arm cannot succeed
// after Enter has.
//
// A Gate must not be copied after first use.
type Gate struct {
	word atomic.Uint32
}

const (
	stateMask = 0x3
	armedBit  = 0x4
)

// Enter attempts the Live to Closing transition. It reports whether the
// caller won and must run the teardown sequence. Losers must return
// immediately.
func (g *Gate) Enter() bool {
	for {
		old := g.word.Load()
		if State(old&stateMask) != Live {
			return false
		}
		if g.word.CompareAndSwap(old, old&^stateMask|uint32(Closing)) {
			return true
		}
	}
}

// Settle marks the sequence as finished. Only the winner calls it,
// normally through defer so that a panicking sequence still settles.
func (g *Gate) Settle() {
	for {
		old := g.word.Load()
		if g.word.CompareAndSwap(old, old&^stateMask|uint32(Closed)) {
			return
		}
	}
}

// State returns the current state.
func (g *Gate) State() State {
	return State(g.word.Load() & stateMask)
}

// IsClosed reports whether any entry point has won the gate. It is true
// from the instant Enter succeeds, before the sequence completes.
func (g *Gate) IsClosed() bool {
	return g.State() != Live
}

// Arm records that a finalizer has been registered for the owning value.
// It reports whether the caller should register it: false when the gate
// is already armed or teardown has already started.
func (g *Gate) Arm() bool {
	for {
		old := g.word.Load()
		if State(old&stateMask) != Live || old&armedBit != 0 {
			return false
		}
		if g.word.CompareAndSwap(old, old|armedBit) {
			return true
		}
	}
}

// Disarm clears the armed flag. It reports true for at most one caller,
// which must then clear the registered finalizer.
func (g *Gate) Disarm() bool {
	for {
		old := g.word.Load()
		if old&armedBit == 0 {
			return false
		}
		if g.word.CompareAndSwap(old, old&^armedBit) {
			return true
		}
	}
}

// Armed reports whether a finalizer is currently registered.
func (g *Gate) Armed() bool {
	return g.word.Load()&armedBit != 0
}
