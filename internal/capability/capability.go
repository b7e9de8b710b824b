// Package capability defines release capabilities, disposal modes and the
// two release contracts autoclose generates teardown for.
package capability

import (
	"fmt"

	"autoclose/internal/decl"
)

// Capability is the set of release protocols a type supports.
type Capability uint8

const (
	None Capability = iota
	SyncOnly
	AsyncOnly
	Both
)

// Of builds a capability from the two protocol bits.
func Of(sync, async bool) Capability {
	switch {
	case sync && async:
		return Both
	case sync:
		return SyncOnly
	case async:
		return AsyncOnly
	default:
		return None
	}
}

// Sync reports whether the sync protocol is supported.
func (c Capability) Sync() bool { return c == SyncOnly || c == Both }

// Async reports whether the async protocol is supported.
func (c Capability) Async() bool { return c == AsyncOnly || c == Both }

func (c Capability) String() string {
	switch c {
	case None:
		return "none"
	case SyncOnly:
		return "sync"
	case AsyncOnly:
		return "async"
	case Both:
		return "both"
	default:
		return fmt.Sprintf("Capability(%d)", uint8(c))
	}
}

// Mode decides how members without flags are treated.
type Mode uint8

const (
	// Implicit enables every eligible member unless it is excluded.
	Implicit Mode = iota
	// Explicit requires every eligible member to be included or excluded.
	Explicit
)

// ParseMode maps a descriptor mode name. The empty name is Implicit.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", decl.ModeImplicit:
		return Implicit, nil
	case decl.ModeExplicit:
		return Explicit, nil
	default:
		return Implicit, fmt.Errorf("unknown disposal mode %q", s)
	}
}

func (m Mode) String() string {
	if m == Explicit {
		return decl.ModeExplicit
	}
	return decl.ModeImplicit
}

// Contract is a release protocol's method contract.
type Contract struct {
	Method    string
	Signature string
}

var (
	// SyncContract is the io.Closer contract.
	SyncContract = Contract{Method: "Close", Signature: "func() error"}
	// AsyncContract is the lifecycle.Shutdowner contract.
	AsyncContract = Contract{Method: "Shutdown", Signature: "func(context.Context) error"}
)

// SatisfiedBy reports whether m carries the contract's name and signature.
func (c Contract) SatisfiedBy(m decl.Method) bool {
	return !m.Func && len(m.TypeParams) == 0 && m.Name == c.Method && m.Signature() == c.Signature
}
