// Package protocol designs the exclusivity protocol of a classified type:
// which entry points exist and the ordered teardown sequence each level
// method runs after winning its gate. The plan is plain data; synth
// renders it mechanically.
package protocol

import (
	"errors"
	"fmt"

	"autoclose/internal/classify"
	"autoclose/internal/decl"
)

// ErrNotEligible is returned by Design for types that receive no unit.
var ErrNotEligible = errors.New("type is not eligible for generated teardown")

// EntryPoint identifies how teardown was triggered.
type EntryPoint uint8

const (
	EntrySync EntryPoint = iota
	EntryAsync
	EntryFinalizer
)

func (e EntryPoint) String() string {
	switch e {
	case EntrySync:
		return "sync"
	case EntryAsync:
		return "async"
	default:
		return "finalizer"
	}
}

// StepKind is one action of a teardown sequence.
type StepKind uint8

const (
	StepUnmanagedHook StepKind = iota
	StepSyncHook
	StepAsyncHook
	StepCloseMember
	StepShutdownMember
	StepCloseBaseLevel
	StepShutdownBaseLevel
	StepCloseBase
	StepShutdownBase
)

func (k StepKind) String() string {
	switch k {
	case StepUnmanagedHook:
		return "unmanaged-hook"
	case StepSyncHook:
		return "sync-hook"
	case StepAsyncHook:
		return "async-hook"
	case StepCloseMember:
		return "close-member"
	case StepShutdownMember:
		return "shutdown-member"
	case StepCloseBaseLevel:
		return "close-base-level"
	case StepShutdownBaseLevel:
		return "shutdown-base-level"
	case StepCloseBase:
		return "close-base"
	default:
		return "shutdown-base"
	}
}

// phase orders step kinds inside a sequence.
func (k StepKind) phase() int {
	switch k {
	case StepUnmanagedHook:
		return 0
	case StepSyncHook, StepAsyncHook:
		return 1
	case StepCloseMember, StepShutdownMember:
		return 2
	default:
		return 3
	}
}

// When restricts a closeLevel step to one value of the finalizing flag.
type When uint8

const (
	Always When = iota
	// Managed steps run only when not finalizing.
	Managed
	// Finalizing steps run only from the finalizer.
	Finalizing
)

// Step is one action of a level method.
type Step struct {
	Kind StepKind
	// Target is the hook method or the member or base field.
	Target string
	When   When
	// ReturnsError is set for hooks whose result is accumulated.
	ReturnsError bool
	// Address releases &t.Target instead of t.Target.
	Address bool
	// Background passes context.Background() instead of the caller's ctx.
	Background bool
	// Arg is the literal finalizing argument for closeLevel delegation;
	// empty passes the current finalizing flag through.
	Arg string
	// NilGuard skips the step while the target field is nil.
	NilGuard bool
}

// Sequence is the ordered body of one level method.
type Sequence struct {
	Entry EntryPoint
	Steps []Step
}

// Plan is the complete protocol of one type.
type Plan struct {
	Type       string
	Package    string
	TypeParams []decl.TypeParam
	TypeArgs   string
	Receiver   string
	GateField  string

	// CloseLevel serves the sync entry point and the finalizer.
	CloseLevel *Sequence
	// ShutdownLevel serves the async entry point.
	ShutdownLevel *Sequence

	Close     bool
	Shutdown  bool
	Finalizer bool
}

// Steps returns every step of both level methods.
func (p Plan) Steps() []Step {
	var out []Step
	if p.CloseLevel != nil {
		out = append(out, p.CloseLevel.Steps...)
	}
	if p.ShutdownLevel != nil {
		out = append(out, p.ShutdownLevel.Steps...)
	}
	return out
}

// Check verifies the sequencing invariants: the unmanaged hook first, then
// the managed hook, then members, then the base level, and public entry
// points backed by their level methods.
func (p Plan) Check() error {
	if !p.Close && !p.Shutdown {
		return fmt.Errorf("%s: plan exposes neither entry point", p.Type)
	}
	if p.Close && p.CloseLevel == nil {
		return fmt.Errorf("%s: Close without closeLevel", p.Type)
	}
	if p.Shutdown && p.ShutdownLevel == nil {
		return fmt.Errorf("%s: Shutdown without shutdownLevel", p.Type)
	}
	if p.Finalizer && p.CloseLevel == nil {
		return fmt.Errorf("%s: finalizer without closeLevel", p.Type)
	}
	for _, seq := range []*Sequence{p.CloseLevel, p.ShutdownLevel} {
		if seq == nil {
			continue
		}
		last := -1
		for i, s := range seq.Steps {
			ph := s.Kind.phase()
			if ph < last {
				return fmt.Errorf("%s: %s step %d (%s) is out of order", p.Type, seq.Entry, i, s.Kind)
			}
			last = ph
			if s.Kind == StepUnmanagedHook && s.When != Always {
				return fmt.Errorf("%s: unmanaged hook must run on every path", p.Type)
			}
		}
	}
	return nil
}

// Design builds the protocol of an eligible classified type.
func Design(t classify.TypeEntry) (Plan, error) {
	if !t.Eligible() {
		return Plan{}, fmt.Errorf("%s: %w", t.Name, ErrNotEligible)
	}
	plan := Plan{
		Type:       t.Name,
		Package:    t.Package,
		TypeParams: append([]decl.TypeParam(nil), t.TypeParams...),
		TypeArgs:   t.TypeArgs(),
		Receiver:   t.Receiver(),
		GateField:  t.GateField,
		Close:      t.Capability.Sync(),
		Shutdown:   t.Capability.Async(),
		Finalizer:  t.FinalizerChain,
	}
	if t.HasCloseLevel() {
		plan.CloseLevel = closeLevel(t)
	}
	if t.HasShutdownLevel() {
		plan.ShutdownLevel = shutdownLevel(t)
	}
	if err := plan.Check(); err != nil {
		return Plan{}, err
	}
	return plan, nil
}

func closeLevel(t classify.TypeEntry) *Sequence {
	var steps []Step
	if h, ok := t.UnmanagedHook(); ok {
		steps = append(steps, Step{Kind: StepUnmanagedHook, Target: h.Name, When: Always})
	}
	if h, ok := t.SyncHook(); ok {
		steps = append(steps, Step{Kind: StepSyncHook, Target: h.Name, When: Managed, ReturnsError: h.ReturnsError()})
	}
	for _, m := range t.Enabled() {
		switch m.Surface {
		case classify.SurfaceAsync:
			steps = append(steps, Step{Kind: StepShutdownMember, Target: m.Name, When: Managed, Address: m.Address, Background: true})
		default:
			steps = append(steps, Step{Kind: StepCloseMember, Target: m.Name, When: Managed, Address: m.Address})
		}
	}
	if b := t.Base; b != nil {
		switch {
		case b.InBatch && b.Capability.Sync():
			steps = append(steps, Step{Kind: StepCloseBaseLevel, Target: b.Field, When: Always, NilGuard: b.Pointer})
		case b.InBatch:
			if b.HasCloseLevel {
				steps = append(steps, Step{Kind: StepCloseBaseLevel, Target: b.Field, When: Finalizing, Arg: "true", NilGuard: b.Pointer})
			}
			steps = append(steps, Step{Kind: StepShutdownBaseLevel, Target: b.Field, When: Managed, Background: true, NilGuard: b.Pointer})
		case b.Capability.Sync():
			steps = append(steps, Step{Kind: StepCloseBase, Target: b.Field, When: Managed, Address: b.Address})
		case b.Capability.Async():
			steps = append(steps, Step{Kind: StepShutdownBase, Target: b.Field, When: Managed, Address: b.Address, Background: true})
		}
	}

	// Without a public Close the level only ever runs from the finalizer.
	if !t.Capability.Sync() {
		kept := steps[:0]
		for _, s := range steps {
			if s.When != Managed {
				s.When = Always
				kept = append(kept, s)
			}
		}
		steps = kept
	}
	return &Sequence{Entry: EntrySync, Steps: steps}
}

func shutdownLevel(t classify.TypeEntry) *Sequence {
	var steps []Step
	if h, ok := t.UnmanagedHook(); ok {
		steps = append(steps, Step{Kind: StepUnmanagedHook, Target: h.Name})
	}
	if h, ok := t.AsyncHook(); ok {
		steps = append(steps, Step{Kind: StepAsyncHook, Target: h.Name, ReturnsError: true})
	} else if h, ok := t.SyncHook(); ok {
		steps = append(steps, Step{Kind: StepSyncHook, Target: h.Name, ReturnsError: h.ReturnsError()})
	}
	for _, m := range t.Enabled() {
		switch m.Surface {
		case classify.SurfaceSync:
			steps = append(steps, Step{Kind: StepCloseMember, Target: m.Name, Address: m.Address})
		default:
			steps = append(steps, Step{Kind: StepShutdownMember, Target: m.Name, Address: m.Address})
		}
	}
	if b := t.Base; b != nil {
		switch {
		case b.InBatch && b.HasShutdownLevel:
			steps = append(steps, Step{Kind: StepShutdownBaseLevel, Target: b.Field, NilGuard: b.Pointer})
		case b.InBatch:
			steps = append(steps, Step{Kind: StepCloseBaseLevel, Target: b.Field, Arg: "false", NilGuard: b.Pointer})
		case b.Capability.Async():
			steps = append(steps, Step{Kind: StepShutdownBase, Target: b.Field, Address: b.Address})
		case b.Capability.Sync():
			steps = append(steps, Step{Kind: StepCloseBase, Target: b.Field, Address: b.Address})
		}
	}
	return &Sequence{Entry: EntryAsync, Steps: steps}
}
