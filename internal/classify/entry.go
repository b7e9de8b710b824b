// Package classify turns descriptor declarations into classified type and
// member entries: the capability of every member, whether it takes part in
// generated teardown, and which release surface teardown calls.
package classify

import (
	"fmt"
	"strings"

	"autoclose/internal/capability"
	"autoclose/internal/decl"
)

// Surface is the release surface generated teardown invokes for a member.
type Surface uint8

const (
	// SurfaceNone means the member cannot be released by its owner.
	SurfaceNone Surface = iota
	// SurfaceSync always calls Close.
	SurfaceSync
	// SurfaceAsync always calls Shutdown.
	SurfaceAsync
	// SurfacePreferCaller calls the surface matching the entry point.
	SurfacePreferCaller
)

func (s Surface) String() string {
	switch s {
	case SurfaceSync:
		return "sync"
	case SurfaceAsync:
		return "async"
	case SurfacePreferCaller:
		return "prefer-caller"
	default:
		return "none"
	}
}

// SurfaceFor assigns the release surface of a member with capability m
// owned by a type with capability owner.
func SurfaceFor(owner, m capability.Capability) Surface {
	switch {
	case m == capability.None:
		return SurfaceNone
	case owner == capability.SyncOnly:
		if m.Sync() {
			return SurfaceSync
		}
		return SurfaceNone
	case owner.Async():
		switch m {
		case capability.Both:
			return SurfacePreferCaller
		case capability.SyncOnly:
			return SurfaceSync
		default:
			return SurfaceAsync
		}
	default:
		return SurfaceNone
	}
}

// MemberEntry is a classified field.
type MemberEntry struct {
	Name       string
	Owner      string
	Type       string
	Capability capability.Capability
	Include    bool
	Exclude    bool
	Static     bool
	// Address is set when the release surface is declared on *T of a
	// value field, so teardown must take the field's address.
	Address      bool
	Dependencies []string
	// DependencyOf names the member whose include flag lists this one.
	DependencyOf string
	Position     decl.Position

	Enabled bool
	Surface Surface
}

// Releasable reports whether generated teardown releases the member.
func (m MemberEntry) Releasable() bool {
	return m.Enabled && m.Surface != SurfaceNone
}

// Hook is a method marked as a teardown hook.
type Hook struct {
	Kind     string
	Name     string
	Params   []string
	Results  []string
	Func     bool
	Generic  bool
	Position decl.Position
}

// ReturnsError reports whether the hook's result must be accumulated.
func (h Hook) ReturnsError() bool {
	return len(h.Results) == 1 && h.Results[0] == "error"
}

// Signature renders the hook as a Go function type.
func (h Hook) Signature() string {
	return decl.Signature(h.Params, h.Results)
}

// WantSignature is the shape a hook of this kind must have.
func (h Hook) WantSignature() string {
	switch h.Kind {
	case decl.HookSync:
		return "func() or func() error"
	case decl.HookAsync:
		return capability.AsyncContract.Signature
	default:
		return "func()"
	}
}

// ShapeValid reports whether the hook is a non-generic method whose
// signature matches its kind.
func (h Hook) ShapeValid() bool {
	return !h.Func && !h.Generic && h.SignatureValid()
}

// SignatureValid checks parameters and results only.
func (h Hook) SignatureValid() bool {
	switch h.Kind {
	case decl.HookUnmanaged:
		return len(h.Params) == 0 && len(h.Results) == 0
	case decl.HookSync:
		return len(h.Params) == 0 && (len(h.Results) == 0 || h.ReturnsError())
	case decl.HookAsync:
		return len(h.Params) == 1 && h.Params[0] == "context.Context" && h.ReturnsError()
	default:
		return false
	}
}

// Hooks holds every declared hook, including invalid and duplicate ones.
type Hooks struct {
	Unmanaged []Hook
	Sync      []Hook
	Async     []Hook
}

// BaseRef is the resolved embedded base.
type BaseRef struct {
	Field      string
	Type       string
	Capability capability.Capability
	Position   decl.Position

	// InBatch is set when the base is annotated and separable in the same
	// descriptor, so its generated level methods can be called.
	InBatch          bool
	HasCloseLevel    bool
	HasShutdownLevel bool
	FinalizerChain   bool

	// NotSeparable is set for an annotated base that lacks a gate field.
	NotSeparable bool
	// Address applies to external bases embedded by value.
	Address bool
	// Pointer is set for a base embedded as *T, which may be nil.
	Pointer bool
}

// TypeEntry is a classified type.
type TypeEntry struct {
	Name               string
	Package            string
	TypeParams         []decl.TypeParam
	Position           decl.Position
	Capability         capability.Capability
	Mode               capability.Mode
	Annotated          bool
	AnnotationPosition decl.Position
	GateField          string
	Members            []MemberEntry
	Hooks              Hooks
	Methods            []decl.Method
	Base               *BaseRef
	// FinalizerChain is set when this type or an in-batch base declares a
	// usable unmanaged hook.
	FinalizerChain bool
}

// Separable reports whether the type reserved a gate field.
func (t TypeEntry) Separable() bool {
	return t.GateField != ""
}

// Eligible reports whether the type receives a generated unit.
func (t TypeEntry) Eligible() bool {
	return t.Annotated && t.Separable() && t.Capability != capability.None
}

// HasCloseLevel reports whether closeLevel is generated for the type.
func (t TypeEntry) HasCloseLevel() bool {
	return t.Capability.Sync() || t.FinalizerChain
}

// HasShutdownLevel reports whether shutdownLevel is generated.
func (t TypeEntry) HasShutdownLevel() bool {
	return t.Capability.Async()
}

// Enabled returns the releasable members in declaration order.
func (t TypeEntry) Enabled() []MemberEntry {
	var out []MemberEntry
	for _, m := range t.Members {
		if m.Releasable() {
			out = append(out, m)
		}
	}
	return out
}

// Member returns the member with the given name.
func (t TypeEntry) Member(name string) (MemberEntry, bool) {
	for _, m := range t.Members {
		if m.Name == name {
			return m, true
		}
	}
	return MemberEntry{}, false
}

// UnmanagedHook returns the hook wired into every entry point, if any.
func (t TypeEntry) UnmanagedHook() (Hook, bool) {
	return single(t.Hooks.Unmanaged, true)
}

// SyncHook returns the wired sync hook, if any.
func (t TypeEntry) SyncHook() (Hook, bool) {
	return single(t.Hooks.Sync, t.Capability.Sync())
}

// AsyncHook returns the wired async hook, if any.
func (t TypeEntry) AsyncHook() (Hook, bool) {
	return single(t.Hooks.Async, t.Capability.Async())
}

func single(hooks []Hook, allowed bool) (Hook, bool) {
	if !allowed || len(hooks) != 1 || !hooks[0].ShapeValid() {
		return Hook{}, false
	}
	return hooks[0], true
}

// TypeArgs renders the type parameter names as used in a receiver, e.g.
// "[K, V]", or the empty string for a non-generic type.
func (t TypeEntry) TypeArgs() string {
	if len(t.TypeParams) == 0 {
		return ""
	}
	names := make([]string, len(t.TypeParams))
	for i, tp := range t.TypeParams {
		names[i] = tp.Name
	}
	return "[" + strings.Join(names, ", ") + "]"
}

// Receiver renders the generated methods' receiver type, e.g. "*Pool[T]".
func (t TypeEntry) Receiver() string {
	return fmt.Sprintf("*%s%s", t.Name, t.TypeArgs())
}
