// Package validate checks classified types for misuse and reports every
// violation as a diagnostic. Validation never stops generation; callers
// decide what the diagnostics block.
package validate

import (
	"fmt"
	"strings"

	"autoclose/internal/capability"
	"autoclose/internal/classify"
	"autoclose/internal/decl"
	"autoclose/internal/diag"
)

// Generated method names, checked for collisions with declared methods.
const (
	MethodClose         = "Close"
	MethodShutdown      = "Shutdown"
	MethodIsClosed      = "IsClosed"
	MethodCloseLevel    = "closeLevel"
	MethodShutdownLevel = "shutdownLevel"
	MethodArmFinalizer  = "armFinalizer"
)

// GeneratedMethods returns the methods a unit for t defines.
func GeneratedMethods(t classify.TypeEntry) []string {
	names := []string{MethodIsClosed}
	if t.HasCloseLevel() {
		names = append(names, MethodCloseLevel)
	}
	if t.HasShutdownLevel() {
		names = append(names, MethodShutdownLevel)
	}
	if t.Capability.Sync() {
		names = append(names, MethodClose)
	}
	if t.Capability.Async() {
		names = append(names, MethodShutdown)
	}
	if t.FinalizerChain {
		names = append(names, MethodArmFinalizer)
	}
	return names
}

type checker struct {
	t   classify.TypeEntry
	out []diag.Diagnostic
}

func (c *checker) report(code diag.Code, locs []decl.Position, args ...string) {
	c.out = append(c.out, diag.New(code, c.t.Name, c.t.Position, locs, args...))
}

// Type validates one classified type.
func Type(t classify.TypeEntry) []diag.Diagnostic {
	c := &checker{t: t}
	if !t.Annotated {
		c.misuse()
		return c.out
	}

	if !t.Separable() {
		c.report(diag.NotSeparable, []decl.Position{t.Position}, t.Name)
	}
	if t.Capability == capability.None {
		c.report(diag.NoProtocol, []decl.Position{t.Position}, t.Name)
	}
	c.hooks()
	c.members()
	if t.Eligible() {
		c.collisions()
	}
	if t.Base != nil && t.Base.NotSeparable {
		c.report(diag.BaseNotSeparable, []decl.Position{t.Base.Position}, t.Base.Type, t.Name)
	}
	return c.out
}

// misuse reports flags and hooks on a type without the annotation.
func (c *checker) misuse() {
	for _, m := range c.t.Members {
		if m.Include {
			c.report(diag.IncludeNotAnnotated, []decl.Position{m.Position}, m.Name, c.t.Name)
		}
		if m.Exclude {
			c.report(diag.ExcludeNotAnnotated, []decl.Position{m.Position}, m.Name, c.t.Name)
		}
	}
	for _, h := range c.t.Hooks.Unmanaged {
		c.report(diag.UnmanagedNotAnnotated, []decl.Position{h.Position}, h.Name, c.t.Name)
	}
	for _, h := range c.t.Hooks.Sync {
		c.report(diag.SyncHookNotAnnotated, []decl.Position{h.Position}, h.Name, c.t.Name)
	}
	for _, h := range c.t.Hooks.Async {
		c.report(diag.AsyncHookNotAnnotated, []decl.Position{h.Position}, h.Name, c.t.Name)
	}
}

func (c *checker) hooks() {
	t := c.t
	c.hookKind(t.Hooks.Unmanaged, true, "", diag.DuplicateUnmanagedHook, diag.InvalidUnmanagedHook)
	c.hookKind(t.Hooks.Sync, t.Capability.Sync(), diag.SyncHookNoProtocol, diag.DuplicateSyncHook, diag.InvalidSyncHook)
	c.hookKind(t.Hooks.Async, t.Capability.Async(), diag.AsyncHookNoProtocol, diag.DuplicateAsyncHook, diag.InvalidAsyncHook)

	if t.Capability == capability.Both && len(t.Hooks.Async) > 0 && len(t.Hooks.Sync) == 0 {
		c.report(diag.AsyncHookOnly, []decl.Position{t.Hooks.Async[0].Position}, t.Name, t.Hooks.Async[0].Name)
	}
}

func (c *checker) hookKind(hooks []classify.Hook, allowed bool, noProtocol, duplicate, invalid diag.Code) {
	if !allowed && noProtocol != "" {
		for _, h := range hooks {
			c.report(noProtocol, []decl.Position{h.Position}, h.Name, c.t.Name)
		}
	}
	if len(hooks) > 1 {
		names := make([]string, len(hooks))
		locs := make([]decl.Position, len(hooks))
		for i, h := range hooks {
			names[i] = h.Name
			locs[i] = h.Position
		}
		c.report(duplicate, locs, c.t.Name, strings.Join(names, ", "))
	}
	for _, h := range hooks {
		if reason := shapeProblem(h); reason != "" {
			c.report(invalid, []decl.Position{h.Position}, h.Name, reason)
		}
	}
}

func shapeProblem(h classify.Hook) string {
	switch {
	case h.Func:
		return "is a plain function; it must be a method"
	case h.Generic:
		return "declares type parameters"
	case !h.SignatureValid():
		return fmt.Sprintf("has signature %s, want %s", h.Signature(), h.WantSignature())
	default:
		return ""
	}
}

func (c *checker) members() {
	t := c.t
	for _, m := range t.Members {
		locs := []decl.Position{m.Position}
		if m.Include && m.Exclude {
			c.report(diag.ConflictingFlags, locs, m.Name)
		}
		for _, dep := range m.Dependencies {
			if _, ok := t.Member(dep); !ok {
				c.report(diag.UnknownDependency, locs, m.Name, dep, t.Name)
			}
		}

		switch {
		case m.Static:
			if m.Include {
				c.report(diag.IncludeStatic, locs, m.Name)
			}
			if m.Exclude {
				c.report(diag.ExcludeStatic, locs, m.Name)
			}
			continue
		case m.Capability == capability.None:
			if m.Include {
				c.report(diag.IncludeNotReleasable, locs, m.Name, m.Type)
			}
			if m.Exclude {
				c.report(diag.ExcludeNotReleasable, locs, m.Name, m.Type)
			}
			continue
		}

		if t.Mode == capability.Explicit && !m.Include && !m.Exclude && m.DependencyOf == "" {
			c.report(diag.ExplicitMissingFlag, locs, m.Name, t.Name)
		}
		if m.Enabled && t.Capability == capability.SyncOnly {
			switch m.Capability {
			case capability.AsyncOnly:
				c.report(diag.Unreleasable, locs, m.Name, t.Name)
			case capability.Both:
				c.report(diag.AsyncMemberSyncOwner, locs, m.Name, t.Name)
			}
		}
	}
}

func (c *checker) collisions() {
	generated := make(map[string]bool)
	for _, name := range GeneratedMethods(c.t) {
		generated[name] = true
	}
	for _, m := range c.t.Methods {
		if generated[m.Name] {
			c.report(diag.MethodCollision, []decl.Position{m.Position}, m.Name, c.t.Name)
		}
	}
}
