// Package diag defines autoclose's diagnostic catalogue: stable codes,
// severities and message templates, plus the diagnostic value reported
// against declarations and a collector safe for concurrent reporting.
package diag

import (
	"fmt"
	"sort"
	"strings"
)

// Severity of a diagnostic. Errors block the downstream build.
type Severity uint8

const (
	Error Severity = iota
	Warning
)

func (s Severity) String() string {
	if s == Warning {
		return "warning"
	}
	return "error"
}

// Code is a stable diagnostic identifier such as "AC0004".
type Code string

const (
	NotSeparable           Code = "AC0001"
	NoProtocol             Code = "AC0002"
	AsyncMemberSyncOwner   Code = "AC0003"
	Unreleasable           Code = "AC0004"
	IncludeNotAnnotated    Code = "AC0005"
	UnmanagedNotAnnotated  Code = "AC0006"
	SyncHookNoProtocol     Code = "AC0007"
	SyncHookNotAnnotated   Code = "AC0008"
	DuplicateSyncHook      Code = "AC0009"
	InvalidSyncHook        Code = "AC0010"
	AsyncHookNoProtocol    Code = "AC0011"
	AsyncHookNotAnnotated  Code = "AC0012"
	DuplicateAsyncHook     Code = "AC0013"
	InvalidAsyncHook       Code = "AC0014"
	AsyncHookOnly          Code = "AC0015"
	DuplicateUnmanagedHook Code = "AC0016"
	ExcludeNotAnnotated    Code = "AC0017"
	ConflictingFlags       Code = "AC0018"
	ExplicitMissingFlag    Code = "AC0019"
	IncludeNotReleasable   Code = "AC0020"
	ExcludeNotReleasable   Code = "AC0021"
	IncludeStatic          Code = "AC0022"
	ExcludeStatic          Code = "AC0023"
	InvalidUnmanagedHook   Code = "AC0024"
	UnknownDependency      Code = "AC0025"
	MethodCollision        Code = "AC0026"
	BaseNotSeparable       Code = "AC0027"
	InternalFailure        Code = "AC9998"
	RunFailure             Code = "AC9999"
)

// Descriptor documents one code. Template placeholders are {0}, {1}, ...
type Descriptor struct {
	Code     Code
	Severity Severity
	Title    string
	Template string
	Help     string
}

var catalog = map[Code]Descriptor{
	NotSeparable: {
		Severity: Error,
		Title:    "Type is not separable",
		Template: "type '{0}' is annotated for generated teardown but declares no lifecycle.Gate field",
		Help:     "Generated methods cannot add fields. Reserve a field of type `lifecycle.Gate` and name it in `gate_field`.",
	},
	NoProtocol: {
		Severity: Error,
		Title:    "Type exposes no release protocol",
		Template: "type '{0}' is annotated for generated teardown but implements neither io.Closer nor lifecycle.Shutdowner",
		Help:     "List `io.Closer`, `lifecycle.Shutdowner` or both under `implements`, or embed a base that does.",
	},
	AsyncMemberSyncOwner: {
		Severity: Warning,
		Title:    "Member is always released with Close",
		Template: "member '{0}' supports Shutdown but '{1}' only exposes Close, so it is always released with Close",
		Help:     "The member's async surface is never used. Implement `lifecycle.Shutdowner` on the owner to release it with Shutdown.",
	},
	Unreleasable: {
		Severity: Error,
		Title:    "Member cannot be released",
		Template: "member '{0}' only supports Shutdown but '{1}' only exposes Close, so it is never released automatically",
		Help:     "Expose Shutdown on the owner, exclude the member and release it in a hook, or change the member's type.",
	},
	IncludeNotAnnotated: {
		Severity: Error,
		Title:    "Include flag outside generated teardown",
		Template: "member '{0}' is marked include but type '{1}' is not annotated for generated teardown",
		Help:     "Add an `autoclose` annotation to the type or drop the flag.",
	},
	UnmanagedNotAnnotated: {
		Severity: Error,
		Title:    "Unmanaged hook outside generated teardown",
		Template: "method '{0}' is marked as the unmanaged release hook but type '{1}' is not annotated for generated teardown",
		Help:     "Add an `autoclose` annotation to the type or remove the hook marker.",
	},
	SyncHookNoProtocol: {
		Severity: Error,
		Title:    "Sync hook on type without Close",
		Template: "method '{0}' is marked as the sync release hook but type '{1}' does not expose Close",
		Help:     "The sync hook runs from Close. Implement `io.Closer` or mark the method as the async hook.",
	},
	SyncHookNotAnnotated: {
		Severity: Error,
		Title:    "Sync hook outside generated teardown",
		Template: "method '{0}' is marked as the sync release hook but type '{1}' is not annotated for generated teardown",
		Help:     "Add an `autoclose` annotation to the type or remove the hook marker.",
	},
	DuplicateSyncHook: {
		Severity: Error,
		Title:    "Multiple sync hooks",
		Template: "type '{0}' marks more than one sync release hook: {1}",
		Help:     "Keep a single sync hook and call the others from it. None of them are wired until then.",
	},
	InvalidSyncHook: {
		Severity: Error,
		Title:    "Invalid sync hook",
		Template: "sync release hook '{0}' {1}",
		Help:     "A sync hook is a non-generic method with signature `func()` or `func() error`.",
	},
	AsyncHookNoProtocol: {
		Severity: Error,
		Title:    "Async hook on type without Shutdown",
		Template: "method '{0}' is marked as the async release hook but type '{1}' does not expose Shutdown",
		Help:     "The async hook runs from Shutdown. Implement `lifecycle.Shutdowner` or mark the method as the sync hook.",
	},
	AsyncHookNotAnnotated: {
		Severity: Error,
		Title:    "Async hook outside generated teardown",
		Template: "method '{0}' is marked as the async release hook but type '{1}' is not annotated for generated teardown",
		Help:     "Add an `autoclose` annotation to the type or remove the hook marker.",
	},
	DuplicateAsyncHook: {
		Severity: Error,
		Title:    "Multiple async hooks",
		Template: "type '{0}' marks more than one async release hook: {1}",
		Help:     "Keep a single async hook and call the others from it. None of them are wired until then.",
	},
	InvalidAsyncHook: {
		Severity: Error,
		Title:    "Invalid async hook",
		Template: "async release hook '{0}' {1}",
		Help:     "An async hook is a non-generic method with signature `func(context.Context) error`.",
	},
	AsyncHookOnly: {
		Severity: Warning,
		Title:    "Async hook without sync hook",
		Template: "type '{0}' exposes Close and Shutdown but only declares the async release hook '{1}'; Close does not run it",
		Help:     "Add a sync hook so both entry points release the same state.",
	},
	DuplicateUnmanagedHook: {
		Severity: Error,
		Title:    "Multiple unmanaged hooks",
		Template: "type '{0}' marks more than one unmanaged release hook: {1}",
		Help:     "Keep a single unmanaged hook. None of them are wired until then.",
	},
	ExcludeNotAnnotated: {
		Severity: Error,
		Title:    "Exclude flag outside generated teardown",
		Template: "member '{0}' is marked exclude but type '{1}' is not annotated for generated teardown",
		Help:     "Add an `autoclose` annotation to the type or drop the flag.",
	},
	ConflictingFlags: {
		Severity: Error,
		Title:    "Member is both included and excluded",
		Template: "member '{0}' is marked both include and exclude",
		Help:     "Keep one of the flags. The member is treated as excluded until then.",
	},
	ExplicitMissingFlag: {
		Severity: Error,
		Title:    "Member needs a flag in explicit mode",
		Template: "member '{0}' of '{1}' supports release but is neither included nor excluded in explicit mode",
		Help:     "Mark the member `include` or `exclude`, or list it as a dependency of an included member.",
	},
	IncludeNotReleasable: {
		Severity: Error,
		Title:    "Include flag on member without release protocol",
		Template: "member '{0}' is marked include but its type '{1}' supports neither Close nor Shutdown",
		Help:     "Only members whose type implements `io.Closer` or `lifecycle.Shutdowner` can be released.",
	},
	ExcludeNotReleasable: {
		Severity: Error,
		Title:    "Exclude flag on member without release protocol",
		Template: "member '{0}' is marked exclude but its type '{1}' supports neither Close nor Shutdown",
		Help:     "The flag has no effect. Remove it.",
	},
	IncludeStatic: {
		Severity: Error,
		Title:    "Include flag on package-level variable",
		Template: "package-level variable '{0}' cannot be marked include",
		Help:     "Package-level variables are shared by every value and are never released by generated teardown.",
	},
	ExcludeStatic: {
		Severity: Error,
		Title:    "Exclude flag on package-level variable",
		Template: "package-level variable '{0}' cannot be marked exclude",
		Help:     "Package-level variables never take part in generated teardown. Remove the flag.",
	},
	InvalidUnmanagedHook: {
		Severity: Error,
		Title:    "Invalid unmanaged hook",
		Template: "unmanaged release hook '{0}' {1}",
		Help:     "An unmanaged hook is a non-generic method with signature `func()`. It also runs from the finalizer.",
	},
	UnknownDependency: {
		Severity: Warning,
		Title:    "Unknown dependency member",
		Template: "member '{0}' names dependency '{1}' which is not a member of '{2}'",
		Help:     "Check the spelling of the dependency name.",
	},
	MethodCollision: {
		Severity: Error,
		Title:    "Method collides with generated teardown",
		Template: "method '{0}' of '{1}' collides with a generated teardown method",
		Help:     "Rename the method. Generated teardown defines `Close`, `Shutdown`, `IsClosed`, `closeLevel`, `shutdownLevel` and `armFinalizer`.",
	},
	BaseNotSeparable: {
		Severity: Warning,
		Title:    "Base is not separable",
		Template: "base '{0}' of '{1}' is annotated but not separable; its public teardown is called instead",
		Help:     "Reserve a `lifecycle.Gate` field in the base so each level keeps its own exactly-once guarantee.",
	},
	InternalFailure: {
		Severity: Error,
		Title:    "Internal failure",
		Template: "generating teardown for '{0}' failed: {1}",
		Help:     "Other types are unaffected. Please report the descriptor that triggers this.",
	},
	RunFailure: {
		Severity: Error,
		Title:    "Generation halted",
		Template: "teardown generation halted: {0}",
		Help:     "No units were produced. The message names the failing step.",
	},
}

func init() {
	for code, d := range catalog {
		d.Code = code
		catalog[code] = d
	}
}

// Lookup returns the descriptor of a code.
func Lookup(code Code) (Descriptor, bool) {
	d, ok := catalog[code]
	return d, ok
}

// Codes returns every descriptor sorted by code.
func Codes() []Descriptor {
	out := make([]Descriptor, 0, len(catalog))
	for _, d := range catalog {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Format renders the template of d with positional args.
func (d Descriptor) Format(args ...string) string {
	pairs := make([]string, 0, 2*len(args))
	for i, a := range args {
		pairs = append(pairs, fmt.Sprintf("{%d}", i), a)
	}
	return strings.NewReplacer(pairs...).Replace(d.Template)
}

// Markdown renders the code's documentation for `autoclose explain`.
func (d Descriptor) Markdown() string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s: %s\n\n", d.Code, d.Title)
	fmt.Fprintf(&b, "**Severity:** %s\n\n", d.Severity)
	fmt.Fprintf(&b, "> %s\n\n", d.Template)
	b.WriteString(d.Help)
	b.WriteString("\n")
	return b.String()
}
