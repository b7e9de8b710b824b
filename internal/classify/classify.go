package classify

import (
	"fmt"
	"strings"

	"autoclose/internal/capability"
	"autoclose/internal/decl"
	"autoclose/internal/facts"
)

// Classifier classifies the types of one descriptor snapshot. It holds
// only read-only state, so Type may be called from many goroutines.
type Classifier struct {
	pkg    *decl.Package
	caps   *facts.Capabilities
	byName map[string]decl.Type
}

// New creates a classifier over an evaluated capability table.
func New(pkg *decl.Package, caps *facts.Capabilities) *Classifier {
	byName := make(map[string]decl.Type, len(pkg.Types))
	for _, t := range pkg.Types {
		byName[t.Name] = t
	}
	return &Classifier{pkg: pkg, caps: caps, byName: byName}
}

// Type classifies the named type.
func (c *Classifier) Type(name string) (TypeEntry, error) {
	t, ok := c.byName[name]
	if !ok {
		return TypeEntry{}, fmt.Errorf("unknown type %q", name)
	}
	return c.classify(t)
}

func (c *Classifier) classify(t decl.Type) (TypeEntry, error) {
	entry := TypeEntry{
		Name:       t.Name,
		Package:    c.pkg.Package,
		TypeParams: append([]decl.TypeParam(nil), t.TypeParams...),
		Position:   t.Position,
		Capability: c.caps.Of(facts.PointerTo(t.Name)),
		Annotated:  t.Annotated(),
		GateField:  t.GateField,
		Methods:    append([]decl.Method(nil), t.Methods...),
	}
	if t.Annotated() {
		mode, err := capability.ParseMode(t.AutoClose.Mode)
		if err != nil {
			return TypeEntry{}, fmt.Errorf("type %s: %w", t.Name, err)
		}
		entry.Mode = mode
		entry.AnnotationPosition = t.AutoClose.Position
	}

	entry.Hooks = collectHooks(t.Methods)
	entry.Members = c.members(t, entry.Capability, entry.Mode, entry.Annotated)

	if t.Base != nil {
		base, err := c.resolveBase(t, map[string]bool{t.Name: true})
		if err != nil {
			return TypeEntry{}, err
		}
		entry.Base = base
	}
	_, ownUnmanaged := entry.UnmanagedHook()
	entry.FinalizerChain = ownUnmanaged || (entry.Base != nil && entry.Base.InBatch && entry.Base.FinalizerChain)
	return entry, nil
}

func collectHooks(methods []decl.Method) Hooks {
	var hooks Hooks
	for _, m := range methods {
		if m.Hook == "" {
			continue
		}
		h := Hook{
			Kind:     m.Hook,
			Name:     m.Name,
			Params:   append([]string(nil), m.Params...),
			Results:  append([]string(nil), m.Results...),
			Func:     m.Func,
			Generic:  len(m.TypeParams) > 0,
			Position: m.Position,
		}
		switch m.Hook {
		case decl.HookUnmanaged:
			hooks.Unmanaged = append(hooks.Unmanaged, h)
		case decl.HookSync:
			hooks.Sync = append(hooks.Sync, h)
		case decl.HookAsync:
			hooks.Async = append(hooks.Async, h)
		}
	}
	return hooks
}

func (c *Classifier) members(t decl.Type, owner capability.Capability, mode capability.Mode, annotated bool) []MemberEntry {
	dependencyOf := make(map[string]string)
	for _, f := range t.Fields {
		for _, dep := range f.Include.Dependencies {
			if _, taken := dependencyOf[dep]; !taken {
				dependencyOf[dep] = f.Name
			}
		}
	}

	members := make([]MemberEntry, 0, len(t.Fields))
	for _, f := range t.Fields {
		capab, address := c.memberCapability(t, f.Type)
		m := MemberEntry{
			Name:         f.Name,
			Owner:        t.Name,
			Type:         f.Type,
			Capability:   capab,
			Include:      f.Include.Enabled,
			Exclude:      f.Exclude,
			Static:       f.Static,
			Address:      address,
			Dependencies: append([]string(nil), f.Include.Dependencies...),
			DependencyOf: dependencyOf[f.Name],
			Position:     f.Position,
		}
		if annotated {
			m.Enabled = enabled(m, mode)
			if m.Enabled {
				m.Surface = SurfaceFor(owner, m.Capability)
			}
		}
		members = append(members, m)
	}
	return members
}

// enabled decides participation. A member carrying both flags is treated
// as excluded.
func enabled(m MemberEntry, mode capability.Mode) bool {
	if m.Static || m.Capability == capability.None || m.Exclude {
		return false
	}
	if mode == capability.Explicit {
		return m.Include
	}
	return true
}

// memberCapability resolves a field type. Type parameters resolve through
// their constraints; a value field whose release methods sit on the
// pointer type resolves through *T and must be released by address.
func (c *Classifier) memberCapability(t decl.Type, typ string) (capability.Capability, bool) {
	bare := facts.Normalize(typ)
	for _, tp := range t.TypeParams {
		if bare == tp.Name {
			return c.caps.Of(facts.ParamKey(t.Name, tp.Name)), false
		}
	}
	if capab := c.caps.Of(typ); capab != capability.None || strings.HasPrefix(bare, "*") {
		return capab, false
	}
	if capab := c.caps.Of(facts.PointerTo(bare)); capab != capability.None {
		return capab, true
	}
	return capability.None, false
}

func (c *Classifier) resolveBase(t decl.Type, visiting map[string]bool) (*BaseRef, error) {
	ref := &BaseRef{
		Field:    t.Base.Field,
		Type:     t.Base.Type,
		Position: t.Base.Position,
		Pointer:  strings.HasPrefix(facts.Normalize(t.Base.Type), "*"),
	}
	if !ref.Position.IsValid() {
		ref.Position = t.Position
	}

	name := strings.TrimPrefix(facts.Normalize(t.Base.Type), "*")
	bt, found := c.byName[name]
	if found && visiting[name] {
		return nil, fmt.Errorf("type %s: embedding cycle through %s", t.Name, name)
	}

	switch {
	case found && bt.Annotated() && bt.GateField != "" && c.caps.Of(facts.PointerTo(bt.Name)) != capability.None:
		capab := c.caps.Of(facts.PointerTo(bt.Name))
		ref.Capability = capab
		ref.InBatch = true
		ref.HasShutdownLevel = capab.Async()

		own := hasUsableUnmanaged(bt.Methods)
		chain := own
		if bt.Base != nil {
			visiting[name] = true
			parent, err := c.resolveBase(bt, visiting)
			if err != nil {
				return nil, err
			}
			chain = chain || (parent.InBatch && parent.FinalizerChain)
		}
		ref.FinalizerChain = chain
		ref.HasCloseLevel = capab.Sync() || chain
	default:
		ref.NotSeparable = found && bt.Annotated() && bt.GateField == ""
		capab, address := c.memberCapability(t, t.Base.Type)
		ref.Capability = capab
		ref.Address = address
	}
	return ref, nil
}

func hasUsableUnmanaged(methods []decl.Method) bool {
	h, ok := single(collectHooks(methods).Unmanaged, true)
	return ok && h.Kind == decl.HookUnmanaged
}
