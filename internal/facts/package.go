package facts

import (
	"strings"

	"autoclose/internal/capability"
	"autoclose/internal/decl"
)

// PointerTo returns the pointer form of a type expression.
func PointerTo(typ string) string {
	if strings.HasPrefix(typ, "*") {
		return typ
	}
	return "*" + typ
}

// FromPackage evaluates capabilities for a descriptor snapshot: the builtin
// universe, the descriptor's universe, and every declared type.
//
// Generated teardown methods use pointer receivers, so an annotated type
// contributes its protocols to *T only. A non-annotated type's declared
// methods and interfaces are recorded for both T and *T.
func FromPackage(pkg *decl.Package, factLimit int) (*Capabilities, error) {
	b := NewBuilder().WithFactLimit(factLimit)
	for _, f := range capability.Builtin() {
		b.AddTypeFact(f)
	}
	for _, f := range pkg.Universe {
		b.AddTypeFact(f)
	}

	for _, t := range pkg.Types {
		receivers := []string{t.Name, PointerTo(t.Name)}
		if t.Annotated() {
			receivers = receivers[1:]
		}
		for _, recv := range receivers {
			for _, m := range t.Methods {
				if m.Hook != "" {
					continue
				}
				b.AddMethod(recv, m)
			}
			for _, iface := range t.Implements {
				b.AddImplements(recv, iface)
			}
		}
		if t.Base != nil {
			// Embedding promotes the base's method set.
			b.AddImplements(PointerTo(t.Name), t.Base.Type)
			b.AddImplements(PointerTo(t.Name), PointerTo(t.Base.Type))
		}
		for _, tp := range t.TypeParams {
			for _, c := range tp.Constraints {
				b.AddConstraint(ParamKey(t.Name, tp.Name), c)
			}
		}
	}
	return b.Evaluate()
}
