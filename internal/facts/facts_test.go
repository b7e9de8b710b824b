package facts

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"autoclose/internal/capability"
	"autoclose/internal/decl"
)

func closeM() decl.Method {
	return decl.Method{Name: "Close", Results: []string{"error"}}
}

func shutdownM() decl.Method {
	return decl.Method{Name: "Shutdown", Params: []string{"context.Context"}, Results: []string{"error"}}
}

func TestProgram_DeclaresExtensionalPredicates(t *testing.T) {
	src := Program()
	for _, want := range []string{
		"Decl method(Type, Name, Signature).",
		"Decl implements(Type, Iface).",
		"Decl constrained_by(Param, Iface).",
		`sync_release(T) :- method(T, "Close", "func() error").`,
		`async_release(T) :- reaches(T, U), method(U, "Shutdown", "func(context.Context) error").`,
	} {
		assert.Contains(t, src, want)
	}
}

func TestBuilder_Closure(t *testing.T) {
	b := NewBuilder()
	for _, f := range capability.Builtin() {
		b.AddTypeFact(f)
	}
	b.AddMethod("*Direct", closeM())
	b.AddMethod("*Async", shutdownM())
	b.AddMethod("*Dual", closeM())
	b.AddMethod("*Dual", shutdownM())
	b.AddMethod("*WrongSig", decl.Method{Name: "Close"})
	b.AddMethod("*Plain", decl.Method{Name: "Close", Results: []string{"error"}, Func: true})
	b.AddMethod("*Generic", decl.Method{Name: "Close", Results: []string{"error"}, TypeParams: []string{"T"}})
	b.AddImplements("*Wrapper", "io.ReadCloser")
	b.AddImplements("Chain", "Mid")
	b.AddImplements("Mid", "lifecycle.Releaser")
	b.AddConstraint(ParamKey("Holder", "T"), "io.Closer")
	b.AddConstraint(ParamKey("Holder", "U"), "fmt.Stringer")
	b.AddConstraint(ParamKey("Holder", "S"), "lifecycle.Shutdowner")

	caps, err := b.Evaluate()
	require.NoError(t, err)

	tests := []struct {
		typ  string
		want capability.Capability
	}{
		{"*Direct", capability.SyncOnly},
		{"*Async", capability.AsyncOnly},
		{"*Dual", capability.Both},
		{"*WrongSig", capability.None},
		{"*Plain", capability.None},
		{"*Generic", capability.None},
		{"*Wrapper", capability.SyncOnly},
		{"Chain", capability.Both},
		{"*os.File", capability.SyncOnly},
		{"*http.Server", capability.Both},
		{"net.Conn", capability.SyncOnly},
		{"*net.TCPConn", capability.SyncOnly},
		{ParamKey("Holder", "T"), capability.SyncOnly},
		{ParamKey("Holder", "U"), capability.None},
		{ParamKey("Holder", "S"), capability.AsyncOnly},
		{"*Direct[int]", capability.SyncOnly},
		{"*bytes.Buffer", capability.None},
	}
	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			assert.Equal(t, tt.want, caps.Of(tt.typ))
		})
	}

	releasable := caps.Releasable()
	assert.Contains(t, releasable, "*Dual")
	assert.NotContains(t, releasable, "*WrongSig")
	assert.True(t, sortedStrings(releasable))
}

func TestFromPackage(t *testing.T) {
	src := `
package: p
universe:
  - name: "*pgx.Pool"
    methods: [{name: Close, results: [error]}]
types:
  - name: Base
    autoclose: {}
    gate_field: gate
    implements: [io.Closer]
  - name: Derived
    autoclose: {}
    gate_field: gate
    base: {field: Base, type: Base}
    implements: [lifecycle.Shutdowner]
  - name: Plain
    methods: [{name: Close, results: [error]}]
  - name: Holder
    type_params: [{name: T, constraints: [io.Closer]}]
`
	pkg, err := decl.Decode(strings.NewReader(src))
	require.NoError(t, err)

	caps, err := FromPackage(pkg, 0)
	require.NoError(t, err)

	assert.Equal(t, capability.SyncOnly, caps.Of("*Base"))
	assert.Equal(t, capability.None, caps.Of("Base"), "generated methods use pointer receivers")
	assert.Equal(t, capability.Both, caps.Of("*Derived"), "base protocols are promoted")
	assert.Equal(t, capability.SyncOnly, caps.Of("Plain"))
	assert.Equal(t, capability.SyncOnly, caps.Of("*Plain"))
	assert.Equal(t, capability.SyncOnly, caps.Of("*pgx.Pool"))
	assert.Equal(t, capability.SyncOnly, caps.Of(ParamKey("Holder", "T")))
}

func TestNormalize(t *testing.T) {
	assert.Equal(t, "*Pool", Normalize("*Pool[int]"))
	assert.Equal(t, "Pool", Normalize(" Pool "))
	assert.Equal(t, "Holder#T", Normalize(ParamKey("Holder", "T")))
	assert.Equal(t, "*x.T", PointerTo("x.T"))
	assert.Equal(t, "*x.T", PointerTo("*x.T"))
}

func sortedStrings(s []string) bool {
	for i := 1; i < len(s); i++ {
		if s[i-1] > s[i] {
			return false
		}
	}
	return true
}
