package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"autoclose/internal/cache"
	"autoclose/internal/decl"
	"autoclose/internal/diag"
	"autoclose/internal/metrics"
	"autoclose/internal/protocol"
	"autoclose/internal/synth"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

const descriptor = `
package: store
universe:
  - name: "*Conn"
    methods: [{name: Close, results: [error]}]
  - name: "*Worker"
    implements: [lifecycle.Shutdowner]
types:
  - name: Store
    position: {file: store.go, line: 10}
    autoclose: {}
    gate_field: gate
    implements: [io.Closer]
    fields:
      - {name: conn, type: "*Conn"}
      - {name: worker, type: "*Worker", position: {file: store.go, line: 13}}
  - name: Runner
    position: {file: runner.go, line: 4}
    autoclose: {}
    gate_field: gate
    implements: [lifecycle.Shutdowner]
    fields:
      - {name: worker, type: "*Worker"}
  - name: Loose
    position: {file: loose.go, line: 2}
    autoclose: {}
    implements: [io.Closer]
  - name: Plain
    fields:
      - {name: conn, type: "*Conn"}
`

func decode(t *testing.T, src string) *decl.Package {
	t.Helper()
	pkg, err := decl.Decode(strings.NewReader(src))
	require.NoError(t, err)
	return pkg
}

func codes(ds []diag.Diagnostic) []diag.Code {
	var out []diag.Code
	for _, d := range ds {
		out = append(out, d.Code)
	}
	return out
}

func TestGenerate(t *testing.T) {
	res, err := New(Options{Workers: 2}).Generate(context.Background(), decode(t, descriptor))
	require.NoError(t, err)

	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, "store", res.Package)

	var types []string
	for _, u := range res.Units {
		types = append(types, u.Type)
	}
	assert.Equal(t, []string{"Runner", "Store"}, types, "units sorted by type, ineligible types skipped")

	// The error-bearing Store still gets a best-effort unit.
	assert.Equal(t, []diag.Code{diag.NotSeparable, diag.Unreleasable}, codes(res.Diagnostics))
	store, ok := res.Unit("Store")
	require.True(t, ok)
	assert.Equal(t, "store_autoclose.go", store.FileName)
	assert.Contains(t, string(store.Source), "lifecycle.Close(t.conn)")
	assert.NotContains(t, string(store.Source), "t.worker")

	err = res.Err(false)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrDiagnostics))
}

func TestGenerate_DeterministicAcrossWorkerCounts(t *testing.T) {
	pkg := decode(t, descriptor)
	a, err := New(Options{Workers: 1}).Generate(context.Background(), pkg)
	require.NoError(t, err)
	b, err := New(Options{Workers: 8}).Generate(context.Background(), pkg)
	require.NoError(t, err)

	ignore := cmpopts.IgnoreFields(Result{}, "RunID", "Duration")
	if diff := cmp.Diff(a, b, ignore); diff != "" {
		t.Errorf("results differ (-1 worker +8 workers):\n%s", diff)
	}
	assert.NotEqual(t, a.RunID, b.RunID)
}

func TestGenerate_WarningsOnly(t *testing.T) {
	res, err := New(Options{}).Generate(context.Background(), decode(t, `
package: p
universe:
  - name: "*Server"
    implements: [lifecycle.Releaser]
types:
  - name: Owner
    autoclose: {mode: explicit}
    gate_field: gate
    implements: [io.Closer]
    fields: [{name: srv, type: "*Server", include: true}]
`))
	require.NoError(t, err)
	assert.Equal(t, []diag.Code{diag.AsyncMemberSyncOwner}, codes(res.Diagnostics))
	assert.NoError(t, res.Err(false))
	assert.ErrorIs(t, res.Err(true), ErrDiagnostics)
	assert.Len(t, res.Units, 1)
}

func TestGenerate_ClosureFailureHaltsRun(t *testing.T) {
	res, err := New(Options{FactLimit: 1}).Generate(context.Background(), decode(t, descriptor))
	require.NoError(t, err)
	assert.Empty(t, res.Units)
	require.Len(t, res.Diagnostics, 1)
	assert.Equal(t, diag.RunFailure, res.Diagnostics[0].Code)
}

func TestGenerate_FailureIsIsolatedPerType(t *testing.T) {
	res, err := New(Options{Workers: 2}).Generate(context.Background(), decode(t, `
package: p
universe:
  - name: "*Conn"
    methods: [{name: Close, results: [error]}]
types:
  - name: A
    autoclose: {}
    gate_field: gate
    implements: [io.Closer]
    base: {field: B, type: B}
  - name: B
    autoclose: {}
    gate_field: gate
    implements: [io.Closer]
    base: {field: A, type: A}
  - name: C
    autoclose: {}
    gate_field: gate
    implements: [io.Closer]
    fields: [{name: conn, type: "*Conn"}]
`))
	require.NoError(t, err)

	require.Len(t, res.Diagnostics, 2)
	for i, name := range []string{"A", "B"} {
		d := res.Diagnostics[i]
		assert.Equal(t, diag.InternalFailure, d.Code)
		assert.Equal(t, name, d.Type)
		assert.Contains(t, d.Message, "'"+name+"'")
	}
	require.Len(t, res.Units, 1)
	assert.Equal(t, "C", res.Units[0].Type)
}

func TestGenerate_PanicBecomesInternalFailure(t *testing.T) {
	e := New(Options{})
	e.render = func(plan protocol.Plan, opts synth.Options) (synth.Unit, error) {
		if plan.Type == "Store" {
			panic("render exploded")
		}
		return synth.Render(plan, opts)
	}
	res, err := e.Generate(context.Background(), decode(t, descriptor))
	require.NoError(t, err)

	// Diagnostics reported before the panic are kept.
	assert.Equal(t, []diag.Code{diag.NotSeparable, diag.InternalFailure, diag.Unreleasable}, codes(res.Diagnostics))
	failure := res.Diagnostics[1]
	assert.Equal(t, "Store", failure.Type)
	assert.Contains(t, failure.Message, "panic: render exploded")
	assert.Equal(t, decl.Position{File: "store.go", Line: 10}, failure.Position())

	require.Len(t, res.Units, 1)
	assert.Equal(t, "Runner", res.Units[0].Type)
}

func TestGenerate_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := New(Options{}).Generate(ctx, decode(t, descriptor))
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestGenerate_RecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := metrics.NewWithRegistry(reg)
	_, err := New(Options{Metrics: m}).Generate(context.Background(), decode(t, descriptor))
	require.NoError(t, err)

	families, err := reg.Gather()
	require.NoError(t, err)
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}
	for _, n := range []string{
		"autoclose_runs_total", "autoclose_run_duration_seconds", "autoclose_types_total",
		"autoclose_diagnostics_total", "autoclose_releasable_types",
	} {
		assert.True(t, names[n], n)
	}
}

func writeDescriptor(t *testing.T, dir, src string) string {
	t.Helper()
	path := filepath.Join(dir, "autoclose.yaml")
	require.NoError(t, os.WriteFile(path, []byte(src), 0644))
	return path
}

const clean = `
package: p
universe:
  - name: "*Conn"
    methods: [{name: Close, results: [error]}]
types:
  - name: A
    autoclose: {}
    gate_field: gate
    implements: [io.Closer]
    fields: [{name: c, type: "*Conn"}]
  - name: B
    autoclose: {}
    gate_field: gate
    implements: [io.Closer]
`

func TestRun_WritesNextToDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, clean)
	e := New(Options{})

	res, report, err := e.Run(context.Background(), path, "", false)
	require.NoError(t, err)
	assert.Len(t, res.Units, 2)
	assert.Equal(t, []string{filepath.Join(dir, "a_autoclose.go"), filepath.Join(dir, "b_autoclose.go")}, report.Written)

	_, report, err = e.Run(context.Background(), path, "", false)
	require.NoError(t, err)
	assert.Empty(t, report.Written)
	assert.Len(t, report.Unchanged, 2)
}

func TestRun_DryRunWritesNothing(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, clean)
	out := filepath.Join(dir, "gen")

	_, report, err := New(Options{}).Run(context.Background(), path, out, true)
	require.NoError(t, err)
	assert.Len(t, report.Planned, 2)
	_, statErr := os.Stat(out)
	assert.True(t, os.IsNotExist(statErr))
}

func TestRun_DiagnosticsStillWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, descriptor)

	res, report, err := New(Options{}).Run(context.Background(), path, "", false)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDiagnostics)
	require.NotNil(t, res)
	assert.Len(t, report.Written, 2)
}

func TestRun_LoadError(t *testing.T) {
	_, _, err := New(Options{}).Run(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"), "", false)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrDiagnostics)
}

func TestRun_CachePrunesStaleUnits(t *testing.T) {
	dir := t.TempDir()
	path := writeDescriptor(t, dir, clean)

	c, err := cache.Open(filepath.Join(dir, ".autoclose", "cache.db"))
	require.NoError(t, err)
	defer c.Close()
	e := New(Options{Writer: c, Prune: true})

	_, _, err = e.Run(context.Background(), path, "", false)
	require.NoError(t, err)

	// A hand-written file next to the units is never touched.
	keep := filepath.Join(dir, "keep.go")
	require.NoError(t, os.WriteFile(keep, []byte("package p\n"), 0644))

	// B loses its annotation.
	writeDescriptor(t, dir, strings.Replace(clean, "  - name: B\n    autoclose: {}\n", "  - name: B\n", 1))
	_, report, err := e.Run(context.Background(), path, "", false)
	require.NoError(t, err)
	assert.Equal(t, []string{filepath.Join(dir, "b_autoclose.go")}, report.Removed)
	assert.Equal(t, []string{filepath.Join(dir, "a_autoclose.go")}, report.Unchanged)

	_, statErr := os.Stat(filepath.Join(dir, "b_autoclose.go"))
	assert.True(t, os.IsNotExist(statErr))
	_, statErr = os.Stat(keep)
	assert.NoError(t, statErr)
	assert.Equal(t, cache.Stats{Hits: 1, Misses: 2}, c.Stats())
}

func TestFileWriter_SkipsIdentical(t *testing.T) {
	path := filepath.Join(t.TempDir(), "x", "a_autoclose.go")
	w := FileWriter{}
	written, err := w.WriteUnit(context.Background(), path, "A", "r", []byte("package p\n"))
	require.NoError(t, err)
	assert.True(t, written)
	written, err = w.WriteUnit(context.Background(), path, "A", "r", []byte("package p\n"))
	require.NoError(t, err)
	assert.False(t, written)
}
