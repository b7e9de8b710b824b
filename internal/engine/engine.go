// Package engine runs the generation pipeline over one descriptor:
// capability closure, then classification, validation, protocol design and
// rendering for every type in parallel, then writing the units.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"autoclose/internal/classify"
	"autoclose/internal/decl"
	"autoclose/internal/diag"
	"autoclose/internal/facts"
	"autoclose/internal/logging"
	"autoclose/internal/metrics"
	"autoclose/internal/protocol"
	"autoclose/internal/synth"
	"autoclose/internal/validate"
)

// ErrDiagnostics is returned when reported diagnostics block the run.
var ErrDiagnostics = errors.New("generation blocked by diagnostics")

// Options configure a pipeline run.
type Options struct {
	// Workers bounds per-type parallelism; zero means unbounded.
	Workers   int
	FactLimit int
	Synth     synth.Options
	// FailOnWarning makes warnings block the run like errors.
	FailOnWarning bool
	// Prune removes units of types that no longer get one. It needs a
	// Writer that tracks what it wrote.
	Prune bool

	// Writer persists units; nil writes files directly.
	Writer Writer
	// Metrics is optional.
	Metrics *metrics.Collector
}

// Result is the outcome of analysing one descriptor.
type Result struct {
	RunID       string
	Package     string
	Source      string
	Units       []synth.Unit
	Diagnostics []diag.Diagnostic
	// Releasable counts the types with a release capability.
	Releasable int
	Duration   time.Duration
}

// Err returns ErrDiagnostics when the diagnostics block the run.
func (r *Result) Err(failOnWarning bool) error {
	errs, warns := diag.Counts(r.Diagnostics)
	if errs > 0 || (failOnWarning && warns > 0) {
		return fmt.Errorf("%w: %d error(s), %d warning(s)", ErrDiagnostics, errs, warns)
	}
	return nil
}

// Unit returns the unit generated for typ.
func (r *Result) Unit(typ string) (synth.Unit, bool) {
	for _, u := range r.Units {
		if u.Type == typ {
			return u, true
		}
	}
	return synth.Unit{}, false
}

// Engine runs the pipeline. It is safe for sequential reuse, e.g. from
// watch mode.
type Engine struct {
	opts   Options
	render func(protocol.Plan, synth.Options) (synth.Unit, error)
}

// New creates an engine.
func New(opts Options) *Engine {
	if opts.Writer == nil {
		opts.Writer = FileWriter{}
	}
	return &Engine{opts: opts, render: synth.Render}
}

// Generate analyses pkg and renders every eligible type. Diagnostics never
// make it fail; the returned error is reserved for cancellation.
func (e *Engine) Generate(ctx context.Context, pkg *decl.Package) (*Result, error) {
	start := time.Now()
	res := &Result{
		RunID:   uuid.NewString(),
		Package: pkg.Package,
		Source:  pkg.Source,
	}
	log := logging.Get(logging.CategoryEngine).With("run_id", res.RunID)
	log.Info("generating %d type(s) of package %s", len(pkg.Types), pkg.Package)

	timer := logging.Get(logging.CategoryFacts).With("run_id", res.RunID).StartTimer("capability closure")
	caps, err := facts.FromPackage(pkg, e.opts.FactLimit)
	timer.Stop()
	if err != nil {
		log.Error("capability closure failed: %v", err)
		res.Diagnostics = []diag.Diagnostic{
			diag.New(diag.RunFailure, "", decl.Position{File: pkg.Source}, nil, err.Error()),
		}
		e.finish(res, start, log)
		return res, nil
	}
	res.Releasable = len(caps.Releasable())

	classifier := classify.New(pkg, caps)
	var collector diag.Collector
	units := make([]*synth.Unit, len(pkg.Types))

	g, gctx := errgroup.WithContext(ctx)
	if e.opts.Workers > 0 {
		g.SetLimit(e.opts.Workers)
	}
	for i, t := range pkg.Types {
		i, t := i, t
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			unit, ds := e.processType(classifier, t)
			collector.ReportAll(ds)
			units[i] = unit
			e.countType(unit != nil)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		if e.opts.Metrics != nil {
			e.opts.Metrics.Runs.WithLabelValues(metrics.RunFailed).Inc()
		}
		return nil, fmt.Errorf("generation interrupted: %w", err)
	}

	for _, u := range units {
		if u != nil {
			res.Units = append(res.Units, *u)
		}
	}
	sort.Slice(res.Units, func(i, j int) bool { return res.Units[i].Type < res.Units[j].Type })
	res.Diagnostics = collector.Diagnostics()
	e.finish(res, start, log)
	return res, nil
}

// processType runs the per-type stages. A panic in any stage becomes an
// internal-failure diagnostic for this type only.
func (e *Engine) processType(c *classify.Classifier, t decl.Type) (unit *synth.Unit, ds []diag.Diagnostic) {
	defer func() {
		if r := recover(); r != nil {
			unit = nil
			ds = append(ds, internalFailure(t, fmt.Errorf("panic: %v", r)))
		}
	}()

	entry, err := c.Type(t.Name)
	if err != nil {
		return nil, []diag.Diagnostic{internalFailure(t, err)}
	}
	ds = validate.Type(entry)
	if !entry.Eligible() {
		return nil, ds
	}

	plan, err := protocol.Design(entry)
	if err != nil {
		return nil, append(ds, internalFailure(t, err))
	}
	u, err := e.render(plan, e.opts.Synth)
	if err != nil {
		return nil, append(ds, internalFailure(t, err))
	}
	logging.Get(logging.CategorySynth).Debug("rendered %s (%d bytes)", u.FileName, len(u.Source))
	return &u, ds
}

func internalFailure(t decl.Type, err error) diag.Diagnostic {
	return diag.New(diag.InternalFailure, t.Name, t.Position, nil, t.Name, err.Error())
}

func (e *Engine) countType(eligible bool) {
	if e.opts.Metrics == nil {
		return
	}
	label := "false"
	if eligible {
		label = "true"
	}
	e.opts.Metrics.TypesProcessed.WithLabelValues(label).Inc()
}

func (e *Engine) finish(res *Result, start time.Time, log *logging.Logger) {
	res.Duration = time.Since(start)
	errs, warns := diag.Counts(res.Diagnostics)
	log.Info("generated %d unit(s) with %d error(s), %d warning(s) in %v", len(res.Units), errs, warns, res.Duration)

	m := e.opts.Metrics
	if m == nil {
		return
	}
	m.RunDuration.Observe(res.Duration.Seconds())
	m.ReleasableTypes.Set(float64(res.Releasable))
	for _, d := range res.Diagnostics {
		m.Diagnostics.WithLabelValues(string(d.Code), d.Severity.String()).Inc()
	}
	result := metrics.RunOK
	if res.Err(e.opts.FailOnWarning) != nil {
		result = metrics.RunDiagnostics
	}
	m.Runs.WithLabelValues(result).Inc()
}
