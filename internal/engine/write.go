package engine

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/multierr"

	"autoclose/internal/cache"
	"autoclose/internal/decl"
	"autoclose/internal/logging"
	"autoclose/internal/metrics"
	"autoclose/internal/synth"
)

// Writer persists a generated unit and reports whether the file changed.
type Writer interface {
	WriteUnit(ctx context.Context, path, typ, runID string, src []byte) (bool, error)
}

// Tracker is a Writer that remembers what it wrote, which enables pruning.
type Tracker interface {
	Writer
	Entries(ctx context.Context) ([]cache.Entry, error)
	Forget(ctx context.Context, path string) error
}

var _ Tracker = (*cache.Cache)(nil)

// FileWriter writes units without a cache. A file already holding the
// same bytes is left alone.
type FileWriter struct{}

// WriteUnit implements Writer.
func (FileWriter) WriteUnit(_ context.Context, path, _, _ string, src []byte) (bool, error) {
	if existing, err := os.ReadFile(path); err == nil && bytes.Equal(existing, src) {
		return false, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return false, fmt.Errorf("failed to create output directory: %w", err)
	}
	if err := os.WriteFile(path, src, 0644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	return true, nil
}

// Report lists what a write pass did, by output path.
type Report struct {
	Written   []string
	Unchanged []string
	// Planned lists the paths a dry run would have written.
	Planned []string
	Removed []string
}

// Write persists the units of res into dir. Every unit is attempted;
// failures are combined into the returned error.
func (e *Engine) Write(ctx context.Context, res *Result, dir string, dryRun bool) (*Report, error) {
	log := logging.Get(logging.CategoryEngine).With("run_id", res.RunID)
	report := &Report{}
	var err error

	live := make(map[string]bool, len(res.Units))
	for _, u := range res.Units {
		path := filepath.Join(dir, u.FileName)
		live[path] = true
		if dryRun {
			report.Planned = append(report.Planned, path)
			e.countUnit(metrics.UnitDryRun)
			continue
		}
		written, werr := e.opts.Writer.WriteUnit(ctx, path, u.Type, res.RunID, u.Source)
		switch {
		case werr != nil:
			err = multierr.Append(err, werr)
		case written:
			report.Written = append(report.Written, path)
			e.countUnit(metrics.UnitWritten)
		default:
			report.Unchanged = append(report.Unchanged, path)
			e.countUnit(metrics.UnitUnchanged)
		}
	}

	if e.opts.Prune && !dryRun {
		removed, perr := e.prune(ctx, dir, live)
		report.Removed = removed
		err = multierr.Append(err, perr)
	}

	log.Info("wrote %d unit(s), %d unchanged, %d removed", len(report.Written), len(report.Unchanged), len(report.Removed))
	return report, err
}

// prune deletes units this tool wrote into dir earlier whose type no
// longer receives one. Files that lost the generated header are kept.
func (e *Engine) prune(ctx context.Context, dir string, live map[string]bool) ([]string, error) {
	tracker, ok := e.opts.Writer.(Tracker)
	if !ok {
		return nil, nil
	}
	entries, err := tracker.Entries(ctx)
	if err != nil {
		return nil, err
	}

	header := e.opts.Synth.Header
	if header == "" {
		header = synth.DefaultHeader
	}
	var removed []string
	var errs error
	for _, entry := range entries {
		if live[entry.Path] || filepath.Dir(entry.Path) != filepath.Clean(dir) {
			continue
		}
		generated, herr := hasHeader(entry.Path, header)
		if herr != nil && !os.IsNotExist(herr) {
			errs = multierr.Append(errs, herr)
			continue
		}
		if generated {
			if rerr := os.Remove(entry.Path); rerr != nil {
				errs = multierr.Append(errs, rerr)
				continue
			}
			removed = append(removed, entry.Path)
			e.countUnit(metrics.UnitRemoved)
		}
		errs = multierr.Append(errs, tracker.Forget(ctx, entry.Path))
	}
	return removed, errs
}

func hasHeader(path, header string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()
	sc := bufio.NewScanner(f)
	if !sc.Scan() {
		return false, sc.Err()
	}
	return sc.Text() == header, nil
}

func (e *Engine) countUnit(outcome string) {
	if e.opts.Metrics != nil {
		e.opts.Metrics.Units.WithLabelValues(outcome).Inc()
	}
}

// Run loads the descriptor at path, generates, and writes the units into
// dir, or next to the descriptor when dir is empty. The returned error
// combines write failures and ErrDiagnostics; the result is non-nil
// whenever the descriptor loaded.
func (e *Engine) Run(ctx context.Context, path, dir string, dryRun bool) (*Result, *Report, error) {
	logging.Get(logging.CategoryLoad).Debug("loading %s", path)
	pkg, err := decl.Load(path)
	if err != nil {
		if e.opts.Metrics != nil {
			e.opts.Metrics.Runs.WithLabelValues(metrics.RunFailed).Inc()
		}
		return nil, nil, err
	}

	res, err := e.Generate(ctx, pkg)
	if err != nil {
		return nil, nil, err
	}
	if dir == "" {
		dir = filepath.Dir(path)
	}
	report, werr := e.Write(ctx, res, dir, dryRun)
	return res, report, multierr.Combine(werr, res.Err(e.opts.FailOnWarning))
}
