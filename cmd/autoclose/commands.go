package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"autoclose/internal/decl"
	"autoclose/internal/diag"
	"autoclose/internal/engine"
	"autoclose/internal/watch"
)

var renderer = diag.Renderer{Color: true}

// generateCmd runs the full pipeline and writes units.
func (a *app) generateCmd() *cobra.Command {
	var descriptor, outDir string
	var dryRun bool
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate teardown units for a descriptor",
		Long: `Analyses every type of the descriptor, reports diagnostics and writes one
unit per eligible type. Units are written even when errors are reported so
the package keeps its method set; the command still exits non-zero.

Example:
  autoclose generate -f autoclose.yaml
  autoclose generate -f autoclose.yaml -o ./gen --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return a.generate(ctx, cmd.OutOrStdout(), descriptor, outDir, dryRun)
		},
	}
	cmd.Flags().StringVarP(&descriptor, "file", "f", "autoclose.yaml", "Descriptor file")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default: the descriptor's directory)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Report the files that would be written")
	return cmd
}

func (a *app) generate(ctx context.Context, out io.Writer, descriptor, outDir string, dryRun bool) (err error) {
	e, cleanup, err := a.engine(descriptor, !dryRun)
	if err != nil {
		return err
	}
	defer func() { err = multierr.Append(err, cleanup()) }()

	res, report, err := e.Run(ctx, descriptor, outDir, dryRun)
	if res != nil {
		a.logger.Info("generation finished",
			zap.String("run_id", res.RunID),
			zap.Int("units", len(res.Units)),
			zap.Int("diagnostics", len(res.Diagnostics)))
		if rerr := renderer.Render(out, res.Diagnostics); rerr != nil {
			return multierr.Append(err, rerr)
		}
	}
	if report != nil {
		printReport(out, report)
	}
	return err
}

func printReport(out io.Writer, r *engine.Report) {
	for _, p := range r.Planned {
		fmt.Fprintf(out, "would write %s\n", p)
	}
	for _, p := range r.Written {
		fmt.Fprintf(out, "wrote %s\n", p)
	}
	for _, p := range r.Removed {
		fmt.Fprintf(out, "removed %s\n", p)
	}
	if n := len(r.Unchanged); n > 0 {
		fmt.Fprintf(out, "%d unit(s) unchanged\n", n)
	}
}

// checkCmd reports diagnostics without writing anything.
func (a *app) checkCmd() *cobra.Command {
	var descriptor string
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Report diagnostics for a descriptor without writing units",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return a.check(ctx, cmd.OutOrStdout(), descriptor)
		},
	}
	cmd.Flags().StringVarP(&descriptor, "file", "f", "autoclose.yaml", "Descriptor file")
	return cmd
}

func (a *app) check(ctx context.Context, out io.Writer, descriptor string) error {
	pkg, err := decl.Load(descriptor)
	if err != nil {
		return err
	}
	e, cleanup, err := a.engine(descriptor, false)
	if err != nil {
		return err
	}
	res, err := e.Generate(ctx, pkg)
	if err != nil {
		return multierr.Append(err, cleanup())
	}
	err = multierr.Combine(renderer.Render(out, res.Diagnostics), cleanup())
	return multierr.Append(err, res.Err(a.cfg.Generator.FailOnWarning))
}

// watchCmd regenerates whenever the descriptor changes.
func (a *app) watchCmd() *cobra.Command {
	var descriptor, outDir string
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Regenerate units whenever the descriptor changes",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signalContext()
			defer cancel()
			return a.watch(ctx, cmd.OutOrStdout(), descriptor, outDir)
		},
	}
	cmd.Flags().StringVarP(&descriptor, "file", "f", "autoclose.yaml", "Descriptor file")
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "Output directory (default: the descriptor's directory)")
	return cmd
}

func (a *app) watch(ctx context.Context, out io.Writer, descriptor, outDir string) error {
	regenerate := func(ctx context.Context) error {
		return a.generate(ctx, out, descriptor, outDir, false)
	}
	// Diagnostics in the first run do not stop watching.
	if err := regenerate(ctx); err != nil {
		a.logger.Warn("initial generation reported problems", zap.Error(err))
	}

	w, err := watch.New(descriptor, a.cfg.GetDebounce(), regenerate)
	if err != nil {
		return err
	}
	if err := w.Start(ctx); err != nil {
		return err
	}
	defer w.Stop()

	fmt.Fprintf(out, "watching %s (ctrl-c to stop)\n", w.Path())
	<-ctx.Done()
	stats := w.Stats()
	a.logger.Info("watch stopped", zap.Int("runs", stats.Runs), zap.Int("errors", stats.Errors))
	return nil
}

// explainCmd renders the documentation of one diagnostic code.
func explainCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "explain [code]",
		Short: "Explain a diagnostic code",
		Long: `Renders the documentation of a diagnostic code.

Example:
  autoclose explain AC0004`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, ok := diag.Lookup(diag.Code(strings.ToUpper(args[0])))
			if !ok {
				return fmt.Errorf("unknown diagnostic code %q; run 'autoclose codes' for the list", args[0])
			}
			r, err := glamour.NewTermRenderer(
				glamour.WithAutoStyle(),
				glamour.WithWordWrap(80),
			)
			if err != nil {
				return fmt.Errorf("failed to create markdown renderer: %w", err)
			}
			rendered, err := r.Render(d.Markdown())
			if err != nil {
				return fmt.Errorf("failed to render %s: %w", d.Code, err)
			}
			_, err = io.WriteString(cmd.OutOrStdout(), rendered)
			return err
		},
	}
}

// codesCmd lists the diagnostic catalogue.
func codesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "codes",
		Short: "List every diagnostic code",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return renderer.RenderCodes(cmd.OutOrStdout())
		},
	}
}
