package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/JonMunkholm/catalogimport/internal/core"
)

type importOptions struct {
	apply        bool
	kind         string
	mappingFile  string
	templateID   string
	saveTemplate string
	autoFix      bool
	media        bool
}

// importReport is written to stdout as JSON.
type importReport struct {
	Mode       string                  `json:"mode"`
	Source     *core.SourceReport      `json:"source"`
	Mapping    *core.MappingReport     `json:"mapping"`
	References []core.ReferenceSummary `json:"references"`
	Validation *core.ValidationReport  `json:"validation"`
	Preview    *core.PreviewSummary    `json:"preview"`
	Template   *core.ImportTemplate    `json:"template,omitempty"`
	Media      *core.MediaReport       `json:"media,omitempty"`
	Outcome    *core.ImportOutcome     `json:"outcome,omitempty"`
}

func newImportCmd(g *globalOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Map, validate and import a catalog file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd.Context(), g, opts, args[0], cmd.OutOrStdout())
		},
	}

	cmd.Flags().BoolVar(&opts.apply, "apply", false, "Write records to the store (default is dry-run)")
	cmd.Flags().StringVar(&opts.kind, "kind", "", "Force the source kind: delimited or spreadsheet")
	cmd.Flags().StringVar(&opts.mappingFile, "mapping", "", "YAML or JSON file of field: header pairs")
	cmd.Flags().StringVar(&opts.templateID, "template", "", "Apply a saved mapping template by id")
	cmd.Flags().StringVar(&opts.saveTemplate, "save-template", "", "Save the applied mapping as a template with this name")
	cmd.Flags().BoolVar(&opts.autoFix, "autofix", true, "Apply suggested fixes before previewing")
	cmd.Flags().BoolVar(&opts.media, "media", false, "Resolve images before importing")
	cmd.MarkFlagsMutuallyExclusive("mapping", "template")

	cmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		switch core.SourceKind(opts.kind) {
		case "", core.SourceDelimited, core.SourceSpreadsheet:
			return nil
		default:
			return withCode(exitUsage, fmt.Errorf("invalid --kind %q", opts.kind))
		}
	}
	return cmd
}

func runImport(ctx context.Context, g *globalOptions, opts importOptions, path string, out io.Writer) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return withCode(exitUsage, err)
	}

	app, logger, err := openApp(ctx, g)
	if err != nil {
		return err
	}
	defer app.Close()
	svc := app.Service

	sess, err := svc.CreateSession(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = svc.DeleteSession(context.WithoutCancel(ctx), sess.ID) }()

	report := importReport{Mode: "dry_run"}
	if opts.apply {
		report.Mode = "applied"
	}

	report.Source, err = sess.LoadSource(filepath.Base(path), data, core.SourceKind(opts.kind))
	if err != nil {
		return withCode(exitValidation, err)
	}
	logger.Info("source loaded", "file", path, "kind", report.Source.Kind, "rows", report.Source.Rows)

	report.Mapping, err = applyMapping(ctx, svc, sess, opts, report.Source)
	if err != nil {
		return withCode(exitValidation, err)
	}
	if opts.saveTemplate != "" {
		report.Template, err = svc.CreateTemplate(ctx, opts.saveTemplate, sess.Mapping(), sess.Headers())
		if err != nil {
			return withCode(exitValidation, err)
		}
	}

	if report.References, err = sess.ResolveReferences(ctx); err != nil {
		return withCode(exitStore, err)
	}
	if report.Validation, err = sess.Validate(); err != nil {
		return err
	}
	if opts.autoFix && report.Validation.Fixable > 0 {
		if report.Validation, err = sess.AutoFix(nil); err != nil {
			return err
		}
	}
	preview, err := sess.Preview()
	if err != nil {
		return err
	}
	report.Preview = &preview.Summary

	if !opts.apply {
		return printJSON(out, report)
	}

	if opts.media {
		if !svc.MediaEnabled() {
			return withCode(exitUsage, core.ErrMediaDisabled)
		}
		result, err := runAndWait(ctx, svc, logger, func() (string, error) {
			return svc.StartMediaResolution(ctx, sess.ID)
		})
		if err != nil {
			return err
		}
		report.Media = result.Media
	}

	result, err := runAndWait(ctx, svc, logger, func() (string, error) {
		return svc.StartImport(ctx, sess.ID)
	})
	if err != nil {
		return withCode(exitStore, err)
	}
	report.Outcome = result.Import

	if err := printJSON(out, report); err != nil {
		return err
	}
	if o := report.Outcome; o != nil && (o.Failed > 0 || o.Aborted) {
		return withCode(exitPartial, fmt.Errorf("%d of %d records failed", o.Failed, o.Total))
	}
	return nil
}

// applyMapping applies, in order of preference, a saved template, a mapping
// file or the suggested mapping.
func applyMapping(ctx context.Context, svc *core.Service, sess *core.Session, opts importOptions, src *core.SourceReport) (*core.MappingReport, error) {
	switch {
	case opts.templateID != "":
		return svc.ApplyTemplate(ctx, sess.ID, opts.templateID)
	case opts.mappingFile != "":
		raw, err := readMappingFile(opts.mappingFile)
		if err != nil {
			return nil, err
		}
		return sess.ApplyRawMapping(raw)
	default:
		if len(src.Missing) > 0 {
			return nil, fmt.Errorf("no header matches required fields %v; pass --mapping or --template", src.Missing)
		}
		return sess.ApplyMapping(src.Suggested)
	}
}

// readMappingFile parses field: header pairs. YAML is a superset of JSON so
// either format is accepted.
func readMappingFile(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var raw map[string]string
	if err := yaml.Unmarshal(b, &raw); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("%s: mapping is empty", path)
	}
	return raw, nil
}

// runAndWait starts a background run, logs its progress and returns the
// result. Interrupting the command cancels the run.
func runAndWait(ctx context.Context, svc *core.Service, logger *slog.Logger, start func() (string, error)) (*core.RunResult, error) {
	runID, err := start()
	if err != nil {
		return nil, err
	}

	if progress, err := svc.SubscribeProgress(runID); err == nil {
		go func() {
			for p := range progress {
				logProgress(logger, p)
			}
		}()
	}

	result, err := svc.RunResult(ctx, runID)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			_ = svc.CancelRun(runID)
		}
		return nil, err
	}
	if result.Err != nil {
		return result, result.Err
	}
	if result.Phase != core.PhaseCompleted {
		return result, fmt.Errorf("run %s %s: %s", runID, result.Phase, strings.TrimSpace(result.Error))
	}
	return result, nil
}

func logProgress(logger *slog.Logger, p core.RunProgress) {
	switch {
	case p.Import != nil:
		logger.Info("import progress", "run_id", p.RunID, "phase", p.Phase,
			"processed", p.Import.Processed, "total", p.Import.Total, "failed", p.Import.Failed)
	case p.Task != nil:
		logger.Debug("image task", "run_id", p.RunID, "record_id", p.Task.RecordID, "status", p.Task.Status)
	case p.Media != nil:
		logger.Info("media progress", "run_id", p.RunID, "phase", p.Phase,
			"resolved", p.Media.Resolved, "failed", p.Media.Failed, "total", p.Media.Total)
	default:
		logger.Debug("run progress", "run_id", p.RunID, "phase", p.Phase)
	}
}
