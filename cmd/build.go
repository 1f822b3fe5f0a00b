package cmd

import (
	"context"
	stderrors "errors"
	"io"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/conneroisu/docsmith/internal/errors"
)

var buildCmd = &cobra.Command{
	Use:     "build",
	Aliases: []string{"b"},
	Short:   "Build the site once",
	Long: `Render every document of the source directory through the selected
template into the output directory, then exit.

Documents that fail to render are reported and skipped; the command exits
with status 1 when any document failed.

Examples:
  docsmith build                  # Build src/ into build/
  docsmith build -o public        # Build into public/`,
	RunE: runBuild,
}

func init() {
	rootCmd.AddCommand(buildCmd)
	addSiteFlags(buildCmd)

	buildCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, siteBindings)
	}
}

func runBuild(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	s, err := newSite(afero.NewOsFs(), cfg, logger, false)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := fullBuild(commandContext(cmd), out, s); err != nil {
		return err
	}
	return nil
}

// fullBuild runs a full build and prints its outcome. Metrics start over,
// so the summary and any later session report cover this build onwards.
func fullBuild(ctx context.Context, out io.Writer, s *site) error {
	s.builder.Metrics().Reset()
	start := time.Now()
	err := s.builder.BuildAll(ctx)
	metrics := s.builder.Metrics().GetSnapshot()

	if err != nil {
		printFailure(out, "Build of %s finished with errors", s.sourceRoot)
		reportErrors(out, err)
		if metrics.TotalBuilds > 0 {
			printDetail(out, "%d writes, %.0f%% succeeded", metrics.TotalBuilds, s.builder.Metrics().GetSuccessRate())
		}
		return err
	}

	printSuccess(out, "Built %s in %s", s.outputRoot, time.Since(start).Round(time.Millisecond))
	printDetail(out, "%d files written, %d unchanged", metrics.TotalBuilds-metrics.SkippedWrites, metrics.SkippedWrites)
	return nil
}

func reportErrors(out io.Writer, err error) {
	var multi *errors.MultiError
	if stderrors.As(err, &multi) {
		for _, e := range multi.Errors {
			printDetail(out, "%v", e)
		}
		return
	}
	printDetail(out, "%v", err)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
