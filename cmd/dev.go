package cmd

import (
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/conneroisu/docsmith/internal/build"
	"github.com/conneroisu/docsmith/internal/errors"
	"github.com/conneroisu/docsmith/internal/rebuild"
	"github.com/conneroisu/docsmith/internal/reload"
	"github.com/conneroisu/docsmith/internal/server"
	"github.com/conneroisu/docsmith/internal/watcher"
)

var devCmd = &cobra.Command{
	Use:     "dev",
	Aliases: []string{"d"},
	Short:   "Build, watch and serve with live reload",
	Long: `Build the site, then watch the source and template directories and
rebuild what changed. Connected browsers reload after every rebuild.

A document that fails to render is reported and skipped; fix it and save
again. Failures of the file watcher itself stop the command with status 1.

Examples:
  docsmith dev                    # Watch src/ and serve on localhost:5002
  docsmith dev -p 0 --no-open     # Pick a free port, keep the browser closed`,
	RunE: runDev,
}

func init() {
	rootCmd.AddCommand(devCmd)
	addSiteFlags(devCmd)
	addServerFlags(devCmd)

	devCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, siteBindings, serverBindings)
	}
}

func runDev(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}

	fs := afero.NewOsFs()
	s, err := newSite(fs, cfg, logger, true)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	out := cmd.OutOrStdout()

	// A missing source directory fails here, before anything is built.
	funnel, err := watcher.NewFunnel(s.templateRoot, s.sourceRoot,
		watcher.WithRenameDelay(cfg.Reload.RenameDelay),
		watcher.WithLogger(logger),
	)
	if err != nil {
		printFailure(out, "%v", err)
		return err
	}
	defer funnel.Stop()

	if err := fullBuild(ctx, out, s); err != nil && !errors.IsRecoverable(err) {
		return err
	}

	broadcaster := reload.NewBroadcaster(cfg.Reload.Buffer, logger)
	driver := rebuild.New(funnel.Queue(), s.builder, broadcaster,
		rebuild.WithLogger(logger),
		rebuild.WithPayload(s.builder.Fingerprint),
	)

	srv := server.New(server.Options{
		Addr:        cfg.Address(),
		Fs:          fs,
		OutputRoot:  s.outputRoot,
		Broadcaster: broadcaster,
		KeepAlive:   cfg.Reload.KeepAlive,
		Logger:      logger,
	})

	if err := funnel.Start(ctx); err != nil {
		return err
	}
	go func() {
		_ = driver.Run(ctx)
	}()
	defer funnel.Queue().Close()

	err = runServer(ctx, cmd, cfg, logger, srv, broadcaster, funnel.Errors())
	handled, failed := driver.Stats()
	logger.Info(ctx, "Dev session ended", "changes", handled, "failed", failed)
	reportSession(out, handled, failed, s.builder.Metrics())
	return err
}

// reportSession prints what the watch loop did since the initial build.
func reportSession(out io.Writer, handled, failed int64, metrics *build.BuildMetrics) {
	printDetail(out, "%d changes handled, %d failed", handled, failed)
	if snapshot := metrics.GetSnapshot(); snapshot.TotalBuilds > 0 {
		printDetail(out, "%d writes, %.0f%% succeeded", snapshot.TotalBuilds, metrics.GetSuccessRate())
	}
}
