package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/conneroisu/docsmith/internal/config"
	"github.com/conneroisu/docsmith/internal/logging"
	"github.com/conneroisu/docsmith/internal/reload"
	"github.com/conneroisu/docsmith/internal/server"
)

const shutdownTimeout = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:     "serve",
	Aliases: []string{"s"},
	Short:   "Serve a previously built site",
	Long: `Serve the output directory over HTTP without watching or rebuilding.

Requests for /about fall back to about.html and then about/index.html.
The live-reload endpoints stay available but never signal a reload.

Examples:
  docsmith serve                  # Serve build/ on localhost:5002
  docsmith serve -p 8080 --no-open`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	addSiteFlags(serveCmd)
	addServerFlags(serveCmd)

	serveCmd.PreRunE = func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd, siteBindings, serverBindings)
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	outputRoot, err := cfg.OutputRoot()
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
	defer stop()

	broadcaster := reload.NewBroadcaster(cfg.Reload.Buffer, logger)
	srv := server.New(server.Options{
		Addr:        cfg.Address(),
		Fs:          afero.NewOsFs(),
		OutputRoot:  outputRoot,
		Broadcaster: broadcaster,
		KeepAlive:   cfg.Reload.KeepAlive,
		Logger:      logger,
	})

	return runServer(ctx, cmd, cfg, logger, srv, broadcaster, nil)
}

// runServer listens, optionally opens the browser and serves until ctx is
// done or a value arrives on fatal. The broadcaster is closed before the
// HTTP server shuts down so reload streams end.
func runServer(
	ctx context.Context,
	cmd *cobra.Command,
	cfg *config.Config,
	logger logging.Logger,
	srv *server.Server,
	broadcaster *reload.Broadcaster,
	fatal <-chan error,
) error {
	defer broadcaster.Close()

	if err := srv.Listen(); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	printSuccess(out, "Serving at %s", srv.URL())

	noOpen, _ := cmd.Flags().GetBool("no-open")
	if cfg.Server.Open && !noOpen {
		go server.OpenBrowser(ctx, srv.URL(), logger)
	}

	served := make(chan error, 1)
	go func() { served <- srv.Serve() }()

	var err error
	select {
	case <-ctx.Done():
		printDetail(out, "Shutting down")
	case err = <-fatal:
		printFailure(out, "%v", err)
	case err = <-served:
		return err
	}

	broadcaster.Close()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if shutdownErr := srv.Shutdown(shutdownCtx); shutdownErr != nil {
		logger.Warn(shutdownCtx, shutdownErr, "Error during server shutdown")
	}
	<-served

	return err
}
