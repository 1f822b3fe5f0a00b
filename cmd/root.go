// Package cmd provides the docsmith command-line interface.
//
// Configuration is layered, highest priority first:
//
//  1. Command-line flags (--config, --log-level, --port, ...)
//  2. DOCSMITH_CONFIG_FILE: path to a configuration file
//  3. DOCSMITH_<SECTION>_<OPTION> environment variables
//  4. .docsmith.yml in the working directory
//  5. Built-in defaults
package cmd

import (
	stderrors "errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/docsmith/internal/config"
	"github.com/conneroisu/docsmith/internal/logging"
)

var (
	cfgFile string
	workDir string
)

var rootCmd = &cobra.Command{
	Use:   "docsmith",
	Short: "Build and preview markdown sites with live reload",
	Long: `docsmith renders a tree of markdown documents through a site template
into static HTML, and serves the result with live reload while you edit.

Quick Start:
  docsmith init        Create .docsmith.yml, a template and a first page
  docsmith dev         Build, watch and serve with live reload
  docsmith build       Build the site once
  docsmith serve       Serve a previously built site

Command Aliases:
  init (i), dev (d), serve (s), build (b)`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if workDir != "" {
			if err := os.Chdir(workDir); err != nil {
				return fmt.Errorf("change to working directory: %w", err)
			}
		}
		return readConfig()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is .docsmith.yml, can also use DOCSMITH_CONFIG_FILE env var)")
	flags.StringVarP(&workDir, "workdir", "C", "", "run as if started in this directory")
	flags.String("log-level", "info", "log level (debug, info, warn, error)")
	flags.String("log-format", "text", "log format (text, json)")

	_ = viper.BindPFlag("logging.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("logging.format", flags.Lookup("log-format"))
}

// initConfig points viper at the configuration file and the environment.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv("DOCSMITH_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(config.FileName)
	}

	viper.SetEnvPrefix("DOCSMITH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
}

// readConfig reads the configuration file, relative to --workdir when it
// is set. A missing default file is fine; an explicit file that cannot be
// read is not.
func readConfig() error {
	var notFound viper.ConfigFileNotFoundError

	err := viper.ReadInConfig()
	switch {
	case err == nil:
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
		return nil
	case stderrors.As(err, &notFound):
		return nil
	default:
		return fmt.Errorf("read config: %w", err)
	}
}

// loadConfig unmarshals and validates the layered configuration and
// builds the logger it describes.
func loadConfig() (*config.Config, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}

	level, err := logging.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid configuration: logging.level: %w", err)
	}

	logger := logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	return cfg, logger, nil
}
