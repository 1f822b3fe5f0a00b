package cmd

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Flag name to config key.
var (
	siteBindings = map[string]string{
		"source": "source_dir",
		"output": "output_dir",
	}
	serverBindings = map[string]string{
		"port": "server.port",
		"host": "server.host",
	}
)

// addSiteFlags registers the directory overrides shared by build, dev and
// serve.
func addSiteFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("source", "s", "", "source directory (default src)")
	cmd.Flags().StringP("output", "o", "", "output directory (default build)")
}

func addServerFlags(cmd *cobra.Command) {
	cmd.Flags().IntP("port", "p", 5002, "port to serve on (0 picks a free port)")
	cmd.Flags().String("host", "localhost", "host to bind to")
	cmd.Flags().Bool("no-open", false, "don't open the browser")
	AddFlagValidation(cmd, "port", ValidatePort)
}

// bindFlags binds changed flags to their viper keys when the command runs.
// Binding at run time keeps commands that share a flag name from
// overriding each other's bindings.
func bindFlags(cmd *cobra.Command, bindings ...map[string]string) error {
	for _, m := range bindings {
		for name, key := range m {
			flag := cmd.Flags().Lookup(name)
			if flag == nil || !flag.Changed {
				continue
			}
			if err := viper.BindPFlag(key, flag); err != nil {
				return err
			}
		}
	}
	return nil
}

// AddFlagValidation runs validator before a flag value is accepted.
func AddFlagValidation(cmd *cobra.Command, flagName string, validator func(string) error) {
	flag := cmd.Flags().Lookup(flagName)
	if flag == nil {
		return
	}

	flag.Value = &validatingValue{
		Value:     flag.Value,
		validator: validator,
	}
}

type validatingValue struct {
	pflag.Value
	validator func(string) error
}

func (v *validatingValue) Set(val string) error {
	if v.validator != nil {
		if err := v.validator(val); err != nil {
			return err
		}
	}
	return v.Value.Set(val)
}

// ValidatePort accepts 0 through 65535; 0 lets the OS choose.
func ValidatePort(portStr string) error {
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port number: %s", portStr)
	}

	if port < 0 || port > 65535 {
		return fmt.Errorf("port must be between 0 and 65535, got %d", port)
	}

	return nil
}
