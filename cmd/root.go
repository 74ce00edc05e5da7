// -- cmd/root.go --
package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/courier-cli/internal/config"
	"github.com/xkilldash9x/courier-cli/internal/observability"
)

// rootOptions carries state from the persistent flags and the config load
// into the subcommands. A fresh instance per NewRootCommand keeps repeated
// executions (tests, the interactive shell) isolated.
type rootOptions struct {
	cfgFile string
	cfg     *config.Config
}

// NewRootCommand builds the courier command tree. Each call returns an
// independent instance so flag state never leaks between executions.
func NewRootCommand() *cobra.Command {
	root, _ := newRootCmd()
	return root
}

func newRootCmd() (*cobra.Command, *rootOptions) {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:           "courier",
		Short:         "Courier drives authenticated, humanized message delivery sessions.",
		Long: `Courier automates an end-to-end web messaging workflow: it establishes an
authenticated browser session (reusing stored session artifacts when it
can), clears verification challenges, and delivers a message to each
configured target with humanized input and randomized pacing. Every
target produces exactly one recorded result, success or failure.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(opts.cfgFile)
			if err != nil {
				// A fallback logger so the failure itself is reported sanely.
				observability.InitializeLogger(config.LoggerConfig{Level: "info", Format: "console", ServiceName: "courier"})
				return err
			}
			observability.InitializeLogger(cfg.Logger)
			opts.cfg = cfg
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&opts.cfgFile, "config", "c", "", "config file (default is ./courier.yaml)")
	root.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	root.AddCommand(newRunCmd(opts))
	root.AddCommand(newResultsCmd(opts))
	return root, opts
}

// Execute runs the command tree under the given context and reports the
// failure through the configured logger.
func Execute(ctx context.Context) error {
	root := NewRootCommand()
	if err := root.ExecuteContext(ctx); err != nil {
		observability.GetLogger().Error("command failed", zap.Error(err))
		return err
	}
	return nil
}

// loadConfig reads the config file (when present), layers COURIER_*
// environment variables on top, and validates the result.
func loadConfig(cfgFile string) (*config.Config, error) {
	v := viper.New()
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	} else {
		v.AddConfigPath(".")
		v.SetConfigName("courier")
		v.SetConfigType("yaml")
	}

	config.SetDefaults(v)

	v.SetEnvPrefix("COURIER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// No config file; defaults and environment carry the run.
	}
	return config.NewConfigFromViper(v)
}
