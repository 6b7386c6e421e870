package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/makeasinger/deckflow/internal/config"
	"github.com/makeasinger/deckflow/internal/logger"
)

var cfgFile string

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "deckflow",
	Short: "Follow presentation generation jobs from the terminal",
	Long: `deckflow is the terminal client for the presentation generation service.

It resolves where a job is in its lifecycle, starts queued jobs, catches up
on history for running ones and follows the live event stream until the
deck is finished.

Configuration is read from flags, DECKFLOW_* environment variables or a
config.yaml file.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return bindFlags(cmd)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return ExecuteContext(context.Background())
}

// ExecuteContext runs the root command with ctx available to every
// subcommand through cmd.Context().
func ExecuteContext(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "Failed to read config file %s: %v\n", cfgFile, err)
		}
	}
}

// loadConfig resolves the configuration through the global viper instance
// so bound flags take precedence over the environment.
func loadConfig() (*config.Config, *zap.Logger, error) {
	cfg, err := config.Load(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}
	zl, err := logger.New(cfg.Server.LogLevel, cfg.Server.Env)
	if err != nil {
		return nil, nil, err
	}
	return cfg, zl, nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./config.yaml)")

	rootCmd.PersistentFlags().String("url", "", "presentation service base URL")
	rootCmd.PersistentFlags().String("ws-url", "", "stream base URL (derived from --url when empty)")
	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
}

// flagKeys maps flag names to the config keys they override.
var flagKeys = map[string]string{
	"url":       "client.base_url",
	"ws-url":    "client.ws_url",
	"token":     "client.auth_token",
	"log-level": "server.log_level",
	"store":     "store.backend",
	"secret":    "jwt.secret",
}

// bindFlags binds the flags cmd knows about to their config keys. It runs
// before every command so the bindings survive a viper reset.
func bindFlags(cmd *cobra.Command) error {
	for name, key := range flagKeys {
		flag := cmd.Flags().Lookup(name)
		if flag == nil {
			continue
		}
		if err := viper.BindPFlag(key, flag); err != nil {
			return err
		}
	}
	return nil
}
