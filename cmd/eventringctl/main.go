// Command eventringctl creates, inspects, tails, and benchmarks event
// ring images, following the teacher's yanet-coordinator's root-command
// layout (coordinator/cmd/coordinator/main.go): a single cobra root
// command with required/optional persistent flags and subcommands that
// share a loaded *appconfig.Config.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/monad-crypto/eventring/internal/appconfig"
	"github.com/monad-crypto/eventring/internal/logging"
	"github.com/monad-crypto/eventring/internal/xcmd"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "eventringctl",
	Short: "Create, inspect and tail shared-memory event rings",
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file (optional, defaults are used otherwise)")
	rootCmd.AddCommand(initCmd, inspectCmd, tailCmd, benchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var interrupted xcmd.Interrupted
		if errors.As(err, &interrupted) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func loadConfig() (*appconfig.Config, error) {
	if configPath == "" {
		return appconfig.DefaultConfig(), nil
	}
	return appconfig.LoadConfig(configPath)
}

func newLogger(cfg *appconfig.Config) (*zap.SugaredLogger, error) {
	log, _, err := logging.Init(&cfg.Logging)
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}
	return log, nil
}
