// Package cli implements the command-line interface for pakt.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mgiedrius/pakt/internal/config"
	"github.com/mgiedrius/pakt/internal/core"
	"github.com/mgiedrius/pakt/internal/errdefs"
	"github.com/mgiedrius/pakt/internal/logging"
)

// cmdContext holds common resources for CLI commands
type cmdContext struct {
	Config  *config.Config
	Manager *core.Manager
}

// Close releases resources held by cmdContext
func (c *cmdContext) Close() {
	if c.Manager != nil {
		c.Manager.Close()
	}
}

var (
	cfgPath     string
	rootDir     string
	installRoot string
	verbosity   int
)

// loadConfig loads the config file and applies flag overrides
func loadConfig() *config.Config {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		exitError(err)
	}
	if rootDir != "" {
		cfg.RootDir = rootDir
	}
	if installRoot != "" {
		cfg.InstallRoot = installRoot
	}
	return cfg
}

// openManager opens the state root for an already-initialized installation
func openManager() *cmdContext {
	cfg := loadConfig()
	m, err := core.Open(cfg.RootDir, &core.Options{
		InstallRoot: cfg.InstallRoot,
		Fetcher:     cfg.Fetcher(),
	})
	if err != nil {
		exitError(err)
	}
	return &cmdContext{Config: cfg, Manager: m}
}

var rootCmd = &cobra.Command{
	Use:   "pakt",
	Short: "Cross-format transactional package manager",
	Long: `pakt installs RPM, Debian, and Arch packages through a single transactional
engine. Every operation is journaled as a changeset backed by a
content-addressed object store, so installs, removals, and updates can be
rolled back.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Setup(verbosity)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "Config file (default $XDG_CONFIG_HOME/pakt/config.toml)")
	rootCmd.PersistentFlags().StringVar(&rootDir, "root", "", "State directory (overrides config)")
	rootCmd.PersistentFlags().StringVar(&installRoot, "install-root", "", "Filesystem prefix to deploy under (overrides config)")
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v", "Increase log verbosity (-v, -vv)")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(installCmd)
	rootCmd.AddCommand(removeCmd)
	rootCmd.AddCommand(updateCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(filesCmd)
	rootCmd.AddCommand(dependsCmd)
	rootCmd.AddCommand(rdependsCmd)
	rootCmd.AddCommand(whatBreaksCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(repoCmd)
	rootCmd.AddCommand(cleanCmd)
	rootCmd.AddCommand(infoCmd)
}

// exitError prints an error and exits with its classified code
func exitError(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(errdefs.ExitCode(err))
}
