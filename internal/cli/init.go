package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mgiedrius/pakt/internal/core"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize the pakt state directory",
	Long: `Create the state database, object store, and scratch directories under the
configured root.`,
	Args: cobra.NoArgs,
	Run:  runInit,
}

func runInit(cmd *cobra.Command, args []string) {
	cfg := loadConfig()
	m, err := core.Init(cfg.RootDir, &core.Options{
		InstallRoot: cfg.InstallRoot,
		Fetcher:     cfg.Fetcher(),
	})
	if err != nil {
		exitError(err)
	}
	defer m.Close()
	fmt.Printf("Initialized pakt state in %s\n", cfg.RootDir)
}
