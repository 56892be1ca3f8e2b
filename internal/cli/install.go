package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mgiedrius/pakt/internal/core"
)

var installCmd = &cobra.Command{
	Use:   "install <file|name>...",
	Short: "Install packages from files or repositories",
	Long: `Install one or more packages. Arguments that name an existing .rpm, .deb, or
Arch package file are installed directly; anything else is resolved by name
against the enabled repositories, dependencies first.

Examples:
  pakt install ./nginx-1.24.0-1.x86_64.rpm
  pakt install nginx
  pakt install --version 1.24.0 --repo main nginx`,
	Args: cobra.MinimumNArgs(1),
	Run:  runInstall,
}

var (
	installVersion     string
	installRepo        string
	installDryRun      bool
	installForceOrphan bool
)

func init() {
	installCmd.Flags().StringVar(&installVersion, "version", "", "Pin the version when installing by name")
	installCmd.Flags().StringVar(&installRepo, "repo", "", "Resolve only against the named repository")
	installCmd.Flags().BoolVar(&installDryRun, "dry-run", false, "Resolve and validate without changing anything")
	installCmd.Flags().BoolVar(&installForceOrphan, "force-orphan", false, "Overwrite on-disk files no package owns")
}

func runInstall(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	opts := core.InstallOptions{
		Version:     installVersion,
		Repository:  installRepo,
		DryRun:      installDryRun,
		ForceOrphan: installForceOrphan,
	}
	green := color.New(color.FgGreen)
	for _, source := range args {
		id, err := c.Manager.Install(context.Background(), source, opts)
		if err != nil {
			exitError(err)
		}
		if installDryRun {
			fmt.Printf("dry run: %s would install cleanly\n", source)
			continue
		}
		green.Printf("installed %s", source)
		fmt.Printf(" (changeset %d)\n", id)
	}
}
