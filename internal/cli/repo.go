package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mgiedrius/pakt/internal/models"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage package repositories",
	Long: `Manage the set of repositories packages are resolved from.

Without a subcommand, lists all configured repositories.

Examples:
  pakt repo                              List all repositories
  pakt repo add main https://...         Add a repository named 'main'
  pakt repo sync                         Refresh every enabled repository
  pakt repo disable main                 Exclude a repository from resolution`,
	Run: runRepoList,
}

var (
	repoAddPriority int64
	repoAddGPGKey   string
	repoAddDisabled bool
	repoSyncForce   bool
)

var repoAddCmd = &cobra.Command{
	Use:   "add <name> <url>",
	Short: "Add a repository",
	Args:  cobra.ExactArgs(2),
	Run:   runRepoAdd,
}

var repoRemoveCmd = &cobra.Command{
	Use:     "remove <name>",
	Aliases: []string{"rm"},
	Short:   "Remove a repository and its synced catalog",
	Args:    cobra.ExactArgs(1),
	Run:     runRepoRemove,
}

var repoEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Include a repository in resolution and sync",
	Args:  cobra.ExactArgs(1),
	Run:   func(cmd *cobra.Command, args []string) { setRepoEnabled(args[0], true) },
}

var repoDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Exclude a repository from resolution and sync",
	Args:  cobra.ExactArgs(1),
	Run:   func(cmd *cobra.Command, args []string) { setRepoEnabled(args[0], false) },
}

var repoSyncCmd = &cobra.Command{
	Use:   "sync [name]",
	Short: "Refresh repository catalogs",
	Long: `Refresh the named repository's catalog, or every enabled repository when no
name is given. Fresh metadata is skipped unless --force is set.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runRepoSync,
}

func init() {
	repoAddCmd.Flags().Int64Var(&repoAddPriority, "priority", 0, "Resolution priority (higher wins)")
	repoAddCmd.Flags().StringVar(&repoAddGPGKey, "gpg-key", "", "URL of the repository signing key")
	repoAddCmd.Flags().BoolVar(&repoAddDisabled, "disabled", false, "Add the repository disabled")
	repoSyncCmd.Flags().BoolVar(&repoSyncForce, "force", false, "Refresh even when metadata is still fresh")

	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoRemoveCmd)
	repoCmd.AddCommand(repoEnableCmd)
	repoCmd.AddCommand(repoDisableCmd)
	repoCmd.AddCommand(repoSyncCmd)
}

func runRepoList(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	repos, err := c.Manager.RepoList()
	if err != nil {
		exitError(err)
	}
	for _, r := range repos {
		state := color.GreenString("enabled")
		if !r.Enabled {
			state = color.RedString("disabled")
		}
		fmt.Printf("%s\t%s\t%s\tpriority %d", r.Name, state, r.URL, r.Priority)
		if !r.LastSync.IsZero() {
			fmt.Printf("\tsynced %s", r.LastSync.Format("2006-01-02 15:04"))
		}
		fmt.Println()
	}
}

func runRepoAdd(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	repo := &models.Repository{
		Name:      args[0],
		URL:       args[1],
		Enabled:   !repoAddDisabled,
		Priority:  repoAddPriority,
		GPGCheck:  repoAddGPGKey != "",
		GPGKeyURL: repoAddGPGKey,
	}
	if err := c.Manager.RepoAdd(repo); err != nil {
		exitError(err)
	}
	fmt.Printf("added repository %s\n", repo.Name)
}

func runRepoRemove(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	if err := c.Manager.RepoRemove(args[0]); err != nil {
		exitError(err)
	}
	fmt.Printf("removed repository %s\n", args[0])
}

func setRepoEnabled(name string, enabled bool) {
	c := openManager()
	defer c.Close()

	if err := c.Manager.RepoSetEnabled(name, enabled); err != nil {
		exitError(err)
	}
	if enabled {
		fmt.Printf("enabled repository %s\n", name)
	} else {
		fmt.Printf("disabled repository %s\n", name)
	}
}

func runRepoSync(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	ctx := context.Background()
	if len(args) == 1 {
		n, err := c.Manager.RepoSync(ctx, args[0], repoSyncForce)
		if err != nil {
			exitError(err)
		}
		fmt.Printf("synced %d package(s) from %s\n", n, args[0])
		return
	}
	if err := c.Manager.RepoSyncAll(ctx, repoSyncForce); err != nil {
		exitError(err)
	}
	fmt.Println("synced all enabled repositories")
}
