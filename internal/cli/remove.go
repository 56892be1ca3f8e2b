package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var removeCmd = &cobra.Command{
	Use:     "remove <name>...",
	Aliases: []string{"rm"},
	Short:   "Uninstall packages",
	Long: `Uninstall one or more packages. Removal is refused while other installed
packages still depend on the target; the error lists the dependents.`,
	Args: cobra.MinimumNArgs(1),
	Run:  runRemove,
}

func runRemove(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	green := color.New(color.FgGreen)
	for _, name := range args {
		id, err := c.Manager.Remove(context.Background(), name)
		if err != nil {
			exitError(err)
		}
		green.Printf("removed %s", name)
		fmt.Printf(" (changeset %d)\n", id)
	}
}
