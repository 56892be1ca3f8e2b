package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mgiedrius/pakt/internal/errdefs"
)

var rollbackCmd = &cobra.Command{
	Use:   "rollback <changeset-id>",
	Short: "Reverse an applied changeset",
	Long: `Undo the file effects of an applied changeset and drop the packages it
installed. The reversal is journaled as its own changeset. Use 'pakt history'
to find changeset ids.`,
	Args: cobra.ExactArgs(1),
	Run:  runRollback,
}

func runRollback(cmd *cobra.Command, args []string) {
	target, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		exitError(errdefs.New(errdefs.KindInvalidUsage, "invalid changeset id %q", args[0]))
	}

	c := openManager()
	defer c.Close()

	id, err := c.Manager.Rollback(context.Background(), target)
	if err != nil {
		exitError(err)
	}
	color.New(color.FgGreen).Printf("rolled back changeset %d", target)
	fmt.Printf(" (changeset %d)\n", id)
}
