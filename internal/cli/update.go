package cli

import (
	"context"
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var updateCmd = &cobra.Command{
	Use:   "update [name]",
	Short: "Upgrade installed packages to the newest repository versions",
	Long: `Upgrade the named package, or everything installed when no name is given.
When a repository advertises a binary delta matching the installed content,
only the delta is downloaded; any delta failure falls back to the full
package.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runUpdate,
}

func runUpdate(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	summary, err := c.Manager.Update(context.Background(), name)
	if err != nil {
		exitError(err)
	}

	if len(summary.Updated) == 0 {
		fmt.Println("Everything is up to date")
		return
	}
	green := color.New(color.FgGreen)
	for _, line := range summary.Updated {
		green.Printf("updated %s\n", line)
	}
	if summary.Stats.DeltasApplied > 0 {
		fmt.Printf("%d delta(s) saved %d bytes\n", summary.Stats.DeltasApplied, summary.Stats.BytesSaved)
	}
	if summary.Stats.DeltaFailures > 0 {
		color.New(color.FgYellow).Printf("%d delta(s) failed, fell back to full downloads\n", summary.Stats.DeltaFailures)
	}
}
