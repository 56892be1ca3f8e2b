package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mgiedrius/pakt/internal/models"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the changeset journal",
	Long:  `List changesets newest first: installs, removals, updates, and rollbacks.`,
	Args:  cobra.NoArgs,
	Run:   runHistory,
}

var historyLimit int

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "n", "n", 0, "Limit the number of changesets to show")
}

func runHistory(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	changesets, err := c.Manager.History(historyLimit)
	if err != nil {
		exitError(err)
	}
	if len(changesets) == 0 {
		fmt.Println("No changesets yet")
		return
	}

	yellow := color.New(color.FgYellow)
	for _, cs := range changesets {
		yellow.Printf("changeset %d", cs.ID)
		switch cs.Status {
		case models.ChangesetRolledBack:
			color.New(color.FgRed).Printf(" [rolled back by %d]", cs.ReversedBy)
		case models.ChangesetPending:
			color.New(color.FgCyan).Print(" [pending]")
		}
		fmt.Println()
		fmt.Printf("Date:   %s\n", cs.CreatedAt.Format("Mon Jan 2 15:04:05 2006"))
		fmt.Printf("\n    %s\n\n", cs.Description)
	}
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show accumulated delta download savings",
	Args:  cobra.NoArgs,
	Run:   runStats,
}

func runStats(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	stats, err := c.Manager.DeltaSavings()
	if err != nil {
		exitError(err)
	}
	fmt.Printf("deltas applied:  %d\n", stats.DeltasApplied)
	fmt.Printf("full downloads:  %d\n", stats.FullDownloads)
	fmt.Printf("delta failures:  %d\n", stats.DeltaFailures)
	fmt.Printf("bytes saved:     %d\n", stats.BytesSaved)
}
