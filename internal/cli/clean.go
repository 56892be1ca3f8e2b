package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Delete unreferenced objects from the content store",
	Long: `Delete content objects no installed file and no changeset journal entry
references any more, and report the bytes reclaimed.`,
	Args: cobra.NoArgs,
	Run:  runClean,
}

func runClean(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	reclaimed, err := c.Manager.Clean()
	if err != nil {
		exitError(err)
	}
	fmt.Printf("reclaimed %d bytes\n", reclaimed)
}
