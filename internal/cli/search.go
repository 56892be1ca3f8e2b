package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var searchCmd = &cobra.Command{
	Use:   "search <pattern>",
	Short: "Search the synced repository catalogs",
	Long:  `Find repository packages whose name or description matches the pattern.`,
	Args:  cobra.ExactArgs(1),
	Run:   runSearch,
}

func runSearch(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	pkgs, err := c.Manager.Search(args[0])
	if err != nil {
		exitError(err)
	}
	if len(pkgs) == 0 {
		fmt.Println("no packages found")
		return
	}
	for _, p := range pkgs {
		fmt.Printf("%s %s", p.Name, p.Version)
		if p.Description != "" {
			fmt.Printf(" - %s", p.Description)
		}
		fmt.Println()
	}
}
