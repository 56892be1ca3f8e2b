package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:     "query [pattern]",
	Aliases: []string{"list"},
	Short:   "List installed packages",
	Long: `List installed packages, optionally filtered by a name substring.

Examples:
  pakt query
  pakt query nginx`,
	Args: cobra.MaximumNArgs(1),
	Run:  runQuery,
}

var filesCmd = &cobra.Command{
	Use:   "files <name>",
	Short: "List the files an installed package owns",
	Args:  cobra.ExactArgs(1),
	Run:   runFiles,
}

var dependsCmd = &cobra.Command{
	Use:   "depends <name>",
	Short: "List the dependencies a package declares",
	Args:  cobra.ExactArgs(1),
	Run:   runDepends,
}

var rdependsCmd = &cobra.Command{
	Use:   "rdepends <name>",
	Short: "List the installed packages depending on a package",
	Args:  cobra.ExactArgs(1),
	Run:   runRDepends,
}

var whatBreaksCmd = &cobra.Command{
	Use:   "what-breaks <name>",
	Short: "Show what would stop working if a package were removed",
	Long: `Follow reverse dependencies transitively and list every installed package
that would break if the named package were removed.`,
	Args: cobra.ExactArgs(1),
	Run:  runWhatBreaks,
}

func runQuery(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	pattern := ""
	if len(args) == 1 {
		pattern = args[0]
	}
	troves, err := c.Manager.Query(pattern)
	if err != nil {
		exitError(err)
	}
	for _, t := range troves {
		fmt.Printf("%s %s", t.Name, t.Version)
		if t.Architecture != "" {
			fmt.Printf(" (%s)", t.Architecture)
		}
		fmt.Println()
	}
}

func runFiles(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	files, err := c.Manager.Files(args[0])
	if err != nil {
		exitError(err)
	}
	for _, f := range files {
		fmt.Println(f.Path)
	}
}

func runDepends(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	deps, err := c.Manager.Depends(args[0])
	if err != nil {
		exitError(err)
	}
	for _, d := range deps {
		fmt.Printf("%s", d.Name)
		if d.Constraint != "" {
			fmt.Printf(" %s", d.Constraint)
		}
		if d.Type != "" {
			fmt.Printf(" [%s]", d.Type)
		}
		fmt.Println()
	}
}

func runRDepends(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	names, err := c.Manager.RDepends(args[0])
	if err != nil {
		exitError(err)
	}
	for _, name := range names {
		fmt.Println(name)
	}
}

func runWhatBreaks(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	names, err := c.Manager.WhatBreaks(args[0])
	if err != nil {
		exitError(err)
	}
	if len(names) == 0 {
		fmt.Printf("nothing depends on %s\n", args[0])
		return
	}
	red := color.New(color.FgRed)
	for _, name := range names {
		red.Println(name)
	}
}
