package cli

import (
	"fmt"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mgiedrius/pakt/internal/pkgfile"
)

var infoCmd = &cobra.Command{
	Use:   "info <file>",
	Short: "Inspect a package file without installing it",
	Long: `Detect the format of a package file and print its metadata, dependencies,
and payload summary.`,
	Args: cobra.ExactArgs(1),
	Run:  runInfo,
}

func runInfo(cmd *cobra.Command, args []string) {
	format, err := pkgfile.Detect(args[0])
	if err != nil {
		exitError(err)
	}
	pkg, err := pkgfile.Read(args[0])
	if err != nil {
		exitError(err)
	}

	bold := color.New(color.Bold)
	bold.Printf("%s %s\n", pkg.Name, pkg.Version)
	fmt.Printf("Format:       %s\n", format)
	if pkg.Architecture != "" {
		fmt.Printf("Architecture: %s\n", pkg.Architecture)
	}
	if pkg.Description != "" {
		fmt.Printf("Description:  %s\n", pkg.Description)
	}
	if pkg.License != "" {
		fmt.Printf("License:      %s\n", pkg.License)
	}
	if pkg.Vendor != "" {
		fmt.Printf("Vendor:       %s\n", pkg.Vendor)
	}
	if pkg.URL != "" {
		fmt.Printf("URL:          %s\n", pkg.URL)
	}

	var total int64
	for _, f := range pkg.Files {
		total += f.Size
	}
	fmt.Printf("Files:        %d (%d bytes)\n", len(pkg.Files), total)

	if len(pkg.Dependencies) > 0 {
		fmt.Println("Dependencies:")
		for _, d := range pkg.Dependencies {
			fmt.Printf("  %s", d.Name)
			if d.Constraint != "" {
				fmt.Printf(" %s", d.Constraint)
			}
			if d.Type != "" {
				fmt.Printf(" [%s]", d.Type)
			}
			fmt.Println()
		}
	}
}
