package cli

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/mgiedrius/pakt/internal/core"
	"github.com/mgiedrius/pakt/internal/errdefs"
)

var verifyCmd = &cobra.Command{
	Use:   "verify [name]",
	Short: "Check installed files against their recorded hashes",
	Long: `Rehash every file the named package installed, or every tracked file when no
name is given, and report files that were modified or deleted behind pakt's
back. Exits non-zero when any drift is found.`,
	Args: cobra.MaximumNArgs(1),
	Run:  runVerify,
}

var verifyQuiet bool

func init() {
	verifyCmd.Flags().BoolVarP(&verifyQuiet, "quiet", "q", false, "Only print the summary")
}

func runVerify(cmd *cobra.Command, args []string) {
	c := openManager()
	defer c.Close()

	name := ""
	if len(args) == 1 {
		name = args[0]
	}
	report, err := c.Manager.Verify(name)
	if err != nil {
		exitError(err)
	}

	yellow := color.New(color.FgYellow)
	red := color.New(color.FgRed)
	if !verifyQuiet {
		for _, r := range report.Results {
			switch r.Status {
			case core.VerifyModified:
				yellow.Printf("modified  %s (%s)\n", r.Path, r.Trove)
			case core.VerifyMissing:
				red.Printf("missing   %s (%s)\n", r.Path, r.Trove)
			}
		}
	}

	fmt.Printf("%d ok, %d modified, %d missing\n", report.OK, report.Modified, report.Missing)
	if !report.Clean() {
		os.Exit(errdefs.ExitCode(errdefs.ErrIntegrity))
	}
}
