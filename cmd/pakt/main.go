// Command pakt is a cross-format transactional package manager.
package main

import (
	"os"

	"github.com/mgiedrius/pakt/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
