// Command markwatch keeps a ledger of pages carrying a work-in-progress
// marker on a MediaWiki wiki and reminds editors who leave it too long.
package main

import (
	"fmt"
	"os"

	"github.com/roach88/markwatch/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
