// Command aosim publishes modules, spawns processes and drives them against
// a local ledger.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/aosim/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		// Commands report their own errors; cobra's parse errors are not.
		var exitErr *cli.ExitError
		if !errors.As(err, &exitErr) {
			fmt.Fprintln(os.Stderr, "Error:", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
