package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/roach88/puk/internal/cli"
)

func main() {
	cmd := cli.NewRootCommand()
	if err := cmd.Execute(); err != nil {
		var exitErr *cli.ExitError
		// Exit errors were already rendered by the failing command; anything
		// else is a flag/usage problem cobra reported.
		if !errors.As(err, &exitErr) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		}
		os.Exit(cli.GetExitCode(err))
	}
}
