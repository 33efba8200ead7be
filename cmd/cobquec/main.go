// Package main is the entry point for the cobquec CLI.
package main

import (
	"os"

	"github.com/roach88/cobquec/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(cli.GetExitCode(err))
	}
}
