// Package main provides the entry point for the colorgrid command.
package main

import (
	"os"

	"colorgrid/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
