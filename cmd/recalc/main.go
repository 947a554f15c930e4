// Package main implements the recalc CLI. It evaluates formulas and
// recalculates small workbooks assembled from command-line flags.
package main

import (
	"os"

	"github.com/vogtb/go-recalc/cmd/recalc/commands"
)

var version = "dev"

func main() {
	if err := commands.Execute(version); err != nil {
		os.Exit(1)
	}
}
