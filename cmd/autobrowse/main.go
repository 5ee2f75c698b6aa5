// Package main is the entry point for the autobrowse CLI.
package main

import (
	"os"

	"github.com/jmylchreest/autobrowse/cmd/autobrowse/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
