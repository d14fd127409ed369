// Package main is the entry point for the csegrab CLI.
package main

import (
	"os"

	"github.com/jmylchreest/csegrab/cmd/csegrab/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
