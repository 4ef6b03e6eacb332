// Package main is the entry point for the vidgate application.
package main

import (
	"os"

	"github.com/jmylchreest/vidgate/cmd/vidgate/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
