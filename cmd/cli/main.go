// Package main is the entry point for buildctl, the buildstate CLI.
package main

import (
	"os"

	"buildstate/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
