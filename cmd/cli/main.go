// Package main is the entry point for the backjobctl CLI.
// The CLI starts background jobs on a backjob server and polls their status.
package main

import (
	"os"

	"backjob/cmd/cli/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
