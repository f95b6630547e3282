// Command taskctl is the command-line client for the task planner API.
package main

import (
	"os"

	"taskpilot-client/internal/cli"
)

func main() {
	if err := cli.BuildCLI().Execute(); err != nil {
		os.Exit(1)
	}
}
