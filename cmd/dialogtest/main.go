// Package main provides the dialogtest CLI tool.
//
// Usage:
//
//	dialogtest [flags] <command> [args]
//
// Commands:
//
//	run     - Run a dialog test file against the speech channel
//	verify  - Validate test files without connecting
//	history - Browse stored run reports
//	config  - Configuration management
//
// Configuration:
//
//	The CLI stores configuration in ~/.dialogtest/
//	Use 'dialogtest config' commands to manage contexts.
package main

import (
	"fmt"
	"os"

	"github.com/haivivi/dialogtest/cmd/dialogtest/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
