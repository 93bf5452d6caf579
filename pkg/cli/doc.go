// Package cli provides shared plumbing for the dialogtest command line:
// context-based configuration, output formatting, and the terminal summary
// view for run reports.
//
// Configuration lives in ~/.dialogtest/config.yaml and supports multiple
// named contexts, similar to kubectl. A context carries the speech channel
// credentials plus optional grader and archive settings.
//
// Example usage:
//
//	cfg, err := cli.LoadConfig()
//	ctx, err := cfg.ResolveContext("") // current context
//	settings := ctx.Settings()
//
//	cli.Output(report, cli.OutputOptions{Format: cli.FormatJSON})
package cli
