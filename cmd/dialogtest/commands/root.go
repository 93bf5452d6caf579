package commands

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/dialogtest/pkg/cli"
)

var (
	// Global flags
	cfgFile     string
	contextName string
	verbose     bool

	// Global configuration
	globalConfig *cli.Config
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "dialogtest",
	Short: "Dialog test runner for the speech channel",
	Long: `dialogtest runs scripted conversations against a speech channel bot
and checks the replies.

Test files (YAML or JSON) describe dialogs as a sequence of turns. Each
turn sends an utterance, a WAV recording or a raw activity, waits for the
bot's replies, and checks them against expected patterns, keywords and
latency budgets. Synthesized reply audio is written next to the report.

Configuration is stored in ~/.dialogtest/ and supports multiple contexts,
similar to kubectl's context management.

Examples:
  # Set up a new context
  dialogtest config add-context prod --subscription-key KEY --region westus2

  # Run a test file and print the summary
  dialogtest -c prod run weather.yaml

  # Emit the full report as JSON for piping
  dialogtest -c prod run weather.yaml --json | jq '.passed'

  # Inspect past runs
  dialogtest history list
`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "", "", "config file (default is ~/.dialogtest/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&contextName, "context", "c", "", "context name to use")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(historyCmd)
}

func initConfig() {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var err error
	globalConfig, err = cli.LoadConfigWithPath(cfgFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing config: %v\n", err)
		os.Exit(1)
	}
}

// getConfig returns the global configuration
func getConfig() *cli.Config {
	return globalConfig
}

// getContext returns the context configuration to use
func getContext() (*cli.Context, error) {
	cfg := getConfig()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}

	ctx, err := cfg.ResolveContext(contextName)
	if err != nil {
		if contextName == "" {
			return nil, fmt.Errorf("no context specified. Use -c flag or set a default context with 'dialogtest config use-context'")
		}
		return nil, err
	}

	return ctx, nil
}
