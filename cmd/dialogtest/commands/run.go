package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haivivi/dialogtest/pkg/artifact"
	"github.com/haivivi/dialogtest/pkg/cli"
	"github.com/haivivi/dialogtest/pkg/harness"
	"github.com/haivivi/dialogtest/pkg/runstore"
)

var (
	flagReportFile      string
	flagJSON            bool
	flagOutputFolder    string
	flagDialog          string
	flagFreshConnection bool
	flagNoStore         bool
	flagArchive         bool
)

var runCmd = &cobra.Command{
	Use:   "run <testfile>",
	Short: "Run a dialog test file against the speech channel",
	Long: `Run the dialogs in a test file against the configured speech channel.

Each turn sends its input, waits for the bot's replies, and checks them.
Synthesized reply audio is written to the output folder. The run report
is stored in the local history unless --no-store is given.

The command exits non-zero when any turn fails.

Example:
  dialogtest -c prod run weather.yaml -o report.yaml
  dialogtest -c prod run weather.yaml --json | jq '.dialogs[0].turns'`,
	Args: cobra.ExactArgs(1),
	RunE: runTest,
}

func init() {
	runCmd.Flags().StringVarP(&flagReportFile, "output", "o", "", "write the full report to a file")
	runCmd.Flags().BoolVar(&flagJSON, "json", false, "print the full report as JSON instead of the summary")
	runCmd.Flags().StringVar(&flagOutputFolder, "output-folder", "", "folder for synthesized reply audio (overrides context)")
	runCmd.Flags().StringVar(&flagDialog, "dialog", "", "run only the dialog with this ID, skip the rest")
	runCmd.Flags().BoolVar(&flagFreshConnection, "fresh-connection", false, "open a new channel connection for every dialog")
	runCmd.Flags().BoolVar(&flagNoStore, "no-store", false, "do not record the run in the local history")
	runCmd.Flags().BoolVar(&flagArchive, "archive", false, "upload run artifacts to the context's archive bucket")
}

func runTest(cmd *cobra.Command, args []string) error {
	cliCtx, err := getContext()
	if err != nil {
		return err
	}

	file, err := harness.LoadTestFile(args[0])
	if err != nil {
		return err
	}

	if flagDialog != "" {
		found := false
		for i := range file.Dialogs {
			if file.Dialogs[i].ID == flagDialog {
				found = true
			} else {
				file.Dialogs[i].Skip = true
			}
		}
		if !found {
			return fmt.Errorf("no dialog %q in %s", flagDialog, args[0])
		}
	}

	settings := cliCtx.Settings()
	if flagOutputFolder != "" {
		settings.OutputFolder = flagOutputFolder
	}

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		<-sigCh
		slog.Info("interrupted, finishing current turn")
		cancel()
	}()

	grader, err := buildGrader(ctx, cliCtx)
	if err != nil {
		return err
	}

	runner := &harness.Runner{
		Settings:        settings,
		File:            file,
		Logger:          slog.Default(),
		Grader:          grader,
		FreshConnection: flagFreshConnection,
	}

	report, err := runner.Run(ctx)
	if err != nil {
		return err
	}

	if !flagNoStore {
		if err := storeReport(ctx, report); err != nil {
			cli.PrintWarning("history not updated: %v", err)
		}
	}

	if flagReportFile != "" {
		format := cli.FormatYAML
		if flagJSON {
			format = cli.FormatJSON
		}
		if err := cli.Output(report, cli.OutputOptions{Format: format, File: flagReportFile}); err != nil {
			return err
		}
	}

	if flagJSON {
		if err := cli.Output(report, cli.OutputOptions{Format: cli.FormatJSON}); err != nil {
			return err
		}
	} else {
		fmt.Print(cli.RenderSummary(report))
	}

	if flagArchive {
		if err := archiveRun(ctx, cliCtx, report, settings.OutputFolder); err != nil {
			cli.PrintWarning("archive failed: %v", err)
		}
	}

	if !report.Passed {
		_, failed, _ := report.Counts()
		return fmt.Errorf("%d turn(s) failed", failed)
	}
	return nil
}

// buildGrader constructs the semantic grader configured on the context, or
// nil when the context has none.
func buildGrader(ctx context.Context, cliCtx *cli.Context) (harness.Grader, error) {
	gc := cliCtx.Grader
	if gc == nil {
		return nil, nil
	}
	switch gc.Provider {
	case "openai":
		return harness.NewOpenAIGrader(gc.APIKey, gc.BaseURL, gc.Model)
	case "gemini":
		return harness.NewGeminiGrader(ctx, gc.APIKey, gc.Model)
	default:
		return nil, fmt.Errorf("unknown grader provider %q (want openai or gemini)", gc.Provider)
	}
}

func storeReport(ctx context.Context, report *harness.RunReport) error {
	store, err := runstore.Open(runstore.Options{Dir: getConfig().HistoryDir()})
	if err != nil {
		return err
	}
	defer store.Close()
	return store.Save(ctx, report)
}

// archiveRun mirrors the output folder into the context's archive bucket
// under the run ID.
func archiveRun(ctx context.Context, cliCtx *cli.Context, report *harness.RunReport, outputFolder string) error {
	if cliCtx.Archive == nil {
		return fmt.Errorf("context has no archive settings")
	}
	if outputFolder == "" {
		return fmt.Errorf("no output folder to archive")
	}

	s3, err := artifact.OpenS3(cliCtx.Archive.S3Config())
	if err != nil {
		return err
	}

	n, err := artifact.Sync(ctx, s3, report.ID, outputFolder)
	if err != nil {
		return err
	}
	cli.PrintInfo("archived %d file(s) under %s/%s", n, cliCtx.Archive.Bucket, report.ID)
	return nil
}
