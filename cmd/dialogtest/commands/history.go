package commands

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/haivivi/dialogtest/pkg/cli"
	"github.com/haivivi/dialogtest/pkg/harness"
	"github.com/haivivi/dialogtest/pkg/runstore"
)

var (
	flagHistoryLimit int
	flagHistoryDate  string
	flagHistoryJSON  bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse stored run reports",
	Long: `Browse run reports recorded by 'dialogtest run'.

Reports are stored in a local database under ~/.dialogtest/history.`,
}

var historyListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List stored runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		var reports []*harness.RunReport
		if flagHistoryDate != "" {
			date, err := time.ParseInLocation("2006-01-02", flagHistoryDate, time.UTC)
			if err != nil {
				return fmt.Errorf("invalid --date, want YYYY-MM-DD: %w", err)
			}
			reports, err = store.ListDate(cmd.Context(), date, flagHistoryLimit)
			if err != nil {
				return err
			}
		} else {
			reports, err = store.List(cmd.Context(), flagHistoryLimit)
			if err != nil {
				return err
			}
		}

		if len(reports) == 0 {
			fmt.Println("No stored runs")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tNAME\tSTARTED\tDURATION\tRESULT\tTURNS")
		for _, r := range reports {
			result := "PASS"
			if !r.Passed {
				result = "FAIL"
			}
			passed, failed, _ := r.Counts()
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d/%d\n",
				r.ID, r.Name,
				cli.FormatTimestamp(r.StartedAt),
				cli.FormatDuration(r.FinishedAt.Sub(r.StartedAt)),
				result, passed, passed+failed)
		}
		w.Flush()
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <run-id>",
	Short: "Show a stored run report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		report, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		if flagHistoryJSON {
			return cli.Output(report, cli.OutputOptions{Format: cli.FormatJSON})
		}
		fmt.Print(cli.RenderSummary(report))
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <run-id>",
	Short: "Delete a stored run report",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openHistory()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.Delete(cmd.Context(), args[0]); err != nil {
			return err
		}
		cli.PrintSuccess("Run %q deleted", args[0])
		return nil
	},
}

func openHistory() (*runstore.Store, error) {
	cfg := getConfig()
	if cfg == nil {
		return nil, fmt.Errorf("configuration not initialized")
	}
	return runstore.Open(runstore.Options{Dir: cfg.HistoryDir()})
}

func init() {
	historyListCmd.Flags().IntVar(&flagHistoryLimit, "limit", 20, "maximum number of runs to list (0 for all)")
	historyListCmd.Flags().StringVar(&flagHistoryDate, "date", "", "only list runs started on this UTC date (YYYY-MM-DD)")
	historyShowCmd.Flags().BoolVar(&flagHistoryJSON, "json", false, "print the full report as JSON")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
}
