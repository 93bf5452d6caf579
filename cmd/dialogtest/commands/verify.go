package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haivivi/dialogtest/pkg/audio/wav"
	"github.com/haivivi/dialogtest/pkg/cli"
	"github.com/haivivi/dialogtest/pkg/harness"
)

var verifyCmd = &cobra.Command{
	Use:   "verify <testfile>...",
	Short: "Validate test files without connecting",
	Long: `Parse and validate test files. No connection is made.

Reports dialog and turn counts per file, and fails on the first file
that does not parse or validate.

Example:
  dialogtest verify tests/*.yaml`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		for _, path := range args {
			file, err := harness.LoadTestFile(path)
			if err != nil {
				return fmt.Errorf("%s: %w", path, err)
			}

			turns := 0
			wavs := 0
			for _, d := range file.Dialogs {
				turns += len(d.Turns)
				for _, t := range d.Turns {
					if t.WAVFile != "" {
						wavs++
					}
				}
			}
			cli.PrintSuccess("%s: %d dialog(s), %d turn(s)", path, len(file.Dialogs), turns)

			// Recorded inputs must exist at run time, check them now.
			for _, d := range file.Dialogs {
				for ti, t := range d.Turns {
					if t.WAVFile == "" {
						continue
					}
					data, err := os.ReadFile(file.ResolveWAV(t.WAVFile))
					if err != nil {
						return fmt.Errorf("%s: dialog %s turn %d: %w", path, d.ID, ti+1, err)
					}
					if _, _, err := wav.Strip(data); err != nil {
						return fmt.Errorf("%s: dialog %s turn %d: %s: %w", path, d.ID, ti+1, t.WAVFile, err)
					}
				}
			}
			if wavs > 0 {
				cli.PrintInfo("%s: %d recorded input(s) readable", path, wavs)
			}
		}
		return nil
	},
}
