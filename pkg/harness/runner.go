package harness

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// audioSettleTimeout bounds how long the runner waits for in-flight
// synthesized audio to finish writing after the reply wait.
const audioSettleTimeout = 10 * time.Second

// Runner plays a test file against the bot and collects a RunReport.
type Runner struct {
	Settings *Settings
	File     *TestFile
	Logger   *slog.Logger

	// Grader judges turns with a semantic criterion. Turns carrying one fail
	// when Grader is nil.
	Grader Grader

	// Dial overrides session dialing, for tests.
	Dial DialFunc

	// FreshConnection reconnects before every dialog instead of reusing one
	// connection for the whole file.
	FreshConnection bool
}

// Run plays every dialog in order and reports the outcome. It returns an
// error only for setup problems; vendor and transport failures surface as
// failed turns in the report.
func (r *Runner) Run(ctx context.Context) (*RunReport, error) {
	if r.File == nil {
		return nil, fmt.Errorf("harness: runner has no test file")
	}
	settings := r.effectiveSettings()
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}

	report := NewRunReport(r.File.Name)
	logger.Info("run started", "run_id", report.ID, "name", report.Name, "dialogs", len(r.File.Dialogs))

	opts := []Option{WithLogger(logger)}
	if r.Dial != nil {
		opts = append(opts, WithDialFunc(r.Dial))
	}

	var conn *Connector
	for di := range r.File.Dialogs {
		d := &r.File.Dialogs[di]
		if d.Skip {
			logger.Info("dialog skipped", "dialog", d.ID)
			report.Dialogs = append(report.Dialogs, DialogResult{ID: d.ID, Description: d.Description, Skipped: true})
			continue
		}
		if conn == nil || r.FreshConnection {
			if conn != nil {
				conn.Disconnect()
			}
			conn = NewConnector(settings, opts...)
		}
		report.Dialogs = append(report.Dialogs, r.runDialog(ctx, logger, conn, d))
		if ctx.Err() != nil {
			break
		}
	}
	if conn != nil {
		conn.Disconnect()
	}

	report.Finish()
	passed, failed, skipped := report.Counts()
	logger.Info("run finished", "run_id", report.ID, "passed", report.Passed,
		"turns_passed", passed, "turns_failed", failed, "dialogs_skipped", skipped)
	return report, nil
}

// effectiveSettings merges file overrides over the runner defaults. The file
// wins field by field where it sets something.
func (r *Runner) effectiveSettings() *Settings {
	var s Settings
	if r.Settings != nil {
		s = *r.Settings
	}
	if r.File != nil {
		s.merge(&r.File.Settings)
		if len(r.File.Ignore) > 0 {
			s.Ignore = append(append([]*Pattern{}, s.Ignore...), r.File.Ignore...)
		}
	}
	return &s
}

func (r *Runner) runDialog(ctx context.Context, logger *slog.Logger, conn *Connector, d *Dialog) DialogResult {
	res := DialogResult{ID: d.ID, Description: d.Description}
	logger.Info("dialog started", "dialog", d.ID, "turns", len(d.Turns))

	for ti := range d.Turns {
		res.Turns = append(res.Turns, r.runTurn(ctx, conn, d, ti))
		if ctx.Err() != nil {
			break
		}
	}

	res.finish()
	logger.Info("dialog finished", "dialog", d.ID, "passed", res.Passed)
	return res
}

// runTurn plays one turn: clear the reply queue, send the input if any, wait
// for replies and evaluate expectations. Send failures are recorded on the
// result and the wait still runs, so a flaky transport shows up as a timeout
// with whatever arrived.
func (r *Runner) runTurn(ctx context.Context, conn *Connector, d *Dialog, ti int) TurnResult {
	turn := &d.Turns[ti]
	ref := TurnRef{Dialog: d.ID, Turn: ti}
	res := TurnResult{Index: ti, Input: turnInput(turn)}

	var sendErr error
	if turn.inputCount() == 0 {
		// No input: the bot speaks first. Arm the queue before connecting so
		// a greeting sent on connect is captured.
		conn.StartTurn(ref)
		sendErr = conn.Connect(ctx)
	} else if sendErr = conn.Connect(ctx); sendErr != nil {
		conn.StartTurn(ref)
	} else {
		switch {
		case turn.Utterance != "":
			sendErr = conn.SendText(ctx, ref, turn.Utterance)
		case turn.WAVFile != "":
			sendErr = conn.SendAudio(ctx, ref, r.File.ResolveWAV(turn.WAVFile))
		default:
			sendErr = conn.SendActivityJSON(ctx, ref, turn.Activity)
		}
	}
	if sendErr != nil {
		res.Error = sendErr.Error()
	}

	replies := conn.WaitForReplies(turn.expectedCount(), turn.ReplyTimeout.Duration())
	if conn.WaitForAudio(audioSettleTimeout) {
		replies = conn.Replies()
	}
	res.Replies = summarizeReplies(replies)

	res.Check = CheckTurn(turn, replies)
	res.Passed = res.Check.Passed && res.Error == ""

	if turn.Semantic != "" {
		res.Verdict = r.grade(ctx, turn, replies)
		if res.Verdict == nil || !res.Verdict.Pass {
			res.Passed = false
		}
	}
	return res
}

func (r *Runner) grade(ctx context.Context, turn *Turn, replies []Reply) *Verdict {
	if r.Grader == nil {
		return &Verdict{Pass: false, Reason: "no grader configured"}
	}
	v, err := r.Grader.Grade(ctx, turn.Semantic, turn.Utterance, replies)
	if err != nil {
		return &Verdict{Pass: false, Reason: fmt.Sprintf("grading failed: %v", err)}
	}
	return v
}

func turnInput(t *Turn) string {
	switch {
	case t.Utterance != "":
		return t.Utterance
	case t.WAVFile != "":
		return "wav:" + t.WAVFile
	case len(t.Activity) > 0:
		return "activity"
	default:
		return ""
	}
}
