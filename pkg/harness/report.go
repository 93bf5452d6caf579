package harness

import (
	"time"

	"github.com/google/uuid"
)

// RunReport is the full result of playing one test file.
type RunReport struct {
	ID         string         `yaml:"id" json:"id"`
	Name       string         `yaml:"name" json:"name"`
	StartedAt  time.Time      `yaml:"startedAt" json:"startedAt"`
	FinishedAt time.Time      `yaml:"finishedAt" json:"finishedAt"`
	Passed     bool           `yaml:"passed" json:"passed"`
	Dialogs    []DialogResult `yaml:"dialogs" json:"dialogs"`
}

// NewRunReport stamps a fresh report for the named test.
func NewRunReport(name string) *RunReport {
	return &RunReport{
		ID:        uuid.NewString(),
		Name:      name,
		StartedAt: time.Now().UTC(),
	}
}

// Finish stamps the end time and computes the overall verdict. Skipped
// dialogs do not count against the run.
func (r *RunReport) Finish() {
	r.FinishedAt = time.Now().UTC()
	r.Passed = true
	for i := range r.Dialogs {
		if !r.Dialogs[i].Skipped && !r.Dialogs[i].Passed {
			r.Passed = false
			return
		}
	}
}

// Counts tallies outcomes: passed and failed count turns, skipped counts
// whole dialogs.
func (r *RunReport) Counts() (passed, failed, skipped int) {
	for di := range r.Dialogs {
		d := &r.Dialogs[di]
		if d.Skipped {
			skipped++
			continue
		}
		for ti := range d.Turns {
			if d.Turns[ti].Passed {
				passed++
			} else {
				failed++
			}
		}
	}
	return
}

// DialogResult is the outcome of one dialog.
type DialogResult struct {
	ID          string       `yaml:"id" json:"id"`
	Description string       `yaml:"description,omitempty" json:"description,omitempty"`
	Skipped     bool         `yaml:"skipped,omitempty" json:"skipped,omitempty"`
	Passed      bool         `yaml:"passed" json:"passed"`
	Turns       []TurnResult `yaml:"turns,omitempty" json:"turns,omitempty"`
}

func (d *DialogResult) finish() {
	d.Passed = true
	for i := range d.Turns {
		if !d.Turns[i].Passed {
			d.Passed = false
			return
		}
	}
}

// TurnResult is the outcome of one turn: the input that was sent, the
// replies that came back and every check that ran against them.
type TurnResult struct {
	Index   int            `yaml:"index" json:"index"`
	Input   string         `yaml:"input,omitempty" json:"input,omitempty"`
	Passed  bool           `yaml:"passed" json:"passed"`
	Replies []ReplySummary `yaml:"replies,omitempty" json:"replies,omitempty"`
	Check   CheckResult    `yaml:"check" json:"check"`
	Verdict *Verdict       `yaml:"verdict,omitempty" json:"verdict,omitempty"`
	Error   string         `yaml:"error,omitempty" json:"error,omitempty"`
}

// ReplySummary is the report form of a reply, flattened for humans.
type ReplySummary struct {
	Type          string   `yaml:"type" json:"type"`
	Text          string   `yaml:"text,omitempty" json:"text,omitempty"`
	Speak         string   `yaml:"speak,omitempty" json:"speak,omitempty"`
	Latency       Duration `yaml:"latency" json:"latency"`
	AudioFile     string   `yaml:"audioFile,omitempty" json:"audioFile,omitempty"`
	AudioDuration Duration `yaml:"audioDuration,omitempty" json:"audioDuration,omitempty"`
}

func summarizeReplies(replies []Reply) []ReplySummary {
	if len(replies) == 0 {
		return nil
	}
	out := make([]ReplySummary, len(replies))
	for i := range replies {
		out[i] = ReplySummary{
			Type:          replies[i].Activity.Type,
			Text:          replies[i].Activity.Text,
			Speak:         replies[i].Activity.Speak,
			Latency:       Duration(replies[i].Latency),
			AudioFile:     replies[i].AudioFile,
			AudioDuration: Duration(replies[i].AudioDuration),
		}
	}
	return out
}
