package harness

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const sampleYAML = `
name: weather-smoke
settings:
  language: en-US
  replyTimeout: 15s
  outputFolder: out
ignore:
  - type: typing
dialogs:
  - id: weather
    description: basic forecast
    turns:
      - utterance: what is the weather
        expected:
          - .type == "message"
          - type: message
        keywords: [sunny, rain]
        latencyBudget: 3s
      - wavFile: clips/followup.wav
        expectedReplies: 2
  - id: greeting
    turns:
      - expectedReplies: 1
`

func TestLoadTestFileYAML(t *testing.T) {
	path := writeTestFile(t, "weather.yaml", sampleYAML)
	tf, err := LoadTestFile(path)
	if err != nil {
		t.Fatal(err)
	}

	if tf.Name != "weather-smoke" {
		t.Fatalf("Name = %q", tf.Name)
	}
	if tf.Settings.Language != "en-US" || tf.Settings.OutputFolder != "out" {
		t.Fatalf("settings = %+v", tf.Settings)
	}
	if got := tf.Settings.ReplyTimeout.Duration(); got != 15*time.Second {
		t.Fatalf("replyTimeout = %s", got)
	}
	if len(tf.Ignore) != 1 {
		t.Fatalf("ignore = %d patterns", len(tf.Ignore))
	}
	if len(tf.Dialogs) != 2 {
		t.Fatalf("dialogs = %d", len(tf.Dialogs))
	}

	turn := &tf.Dialogs[0].Turns[0]
	if turn.Utterance != "what is the weather" {
		t.Fatalf("utterance = %q", turn.Utterance)
	}
	if len(turn.Expected) != 2 {
		t.Fatalf("expected = %d patterns", len(turn.Expected))
	}
	if turn.expectedCount() != 2 {
		t.Fatalf("expectedCount = %d, want 2 from patterns", turn.expectedCount())
	}
	if turn.LatencyBudget.Duration() != 3*time.Second {
		t.Fatalf("latencyBudget = %s", turn.LatencyBudget)
	}

	wavTurn := &tf.Dialogs[0].Turns[1]
	if wavTurn.expectedCount() != 2 {
		t.Fatalf("expectedCount = %d, want 2 from expectedReplies", wavTurn.expectedCount())
	}
	if got := tf.ResolveWAV(wavTurn.WAVFile); got != filepath.Join(filepath.Dir(path), "clips/followup.wav") {
		t.Fatalf("ResolveWAV = %q", got)
	}

	greeting := &tf.Dialogs[1].Turns[0]
	if greeting.inputCount() != 0 {
		t.Fatalf("greeting inputCount = %d", greeting.inputCount())
	}
}

func TestLoadTestFileJSONRepairsTrailingComma(t *testing.T) {
	src := `{
		"dialogs": [
			{"id": "d", "turns": [{"utterance": "hi",}]},
		]
	}`
	path := writeTestFile(t, "broken.json", src)
	tf, err := LoadTestFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if tf.Name != "broken" {
		t.Fatalf("Name = %q, want file stem", tf.Name)
	}
	if tf.Dialogs[0].Turns[0].Utterance != "hi" {
		t.Fatalf("turn = %+v", tf.Dialogs[0].Turns[0])
	}
}

func TestLoadTestFileValidation(t *testing.T) {
	tests := []struct {
		name    string
		file    string
		content string
		wantErr string
	}{
		{
			name:    "no dialogs",
			file:    "t.yaml",
			content: "name: empty\n",
			wantErr: "no dialogs",
		},
		{
			name: "conflicting inputs",
			file: "t.yaml",
			content: `
dialogs:
  - id: d
    turns:
      - utterance: hi
        wavFile: hi.wav
`,
			wantErr: "mutually exclusive",
		},
		{
			name: "duplicate dialog ids",
			file: "t.yaml",
			content: `
dialogs:
  - id: d
    turns: [{utterance: a}]
  - id: d
    turns: [{utterance: b}]
`,
			wantErr: "duplicate dialog id",
		},
		{
			name: "dialog without turns",
			file: "t.yaml",
			content: `
dialogs:
  - id: d
    turns: []
`,
			wantErr: "no turns",
		},
		{
			name: "negative expected replies",
			file: "t.yaml",
			content: `
dialogs:
  - id: d
    turns: [{utterance: a, expectedReplies: -1}]
`,
			wantErr: "negative expectedReplies",
		},
		{
			name:    "unknown extension",
			file:    "t.toml",
			content: "dialogs = []",
			wantErr: "unsupported test file extension",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeTestFile(t, tt.file, tt.content)
			_, err := LoadTestFile(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("err = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestTestFileDefaults(t *testing.T) {
	path := writeTestFile(t, "defaults.yaml", `
dialogs:
  - turns:
      - utterance: hi
`)
	tf, err := LoadTestFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if tf.Name != "defaults" {
		t.Fatalf("Name = %q", tf.Name)
	}
	if tf.Dialogs[0].ID != "dialog00" {
		t.Fatalf("dialog ID = %q", tf.Dialogs[0].ID)
	}
	if got := tf.Dialogs[0].Turns[0].expectedCount(); got != 1 {
		t.Fatalf("expectedCount = %d, want 1", got)
	}
}

func TestResolveWAVAbsolute(t *testing.T) {
	path := writeTestFile(t, "t.yaml", "dialogs: [{id: d, turns: [{utterance: a}]}]")
	tf, err := LoadTestFile(path)
	if err != nil {
		t.Fatal(err)
	}
	abs := filepath.Join(string(filepath.Separator), "data", "x.wav")
	if got := tf.ResolveWAV(abs); got != abs {
		t.Fatalf("ResolveWAV(%q) = %q", abs, got)
	}
}
