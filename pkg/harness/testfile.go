package harness

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kaptinlin/jsonrepair"
	"gopkg.in/yaml.v3"
)

// TestFile is one scripted test: connection overrides, ignore patterns and a
// list of dialogs to play against the bot.
type TestFile struct {
	// Name labels the run in reports.
	Name string `yaml:"name" json:"name"`

	// Settings overrides connection defaults from the CLI context. Credential
	// fields usually stay empty here and come from the context instead.
	Settings Settings `yaml:"settings" json:"settings"`

	// Ignore lists activity patterns dropped on receipt, in addition to the
	// patterns in Settings.Ignore.
	Ignore []*Pattern `yaml:"ignore" json:"ignore"`

	// Dialogs are played in order.
	Dialogs []Dialog `yaml:"dialogs" json:"dialogs"`

	// path the file was loaded from; input WAV paths resolve against it.
	path string
}

// Dialog is one conversation, a sequence of turns over one logical session.
type Dialog struct {
	ID          string `yaml:"id" json:"id"`
	Description string `yaml:"description" json:"description"`
	Skip        bool   `yaml:"skip" json:"skip"`
	Turns       []Turn `yaml:"turns" json:"turns"`
}

// Turn is one exchange: at most one input, then expectations about the
// replies. A turn without input waits for the bot to speak first.
type Turn struct {
	// Utterance sends plain text.
	Utterance string `yaml:"utterance" json:"utterance"`

	// WAVFile streams a WAV file, resolved relative to the test file.
	WAVFile string `yaml:"wavFile" json:"wavFile"`

	// Activity sends a raw bot-framework activity.
	Activity json.RawMessage `yaml:"activity" json:"activity"`

	// ExpectedReplies is how many replies to wait for. Zero means one, or the
	// number of Expected patterns when those are given.
	ExpectedReplies int `yaml:"expectedReplies" json:"expectedReplies"`

	// Expected patterns are checked pairwise against the time-ordered
	// replies.
	Expected []*Pattern `yaml:"expected" json:"expected"`

	// Keywords pass when any of them appears in any reply text.
	Keywords []string `yaml:"keywords" json:"keywords"`

	// LatencyBudget fails the turn when any reply arrived later than this.
	LatencyBudget Duration `yaml:"latencyBudget" json:"latencyBudget"`

	// ReplyTimeout overrides the settings timeout for this turn.
	ReplyTimeout Duration `yaml:"replyTimeout" json:"replyTimeout"`

	// Semantic is a natural-language criterion judged by a Grader, when the
	// runner has one.
	Semantic string `yaml:"semantic" json:"semantic"`
}

// inputCount counts the configured inputs; valid turns have zero or one.
func (t *Turn) inputCount() int {
	n := 0
	if t.Utterance != "" {
		n++
	}
	if t.WAVFile != "" {
		n++
	}
	if len(t.Activity) > 0 {
		n++
	}
	return n
}

// expectedCount resolves the reply count to wait for.
func (t *Turn) expectedCount() int {
	if t.ExpectedReplies > 0 {
		return t.ExpectedReplies
	}
	if len(t.Expected) > 0 {
		return len(t.Expected)
	}
	return 1
}

// LoadTestFile reads path and parses it as YAML or JSON by extension.
// Hand-edited JSON with trailing commas or comments is repaired before
// parsing is given up on.
func LoadTestFile(path string) (*TestFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("harness: read test file: %w", err)
	}

	var tf TestFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		if err := unmarshalJSON(data, &tf); err != nil {
			return nil, fmt.Errorf("harness: parse %s: %w", path, err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &tf); err != nil {
			return nil, fmt.Errorf("harness: parse %s: %w", path, err)
		}
	default:
		return nil, fmt.Errorf("harness: unsupported test file extension %q", filepath.Ext(path))
	}

	tf.path = path
	if tf.Name == "" {
		tf.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := tf.Validate(); err != nil {
		return nil, err
	}
	return &tf, nil
}

// unmarshalJSON unmarshals data into v, repairing malformed JSON once before
// giving up.
func unmarshalJSON(data []byte, v any) error {
	err := json.Unmarshal(data, v)
	if err == nil {
		return nil
	}
	if _, ok := err.(*json.SyntaxError); ok {
		fixed, repairErr := jsonrepair.JSONRepair(string(data))
		if repairErr != nil {
			return err
		}
		return json.Unmarshal([]byte(fixed), v)
	}
	return err
}

// Validate checks the file's structure. Pattern syntax errors were already
// caught at parse time.
func (tf *TestFile) Validate() error {
	if len(tf.Dialogs) == 0 {
		return fmt.Errorf("harness: test file %q has no dialogs", tf.Name)
	}
	seen := make(map[string]bool, len(tf.Dialogs))
	for di := range tf.Dialogs {
		d := &tf.Dialogs[di]
		if d.ID == "" {
			d.ID = fmt.Sprintf("dialog%02d", di)
		}
		if seen[d.ID] {
			return fmt.Errorf("harness: duplicate dialog id %q", d.ID)
		}
		seen[d.ID] = true
		if len(d.Turns) == 0 {
			return fmt.Errorf("harness: dialog %q has no turns", d.ID)
		}
		for ti := range d.Turns {
			t := &d.Turns[ti]
			if t.inputCount() > 1 {
				return fmt.Errorf("harness: dialog %q turn %d: utterance, wavFile and activity are mutually exclusive", d.ID, ti)
			}
			if len(t.Activity) > 0 && !json.Valid(t.Activity) {
				return fmt.Errorf("harness: dialog %q turn %d: activity is not valid JSON", d.ID, ti)
			}
			if t.ExpectedReplies < 0 {
				return fmt.Errorf("harness: dialog %q turn %d: negative expectedReplies", d.ID, ti)
			}
		}
	}
	return nil
}

// ResolveWAV resolves a turn's WAV path against the test file location.
func (tf *TestFile) ResolveWAV(name string) string {
	if name == "" || filepath.IsAbs(name) || tf.path == "" {
		return name
	}
	return filepath.Join(filepath.Dir(tf.path), name)
}
