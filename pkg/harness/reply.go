package harness

import (
	"fmt"
	"time"

	"github.com/haivivi/dialogtest/pkg/dlspeech"
)

// Reply is one bot activity collected during a turn, with the latency
// measured from the start of the turn. When the activity carried synthesized
// audio, AudioFile names the WAV written to the output folder and
// AudioDuration its playback length, filled in once the stream finished
// writing.
type Reply struct {
	Activity      *dlspeech.Activity
	Latency       time.Duration
	AudioFile     string
	AudioDuration time.Duration
}

// Text returns the reply's display text, falling back to the SSML-free speak
// field.
func (r *Reply) Text() string {
	if r.Activity == nil {
		return ""
	}
	if r.Activity.Text != "" {
		return r.Activity.Text
	}
	return r.Activity.Speak
}

// TurnRef identifies a turn for logging and output file naming.
type TurnRef struct {
	Dialog string
	Turn   int
}

func (t TurnRef) String() string {
	return fmt.Sprintf("%s/turn%02d", t.Dialog, t.Turn)
}
