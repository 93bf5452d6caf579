package dlspeech

import (
	"encoding/json"
	"fmt"
	"time"
)

// Activity is a bot-framework activity, the unit of bot communication on the
// dialog channel. Raw preserves the exact JSON from the wire so callers can
// match on fields this struct does not model.
type Activity struct {
	Type        string          `json:"type,omitempty"`
	ID          string          `json:"id,omitempty"`
	Timestamp   time.Time       `json:"timestamp,omitzero"`
	Text        string          `json:"text,omitempty"`
	Speak       string          `json:"speak,omitempty"`
	InputHint   string          `json:"inputHint,omitempty"`
	Locale      string          `json:"locale,omitempty"`
	From        ChannelAccount  `json:"from,omitzero"`
	ReplyToID   string          `json:"replyToId,omitempty"`
	ChannelData json.RawMessage `json:"channelData,omitempty"`

	Raw json.RawMessage `json:"-"`
}

// ChannelAccount identifies a party on the channel.
type ChannelAccount struct {
	ID   string `json:"id,omitempty"`
	Role string `json:"role,omitempty"`
	Name string `json:"name,omitempty"`
}

// Common activity types.
const (
	ActivityMessage = "message"
	ActivityTyping  = "typing"
	ActivityTrace   = "trace"
	ActivityEvent   = "event"
)

// ParseActivity decodes an activity from wire JSON, keeping the raw bytes.
func ParseActivity(data []byte) (*Activity, error) {
	var a Activity
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("dlspeech: parse activity: %w", err)
	}
	a.Raw = append(json.RawMessage(nil), data...)
	return &a, nil
}

// NewMessageActivity builds a user message activity for SendActivity.
func NewMessageActivity(text string) *Activity {
	return &Activity{
		Type: ActivityMessage,
		From: ChannelAccount{ID: "user", Role: "user"},
		Text: text,
	}
}

// MarshalWire renders the activity for the wire, using Raw verbatim when the
// activity came off the wire in the first place.
func (a *Activity) MarshalWire() ([]byte, error) {
	if len(a.Raw) > 0 {
		return a.Raw, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("dlspeech: marshal activity: %w", err)
	}
	return b, nil
}
