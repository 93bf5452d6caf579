package dlspeech

import "encoding/json"

// EventType identifies a session event.
type EventType string

const (
	// EventSessionStarted fires once per session, after the connection and
	// configuration handshake succeed.
	EventSessionStarted EventType = "session.started"
	// EventSessionStopped fires when the service ends the session normally.
	EventSessionStopped EventType = "session.stopped"
	// EventTurnStarted marks the beginning of a service-side turn.
	EventTurnStarted EventType = "turn.started"
	// EventTurnEnded marks the end of a service-side turn.
	EventTurnEnded EventType = "turn.ended"
	// EventSpeechStartDetected reports detected start of speech in the
	// uploaded audio.
	EventSpeechStartDetected EventType = "speech.start_detected"
	// EventSpeechEndDetected reports detected end of speech.
	EventSpeechEndDetected EventType = "speech.end_detected"
	// EventRecognizing carries an intermediate recognition hypothesis.
	EventRecognizing EventType = "speech.recognizing"
	// EventRecognized carries the final recognition result for a turn.
	EventRecognized EventType = "speech.recognized"
	// EventActivityReceived carries a bot activity.
	EventActivityReceived EventType = "activity.received"
	// EventAudioChunk carries one chunk of synthesized audio.
	EventAudioChunk EventType = "audio.chunk"
	// EventAudioStreamEnd marks the end of a synthesized audio stream.
	EventAudioStreamEnd EventType = "audio.stream_end"
	// EventCanceled reports that the service canceled the session, either
	// because the stream ended or because something failed.
	EventCanceled EventType = "canceled"
)

// Event is one session event. Fields beyond Type are populated per type.
type Event struct {
	Type EventType

	// RequestID is the gateway turn correlation ID, when the frame carried
	// one.
	RequestID string

	// SessionID is set on session lifecycle events.
	SessionID string

	// Text is the recognized text for EventRecognizing and EventRecognized.
	Text string
	// RecognitionStatus is the service's verdict for EventRecognized, e.g.
	// "Success" or "NoMatch".
	RecognitionStatus string

	// Activity is set for EventActivityReceived.
	Activity *Activity
	// StreamID correlates an activity with its synthesized audio stream. Set
	// on EventActivityReceived when audio follows, and on EventAudioChunk and
	// EventAudioStreamEnd.
	StreamID string

	// Audio is the synthesized audio payload for EventAudioChunk.
	Audio []byte

	// Canceled is set for EventCanceled.
	Canceled *CancelInfo
}

// CancelReason classifies a cancellation.
type CancelReason string

const (
	// CancelEndOfStream means the service closed the stream normally.
	CancelEndOfStream CancelReason = "end_of_stream"
	// CancelError means the session terminated because of an error.
	CancelError CancelReason = "error"
)

// CancelInfo explains an EventCanceled.
type CancelInfo struct {
	Reason  CancelReason
	Code    int
	Details string
}

// hypothesisBody and phraseBody model the JSON bodies of the corresponding
// service frames. Offsets and durations are in 100ns ticks, as the service
// reports them.
type hypothesisBody struct {
	Text     string `json:"Text"`
	Offset   int64  `json:"Offset"`
	Duration int64  `json:"Duration"`
}

type phraseBody struct {
	RecognitionStatus string `json:"RecognitionStatus"`
	DisplayText       string `json:"DisplayText"`
	Offset            int64  `json:"Offset"`
	Duration          int64  `json:"Duration"`
}

// responseBody wraps the activity in a response frame.
type responseBody struct {
	Activity json.RawMessage `json:"activity"`
}
