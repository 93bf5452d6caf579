package dlspeech

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
)

// Session is one dialog connection.
type Session interface {
	// SendActivity posts a bot-framework activity to the channel.
	SendActivity(ctx context.Context, activity *Activity) error

	// WriteAudio streams one chunk of PCM audio upstream. All chunks between
	// two FlushAudio calls belong to the same utterance.
	WriteAudio(p []byte) error

	// FlushAudio marks the end of the current utterance.
	FlushAudio() error

	// Events iterates over service events until the session ends or the
	// consumer breaks. A non-nil error terminates the iteration.
	Events() iter.Seq2[*Event, error]

	// ConnectionID returns the gateway connection ID.
	ConnectionID() string

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

type eventOrError struct {
	event *Event
	err   error
}

// webSocketSession is the gorilla/websocket Session implementation.
type webSocketSession struct {
	conn         *websocket.Conn
	client       *Client
	connectionID string

	closeCh   chan struct{}
	eventsCh  chan eventOrError
	closeOnce sync.Once

	mu             sync.Mutex // guards writes and the audio turn state
	audioRequestID string
}

// SendActivity posts an activity on the agent path.
func (s *webSocketSession) SendActivity(ctx context.Context, activity *Activity) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	body, err := activity.MarshalWire()
	if err != nil {
		return err
	}
	frame := encodeTextMessage(&message{
		Path: pathAgent,
		Headers: map[string]string{
			headerRequestID:   newRequestID(),
			headerTimestamp:   timestamp(),
			headerContentType: contentTypeJSON,
		},
		Body: body,
	})
	return wrapError(s.write(websocket.TextMessage, frame), "dlspeech: send activity")
}

// WriteAudio streams one PCM chunk. The first chunk after a flush opens a new
// upstream request.
func (s *webSocketSession) WriteAudio(p []byte) error {
	s.mu.Lock()
	if s.audioRequestID == "" {
		s.audioRequestID = newRequestID()
	}
	requestID := s.audioRequestID
	s.mu.Unlock()

	return wrapError(s.writeAudioFrame(requestID, p), "dlspeech: write audio")
}

// FlushAudio sends the zero-length chunk that ends the utterance.
func (s *webSocketSession) FlushAudio() error {
	s.mu.Lock()
	requestID := s.audioRequestID
	s.audioRequestID = ""
	s.mu.Unlock()
	if requestID == "" {
		return nil
	}
	return wrapError(s.writeAudioFrame(requestID, nil), "dlspeech: flush audio")
}

func (s *webSocketSession) writeAudioFrame(requestID string, payload []byte) error {
	frame := encodeBinaryMessage(&message{
		Path: pathAudio,
		Headers: map[string]string{
			headerRequestID:   requestID,
			headerTimestamp:   timestamp(),
			headerContentType: contentTypeWAV,
		},
		Body: payload,
	})
	return s.write(websocket.BinaryMessage, frame)
}

// write serializes access to the connection.
func (s *webSocketSession) write(messageType int, data []byte) error {
	select {
	case <-s.closeCh:
		return ErrSessionClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(messageType, data)
}

// Events returns the session event iterator.
func (s *webSocketSession) Events() iter.Seq2[*Event, error] {
	return func(yield func(*Event, error) bool) {
		for {
			select {
			case <-s.closeCh:
				return
			case item, ok := <-s.eventsCh:
				if !ok {
					return
				}
				if !yield(item.event, item.err) {
					return
				}
				if item.err != nil {
					return
				}
			}
		}
	}
}

// ConnectionID returns the gateway connection ID.
func (s *webSocketSession) ConnectionID() string {
	return s.connectionID
}

// Close closes the session.
func (s *webSocketSession) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.closeCh)
		err = s.conn.Close()
	})
	return err
}

// enqueue delivers an event unless the session is closing.
func (s *webSocketSession) enqueue(ev *Event) {
	select {
	case <-s.closeCh:
	case s.eventsCh <- eventOrError{event: ev}:
	}
}

func (s *webSocketSession) enqueueErr(err error) {
	select {
	case <-s.closeCh:
	case s.eventsCh <- eventOrError{err: err}:
	}
}

// readLoop reads frames from the connection and translates them to events.
func (s *webSocketSession) readLoop() {
	defer close(s.eventsCh)

	for {
		select {
		case <-s.closeCh:
			return
		default:
		}

		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closeCh:
				return
			default:
			}
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.enqueue(&Event{
					Type:      EventCanceled,
					SessionID: s.connectionID,
					Canceled:  &CancelInfo{Reason: CancelEndOfStream},
				})
				s.enqueue(&Event{Type: EventSessionStopped, SessionID: s.connectionID})
				return
			}
			info := &CancelInfo{Reason: CancelError, Details: err.Error()}
			if closeErr, ok := err.(*websocket.CloseError); ok {
				info.Code = closeErr.Code
			}
			s.enqueue(&Event{Type: EventCanceled, SessionID: s.connectionID, Canceled: info})
			s.enqueueErr(wrapError(err, "dlspeech: read"))
			return
		}

		if slog.Default().Enabled(context.Background(), slog.LevelDebug) {
			slog.Debug("dlspeech frame received", "binary", messageType == websocket.BinaryMessage, "len", len(data))
		}

		var ev *Event
		switch messageType {
		case websocket.TextMessage:
			ev, err = s.translateText(data)
		case websocket.BinaryMessage:
			ev, err = s.translateBinary(data)
		default:
			continue
		}
		if err != nil {
			s.enqueueErr(err)
			continue
		}
		if ev != nil {
			s.enqueue(ev)
		}
	}
}

// translateText maps a service text frame to an event. Unknown paths are
// dropped so gateway additions do not break older clients.
func (s *webSocketSession) translateText(data []byte) (*Event, error) {
	m, err := decodeTextMessage(data)
	if err != nil {
		return nil, err
	}

	switch m.Path {
	case pathTurnStart:
		return &Event{Type: EventTurnStarted, RequestID: m.requestID()}, nil

	case pathTurnEnd:
		return &Event{Type: EventTurnEnded, RequestID: m.requestID()}, nil

	case pathSpeechStartDetected:
		return &Event{Type: EventSpeechStartDetected, RequestID: m.requestID()}, nil

	case pathSpeechEndDetected:
		return &Event{Type: EventSpeechEndDetected, RequestID: m.requestID()}, nil

	case pathSpeechHypothesis:
		var body hypothesisBody
		if err := json.Unmarshal(m.Body, &body); err != nil {
			return nil, fmt.Errorf("dlspeech: parse %s: %w", m.Path, err)
		}
		return &Event{Type: EventRecognizing, RequestID: m.requestID(), Text: body.Text}, nil

	case pathSpeechPhrase:
		var body phraseBody
		if err := json.Unmarshal(m.Body, &body); err != nil {
			return nil, fmt.Errorf("dlspeech: parse %s: %w", m.Path, err)
		}
		return &Event{
			Type:              EventRecognized,
			RequestID:         m.requestID(),
			Text:              body.DisplayText,
			RecognitionStatus: body.RecognitionStatus,
		}, nil

	case pathResponse:
		raw := m.Body
		var body responseBody
		if err := json.Unmarshal(m.Body, &body); err == nil && len(body.Activity) > 0 {
			raw = body.Activity
		}
		activity, err := ParseActivity(raw)
		if err != nil {
			return nil, err
		}
		return &Event{
			Type:      EventActivityReceived,
			RequestID: m.requestID(),
			Activity:  activity,
			StreamID:  m.streamID(),
		}, nil
	}
	return nil, nil
}

// translateBinary maps a service binary frame to an event. A zero-length
// payload ends the audio stream.
func (s *webSocketSession) translateBinary(data []byte) (*Event, error) {
	m, err := decodeBinaryMessage(data)
	if err != nil {
		return nil, err
	}
	if m.Path != pathAudio {
		return nil, nil
	}
	if len(m.Body) == 0 {
		return &Event{Type: EventAudioStreamEnd, RequestID: m.requestID(), StreamID: m.streamID()}, nil
	}
	return &Event{
		Type:      EventAudioChunk,
		RequestID: m.requestID(),
		StreamID:  m.streamID(),
		Audio:     m.Body,
	}, nil
}

// Ensure webSocketSession implements Session.
var _ Session = (*webSocketSession)(nil)
