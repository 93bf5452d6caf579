package dlspeech

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Message paths sent by the client.
const (
	pathSpeechConfig = "speech.config"
	pathAgentConfig  = "agent.config"
	pathAgent        = "agent"
	pathAudio        = "audio"
)

// Message paths sent by the service.
const (
	pathTurnStart           = "turn.start"
	pathTurnEnd             = "turn.end"
	pathSpeechStartDetected = "speech.startDetected"
	pathSpeechEndDetected   = "speech.endDetected"
	pathSpeechHypothesis    = "speech.hypothesis"
	pathSpeechPhrase        = "speech.phrase"
	pathResponse            = "response"
)

// Header names. The gateway treats them case-insensitively; these are the
// canonical spellings it emits.
const (
	headerPath        = "Path"
	headerRequestID   = "X-RequestId"
	headerStreamID    = "X-StreamId"
	headerTimestamp   = "X-Timestamp"
	headerContentType = "Content-Type"
)

const (
	contentTypeJSON = "application/json; charset=utf-8"
	contentTypeWAV  = "audio/x-wav"

	// timestampLayout is ISO 8601 with millisecond precision, always UTC.
	timestampLayout = "2006-01-02T15:04:05.000Z"
)

// message is one gateway frame, either direction.
type message struct {
	Path    string
	Headers map[string]string // without Path
	Body    []byte            // JSON for text frames, audio for binary frames
	Binary  bool
}

func (m *message) header(name string) string {
	for k, v := range m.Headers {
		if strings.EqualFold(k, name) {
			return v
		}
	}
	return ""
}

func (m *message) requestID() string { return m.header(headerRequestID) }
func (m *message) streamID() string  { return m.header(headerStreamID) }

// newRequestID returns a request ID in the gateway's format: a lowercase
// UUID without dashes.
func newRequestID() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

func timestamp() string {
	return time.Now().UTC().Format(timestampLayout)
}

// encodeHeaders renders the header block, Path first, the rest in a stable
// order so frames are reproducible.
func encodeHeaders(path string, headers map[string]string) []byte {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%s: %s\r\n", headerPath, path)
	keys := make([]string, 0, len(headers))
	for k := range headers {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, "%s: %s\r\n", k, headers[k])
	}
	b.WriteString("\r\n")
	return b.Bytes()
}

// encodeTextMessage renders a text frame: header block, blank line, JSON body.
func encodeTextMessage(m *message) []byte {
	h := encodeHeaders(m.Path, m.Headers)
	return append(h, m.Body...)
}

// encodeBinaryMessage renders a binary frame: a big-endian 16-bit header
// block length, the header block, then the payload.
func encodeBinaryMessage(m *message) []byte {
	h := encodeHeaders(m.Path, m.Headers)
	out := make([]byte, 2, 2+len(h)+len(m.Body))
	binary.BigEndian.PutUint16(out, uint16(len(h)))
	out = append(out, h...)
	return append(out, m.Body...)
}

// decodeTextMessage parses a text frame.
func decodeTextMessage(data []byte) (*message, error) {
	head, body, found := bytes.Cut(data, []byte("\r\n\r\n"))
	if !found {
		return nil, fmt.Errorf("dlspeech: text frame without header terminator")
	}
	m, err := parseHeaders(head)
	if err != nil {
		return nil, err
	}
	m.Body = body
	return m, nil
}

// decodeBinaryMessage parses a binary frame.
func decodeBinaryMessage(data []byte) (*message, error) {
	if len(data) < 2 {
		return nil, fmt.Errorf("dlspeech: binary frame too short: %d bytes", len(data))
	}
	headLen := int(binary.BigEndian.Uint16(data))
	if 2+headLen > len(data) {
		return nil, fmt.Errorf("dlspeech: binary frame header length %d exceeds frame", headLen)
	}
	m, err := parseHeaders(data[2 : 2+headLen])
	if err != nil {
		return nil, err
	}
	m.Body = data[2+headLen:]
	m.Binary = true
	return m, nil
}

func parseHeaders(head []byte) (*message, error) {
	m := &message{Headers: make(map[string]string)}
	for _, line := range strings.Split(string(head), "\r\n") {
		if line == "" {
			continue
		}
		name, value, found := strings.Cut(line, ":")
		if !found {
			return nil, fmt.Errorf("dlspeech: malformed header line %q", line)
		}
		name = strings.TrimSpace(name)
		value = strings.TrimSpace(value)
		if strings.EqualFold(name, headerPath) {
			m.Path = value
			continue
		}
		m.Headers[name] = value
	}
	if m.Path == "" {
		return nil, fmt.Errorf("dlspeech: frame without Path header")
	}
	return m, nil
}
