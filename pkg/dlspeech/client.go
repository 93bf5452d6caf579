package dlspeech

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	// defaultEndpointFormat is the regional gateway endpoint. The %s is the
	// service region, e.g. "westus2".
	defaultEndpointFormat = "wss://%s.convai.speech.microsoft.com/api/v3"

	defaultLanguage    = "en-US"
	defaultDialTimeout = 30 * time.Second

	// ttsAudioFormat is the synthesized audio format requested from the
	// service: raw PCM so audio frames carry no per-chunk container header.
	ttsAudioFormat = "raw-16khz-16bit-mono-pcm"
)

// Client opens dialog sessions against one subscription and region.
type Client struct {
	config *clientConfig
}

// clientConfig is the client configuration assembled from Options.
type clientConfig struct {
	subscriptionKey string
	region          string
	language        string
	botID           string
	speechEndpoint  string   // custom speech (recognition) deployment ID
	voiceDeployIDs  []string // custom voice deployment IDs
	endpointURL     string   // full endpoint override
	dialTimeout     time.Duration
	header          http.Header
}

// Option configures a Client.
type Option func(*clientConfig)

// NewClient creates a dialog service client.
//
// subscriptionKey and region identify the cloud resource; everything else is
// optional.
func NewClient(subscriptionKey, region string, opts ...Option) *Client {
	config := &clientConfig{
		subscriptionKey: subscriptionKey,
		region:          region,
		language:        defaultLanguage,
		dialTimeout:     defaultDialTimeout,
	}
	for _, opt := range opts {
		opt(config)
	}
	return &Client{config: config}
}

// WithLanguage sets the recognition language, default "en-US".
func WithLanguage(language string) Option {
	return func(c *clientConfig) {
		if language != "" {
			c.language = language
		}
	}
}

// WithBotID routes the channel to a specific bot or commands application.
func WithBotID(id string) Option {
	return func(c *clientConfig) {
		c.botID = id
	}
}

// WithCustomSpeechEndpoint uses a custom speech deployment for recognition.
func WithCustomSpeechEndpoint(id string) Option {
	return func(c *clientConfig) {
		c.speechEndpoint = id
	}
}

// WithCustomVoiceDeploymentIDs uses custom voice deployments for synthesis.
func WithCustomVoiceDeploymentIDs(ids []string) Option {
	return func(c *clientConfig) {
		c.voiceDeployIDs = ids
	}
}

// WithEndpointURL overrides the regional endpoint entirely. Useful for
// sovereign clouds and tests.
func WithEndpointURL(url string) Option {
	return func(c *clientConfig) {
		c.endpointURL = url
	}
}

// WithDialTimeout bounds the WebSocket handshake, default 30s.
func WithDialTimeout(d time.Duration) Option {
	return func(c *clientConfig) {
		if d > 0 {
			c.dialTimeout = d
		}
	}
}

// WithHTTPHeader adds extra handshake headers.
func WithHTTPHeader(header http.Header) Option {
	return func(c *clientConfig) {
		c.header = header
	}
}

// endpoint builds the WebSocket URL with query parameters.
func (c *Client) endpoint() (string, error) {
	raw := c.config.endpointURL
	if raw == "" {
		raw = fmt.Sprintf(defaultEndpointFormat, c.config.region)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("dlspeech: parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("language", c.config.language)
	if c.config.speechEndpoint != "" {
		q.Set("cid", c.config.speechEndpoint)
	}
	if len(c.config.voiceDeployIDs) > 0 {
		q.Set("voiceDeploymentIds", strings.Join(c.config.voiceDeployIDs, ","))
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the gateway, performs the configuration handshake and starts
// the session's read loop. The returned session must be closed.
func (c *Client) Connect(ctx context.Context) (Session, error) {
	endpoint, err := c.endpoint()
	if err != nil {
		return nil, err
	}

	connectionID := strings.ReplaceAll(uuid.New().String(), "-", "")

	header := http.Header{}
	for k, vs := range c.config.header {
		for _, v := range vs {
			header.Add(k, v)
		}
	}
	header.Set("Ocp-Apim-Subscription-Key", c.config.subscriptionKey)
	header.Set("X-ConnectionId", connectionID)

	dialer := websocket.Dialer{HandshakeTimeout: c.config.dialTimeout}
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil {
			return nil, &Error{
				Message:    fmt.Sprintf("connect %s: %v", endpoint, err),
				HTTPStatus: resp.StatusCode,
			}
		}
		return nil, wrapError(err, "dlspeech: connect "+endpoint)
	}

	session := &webSocketSession{
		conn:         conn,
		client:       c,
		connectionID: connectionID,
		closeCh:      make(chan struct{}),
		eventsCh:     make(chan eventOrError, 100),
	}

	if err := session.sendConfig(); err != nil {
		conn.Close()
		return nil, err
	}

	session.enqueue(&Event{Type: EventSessionStarted, SessionID: connectionID})
	go session.readLoop()

	return session, nil
}

// sendConfig sends the speech.config and agent.config frames that open every
// connection.
func (s *webSocketSession) sendConfig() error {
	speechConfig := map[string]any{
		"context": map[string]any{
			"system": map[string]any{
				"name":    "dialogtest",
				"version": "1.0",
				"build":   runtime.GOOS + "/" + runtime.GOARCH,
			},
		},
	}
	if err := s.sendJSON(pathSpeechConfig, newRequestID(), speechConfig); err != nil {
		return wrapError(err, "dlspeech: send speech.config")
	}

	agentConfig := map[string]any{
		"version":        0.2,
		"ttsAudioFormat": ttsAudioFormat,
		"botInfo": map[string]any{
			"commandsAppId": s.client.config.botID,
			"connectionId":  s.connectionID,
		},
	}
	if err := s.sendJSON(pathAgentConfig, newRequestID(), agentConfig); err != nil {
		return wrapError(err, "dlspeech: send agent.config")
	}
	return nil
}

func (s *webSocketSession) sendJSON(path, requestID string, body any) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	frame := encodeTextMessage(&message{
		Path: path,
		Headers: map[string]string{
			headerRequestID:   requestID,
			headerTimestamp:   timestamp(),
			headerContentType: contentTypeJSON,
		},
		Body: data,
	})
	return s.write(websocket.TextMessage, frame)
}
