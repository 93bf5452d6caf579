package harness

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/haivivi/dialogtest/pkg/audio/wav"
	"github.com/haivivi/dialogtest/pkg/dlspeech"
)

// ErrNotConnected is returned by send operations before Connect.
var ErrNotConnected = errors.New("harness: not connected")

// audioChunkDuration is the upstream chunk size. Audio is paced at real time,
// one chunk per interval, the way a live microphone would deliver it.
const audioChunkDuration = 100 * time.Millisecond

// DialFunc opens a dialog session. The default dials the cloud gateway with
// the connector's settings; tests substitute their own.
type DialFunc func(ctx context.Context) (dlspeech.Session, error)

// Option configures a Connector.
type Option func(*Connector)

// WithLogger sets the connector's logger, default slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDialFunc replaces how sessions are opened.
func WithDialFunc(dial DialFunc) Option {
	return func(c *Connector) {
		if dial != nil {
			c.dial = dial
		}
	}
}

// Connector drives one dialog session: it sends text or audio turns, collects
// reply activities as they arrive, writes synthesized audio to disk and
// serves time-ordered reply snapshots. One background goroutine dispatches
// session events into the shared reply queue; WaitForReplies polls that queue
// on a fixed interval. All queue access is mutex-guarded.
//
// Vendor-side failures never escalate: they are logged, and the caller
// observes missing replies or a timeout instead.
type Connector struct {
	settings *Settings
	logger   *slog.Logger
	dial     DialFunc

	mu           sync.Mutex
	session      dlspeech.Session
	dispatchDone chan struct{}

	turn        TurnRef
	turnStarted time.Time
	replies     []*Reply
	streams     map[string]*audioStream
	audioSeq    int
}

// audioStream is one synthesized audio stream being written to disk. The
// entry is dropped from the stream table as soon as the file is finalized.
type audioStream struct {
	writer *wav.Writer
	reply  *Reply
	path   string
}

// NewConnector builds a connector over the given settings.
func NewConnector(settings *Settings, opts ...Option) *Connector {
	c := &Connector{
		settings: settings,
		logger:   slog.Default(),
		streams:  make(map[string]*audioStream),
	}
	c.dial = c.dialService
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// dialService opens a session against the cloud gateway.
func (c *Connector) dialService(ctx context.Context) (dlspeech.Session, error) {
	opts := []dlspeech.Option{
		dlspeech.WithLanguage(c.settings.Language),
	}
	if c.settings.BotID != "" {
		opts = append(opts, dlspeech.WithBotID(c.settings.BotID))
	}
	if c.settings.CustomSpeechEndpointID != "" {
		opts = append(opts, dlspeech.WithCustomSpeechEndpoint(c.settings.CustomSpeechEndpointID))
	}
	if len(c.settings.CustomVoiceDeploymentIDs) > 0 {
		opts = append(opts, dlspeech.WithCustomVoiceDeploymentIDs(c.settings.CustomVoiceDeploymentIDs))
	}
	if c.settings.EndpointURL != "" {
		opts = append(opts, dlspeech.WithEndpointURL(c.settings.EndpointURL))
	}
	client := dlspeech.NewClient(c.settings.SubscriptionKey, c.settings.Region, opts...)
	return client.Connect(ctx)
}

// Connect opens the session and starts the event dispatcher. Calling it while
// connected is a no-op.
func (c *Connector) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.session != nil {
		c.mu.Unlock()
		c.logger.Debug("already connected")
		return nil
	}
	c.mu.Unlock()

	session, err := c.dial(ctx)
	if err != nil {
		c.logger.Error("connect failed", "error", err)
		return err
	}

	done := make(chan struct{})
	c.mu.Lock()
	c.session = session
	c.dispatchDone = done
	c.mu.Unlock()

	c.logger.Info("connected", "connection_id", session.ConnectionID())
	go c.dispatch(session, done)
	return nil
}

// Disconnect closes the session, waits for the dispatcher to drain and
// finalizes any open audio file. Calling it while disconnected is a no-op.
func (c *Connector) Disconnect() {
	c.mu.Lock()
	session := c.session
	done := c.dispatchDone
	c.session = nil
	c.dispatchDone = nil
	c.mu.Unlock()

	if session == nil {
		c.logger.Debug("already disconnected")
		return
	}
	if err := session.Close(); err != nil {
		c.logger.Error("close session failed", "error", err)
	}
	if done != nil {
		<-done
	}

	c.mu.Lock()
	streams := c.streams
	c.streams = make(map[string]*audioStream)
	c.mu.Unlock()
	for id, s := range streams {
		if err := s.writer.Close(); err != nil {
			c.logger.Error("finalize audio file failed", "stream", id, "path", s.path, "error", err)
		}
	}
	c.logger.Info("disconnected")
}

// Connected reports whether a session is live.
func (c *Connector) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session != nil
}

// StartTurn clears pending replies and restarts the latency clock. SendText
// and SendAudio call it on entry; callers use it directly for turns with no
// input, where the bot speaks first.
func (c *Connector) StartTurn(turn TurnRef) {
	c.mu.Lock()
	leftOpen := c.streams
	c.streams = make(map[string]*audioStream)
	c.replies = nil
	c.turn = turn
	c.turnStarted = time.Now()
	c.audioSeq = 0
	c.mu.Unlock()

	for id, s := range leftOpen {
		if err := s.writer.Close(); err != nil {
			c.logger.Error("finalize audio file failed", "stream", id, "path", s.path, "error", err)
		}
		c.logger.Warn("audio stream still open at turn start", "stream", id, "path", s.path)
	}
	if c.settings.OutputFolder != "" {
		if err := os.MkdirAll(c.settings.OutputFolder, 0o755); err != nil {
			c.logger.Error("create output folder failed", "path", c.settings.OutputFolder, "error", err)
		}
	}
	c.logger.Info("turn started", "turn", turn.String())
}

func (c *Connector) currentSession() dlspeech.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// SendText clears pending replies and posts the utterance as a message
// activity.
func (c *Connector) SendText(ctx context.Context, turn TurnRef, text string) error {
	session := c.currentSession()
	if session == nil {
		c.logger.Error("send text failed", "turn", turn.String(), "error", ErrNotConnected)
		return ErrNotConnected
	}
	c.StartTurn(turn)
	if err := session.SendActivity(ctx, dlspeech.NewMessageActivity(text)); err != nil {
		c.logger.Error("send text failed", "turn", turn.String(), "error", err)
		return err
	}
	c.logger.Info("text sent", "turn", turn.String(), "text", text)
	return nil
}

// SendActivityJSON clears pending replies and posts a caller-provided
// activity verbatim.
func (c *Connector) SendActivityJSON(ctx context.Context, turn TurnRef, raw []byte) error {
	session := c.currentSession()
	if session == nil {
		c.logger.Error("send activity failed", "turn", turn.String(), "error", ErrNotConnected)
		return ErrNotConnected
	}
	activity, err := dlspeech.ParseActivity(raw)
	if err != nil {
		c.logger.Error("send activity failed", "turn", turn.String(), "error", err)
		return err
	}
	c.StartTurn(turn)
	if err := session.SendActivity(ctx, activity); err != nil {
		c.logger.Error("send activity failed", "turn", turn.String(), "error", err)
		return err
	}
	c.logger.Info("activity sent", "turn", turn.String(), "type", activity.Type)
	return nil
}

// SendAudio clears pending replies and streams the WAV file's PCM payload
// upstream in real-time chunks, then flushes the utterance. Inputs that are
// not 16 kHz 16-bit mono are converted first.
func (c *Connector) SendAudio(ctx context.Context, turn TurnRef, wavPath string) error {
	session := c.currentSession()
	if session == nil {
		c.logger.Error("send audio failed", "turn", turn.String(), "error", ErrNotConnected)
		return ErrNotConnected
	}
	c.StartTurn(turn)

	data, err := os.ReadFile(wavPath)
	if err != nil {
		err = fmt.Errorf("harness: read %s: %w", wavPath, err)
		c.logger.Error("send audio failed", "turn", turn.String(), "error", err)
		return err
	}
	format, pcm, err := wav.Strip(data)
	if err != nil {
		c.logger.Error("send audio failed", "turn", turn.String(), "file", wavPath, "error", err)
		return err
	}
	if format != wav.Wire {
		converted, err := wav.Convert(pcm, format, wav.Wire)
		if err != nil {
			c.logger.Error("convert audio failed", "turn", turn.String(), "file", wavPath, "from", format.String(), "error", err)
			return err
		}
		c.logger.Info("input audio converted", "file", wavPath, "from", format.String(), "to", wav.Wire.String())
		pcm = converted
	}

	chunk := int(wav.Wire.BytesInDuration(audioChunkDuration))
	for off := 0; off < len(pcm); off += chunk {
		end := min(off+chunk, len(pcm))
		if err := session.WriteAudio(pcm[off:end]); err != nil {
			c.logger.Error("stream audio failed", "turn", turn.String(), "error", err)
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(audioChunkDuration):
		}
	}
	if err := session.FlushAudio(); err != nil {
		c.logger.Error("flush audio failed", "turn", turn.String(), "error", err)
		return err
	}
	c.logger.Info("audio sent", "turn", turn.String(), "file", wavPath,
		"duration", wav.Wire.Duration(int64(len(pcm))).String())
	return nil
}

// WaitForReplies blocks until the queue holds at least expected replies or
// the timeout elapses, then returns the queue ordered by activity timestamp.
// A timeout is not an error: whatever arrived is returned. A timeout of zero
// uses the settings default.
func (c *Connector) WaitForReplies(expected int, timeout time.Duration) []Reply {
	if timeout <= 0 {
		timeout = c.settings.replyTimeout()
	}
	c.logger.Debug("waiting for replies", "expected", expected, "timeout", timeout.String())

	start := time.Now()
	done := make(chan struct{})
	stop := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(c.settings.pollInterval())
		defer ticker.Stop()
		for c.replyCount() < expected {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
		}
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case <-done:
		c.logger.Debug("replies complete", "count", c.replyCount(), "elapsed", time.Since(start).String())
	case <-timer.C:
		close(stop)
		<-done
		c.logger.Warn("reply wait timed out", "expected", expected, "got", c.replyCount(), "timeout", timeout.String())
	}
	return c.Replies()
}

// Replies snapshots the queue, ordered by activity timestamp ascending.
// Replies without a timestamp keep arrival order at the front.
func (c *Connector) Replies() []Reply {
	c.mu.Lock()
	out := make([]Reply, len(c.replies))
	for i, r := range c.replies {
		out[i] = *r
	}
	c.mu.Unlock()

	slices.SortStableFunc(out, func(a, b Reply) int {
		return a.Activity.Timestamp.Compare(b.Activity.Timestamp)
	})
	return out
}

// WaitForAudio blocks until every open synthesized audio stream finished
// writing, or the timeout elapses. It reports whether all streams closed.
func (c *Connector) WaitForAudio(timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for {
		c.mu.Lock()
		open := len(c.streams)
		c.mu.Unlock()
		if open == 0 {
			return true
		}
		if time.Now().After(deadline) {
			c.logger.Warn("audio streams still open", "count", open)
			return false
		}
		time.Sleep(c.settings.pollInterval())
	}
}

func (c *Connector) replyCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.replies)
}

// dispatch consumes session events until the stream ends. Event errors are
// logged and end the dispatch; they never propagate.
func (c *Connector) dispatch(session dlspeech.Session, done chan struct{}) {
	defer close(done)
	for ev, err := range session.Events() {
		if err != nil {
			c.logger.Error("event stream failed", "error", err)
			return
		}
		c.handleEvent(ev)
	}
}

func (c *Connector) handleEvent(ev *dlspeech.Event) {
	switch ev.Type {
	case dlspeech.EventSessionStarted:
		c.logger.Info("session started", "session_id", ev.SessionID)
	case dlspeech.EventSessionStopped:
		c.logger.Info("session stopped", "session_id", ev.SessionID)
	case dlspeech.EventTurnStarted:
		c.logger.Debug("service turn started", "request_id", ev.RequestID)
	case dlspeech.EventTurnEnded:
		c.logger.Debug("service turn ended", "request_id", ev.RequestID)
	case dlspeech.EventSpeechStartDetected:
		c.logger.Debug("speech start detected")
	case dlspeech.EventSpeechEndDetected:
		c.logger.Debug("speech end detected")
	case dlspeech.EventRecognizing:
		c.logger.Debug("recognizing", "text", ev.Text)
	case dlspeech.EventRecognized:
		c.logger.Info("recognized", "text", ev.Text, "status", ev.RecognitionStatus)
	case dlspeech.EventActivityReceived:
		c.onActivity(ev)
	case dlspeech.EventAudioChunk:
		c.onAudioChunk(ev)
	case dlspeech.EventAudioStreamEnd:
		c.onAudioStreamEnd(ev)
	case dlspeech.EventCanceled:
		c.onCanceled(ev)
	}
}

// onActivity records a reply unless an ignore pattern discards it. An
// activity that announces synthesized audio opens the output WAV right away
// so chunks have somewhere to land.
func (c *Connector) onActivity(ev *dlspeech.Event) {
	if MatchesAny(c.settings.Ignore, ev.Activity) {
		c.logger.Info("reply ignored", "type", ev.Activity.Type, "text", ev.Activity.Text)
		return
	}

	c.mu.Lock()
	var latency time.Duration
	if !c.turnStarted.IsZero() {
		latency = time.Since(c.turnStarted)
	}
	reply := &Reply{Activity: ev.Activity, Latency: latency}
	var openErr error
	var path string
	if ev.StreamID != "" {
		path, openErr = c.openStreamLocked(ev.StreamID, reply)
	}
	c.replies = append(c.replies, reply)
	turn := c.turn
	c.mu.Unlock()

	if openErr != nil {
		c.logger.Error("create audio file failed", "path", path, "error", openErr)
	}
	c.logger.Info("reply received", "turn", turn.String(), "type", ev.Activity.Type,
		"text", ev.Activity.Text, "latency", latency.String())
}

// openStreamLocked creates the output WAV for a new stream. Callers hold mu.
func (c *Connector) openStreamLocked(streamID string, reply *Reply) (string, error) {
	c.audioSeq++
	name := fmt.Sprintf("%s-turn%02d-reply%02d.wav", sanitizeName(c.turn.Dialog), c.turn.Turn, c.audioSeq)
	path := filepath.Join(c.settings.OutputFolder, name)
	w, err := wav.Create(path, wav.Wire)
	if err != nil {
		return path, err
	}
	reply.AudioFile = path
	c.streams[streamID] = &audioStream{writer: w, reply: reply, path: path}
	return path, nil
}

func (c *Connector) onAudioChunk(ev *dlspeech.Event) {
	c.mu.Lock()
	s := c.streams[ev.StreamID]
	c.mu.Unlock()
	if s == nil {
		c.logger.Warn("audio chunk for unknown stream", "stream", ev.StreamID, "len", len(ev.Audio))
		return
	}
	if _, err := s.writer.Write(ev.Audio); err != nil {
		c.logger.Error("write audio failed", "path", s.path, "error", err)
	}
}

// onAudioStreamEnd finalizes the WAV and drops the stream's duration state.
func (c *Connector) onAudioStreamEnd(ev *dlspeech.Event) {
	c.mu.Lock()
	s := c.streams[ev.StreamID]
	if s == nil {
		c.mu.Unlock()
		return
	}
	delete(c.streams, ev.StreamID)
	duration := s.writer.Duration()
	bytes := s.writer.Bytes()
	err := s.writer.Close()
	if err == nil {
		s.reply.AudioDuration = duration
	}
	c.mu.Unlock()

	if err != nil {
		c.logger.Error("finalize audio file failed", "path", s.path, "error", err)
		return
	}
	c.logger.Info("audio file written", "path", s.path, "bytes", bytes, "duration", duration.String())
}

// onCanceled logs the cancellation. An end-of-stream cancel is routine; an
// error cancel is the service's way of saying the turn died. Neither is
// surfaced to the caller.
func (c *Connector) onCanceled(ev *dlspeech.Event) {
	info := ev.Canceled
	if info == nil {
		c.logger.Warn("session canceled")
		return
	}
	if info.Reason == dlspeech.CancelEndOfStream {
		c.logger.Info("session canceled", "reason", string(info.Reason))
		return
	}
	c.logger.Error("session canceled", "reason", string(info.Reason), "code", info.Code, "details", info.Details)
}

// sanitizeName makes a dialog ID safe for file names.
func sanitizeName(s string) string {
	if s == "" {
		return "dialog"
	}
	mapper := func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == '.':
			return r
		}
		return '_'
	}
	return strings.Map(mapper, s)
}
