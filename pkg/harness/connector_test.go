package harness

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/haivivi/dialogtest/pkg/audio/wav"
	"github.com/haivivi/dialogtest/pkg/dlspeech"
)

// fakeSession is a scripted dlspeech.Session. Tests push events with emit and
// inspect what the connector sent.
type fakeSession struct {
	ch chan *dlspeech.Event

	// respond, when set, is called after each SendActivity so tests can
	// script the bot's side.
	respond func(s *fakeSession, a *dlspeech.Activity)

	mu         sync.Mutex
	closed     bool
	activities []*dlspeech.Activity
	audio      [][]byte
	flushes    int
}

func newFakeSession() *fakeSession {
	return &fakeSession{ch: make(chan *dlspeech.Event, 64)}
}

func (s *fakeSession) SendActivity(_ context.Context, a *dlspeech.Activity) error {
	s.mu.Lock()
	s.activities = append(s.activities, a)
	respond := s.respond
	s.mu.Unlock()
	if respond != nil {
		respond(s, a)
	}
	return nil
}

func (s *fakeSession) WriteAudio(p []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.audio = append(s.audio, append([]byte(nil), p...))
	return nil
}

func (s *fakeSession) FlushAudio() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushes++
	return nil
}

func (s *fakeSession) Events() iter.Seq2[*dlspeech.Event, error] {
	return func(yield func(*dlspeech.Event, error) bool) {
		for ev := range s.ch {
			if !yield(ev, nil) {
				return
			}
		}
	}
}

func (s *fakeSession) ConnectionID() string { return "fake" }

func (s *fakeSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
	return nil
}

func (s *fakeSession) emit(ev *dlspeech.Event) { s.ch <- ev }

func (s *fakeSession) emitActivity(t *testing.T, streamID string, fields map[string]any) {
	t.Helper()
	raw, err := json.Marshal(fields)
	if err != nil {
		t.Fatal(err)
	}
	a, err := dlspeech.ParseActivity(raw)
	if err != nil {
		t.Fatal(err)
	}
	s.emit(&dlspeech.Event{Type: dlspeech.EventActivityReceived, Activity: a, StreamID: streamID})
}

func (s *fakeSession) sentActivities() []*dlspeech.Activity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*dlspeech.Activity(nil), s.activities...)
}

func (s *fakeSession) sentAudio() (chunks int, total int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.audio {
		total += len(c)
	}
	return len(s.audio), total
}

func (s *fakeSession) flushCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushes
}

func botMessage(text string, ts time.Time) map[string]any {
	m := map[string]any{
		"type":  "message",
		"text":  text,
		"speak": text,
		"from":  map[string]any{"id": "bot", "role": "bot"},
	}
	if !ts.IsZero() {
		m["timestamp"] = ts.UTC().Format(time.RFC3339Nano)
	}
	return m
}

// testConnector wires a connector to a fresh fake session with fast polling.
func testConnector(t *testing.T, settings *Settings) (*Connector, *fakeSession) {
	t.Helper()
	if settings == nil {
		settings = &Settings{}
	}
	if settings.PollInterval == 0 {
		settings.PollInterval = Duration(2 * time.Millisecond)
	}
	if settings.ReplyTimeout == 0 {
		settings.ReplyTimeout = Duration(2 * time.Second)
	}
	session := newFakeSession()
	conn := NewConnector(settings, WithDialFunc(func(context.Context) (dlspeech.Session, error) {
		return session, nil
	}))
	t.Cleanup(conn.Disconnect)
	return conn, session
}

func TestConnectorLifecycle(t *testing.T) {
	dials := 0
	session := newFakeSession()
	conn := NewConnector(&Settings{}, WithDialFunc(func(context.Context) (dlspeech.Session, error) {
		dials++
		return session, nil
	}))

	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := conn.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if dials != 1 {
		t.Fatalf("dials = %d, want 1", dials)
	}
	if !conn.Connected() {
		t.Fatal("not connected after Connect")
	}

	conn.Disconnect()
	conn.Disconnect()
	if conn.Connected() {
		t.Fatal("still connected after Disconnect")
	}
	if err := conn.SendText(ctx, TurnRef{Dialog: "d", Turn: 0}, "hello"); err != ErrNotConnected {
		t.Fatalf("SendText after disconnect = %v, want ErrNotConnected", err)
	}
}

func TestSendTextForwardsActivity(t *testing.T) {
	conn, session := testConnector(t, nil)
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := conn.SendText(ctx, TurnRef{Dialog: "d", Turn: 0}, "what time is it"); err != nil {
		t.Fatal(err)
	}

	sent := session.sentActivities()
	if len(sent) != 1 {
		t.Fatalf("sent %d activities, want 1", len(sent))
	}
	if sent[0].Type != dlspeech.ActivityMessage || sent[0].Text != "what time is it" {
		t.Fatalf("sent activity = %+v", sent[0])
	}
}

func TestRepliesSortedAndFiltered(t *testing.T) {
	ignore := SubsetPattern(map[string]any{"type": "typing"})
	conn, session := testConnector(t, &Settings{Ignore: []*Pattern{ignore}})
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := conn.SendText(ctx, TurnRef{Dialog: "d", Turn: 0}, "hi"); err != nil {
		t.Fatal(err)
	}

	base := time.Now()
	session.emitActivity(t, "", map[string]any{"type": "typing"})
	session.emitActivity(t, "", botMessage("second", base.Add(2*time.Second)))
	session.emitActivity(t, "", botMessage("first", base.Add(time.Second)))

	replies := conn.WaitForReplies(2, time.Second)
	if len(replies) != 2 {
		t.Fatalf("got %d replies, want 2", len(replies))
	}
	if replies[0].Text() != "first" || replies[1].Text() != "second" {
		t.Fatalf("reply order = %q, %q", replies[0].Text(), replies[1].Text())
	}
	for i := range replies {
		if replies[i].Activity.Type == "typing" {
			t.Fatal("ignored activity surfaced in replies")
		}
	}
}

func TestWaitForRepliesPartialOnTimeout(t *testing.T) {
	conn, session := testConnector(t, nil)
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := conn.SendText(ctx, TurnRef{Dialog: "d", Turn: 0}, "hi"); err != nil {
		t.Fatal(err)
	}
	session.emitActivity(t, "", botMessage("only one", time.Now()))

	start := time.Now()
	replies := conn.WaitForReplies(3, 150*time.Millisecond)
	if len(replies) != 1 {
		t.Fatalf("got %d replies, want 1", len(replies))
	}
	if elapsed := time.Since(start); elapsed < 150*time.Millisecond {
		t.Fatalf("returned after %s, before the timeout", elapsed)
	}
}

func TestQueueClearedPerTurn(t *testing.T) {
	conn, session := testConnector(t, nil)
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatal(err)
	}

	if err := conn.SendText(ctx, TurnRef{Dialog: "d", Turn: 0}, "one"); err != nil {
		t.Fatal(err)
	}
	session.emitActivity(t, "", botMessage("reply one", time.Now()))
	if replies := conn.WaitForReplies(1, time.Second); len(replies) != 1 {
		t.Fatalf("turn 0: got %d replies, want 1", len(replies))
	}

	if err := conn.SendText(ctx, TurnRef{Dialog: "d", Turn: 1}, "two"); err != nil {
		t.Fatal(err)
	}
	session.emitActivity(t, "", botMessage("reply two", time.Now()))
	replies := conn.WaitForReplies(1, time.Second)
	if len(replies) != 1 {
		t.Fatalf("turn 1: got %d replies, want 1", len(replies))
	}
	if replies[0].Text() != "reply two" {
		t.Fatalf("turn 1 reply = %q, stale queue", replies[0].Text())
	}
}

func TestGreetingCapturedBeforeConnect(t *testing.T) {
	conn, session := testConnector(t, nil)

	// Arm the turn first, then connect: the greeting the bot sends right
	// after the session opens must land in this turn's queue.
	conn.StartTurn(TurnRef{Dialog: "greet", Turn: 0})
	session.emitActivity(t, "", botMessage("welcome", time.Now()))
	if err := conn.Connect(context.Background()); err != nil {
		t.Fatal(err)
	}

	replies := conn.WaitForReplies(1, time.Second)
	if len(replies) != 1 || replies[0].Text() != "welcome" {
		t.Fatalf("greeting replies = %+v", replies)
	}
	if replies[0].Latency <= 0 {
		t.Fatal("greeting latency not recorded")
	}
}

func TestSynthesizedAudioWritten(t *testing.T) {
	dir := t.TempDir()
	conn, session := testConnector(t, &Settings{OutputFolder: dir})
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := conn.SendText(ctx, TurnRef{Dialog: "weather", Turn: 2}, "forecast"); err != nil {
		t.Fatal(err)
	}

	session.emitActivity(t, "stream-1", botMessage("sunny today", time.Now()))
	chunk := make([]byte, 320)
	session.emit(&dlspeech.Event{Type: dlspeech.EventAudioChunk, StreamID: "stream-1", Audio: chunk})
	session.emit(&dlspeech.Event{Type: dlspeech.EventAudioChunk, StreamID: "stream-1", Audio: chunk})
	session.emit(&dlspeech.Event{Type: dlspeech.EventAudioStreamEnd, StreamID: "stream-1"})

	if got := conn.WaitForReplies(1, time.Second); len(got) != 1 {
		t.Fatalf("got %d replies, want 1", len(got))
	}
	if !conn.WaitForAudio(2 * time.Second) {
		t.Fatal("audio stream never finished")
	}

	replies := conn.Replies()
	wantPath := filepath.Join(dir, "weather-turn02-reply01.wav")
	if replies[0].AudioFile != wantPath {
		t.Fatalf("AudioFile = %q, want %q", replies[0].AudioFile, wantPath)
	}
	if want := 640 * time.Second / 32000; replies[0].AudioDuration != want {
		t.Fatalf("AudioDuration = %s, want %s", replies[0].AudioDuration, want)
	}

	data, err := os.ReadFile(wantPath)
	if err != nil {
		t.Fatal(err)
	}
	format, pcm, err := wav.Strip(data)
	if err != nil {
		t.Fatal(err)
	}
	if format != wav.Wire {
		t.Fatalf("output format = %s", format)
	}
	if len(pcm) != 640 {
		t.Fatalf("payload = %d bytes, want 640", len(pcm))
	}
}

func TestSendAudioStreamsWAV(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in.wav")
	w, err := wav.Create(path, wav.Wire)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(make([]byte, 6400)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	conn, session := testConnector(t, nil)
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := conn.SendAudio(ctx, TurnRef{Dialog: "d", Turn: 0}, path); err != nil {
		t.Fatal(err)
	}

	chunks, total := session.sentAudio()
	if chunks != 2 || total != 6400 {
		t.Fatalf("sent %d chunks, %d bytes; want 2 chunks, 6400 bytes", chunks, total)
	}
	if session.flushCount() != 1 {
		t.Fatalf("flushes = %d, want 1", session.flushCount())
	}
}

func TestSendAudioConvertsInput(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "in8k.wav")
	src := wav.Format{SampleRate: 8000, Channels: 1, Depth: 16}
	w, err := wav.Create(path, src)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := w.Write(make([]byte, 1600)); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	conn, session := testConnector(t, nil)
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := conn.SendAudio(ctx, TurnRef{Dialog: "d", Turn: 0}, path); err != nil {
		t.Fatal(err)
	}

	_, total := session.sentAudio()
	if total == 0 || total%2 != 0 {
		t.Fatalf("converted upload = %d bytes", total)
	}
	if session.flushCount() != 1 {
		t.Fatalf("flushes = %d, want 1", session.flushCount())
	}
}

func TestSendAudioMissingFile(t *testing.T) {
	conn, _ := testConnector(t, nil)
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	err := conn.SendAudio(ctx, TurnRef{Dialog: "d", Turn: 0}, filepath.Join(t.TempDir(), "missing.wav"))
	if err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestReplyLatencyMeasuredFromTurnStart(t *testing.T) {
	conn, session := testConnector(t, nil)
	ctx := context.Background()
	if err := conn.Connect(ctx); err != nil {
		t.Fatal(err)
	}
	if err := conn.SendText(ctx, TurnRef{Dialog: "d", Turn: 0}, "hi"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)
	session.emitActivity(t, "", botMessage("late", time.Now()))

	replies := conn.WaitForReplies(1, time.Second)
	if len(replies) != 1 {
		t.Fatalf("got %d replies", len(replies))
	}
	if replies[0].Latency < 50*time.Millisecond || replies[0].Latency > 5*time.Second {
		t.Fatalf("latency = %s", replies[0].Latency)
	}
}

func TestDialFailureSurfaces(t *testing.T) {
	wantErr := fmt.Errorf("gateway unreachable")
	conn := NewConnector(&Settings{}, WithDialFunc(func(context.Context) (dlspeech.Session, error) {
		return nil, wantErr
	}))
	if err := conn.Connect(context.Background()); err != wantErr {
		t.Fatalf("Connect = %v, want %v", err, wantErr)
	}
	if conn.Connected() {
		t.Fatal("connected after failed dial")
	}
}
