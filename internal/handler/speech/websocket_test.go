package speech

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-voice/backend/internal/analysis/sentence"
	"github.com/zhouzirui/z-voice/backend/internal/apperr"
	"github.com/zhouzirui/z-voice/backend/internal/metrics"
	"github.com/zhouzirui/z-voice/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/z-voice/backend/internal/service/speech"
	"github.com/zhouzirui/z-voice/backend/internal/storage/scratch"
)

type fakeTranscription struct {
	events chan speech.TranscriptEvent
	// closeEvents are emitted in reply to Close, before Termination
	closeEvents []speech.TranscriptEvent
	closeCalls  atomic.Int32

	mu        sync.Mutex
	audio     []byte
	closed    bool
	closeOnce sync.Once
}

func newFakeTranscription(events ...speech.TranscriptEvent) *fakeTranscription {
	ch := make(chan speech.TranscriptEvent, 16)
	for _, e := range events {
		ch <- e
	}
	return &fakeTranscription{events: ch}
}

func (f *fakeTranscription) Events() <-chan speech.TranscriptEvent { return f.events }

func (f *fakeTranscription) Send(audio []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audio = append(f.audio, audio...)
	return nil
}

func (f *fakeTranscription) Close(context.Context) error {
	f.closeCalls.Add(1)
	f.closeOnce.Do(func() {
		f.mu.Lock()
		f.closed = true
		f.mu.Unlock()
		for _, e := range f.closeEvents {
			f.events <- e
		}
		f.events <- speech.TranscriptEvent{Type: speech.EventTermination, AudioDurationSeconds: 1.5}
		close(f.events)
	})
	return nil
}

type fakeStreamService struct {
	transcription *fakeTranscription
	openErr       error
	segments      []string
	audio         [][]byte

	mu    sync.Mutex
	turns []speechsvc.TurnRequest
}

func (f *fakeStreamService) OpenTranscription(context.Context) (speechsvc.Transcription, error) {
	if f.openErr != nil {
		return nil, f.openErr
	}
	return f.transcription, nil
}

func (f *fakeStreamService) RunTurn(_ context.Context, req speechsvc.TurnRequest) (*speechsvc.TurnResult, error) {
	f.mu.Lock()
	f.turns = append(f.turns, req)
	f.mu.Unlock()

	for i, text := range f.segments {
		req.OnSegment(sentence.Segment{Text: text, End: i == len(f.segments)-1})
	}
	for i, chunk := range f.audio {
		req.OnAudio(i, chunk)
	}
	return &speechsvc.TurnResult{Query: req.Query, Segments: f.segments, Audio: f.audio}, nil
}

func (f *fakeStreamService) recordedTurns() []speechsvc.TurnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]speechsvc.TurnRequest(nil), f.turns...)
}

func dialWS(t *testing.T, svc StreamService, opts WebSocketOptions, path string) *websocket.Conn {
	t.Helper()
	return dialHandler(t, NewWebSocketHandler(svc, opts), path)
}

func dialHandler(t *testing.T, h *WebSocketHandler, path string) *websocket.Conn {
	t.Helper()

	r := chi.NewRouter()
	h.RegisterWebSocketRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readFrame(t *testing.T, conn *websocket.Conn) speech.Frame {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var frame speech.Frame
	require.NoError(t, conn.ReadJSON(&frame))
	return frame
}

func expectClosed(t *testing.T, conn *websocket.Conn) {
	t.Helper()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	require.Error(t, err)
	assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected close: %v", err)
}

func readUntilClosed(t *testing.T, conn *websocket.Conn) []speech.Frame {
	t.Helper()

	var frames []speech.Frame
	for {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
		var frame speech.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			assert.True(t, websocket.IsCloseError(err, websocket.CloseNormalClosure), "unexpected close: %v", err)
			return frames
		}
		frames = append(frames, frame)
	}
}

func frameTypes(frames []speech.Frame) []string {
	types := make([]string, len(frames))
	for i, f := range frames {
		types[i] = f.Type
	}
	return types
}

func TestAudioSocketRelaysTranscript(t *testing.T) {
	transcription := newFakeTranscription(
		speech.TranscriptEvent{Type: speech.EventSession, SessionID: "sess-1"},
		speech.TranscriptEvent{Type: speech.EventTurn, Text: "hello", IsFinal: true},
		speech.TranscriptEvent{Type: speech.EventTurn, Text: "Hello.", IsFinal: true, Formatted: true},
	)
	svc := &fakeStreamService{transcription: transcription}
	dir := t.TempDir()
	store, err := scratch.New(dir, nil)
	require.NoError(t, err)

	conn := dialWS(t, svc, WebSocketOptions{Dumps: store}, "/ws/audio")

	assert.Equal(t, speech.Frame{Type: "session", Message: "Session started: sess-1", SessionID: "sess-1"}, readFrame(t, conn))
	assert.Equal(t, speech.Frame{Type: "end_of_turn"}, readFrame(t, conn))
	assert.Equal(t, speech.Frame{Type: "end_of_turn"}, readFrame(t, conn))
	assert.Equal(t, speech.Frame{Type: "transcript", Text: "Hello."}, readFrame(t, conn))

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{1, 2, 3, 4}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("hello?")))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("EOF")))

	termination := readFrame(t, conn)
	assert.Equal(t, "termination", termination.Type)
	assert.Equal(t, "Session ended: 1.5s processed", termination.Message)
	require.NotNil(t, termination.AudioDurationSeconds)
	assert.Equal(t, 1.5, *termination.AudioDurationSeconds)
	expectClosed(t, conn)

	transcription.mu.Lock()
	assert.Equal(t, []byte{1, 2, 3, 4}, transcription.audio)
	assert.True(t, transcription.closed)
	transcription.mu.Unlock()
	assert.Empty(t, svc.recordedTurns(), "transcribe-only connections never run turns")

	dumps, err := filepath.Glob(filepath.Join(dir, "streamed_*.pcm"))
	require.NoError(t, err)
	assert.Len(t, dumps, 1)
}

func TestAudioSocketRunsTurnsForSession(t *testing.T) {
	transcription := newFakeTranscription(
		speech.TranscriptEvent{Type: speech.EventSession, SessionID: "sess-2"},
		speech.TranscriptEvent{Type: speech.EventTurn, Text: "How are you?", IsFinal: true, Formatted: true},
	)
	svc := &fakeStreamService{
		transcription: transcription,
		segments:      []string{"Fine, thanks."},
		audio:         [][]byte{[]byte("pcm-0"), []byte("pcm-1")},
	}

	conn := dialWS(t, svc, WebSocketOptions{}, "/ws/audio?session_id=chat-1")

	assert.Equal(t, "session", readFrame(t, conn).Type)
	assert.Equal(t, "end_of_turn", readFrame(t, conn).Type)
	assert.Equal(t, speech.Frame{Type: "transcript", Text: "How are you?"}, readFrame(t, conn))
	assert.Equal(t, speech.Frame{Type: "llm_response", Text: "Fine, thanks."}, readFrame(t, conn))

	for i, chunk := range svc.audio {
		frame := readFrame(t, conn)
		assert.Equal(t, "audio", frame.Type)
		require.NotNil(t, frame.Index)
		assert.Equal(t, i, *frame.Index)
		assert.Equal(t, base64.StdEncoding.EncodeToString(chunk), frame.Data)
	}

	end := readFrame(t, conn)
	assert.Equal(t, "audio_end", end.Type)
	require.NotNil(t, end.Chunks)
	assert.Equal(t, 2, *end.Chunks)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("EOF")))
	assert.Equal(t, "termination", readFrame(t, conn).Type)
	expectClosed(t, conn)

	turns := svc.recordedTurns()
	require.Len(t, turns, 1)
	assert.Equal(t, "chat-1", turns[0].SessionID)
	assert.Equal(t, "How are you?", turns[0].Query)
	assert.False(t, turns[0].TextOnly)
}

func TestAudioSocketTranscribeModeSkipsTurns(t *testing.T) {
	transcription := newFakeTranscription(
		speech.TranscriptEvent{Type: speech.EventTurn, Text: "Hi.", IsFinal: true, Formatted: true},
	)
	svc := &fakeStreamService{transcription: transcription}

	conn := dialWS(t, svc, WebSocketOptions{}, "/ws/audio?session_id=chat-1&mode=transcribe")

	assert.Equal(t, "end_of_turn", readFrame(t, conn).Type)
	assert.Equal(t, "transcript", readFrame(t, conn).Type)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("EOF")))
	assert.Equal(t, "termination", readFrame(t, conn).Type)
	expectClosed(t, conn)

	assert.Empty(t, svc.recordedTurns())
}

func TestAudioSocketReportsOpenFailure(t *testing.T) {
	svc := &fakeStreamService{openErr: apperr.Configuration(apperr.StageTranscription, "ASSEMBLYAI_API_KEY is not configured")}

	conn := dialWS(t, svc, WebSocketOptions{}, "/ws/audio")

	frame := readFrame(t, conn)
	assert.Equal(t, "error", frame.Type)
	assert.Equal(t, apperr.StageTranscription, frame.Stage)
	assert.Contains(t, frame.Message, "ASSEMBLYAI_API_KEY")
	expectClosed(t, conn)
}

func TestEchoSocket(t *testing.T) {
	conn := dialWS(t, &fakeStreamService{openErr: errors.New("unused")}, WebSocketOptions{}, "/ws")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	msgType, data, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, websocket.TextMessage, msgType)
	assert.Equal(t, "Echo: ping", string(data))
}

func TestAudioSocketAnswersTurnFinalizedByEOF(t *testing.T) {
	transcription := newFakeTranscription(
		speech.TranscriptEvent{Type: speech.EventSession, SessionID: "sess-3"},
	)
	transcription.closeEvents = []speech.TranscriptEvent{
		{Type: speech.EventTurn, Text: "What time is it?", IsFinal: true, Formatted: true},
	}
	svc := &fakeStreamService{
		transcription: transcription,
		segments:      []string{"It is noon."},
		audio:         [][]byte{[]byte("pcm-0")},
	}

	conn := dialWS(t, svc, WebSocketOptions{}, "/ws/audio?session_id=s1")
	assert.Equal(t, "session", readFrame(t, conn).Type)

	require.NoError(t, conn.WriteMessage(websocket.BinaryMessage, []byte{0, 1}))
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("EOF")))

	frames := readUntilClosed(t, conn)
	types := frameTypes(frames)
	assert.Contains(t, types, "transcript")
	assert.Contains(t, types, "llm_response")
	assert.Contains(t, types, "audio")
	assert.Contains(t, types, "termination")
	require.NotEmpty(t, types)
	assert.Contains(t, types[len(types)-2:], "audio_end", "reply must finish before the socket closes: %v", types)

	turns := svc.recordedTurns()
	require.Len(t, turns, 1)
	assert.Equal(t, "What time is it?", turns[0].Query)
	assert.Equal(t, "s1", turns[0].SessionID)
}

func TestAudioSocketAbruptDisconnectReleasesOnce(t *testing.T) {
	transcription := newFakeTranscription(
		speech.TranscriptEvent{Type: speech.EventSession, SessionID: "sess-4"},
	)
	svc := &fakeStreamService{transcription: transcription}
	m := metrics.NewMetrics()

	conn := dialWS(t, svc, WebSocketOptions{Metrics: m}, "/ws/audio?session_id=s2")
	assert.Equal(t, "session", readFrame(t, conn).Type)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WebsocketConnections))

	require.NoError(t, conn.UnderlyingConn().Close())

	assert.Eventually(t, func() bool {
		return testutil.ToFloat64(m.WebsocketConnections) == 0
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(1), transcription.closeCalls.Load())
	assert.Empty(t, svc.recordedTurns())
}

func TestAudioSocketKeepsAnsweringClientAlive(t *testing.T) {
	transcription := newFakeTranscription()
	h := NewWebSocketHandler(&fakeStreamService{transcription: transcription}, WebSocketOptions{})
	h.pongWait = 300 * time.Millisecond
	h.pingPeriod = 50 * time.Millisecond

	conn := dialHandler(t, h, "/ws/audio")

	var pings atomic.Int32
	conn.SetPingHandler(func(data string) error {
		pings.Add(1)
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	done := make(chan []speech.Frame, 1)
	go func() {
		var frames []speech.Frame
		for {
			_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
			var frame speech.Frame
			if err := conn.ReadJSON(&frame); err != nil {
				done <- frames
				return
			}
			frames = append(frames, frame)
		}
	}()

	time.Sleep(3 * h.pongWait)
	assert.Zero(t, transcription.closeCalls.Load(), "a client answering pings stays connected")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("EOF")))
	select {
	case frames := <-done:
		assert.Equal(t, []string{"termination"}, frameTypes(frames))
	case <-time.After(5 * time.Second):
		t.Fatal("connection did not close after EOF")
	}
	assert.Greater(t, pings.Load(), int32(1))
}

func TestAudioSocketDropsSilentClient(t *testing.T) {
	transcription := newFakeTranscription()
	m := metrics.NewMetrics()
	h := NewWebSocketHandler(&fakeStreamService{transcription: transcription}, WebSocketOptions{Metrics: m})
	h.pongWait = 200 * time.Millisecond
	h.pingPeriod = 50 * time.Millisecond

	// the client never reads, so pings go unanswered
	_ = dialHandler(t, h, "/ws/audio")

	assert.Eventually(t, func() bool {
		return transcription.closeCalls.Load() == 1 && testutil.ToFloat64(m.WebsocketConnections) == 0
	}, 5*time.Second, 10*time.Millisecond)
}
