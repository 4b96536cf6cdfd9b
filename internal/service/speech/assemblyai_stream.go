package speech

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-voice/backend/internal/apperr"
	"github.com/zhouzirui/z-voice/backend/internal/logger"
	"github.com/zhouzirui/z-voice/backend/internal/metrics"
	"github.com/zhouzirui/z-voice/backend/internal/model/speech"
)

const (
	defaultAssemblyAIStreamURL = "wss://streaming.assemblyai.com/v3/ws"
	defaultSampleRate          = 16000

	// AssemblyAI accepts 50ms to 1000ms of 16-bit mono audio per frame.
	minChunkDuration = 50 * time.Millisecond
	maxChunkDuration = 1000 * time.Millisecond
)

// ErrTranscriptionClosed is returned by Send after Close.
var ErrTranscriptionClosed = errors.New("transcription session closed")

// Dialer opens upstream websocket connections. *websocket.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, urlStr string, requestHeader http.Header) (*websocket.Conn, *http.Response, error)
}

// Transcription is one live streaming transcription session.
type Transcription interface {
	// Events delivers session notifications in arrival order. The channel is
	// closed when the upstream connection ends.
	Events() <-chan speech.TranscriptEvent
	// Send forwards raw 16-bit PCM audio.
	Send(audio []byte) error
	// Close requests termination upstream and releases the connection.
	Close(ctx context.Context) error
}

// TranscriberConfig configures streaming transcription sessions.
type TranscriberConfig struct {
	APIKey       string
	URL          string
	SampleRate   int
	Dialer       Dialer
	CloseTimeout time.Duration
	Metrics      *metrics.Metrics
}

type assemblyMessage struct {
	Type string `json:"type"`

	// Begin
	ID string `json:"id"`

	// Turn
	Transcript      string `json:"transcript"`
	EndOfTurn       bool   `json:"end_of_turn"`
	TurnIsFormatted bool   `json:"turn_is_formatted"`

	// Termination
	AudioDurationSeconds float64 `json:"audio_duration_seconds"`

	// Error
	Error        string `json:"error"`
	ErrorCode    any    `json:"error_code"`
	ErrorMessage string `json:"error_message"`
}

// StreamingTranscriber relays audio to the AssemblyAI v3 streaming API.
type StreamingTranscriber struct {
	conn   *websocket.Conn
	events chan speech.TranscriptEvent
	log    zerolog.Logger

	closeTimeout time.Duration
	minChunk     int
	maxChunk     int

	writeMu sync.Mutex
	pending []byte

	closing   atomic.Bool
	done      chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
}

// OpenTranscription dials a new streaming session.
func OpenTranscription(ctx context.Context, cfg TranscriberConfig) (*StreamingTranscriber, error) {
	if cfg.APIKey == "" {
		return nil, apperr.Configuration(apperr.StageTranscription, "ASSEMBLYAI_API_KEY is not configured")
	}
	if cfg.URL == "" {
		cfg.URL = defaultAssemblyAIStreamURL
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = defaultSampleRate
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if cfg.CloseTimeout <= 0 {
		cfg.CloseTimeout = 5 * time.Second
	}

	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse AssemblyAI URL: %w", err)
	}
	q := u.Query()
	q.Set("sample_rate", strconv.Itoa(cfg.SampleRate))
	q.Set("format_turns", "true")
	u.RawQuery = q.Encode()

	headers := http.Header{}
	headers.Set("Authorization", cfg.APIKey)

	conn, _, err := cfg.Dialer.DialContext(ctx, u.String(), headers)
	cfg.Metrics.ObserveUpstream(apperr.StageTranscription, err)
	if err != nil {
		return nil, apperr.Upstream(apperr.StageTranscription, fmt.Errorf("failed to connect to AssemblyAI: %w", err))
	}

	bytesPerSecond := cfg.SampleRate * 2
	t := &StreamingTranscriber{
		conn:         conn,
		events:       make(chan speech.TranscriptEvent, 32),
		log:          logger.Component("assemblyai"),
		closeTimeout: cfg.CloseTimeout,
		minChunk:     evenBytes(bytesPerSecond, minChunkDuration),
		maxChunk:     evenBytes(bytesPerSecond, maxChunkDuration),
		done:         make(chan struct{}),
		stop:         make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

func evenBytes(bytesPerSecond int, d time.Duration) int {
	n := int(int64(bytesPerSecond) * int64(d) / int64(time.Second))
	return n / 2 * 2
}

// Events implements Transcription.
func (t *StreamingTranscriber) Events() <-chan speech.TranscriptEvent {
	return t.events
}

// Send buffers audio and writes it upstream in frames of an accepted size.
func (t *StreamingTranscriber) Send(audio []byte) error {
	if len(audio) == 0 {
		return nil
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.closing.Load() {
		return ErrTranscriptionClosed
	}

	t.pending = append(t.pending, audio...)
	for len(t.pending) >= t.minChunk {
		n := len(t.pending)
		if n > t.maxChunk {
			n = t.maxChunk
		}
		n = n / 2 * 2
		if err := t.conn.WriteMessage(websocket.BinaryMessage, t.pending[:n]); err != nil {
			return apperr.Upstream(apperr.StageTranscription, fmt.Errorf("failed to send audio to AssemblyAI: %w", err))
		}
		t.pending = t.pending[n:]
	}
	return nil
}

// Close flushes buffered audio, asks AssemblyAI to terminate the session and
// waits, bounded by ctx and the close timeout, for the Termination message
// before closing the socket. Safe to call more than once.
func (t *StreamingTranscriber) Close(ctx context.Context) error {
	var closeErr error
	t.closeOnce.Do(func() {
		t.writeMu.Lock()
		t.closing.Store(true)
		if len(t.pending) > 0 {
			// pad the tail with silence up to the minimum frame size
			tail := t.pending
			if len(tail) < t.minChunk {
				tail = append(tail, make([]byte, t.minChunk-len(tail))...)
			}
			if err := t.conn.WriteMessage(websocket.BinaryMessage, tail); err != nil {
				t.log.Debug().Err(err).Msg("flush remaining audio failed")
			}
			t.pending = nil
		}
		payload, _ := json.Marshal(map[string]string{"type": "Terminate"})
		if err := t.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			t.log.Debug().Err(err).Msg("send terminate failed")
		}
		t.writeMu.Unlock()

		timer := time.NewTimer(t.closeTimeout)
		defer timer.Stop()
		select {
		case <-t.done:
		case <-timer.C:
			t.log.Warn().Msg("timed out waiting for termination")
		case <-ctx.Done():
			closeErr = ctx.Err()
		}

		_ = t.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		if err := t.conn.Close(); err != nil && closeErr == nil {
			t.log.Debug().Err(err).Msg("close connection")
		}
		close(t.stop)
		<-t.done
	})
	return closeErr
}

func (t *StreamingTranscriber) readLoop() {
	defer close(t.done)
	defer close(t.events)

	for {
		_, data, err := t.conn.ReadMessage()
		if err != nil {
			if !t.closing.Load() {
				t.emit(speech.TranscriptEvent{
					Type:  speech.EventError,
					Error: fmt.Sprintf("transcription connection closed: %v", err),
				})
			}
			return
		}

		var msg assemblyMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			t.log.Warn().Err(err).Msg("error parsing AssemblyAI message")
			continue
		}

		switch msg.Type {
		case "Begin":
			t.log.Info().Str("session_id", msg.ID).Msg("session began")
			t.emit(speech.TranscriptEvent{Type: speech.EventSession, SessionID: msg.ID})
		case "Turn":
			t.log.Debug().
				Str("transcript", msg.Transcript).
				Bool("end_of_turn", msg.EndOfTurn).
				Bool("formatted", msg.TurnIsFormatted).
				Msg("turn")
			t.emit(speech.TranscriptEvent{
				Type:      speech.EventTurn,
				Text:      msg.Transcript,
				IsFinal:   msg.EndOfTurn,
				Formatted: msg.TurnIsFormatted,
			})
		case "Termination":
			t.log.Info().Float64("audio_duration_seconds", msg.AudioDurationSeconds).Msg("session terminated")
			t.emit(speech.TranscriptEvent{
				Type:                 speech.EventTermination,
				AudioDurationSeconds: msg.AudioDurationSeconds,
			})
			return
		case "Error":
			desc := msg.Error
			if desc == "" {
				desc = fmt.Sprintf("code=%v message=%s", msg.ErrorCode, msg.ErrorMessage)
			}
			t.log.Error().Str("error", desc).Msg("AssemblyAI error")
			t.emit(speech.TranscriptEvent{Type: speech.EventError, Error: desc})
			return
		default:
			t.log.Debug().Str("type", msg.Type).Msg("ignoring message")
		}
	}
}

func (t *StreamingTranscriber) emit(event speech.TranscriptEvent) {
	select {
	case t.events <- event:
	case <-t.stop:
	}
}
