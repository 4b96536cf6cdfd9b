package speech

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/z-voice/backend/internal/analysis/sentence"
	"github.com/zhouzirui/z-voice/backend/internal/apperr"
	"github.com/zhouzirui/z-voice/backend/internal/logger"
	"github.com/zhouzirui/z-voice/backend/internal/metrics"
	"github.com/zhouzirui/z-voice/backend/internal/model/speech"
)

const defaultMurfStreamURL = "wss://api.murf.ai/v1/speech/stream-input"

var (
	// ErrSynthesisClosed means the synthesis connection ended before Murf
	// signalled the final audio chunk.
	ErrSynthesisClosed = errors.New("synthesis connection closed before final audio")

	errNoFinalFragment = errors.New("fragment stream ended without a final fragment")
)

// AudioFunc receives each decoded audio chunk as it arrives.
type AudioFunc func(index int, chunk []byte)

// SynthesisResult is the audio produced for one turn.
type SynthesisResult struct {
	ContextID string
	Chunks    [][]byte
	Fragments int
}

// SynthesizerConfig configures the streaming synthesizer.
type SynthesizerConfig struct {
	APIKey     string
	URL        string
	SampleRate int
	Dialer     Dialer
	Limiter    *ContextLimiter
	Metrics    *metrics.Metrics
}

// StreamSynthesizer forwards sentence fragments to Murf's stream-input
// websocket. Every call uses its own connection and context id.
type StreamSynthesizer struct {
	cfg SynthesizerConfig
	log zerolog.Logger
}

type murfVoiceConfig struct {
	VoiceID string `json:"voiceId"`
	Style   string `json:"style,omitempty"`
}

type murfConfigMessage struct {
	ContextID   string          `json:"context_id"`
	VoiceConfig murfVoiceConfig `json:"voice_config"`
}

type murfTextMessage struct {
	ContextID string `json:"context_id"`
	Text      string `json:"text"`
	End       bool   `json:"end"`
}

type murfResponse struct {
	Audio     string `json:"audio"`
	Final     bool   `json:"final"`
	ContextID string `json:"context_id"`
	Error     string `json:"error"`
}

// NewStreamSynthesizer 创建流式合成器。
func NewStreamSynthesizer(cfg SynthesizerConfig) *StreamSynthesizer {
	if cfg.URL == "" {
		cfg.URL = defaultMurfStreamURL
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 44100
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	}
	if cfg.Limiter == nil {
		cfg.Limiter = NewContextLimiter(DefaultMaxContexts, cfg.Metrics)
	}
	return &StreamSynthesizer{cfg: cfg, log: logger.Component("murf")}
}

// Synthesize opens a connection and a fresh context for one turn, sends the
// voice configuration, then streams fragments while concurrently collecting
// audio until Murf reports the final chunk. The fragment with End set must
// be the last one sent on fragments.
func (s *StreamSynthesizer) Synthesize(ctx context.Context, voice speech.Voice, fragments <-chan sentence.Segment, onAudio AudioFunc) (*SynthesisResult, error) {
	result, err := s.synthesize(ctx, voice, fragments, onAudio)
	s.cfg.Metrics.ObserveUpstream(apperr.StageSynthesis, err)
	if err != nil {
		return result, apperr.Upstream(apperr.StageSynthesis, err)
	}
	return result, nil
}

func (s *StreamSynthesizer) synthesize(ctx context.Context, voice speech.Voice, fragments <-chan sentence.Segment, onAudio AudioFunc) (*SynthesisResult, error) {
	if s.cfg.APIKey == "" {
		return nil, apperr.Configuration(apperr.StageSynthesis, "MURF_API_KEY is not configured")
	}

	contextID := "turn-" + uuid.NewString()
	release, err := s.cfg.Limiter.Acquire(ctx, contextID)
	if err != nil {
		return nil, err
	}
	defer release()

	conn, err := s.dial(ctx)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	log := s.log.With().Str("context_id", contextID).Logger()
	result := &SynthesisResult{ContextID: contextID}

	if err := conn.WriteJSON(murfConfigMessage{
		ContextID:   contextID,
		VoiceConfig: murfVoiceConfig{VoiceID: voice.ID, Style: voice.Style},
	}); err != nil {
		return result, fmt.Errorf("send voice config: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)

	// unblock the receiver when either side fails or ctx ends
	go func() {
		<-gctx.Done()
		_ = conn.SetReadDeadline(time.Now())
	}()

	g.Go(func() error {
		sentEnd := false
		for {
			select {
			case <-gctx.Done():
				return gctx.Err()
			case seg, ok := <-fragments:
				if !ok {
					if !sentEnd {
						return errNoFinalFragment
					}
					return nil
				}
				text := strings.TrimSpace(seg.Text)
				if text == "" {
					continue
				}
				if err := conn.WriteJSON(murfTextMessage{ContextID: contextID, Text: text, End: seg.End}); err != nil {
					return fmt.Errorf("send text: %w", err)
				}
				result.Fragments++
				s.cfg.Metrics.SegmentSent()
				log.Debug().Str("text", text).Bool("end", seg.End).Msg("sent fragment")
				if seg.End {
					sentEnd = true
				}
			}
		}
	})

	g.Go(func() error {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}
				return fmt.Errorf("%w: %v", ErrSynthesisClosed, err)
			}

			var msg murfResponse
			if err := json.Unmarshal(data, &msg); err != nil {
				log.Warn().Err(err).Msg("error parsing Murf message")
				continue
			}
			if msg.Error != "" {
				return fmt.Errorf("murf error: %s", msg.Error)
			}

			if msg.Audio != "" {
				chunk, err := base64.StdEncoding.DecodeString(msg.Audio)
				if err != nil {
					return fmt.Errorf("decode audio: %w", err)
				}
				index := len(result.Chunks)
				result.Chunks = append(result.Chunks, chunk)
				if onAudio != nil {
					onAudio(index, chunk)
				}
			}

			if msg.Final {
				log.Info().Int("chunks", len(result.Chunks)).Msg("synthesis complete")
				return nil
			}
		}
	})

	if err := g.Wait(); err != nil {
		return result, err
	}

	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return result, nil
}

func (s *StreamSynthesizer) dial(ctx context.Context) (*websocket.Conn, error) {
	u, err := url.Parse(s.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Murf URL: %w", err)
	}
	q := u.Query()
	q.Set("api-key", s.cfg.APIKey)
	q.Set("sample_rate", strconv.Itoa(s.cfg.SampleRate))
	q.Set("channel_type", "MONO")
	q.Set("format", "WAV")
	u.RawQuery = q.Encode()

	conn, _, err := s.cfg.Dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Murf: %w", err)
	}
	return conn, nil
}
