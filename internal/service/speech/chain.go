package speech

import (
	"context"
	"errors"
	"io"
	"strings"

	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-voice/backend/internal/analysis/sentence"
	"github.com/zhouzirui/z-voice/backend/internal/apperr"
	"github.com/zhouzirui/z-voice/backend/internal/logger"
	"github.com/zhouzirui/z-voice/backend/internal/model/chat"
	"github.com/zhouzirui/z-voice/backend/internal/model/speech"
)

// ErrNoContent means the LLM stream ended without any speakable text.
var ErrNoContent = errors.New("llm produced no content")

// ReplyStreamer streams an LLM answer for a query.
type ReplyStreamer interface {
	StreamReply(ctx context.Context, history []chat.Message, query string) (*schema.StreamReader[*schema.Message], error)
}

// StreamingSynthesizer turns a stream of sentence fragments into audio.
type StreamingSynthesizer interface {
	Synthesize(ctx context.Context, voice speech.Voice, fragments <-chan sentence.Segment, onAudio AudioFunc) (*SynthesisResult, error)
}

// HistoryStore is the session store used for conversational turns.
type HistoryStore interface {
	History(sessionID string) []chat.Message
	Append(sessionID string, messages ...chat.Message)
	WithSession(ctx context.Context, sessionID string, fn func() error) error
}

// TurnRequest describes one user turn.
type TurnRequest struct {
	// SessionID selects conversation history; empty means a stateless turn.
	SessionID string
	Query     string
	Voice     speech.Voice
	// TextOnly skips synthesis.
	TextOnly bool

	OnSegment func(seg sentence.Segment)
	OnAudio   AudioFunc
}

// TurnResult is the outcome of a completed turn.
type TurnResult struct {
	Query     string
	Reply     string
	Segments  []string
	Audio     [][]byte
	ContextID string
}

// TurnPipeline runs LLM streaming, sentence segmentation and streaming
// synthesis for one turn.
type TurnPipeline struct {
	llm     ReplyStreamer
	synth   StreamingSynthesizer
	history HistoryStore
	log     zerolog.Logger
}

// NewTurnPipeline 创建对话轮处理链。synth 为 nil 时只输出文本。
func NewTurnPipeline(llm ReplyStreamer, synth StreamingSynthesizer, history HistoryStore) *TurnPipeline {
	return &TurnPipeline{
		llm:     llm,
		synth:   synth,
		history: history,
		log:     logger.Component("turn"),
	}
}

// Run executes the turn. With a session id the history read, generation and
// history append happen under the session's lock, and history is only
// updated when the turn succeeds.
func (p *TurnPipeline) Run(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if strings.TrimSpace(req.Query) == "" {
		return nil, apperr.Validation(apperr.StageLLM, "query is empty")
	}
	if p.llm == nil {
		return nil, apperr.Configuration(apperr.StageLLM, "LLM is not configured")
	}

	if req.SessionID == "" || p.history == nil {
		return p.run(ctx, nil, req)
	}

	var result *TurnResult
	err := p.history.WithSession(ctx, req.SessionID, func() error {
		var err error
		result, err = p.run(ctx, p.history.History(req.SessionID), req)
		if err != nil {
			return err
		}
		p.history.Append(req.SessionID, chat.UserMessage(req.Query), chat.AssistantMessage(result.Reply))
		return nil
	})
	return result, err
}

// synthesisRun tracks the synthesizer goroutine of one turn. It starts lazily
// with the first fragment, so a turn without content never opens a context.
type synthesisRun struct {
	fragments chan sentence.Segment
	done      chan struct{}
	result    *SynthesisResult
	err       error
}

func (p *TurnPipeline) startSynthesis(ctx context.Context, req TurnRequest) *synthesisRun {
	run := &synthesisRun{
		fragments: make(chan sentence.Segment, 16),
		done:      make(chan struct{}),
	}
	go func() {
		defer close(run.done)
		run.result, run.err = p.synth.Synthesize(ctx, req.Voice, run.fragments, req.OnAudio)
	}()
	return run
}

func (p *TurnPipeline) run(ctx context.Context, history []chat.Message, req TurnRequest) (*TurnResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := p.llm.StreamReply(ctx, history, req.Query)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	speak := !req.TextOnly && p.synth != nil
	result := &TurnResult{Query: req.Query}
	segmenter := sentence.New()

	var synth *synthesisRun
	// pending holds the newest segment back so the final one can carry End.
	var pending *sentence.Segment

	forward := func(seg sentence.Segment) error {
		result.Segments = append(result.Segments, seg.Text)
		if req.OnSegment != nil {
			req.OnSegment(seg)
		}
		if !speak {
			return nil
		}
		if synth == nil {
			synth = p.startSynthesis(ctx, req)
		}
		select {
		case synth.fragments <- seg:
			return nil
		case <-synth.done:
			if synth.err != nil {
				return synth.err
			}
			return apperr.Upstream(apperr.StageSynthesis, errors.New("synthesis ended early"))
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	abort := func(err error) (*TurnResult, error) {
		cancel()
		if synth != nil {
			close(synth.fragments)
			<-synth.done
		}
		return nil, err
	}

	var reply strings.Builder
	for {
		chunk, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return abort(apperr.Upstream(apperr.StageLLM, err))
		}
		if chunk == nil || chunk.Content == "" {
			continue
		}

		reply.WriteString(chunk.Content)
		for _, seg := range segmenter.Push(chunk.Content) {
			if pending != nil {
				if err := forward(*pending); err != nil {
					return abort(err)
				}
			}
			seg := seg
			pending = &seg
		}
	}

	last, ok := segmenter.Flush()
	switch {
	case ok:
		if pending != nil {
			if err := forward(*pending); err != nil {
				return abort(err)
			}
		}
		if err := forward(last); err != nil {
			return abort(err)
		}
	case pending != nil:
		pending.End = true
		if err := forward(*pending); err != nil {
			return abort(err)
		}
	}

	if segmenter.Emitted() == 0 {
		return nil, apperr.Upstream(apperr.StageLLM, ErrNoContent)
	}
	result.Reply = strings.TrimSpace(reply.String())

	if synth != nil {
		close(synth.fragments)
		<-synth.done
		if synth.err != nil {
			return nil, synth.err
		}
		result.Audio = synth.result.Chunks
		result.ContextID = synth.result.ContextID
	}

	p.log.Info().
		Str("session_id", req.SessionID).
		Int("segments", len(result.Segments)).
		Int("audio_chunks", len(result.Audio)).
		Msg("turn complete")
	return result, nil
}
