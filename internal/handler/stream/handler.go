package stream

import (
	"context"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-voice/backend/internal/analysis/sentence"
	"github.com/zhouzirui/z-voice/backend/internal/apperr"
	"github.com/zhouzirui/z-voice/backend/internal/logger"
	speechsvc "github.com/zhouzirui/z-voice/backend/internal/service/speech"
	"github.com/zhouzirui/z-voice/backend/pkg/utils"
)

// TurnRunner runs one conversational turn.
type TurnRunner interface {
	RunTurn(ctx context.Context, req speechsvc.TurnRequest) (*speechsvc.TurnResult, error)
}

// Handler streams LLM replies sentence by sentence via Server-Sent Events.
type Handler struct {
	turns       TurnRunner
	personaName string
	log         zerolog.Logger
}

// New creates a new stream handler
func New(turns TurnRunner, personaName string) *Handler {
	return &Handler{
		turns:       turns,
		personaName: personaName,
		log:         logger.Component("stream"),
	}
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Event     string `json:"event"`
	Content   string `json:"content,omitempty"`
	SessionID string `json:"sessionId,omitempty"`
	Finished  bool   `json:"finished,omitempty"`
	Stage     string `json:"stage,omitempty"`
	Error     string `json:"error,omitempty"`
}

// RegisterRoutes 注册流式对话路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/llm/stream/{session_id}", h.handleStream)
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "session_id")
	message := strings.TrimSpace(r.URL.Query().Get("message"))
	if message == "" {
		utils.RespondStageError(w, http.StatusBadRequest, apperr.StageLLM, "message query parameter is required")
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		utils.RespondError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}
	utils.SetupSSEHeaders(w)

	h.HandleStreamRequest(r.Context(), w, flusher, sessionID, message)
}

// HandleStreamRequest runs a text-only turn and emits one "sentence" event
// per segment, then "end" with the full reply or "error" with the stage.
func (h *Handler) HandleStreamRequest(ctx context.Context, w http.ResponseWriter, flusher http.Flusher, sessionID, message string) {
	start := StreamResponse{Event: "start", SessionID: sessionID}
	if h.personaName != "" {
		start.Content = h.personaName + "'s reply:"
	}
	utils.SendSSEChunk(w, flusher, start)

	result, err := h.turns.RunTurn(ctx, speechsvc.TurnRequest{
		SessionID: sessionID,
		Query:     message,
		TextOnly:  true,
		OnSegment: func(seg sentence.Segment) {
			utils.SendSSEChunk(w, flusher, StreamResponse{
				Event:     "sentence",
				SessionID: sessionID,
				Content:   seg.Text,
				Finished:  seg.End,
			})
		},
	})
	if err != nil {
		h.log.Error().Err(err).Str("session_id", sessionID).Msg("stream turn failed")
		utils.SendSSEChunk(w, flusher, StreamResponse{
			Event:     "error",
			SessionID: sessionID,
			Stage:     apperr.Stage(err),
			Error:     err.Error(),
		})
		return
	}

	utils.SendSSEChunk(w, flusher, StreamResponse{
		Event:     "end",
		SessionID: sessionID,
		Content:   result.Reply,
		Finished:  true,
	})
	h.log.Info().Str("session_id", sessionID).Int("segments", len(result.Segments)).Msg("stream completed")
}
