package chat

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/z-voice/backend/internal/model/chat"
	"github.com/zhouzirui/z-voice/backend/pkg/utils"
)

// HistoryReader 只读访问会话历史
type HistoryReader interface {
	History(sessionID string) []chat.Message
	Sessions() []string
}

// Handler 聊天历史的HTTP处理器
type Handler struct {
	history HistoryReader
}

// New 创建聊天处理器
func New(history HistoryReader) *Handler {
	return &Handler{history: history}
}

// HistoryResponse 会话历史响应
type HistoryResponse struct {
	SessionID string         `json:"session_id"`
	Messages  []chat.Message `json:"messages"`
}

// RegisterRoutes 注册聊天相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/agent/chat/{session_id}", h.handleHistory)
	r.Get("/agent/sessions", h.handleSessions)
}

// handleHistory 返回会话最近的消息
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "session_id"))
	if sessionID == "" {
		utils.RespondError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	utils.RespondJSON(w, http.StatusOK, HistoryResponse{
		SessionID: sessionID,
		Messages:  h.history.History(sessionID),
	})
}

// handleSessions 列出已知会话
func (h *Handler) handleSessions(w http.ResponseWriter, r *http.Request) {
	utils.RespondJSON(w, http.StatusOK, map[string][]string{"sessions": h.history.Sessions()})
}
