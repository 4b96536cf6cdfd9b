package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-voice/backend/internal/apperr"
	"github.com/zhouzirui/z-voice/backend/internal/logger"
	"github.com/zhouzirui/z-voice/backend/internal/model/speech"
	speechsvc "github.com/zhouzirui/z-voice/backend/internal/service/speech"
	"github.com/zhouzirui/z-voice/backend/internal/storage/scratch"
	"github.com/zhouzirui/z-voice/backend/pkg/utils"
)

const maxUploadBytes = 32 << 20

// SpeechService 抽象语音业务，便于测试与替换实现
type SpeechService interface {
	DefaultVoice() speech.Voice
	TranscribeFile(ctx context.Context, path string) (string, error)
	SynthesizeURL(ctx context.Context, text string, voice speech.Voice) (string, error)
	RunTurn(ctx context.Context, req speechsvc.TurnRequest) (*speechsvc.TurnResult, error)
}

// ScratchStore 保存请求期间的临时音频文件
type ScratchStore interface {
	Save(r io.Reader, ext string) (*scratch.File, error)
}

// Handler 语音服务的HTTP处理器
type Handler struct {
	speechSvc SpeechService
	scratch   ScratchStore
	log       zerolog.Logger
}

// New 创建语音处理器
func New(speechSvc SpeechService, store ScratchStore) *Handler {
	return &Handler{
		speechSvc: speechSvc,
		scratch:   store,
		log:       logger.Component("speech_http"),
	}
}

// RegisterRoutes 注册语音相关的路由
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/text-to-speech", h.handleTextToSpeech)
	r.Post("/upload-audio/", h.handleUpload)
	r.Post("/transcribe/file", h.handleTranscribeFile)
	r.Post("/tts/echo", h.handleEcho)
	r.Post("/llm/query", h.handleLLMQuery)
	r.Post("/agent/chat/{session_id}", h.handleAgentChat)
}

// handleTextToSpeech 直接合成请求中的文本
func (h *Handler) handleTextToSpeech(w http.ResponseWriter, r *http.Request) {
	var req speech.TTSRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, apperr.Validation(apperr.StageSynthesis, "invalid request body"))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		h.respondError(w, apperr.Validation(apperr.StageSynthesis, "text is required"))
		return
	}

	audioURL, err := h.speechSvc.SynthesizeURL(r.Context(), req.Text, req.Voice())
	if err != nil {
		h.respondError(w, err)
		return
	}

	utils.RespondJSON(w, http.StatusOK, speech.PipelineResponse{
		Transcript:  req.Text,
		LLMResponse: req.Text,
		AudioURL:    audioURL,
	})
}

// handleUpload 保存上传的音频并返回文件信息，文件在响应后删除
func (h *Handler) handleUpload(w http.ResponseWriter, r *http.Request) {
	defer cleanupForm(r)
	file, header, err := h.formFile(w, r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	defer file.Close()

	contentType := header.Header.Get("Content-Type")
	if !strings.HasPrefix(contentType, "audio/") {
		h.respondError(w, apperr.Validation(apperr.StageUpload, "Invalid file type. Audio files only."))
		return
	}

	saved, err := h.save(file, header)
	if err != nil {
		h.respondError(w, err)
		return
	}
	defer saved.Remove()

	utils.RespondJSON(w, http.StatusOK, speech.UploadResponse{
		Filename:    header.Filename,
		ContentType: contentType,
		SizeInBytes: saved.Size,
	})
}

// handleTranscribeFile 仅识别音频文件
func (h *Handler) handleTranscribeFile(w http.ResponseWriter, r *http.Request) {
	h.withTranscript(w, r, func(ctx context.Context, transcript string) (*speech.PipelineResponse, error) {
		return &speech.PipelineResponse{Transcript: transcript, LLMResponse: transcript}, nil
	})
}

// handleEcho 识别音频后用默认音色朗读识别结果
func (h *Handler) handleEcho(w http.ResponseWriter, r *http.Request) {
	h.withTranscript(w, r, func(ctx context.Context, transcript string) (*speech.PipelineResponse, error) {
		audioURL, err := h.speechSvc.SynthesizeURL(ctx, transcript, h.speechSvc.DefaultVoice())
		if err != nil {
			return nil, err
		}
		return &speech.PipelineResponse{Transcript: transcript, LLMResponse: transcript, AudioURL: audioURL}, nil
	})
}

// handleLLMQuery 识别、单轮问答并合成回复
func (h *Handler) handleLLMQuery(w http.ResponseWriter, r *http.Request) {
	h.withTranscript(w, r, func(ctx context.Context, transcript string) (*speech.PipelineResponse, error) {
		return h.reply(ctx, "", transcript)
	})
}

// handleAgentChat 识别后带会话历史问答并合成回复
func (h *Handler) handleAgentChat(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimSpace(chi.URLParam(r, "session_id"))
	if sessionID == "" {
		h.respondError(w, apperr.Validation(apperr.StageLLM, "session_id is required"))
		return
	}

	h.withTranscript(w, r, func(ctx context.Context, transcript string) (*speech.PipelineResponse, error) {
		return h.reply(ctx, sessionID, transcript)
	})
}

func (h *Handler) reply(ctx context.Context, sessionID, transcript string) (*speech.PipelineResponse, error) {
	turn, err := h.speechSvc.RunTurn(ctx, speechsvc.TurnRequest{
		SessionID: sessionID,
		Query:     transcript,
		TextOnly:  true,
	})
	if err != nil {
		return nil, err
	}

	audioURL, err := h.speechSvc.SynthesizeURL(ctx, turn.Reply, h.speechSvc.DefaultVoice())
	if err != nil {
		return nil, err
	}
	return &speech.PipelineResponse{Transcript: transcript, LLMResponse: turn.Reply, AudioURL: audioURL}, nil
}

// withTranscript 保存上传文件、识别，然后交给 next 处理。临时文件在所有路径上都会删除。
func (h *Handler) withTranscript(w http.ResponseWriter, r *http.Request, next func(ctx context.Context, transcript string) (*speech.PipelineResponse, error)) {
	defer cleanupForm(r)
	file, header, err := h.formFile(w, r)
	if err != nil {
		h.respondError(w, err)
		return
	}
	defer file.Close()

	saved, err := h.save(file, header)
	if err != nil {
		h.respondError(w, err)
		return
	}
	defer saved.Remove()

	transcript, err := h.speechSvc.TranscribeFile(r.Context(), saved.Path)
	if err != nil {
		h.respondError(w, err)
		return
	}

	resp, err := next(r.Context(), transcript)
	if err != nil {
		h.respondError(w, err)
		return
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

// formFile 解析 multipart 表单中的 file 字段。调用方需关闭返回的文件。
func (h *Handler) formFile(w http.ResponseWriter, r *http.Request) (multipart.File, *multipart.FileHeader, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, nil, apperr.Validation(apperr.StageUpload, "failed to parse multipart form: "+err.Error())
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, nil, apperr.Validation(apperr.StageUpload, "file is required")
	}
	return file, header, nil
}

func cleanupForm(r *http.Request) {
	if r.MultipartForm != nil {
		_ = r.MultipartForm.RemoveAll()
	}
}

func (h *Handler) save(file multipart.File, header *multipart.FileHeader) (*scratch.File, error) {
	if h.scratch == nil {
		return nil, apperr.Configuration(apperr.StageUpload, "upload storage unavailable")
	}

	ext := filepath.Ext(header.Filename)
	if ext == "" {
		ext = ".webm"
	}
	saved, err := h.scratch.Save(file, ext)
	if err != nil {
		return nil, &apperr.Error{Stage: apperr.StageUpload, Err: err}
	}
	return saved, nil
}

// respondError 按错误类型映射状态码，并附带失败阶段
func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := apperr.HTTPStatus(err)
	stage := apperr.Stage(err)

	event := h.log.Error()
	if status < http.StatusInternalServerError {
		event = h.log.Warn()
	}
	event.Err(err).Str("stage", stage).Int("status", status).Msg("request failed")

	message := err.Error()
	var appErr *apperr.Error
	if errors.As(err, &appErr) && appErr.Err != nil {
		message = appErr.Err.Error()
	}
	utils.RespondStageError(w, status, stage, message)
}
