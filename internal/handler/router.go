package handler

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-voice/backend/internal/handler/chat"
	"github.com/zhouzirui/z-voice/backend/internal/handler/persona"
	"github.com/zhouzirui/z-voice/backend/internal/handler/speech"
	"github.com/zhouzirui/z-voice/backend/internal/handler/stream"
	"github.com/zhouzirui/z-voice/backend/internal/logger"
	"github.com/zhouzirui/z-voice/backend/internal/metrics"
	personaModel "github.com/zhouzirui/z-voice/backend/internal/model/persona"
	chatService "github.com/zhouzirui/z-voice/backend/internal/service/chat"
	speechService "github.com/zhouzirui/z-voice/backend/internal/service/speech"
	"github.com/zhouzirui/z-voice/backend/pkg/utils"
)

// Version is reported by the health endpoint.
const Version = "1.6.0"

// Deps 路由所需的核心服务
type Deps struct {
	Personas  personaModel.Store
	PersonaID string
	Chat      *chatService.Service
	Speech    *speechService.Service
	Scratch   speech.ScratchStore
	// Dumps 为 nil 时不保存实时音频
	Dumps     speech.DumpStore
	Metrics   *metrics.Metrics
	StaticDir string
}

var endpoints = []string{
	"/api/text-to-speech",
	"/api/upload-audio/",
	"/api/transcribe/file",
	"/api/tts/echo",
	"/api/llm/query",
	"/api/agent/chat/{session_id}",
	"/api/llm/stream/{session_id}",
	"/api/personas",
	"/ws",
	"/ws/audio",
}

// NewRouter wires HTTP routes to core services.
func NewRouter(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.Middleware)
	r.Use(middleware.Recoverer)

	personaHandler := persona.New(deps.Personas, deps.PersonaID)
	chatHandler := chat.New(deps.Chat)
	speechHandler := speech.New(deps.Speech, deps.Scratch)
	wsHandler := speech.NewWebSocketHandler(deps.Speech, speech.WebSocketOptions{
		Dumps:   deps.Dumps,
		Metrics: deps.Metrics,
	})

	personaName := ""
	if p, ok := personaModel.Resolve(deps.Personas, deps.PersonaID); ok {
		personaName = p.Name
	}
	streamHandler := stream.New(deps.Speech, personaName)

	r.Route("/api", func(api chi.Router) {
		api.Get("/health", healthHandler(deps.Speech))

		personaHandler.RegisterRoutes(api)
		chatHandler.RegisterRoutes(api)
		speechHandler.RegisterRoutes(api)
		streamHandler.RegisterRoutes(api)
	})

	wsHandler.RegisterWebSocketRoutes(r)

	if deps.Metrics != nil {
		r.Handle("/metrics", deps.Metrics.Handler())
	}

	if info, err := os.Stat(deps.StaticDir); err == nil && info.IsDir() {
		r.Handle("/*", http.FileServer(http.Dir(deps.StaticDir)))
	} else if deps.StaticDir != "" {
		log.Warn().Str("dir", deps.StaticDir).Msg("static directory missing, frontend not served")
	}

	return r
}

// healthHandler 健康检查端点，附带当前占用的合成上下文
func healthHandler(svc *speechService.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		active := []string{}
		if svc != nil {
			active = svc.ActiveContexts()
		}
		utils.RespondJSON(w, http.StatusOK, map[string]any{
			"status":          "AI Voice Agent Running!",
			"version":         Version,
			"endpoints":       endpoints,
			"active_contexts": active,
		})
	}
}
