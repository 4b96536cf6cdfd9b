package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/zhouzirui/z-voice/backend/internal/config"
	"github.com/zhouzirui/z-voice/backend/internal/handler"
	handlerSpeech "github.com/zhouzirui/z-voice/backend/internal/handler/speech"
	"github.com/zhouzirui/z-voice/backend/internal/logger"
	"github.com/zhouzirui/z-voice/backend/internal/metrics"
	"github.com/zhouzirui/z-voice/backend/internal/model/persona"
	speechModel "github.com/zhouzirui/z-voice/backend/internal/model/speech"
	"github.com/zhouzirui/z-voice/backend/internal/service/ai"
	"github.com/zhouzirui/z-voice/backend/internal/service/chat"
	"github.com/zhouzirui/z-voice/backend/internal/service/news"
	"github.com/zhouzirui/z-voice/backend/internal/service/speech"
	"github.com/zhouzirui/z-voice/backend/internal/storage/scratch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty})
	if envErr != nil {
		log.Warn().Err(envErr).Msg("no .env file, continuing with system environment variables only")
	}

	m := metrics.NewMetrics()

	// Initialize persona store and chat history
	personaStore := persona.NewMemoryStore(persona.Seed())
	chatService := chat.NewService()

	// News enrichment is optional
	var enricher ai.QueryEnricher
	if cfg.News.Enabled() {
		client := news.NewClient(news.Config{
			APIKey:   cfg.News.APIKey,
			BaseURL:  cfg.News.BaseURL,
			Country:  cfg.News.Country,
			PageSize: cfg.News.PageSize,
		}, nil)
		enricher = news.NewEnricher(client, m)
		log.Info().Msg("news enrichment enabled")
	} else {
		log.Info().Msg("NEWS_API_KEY 未配置，跳过新闻增强")
	}

	// Initialize AI service
	var aiService *ai.Service
	if cfg.AI.Enabled() {
		aiService, err = ai.NewService(ctx, personaStore, cfg.AI, ai.Options{Enricher: enricher, Metrics: m})
		if err != nil {
			log.Warn().Err(err).Msg("failed to initialize AI service, continuing without LLM")
			aiService = nil
		} else {
			log.Info().Str("provider", cfg.AI.Provider).Str("persona", aiService.Persona().ID).Msg("AI service initialized")
		}
	} else {
		log.Warn().Str("provider", cfg.AI.Provider).Msg("LLM 凭证未配置，跳过 AI 功能初始化")
	}

	// Initialize speech service
	deps := speech.Deps{History: chatService, Metrics: m}
	if aiService != nil {
		deps.LLM = aiService
		p := aiService.Persona()
		deps.Voice = speechModel.Voice{ID: p.VoiceID, Style: p.Style}
	}
	speechService := speech.NewService(cfg.Speech, deps)
	if !cfg.Speech.TranscriptionEnabled() {
		log.Warn().Msg("ASSEMBLYAI_API_KEY 未配置，语音识别不可用")
	}
	if !cfg.Speech.SynthesisEnabled() {
		log.Warn().Msg("MURF_API_KEY 未配置，语音合成不可用")
	}

	scratchStore, err := scratch.New(cfg.Server.UploadsDir, m)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to prepare uploads directory")
	}
	stopJanitor, err := scratchStore.StartJanitor(cfg.Janitor.Schedule, cfg.Janitor.MaxAge)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to start scratch janitor")
	}
	defer stopJanitor()

	var dumps handlerSpeech.DumpStore
	if cfg.Speech.AudioDump {
		dumps = scratchStore
	}

	router := handler.NewRouter(handler.Deps{
		Personas:  personaStore,
		PersonaID: cfg.AI.PersonaID,
		Chat:      chatService,
		Speech:    speechService,
		Scratch:   scratchStore,
		Dumps:     dumps,
		Metrics:   m,
		StaticDir: cfg.Server.StaticDir,
	})

	startServer(ctx, cfg.Server, router)
}

func startServer(ctx context.Context, serverCfg config.ServerConfig, router http.Handler) {
	addr := serverCfg.Addr
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().Str("addr", addr).Msg("voice agent backend listening")
	if err := runServer(ctx, srv); err != nil {
		log.Fatal().Err(err).Msg("server error")
	}
	log.Info().Msg("server stopped")
}

func runServer(ctx context.Context, srv *http.Server) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
