package speech

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zhouzirui/z-voice/backend/internal/apperr"
	"github.com/zhouzirui/z-voice/backend/internal/config"
	"github.com/zhouzirui/z-voice/backend/internal/metrics"
	"github.com/zhouzirui/z-voice/backend/internal/model/speech"
)

// Service 语音服务核心业务逻辑：文件识别、流式识别、REST 合成与对话轮处理。
type Service struct {
	files    *FileTranscriber
	rest     *RESTSynthesizer
	stream   TranscriberConfig
	synth    *StreamSynthesizer
	limiter  *ContextLimiter
	pipeline *TurnPipeline
	voice    speech.Voice
}

// Deps are the collaborators Service needs beyond configuration.
type Deps struct {
	LLM        ReplyStreamer
	History    HistoryStore
	Voice      speech.Voice
	Metrics    *metrics.Metrics
	Dialer     Dialer
	HTTPClient *http.Client
}

// NewService 创建语音服务实例。缺失的凭证只会禁用对应功能。
func NewService(cfg config.SpeechConfig, deps Deps) *Service {
	dialer := deps.Dialer
	if dialer == nil {
		dialer = &websocket.Dialer{HandshakeTimeout: cfg.Timeout}
	}
	httpClient := deps.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	voice := deps.Voice.WithDefaults(speech.Voice{ID: cfg.MurfVoice, Style: cfg.MurfStyle})

	limiter := NewContextLimiter(cfg.MurfMaxContexts, deps.Metrics)
	s := &Service{
		files: NewFileTranscriber(cfg.AssemblyAIKey, deps.Metrics),
		rest:  NewRESTSynthesizer(cfg.MurfKey, cfg.MurfRESTURL, httpClient, deps.Metrics),
		stream: TranscriberConfig{
			APIKey:     cfg.AssemblyAIKey,
			URL:        cfg.AssemblyAIStreamURL,
			SampleRate: cfg.SampleRate,
			Dialer:     dialer,
			Metrics:    deps.Metrics,
		},
		limiter: limiter,
		voice:   voice,
	}

	var synth StreamingSynthesizer
	if cfg.SynthesisEnabled() {
		s.synth = NewStreamSynthesizer(SynthesizerConfig{
			APIKey:     cfg.MurfKey,
			URL:        cfg.MurfStreamURL,
			SampleRate: cfg.MurfSampleRate,
			Dialer:     dialer,
			Limiter:    limiter,
			Metrics:    deps.Metrics,
		})
		synth = s.synth
	}
	if deps.LLM != nil {
		s.pipeline = NewTurnPipeline(deps.LLM, synth, deps.History)
	}
	return s
}

// DefaultVoice returns the voice used when a request names none.
func (s *Service) DefaultVoice() speech.Voice {
	return s.voice
}

// TranscribeFile 识别上传的音频文件。
func (s *Service) TranscribeFile(ctx context.Context, path string) (string, error) {
	return s.files.TranscribeFile(ctx, path)
}

// SynthesizeURL 合成语音并返回 Murf 托管的音频地址。
func (s *Service) SynthesizeURL(ctx context.Context, text string, voice speech.Voice) (string, error) {
	return s.rest.Generate(ctx, text, voice.WithDefaults(s.voice))
}

// OpenTranscription 为一个浏览器连接打开流式识别会话。
func (s *Service) OpenTranscription(ctx context.Context) (Transcription, error) {
	t, err := OpenTranscription(ctx, s.stream)
	if err != nil {
		return nil, err
	}
	return t, nil
}

// RunTurn 执行一轮对话：LLM 流式生成、分句、流式合成。
func (s *Service) RunTurn(ctx context.Context, req TurnRequest) (*TurnResult, error) {
	if s.pipeline == nil {
		return nil, apperr.Configuration(apperr.StageLLM, "LLM is not configured")
	}
	req.Voice = req.Voice.WithDefaults(s.voice)
	return s.pipeline.Run(ctx, req)
}

// ActiveContexts lists live synthesis context ids.
func (s *Service) ActiveContexts() []string {
	return s.limiter.Active()
}

// CloseTimeout bounds how long teardown waits for upstream termination.
const CloseTimeout = 5 * time.Second
