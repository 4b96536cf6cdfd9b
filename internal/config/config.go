package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/gemini"
	"github.com/cloudwego/eino/components/model"
	"google.golang.org/genai"
)

// Config 聚合整个服务的配置项。
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	AI      AIConfig
	Speech  SpeechConfig
	News    NewsConfig
	Janitor JanitorConfig
}

// Load 从环境变量加载配置。
func Load() (*Config, error) {
	server, err := loadServerConfig()
	if err != nil {
		return nil, err
	}

	logCfg, err := loadLogConfig()
	if err != nil {
		return nil, err
	}

	ai, err := loadAIConfig()
	if err != nil {
		return nil, err
	}

	speech, err := loadSpeechConfig()
	if err != nil {
		return nil, err
	}

	news, err := loadNewsConfig()
	if err != nil {
		return nil, err
	}

	janitor, err := loadJanitorConfig()
	if err != nil {
		return nil, err
	}

	return &Config{
		Server:  server,
		Log:     logCfg,
		AI:      ai,
		Speech:  speech,
		News:    news,
		Janitor: janitor,
	}, nil
}

// ServerConfig 描述 HTTP 服务配置。
type ServerConfig struct {
	Addr       string
	StaticDir  string
	UploadsDir string
}

// loadServerConfig 解析服务器监听地址。
func loadServerConfig() (ServerConfig, error) {
	port := strings.TrimSpace(os.Getenv("PORT"))
	if port == "" {
		port = "8000"
	}

	cfg := ServerConfig{
		StaticDir:  getEnvOrDefault("STATIC_DIR", "static"),
		UploadsDir: getEnvOrDefault("UPLOADS_DIR", "uploads"),
	}

	if strings.Contains(port, ":") {
		// 允许用户直接传入 ":8000" 或 "127.0.0.1:8000"。
		cfg.Addr = port
		return cfg, nil
	}

	if strings.Contains(port, " ") {
		return ServerConfig{}, fmt.Errorf("invalid PORT value: %q", port)
	}

	cfg.Addr = ":" + port
	return cfg, nil
}

// LogConfig 日志配置。
type LogConfig struct {
	Level  string
	Pretty bool
}

func loadLogConfig() (LogConfig, error) {
	pretty, err := parseBoolEnv("LOG_PRETTY", false)
	if err != nil {
		return LogConfig{}, err
	}
	return LogConfig{
		Level:  strings.ToLower(getEnvOrDefault("LOG_LEVEL", "info")),
		Pretty: pretty,
	}, nil
}

// 支持的大模型提供方。
const (
	ProviderGemini = "gemini"
	ProviderArk    = "ark"
)

// AIConfig 描述大模型相关配置。
type AIConfig struct {
	Provider     string
	GeminiAPIKey string
	GeminiModel  string
	APIKey       string
	AccessKey    string
	SecretKey    string
	Model        string
	BaseURL      string
	Region       string
	Temperature  *float64
	TopP         *float64
	MaxTokens    *int
	PersonaID    string
}

// Enabled 表示是否提供了必需的密钥。
func (c AIConfig) Enabled() bool {
	switch c.Provider {
	case ProviderArk:
		return c.Model != "" && (c.APIKey != "" || (c.AccessKey != "" && c.SecretKey != ""))
	default:
		return c.GeminiAPIKey != "" && c.GeminiModel != ""
	}
}

// NewChatModel 使用配置创建一个模型实例。
func (c AIConfig) NewChatModel(ctx context.Context) (model.ChatModel, error) {
	if !c.Enabled() {
		return nil, fmt.Errorf("%s 凭证或模型配置缺失", c.Provider)
	}

	var temperature *float32
	if c.Temperature != nil {
		val := float32(*c.Temperature)
		temperature = &val
	}

	var topP *float32
	if c.TopP != nil {
		val := float32(*c.TopP)
		topP = &val
	}

	var maxTokens *int
	if c.MaxTokens != nil {
		val := *c.MaxTokens
		maxTokens = &val
	}

	if c.Provider == ProviderArk {
		return ark.NewChatModel(ctx, &ark.ChatModelConfig{
			BaseURL:     c.BaseURL,
			Region:      c.Region,
			APIKey:      c.APIKey,
			AccessKey:   c.AccessKey,
			SecretKey:   c.SecretKey,
			Model:       c.Model,
			MaxTokens:   maxTokens,
			Temperature: temperature,
			TopP:        topP,
		})
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  c.GeminiAPIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}

	return gemini.NewChatModel(ctx, &gemini.Config{
		Client:      client,
		Model:       c.GeminiModel,
		MaxTokens:   maxTokens,
		Temperature: temperature,
		TopP:        topP,
	})
}

func loadAIConfig() (AIConfig, error) {
	temperature, err := parseOptionalFloatEnv("LLM_TEMPERATURE")
	if err != nil {
		return AIConfig{}, err
	}

	topP, err := parseOptionalFloatEnv("LLM_TOP_P")
	if err != nil {
		return AIConfig{}, err
	}

	maxTokens, err := parseOptionalIntEnv("LLM_MAX_TOKENS")
	if err != nil {
		return AIConfig{}, err
	}

	provider := strings.ToLower(getEnvOrDefault("LLM_PROVIDER", ProviderGemini))
	if provider != ProviderGemini && provider != ProviderArk {
		return AIConfig{}, fmt.Errorf("invalid LLM_PROVIDER value %q", provider)
	}

	return AIConfig{
		Provider:     provider,
		GeminiAPIKey: strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
		GeminiModel:  getEnvOrDefault("GEMINI_MODEL", "gemini-1.5-flash"),
		APIKey:       strings.TrimSpace(os.Getenv("ARK_API_KEY")),
		AccessKey:    strings.TrimSpace(os.Getenv("ARK_ACCESS_KEY")),
		SecretKey:    strings.TrimSpace(os.Getenv("ARK_SECRET_KEY")),
		Model:        strings.TrimSpace(os.Getenv("ARK_MODEL")),
		BaseURL:      getEnvOrDefault("ARK_BASE_URL", "https://ark.cn-beijing.volces.com/api/v3"),
		Region:       getEnvOrDefault("ARK_REGION", "cn-beijing"),
		Temperature:  temperature,
		TopP:         topP,
		MaxTokens:    maxTokens,
		PersonaID:    getEnvOrDefault("PERSONA_ID", "masha"),
	}, nil
}

// SpeechConfig 描述语音服务相关配置
type SpeechConfig struct {
	AssemblyAIKey       string
	AssemblyAIStreamURL string
	SampleRate          int
	MurfKey             string
	MurfVoice           string
	MurfStyle           string
	MurfStreamURL       string
	MurfRESTURL         string
	MurfSampleRate      int
	MurfMaxContexts     int
	Timeout             time.Duration
	AudioDump           bool
}

// TranscriptionEnabled 表示是否配置了 AssemblyAI 密钥。
func (c SpeechConfig) TranscriptionEnabled() bool {
	return c.AssemblyAIKey != ""
}

// SynthesisEnabled 表示是否配置了 Murf 密钥。
func (c SpeechConfig) SynthesisEnabled() bool {
	return c.MurfKey != ""
}

func loadSpeechConfig() (SpeechConfig, error) {
	// 解析超时设置
	timeout, err := parseOptionalIntEnv("SPEECH_TIMEOUT")
	if err != nil {
		return SpeechConfig{}, err
	}
	timeoutSeconds := 30 // 默认30秒
	if timeout != nil {
		timeoutSeconds = *timeout
	}

	sampleRate, err := parseIntEnv("ASSEMBLYAI_SAMPLE_RATE", 16000)
	if err != nil {
		return SpeechConfig{}, err
	}

	murfRate, err := parseIntEnv("MURF_SAMPLE_RATE", 44100)
	if err != nil {
		return SpeechConfig{}, err
	}

	maxContexts, err := parseIntEnv("MURF_MAX_CONTEXTS", 5)
	if err != nil {
		return SpeechConfig{}, err
	}
	if maxContexts < 1 {
		maxContexts = 1
	}

	dump, err := parseBoolEnv("AUDIO_DUMP_ENABLED", false)
	if err != nil {
		return SpeechConfig{}, err
	}

	return SpeechConfig{
		AssemblyAIKey:       strings.TrimSpace(os.Getenv("ASSEMBLYAI_API_KEY")),
		AssemblyAIStreamURL: getEnvOrDefault("ASSEMBLYAI_STREAM_URL", "wss://streaming.assemblyai.com/v3/ws"),
		SampleRate:          sampleRate,
		MurfKey:             strings.TrimSpace(os.Getenv("MURF_API_KEY")),
		MurfVoice:           getEnvOrDefault("MURF_VOICE_ID", "en-US-ken"),
		MurfStyle:           getEnvOrDefault("MURF_STYLE", "Conversational"),
		MurfStreamURL:       getEnvOrDefault("MURF_STREAM_URL", "wss://api.murf.ai/v1/speech/stream-input"),
		MurfRESTURL:         getEnvOrDefault("MURF_REST_URL", "https://api.murf.ai/v1/speech/generate"),
		MurfSampleRate:      murfRate,
		MurfMaxContexts:     maxContexts,
		Timeout:             time.Duration(timeoutSeconds) * time.Second,
		AudioDump:           dump,
	}, nil
}

// NewsConfig NewsAPI 配置。
type NewsConfig struct {
	APIKey   string
	BaseURL  string
	Country  string
	PageSize int
}

// Enabled 表示是否配置了 NewsAPI 密钥。
func (c NewsConfig) Enabled() bool {
	return c.APIKey != ""
}

func loadNewsConfig() (NewsConfig, error) {
	pageSize, err := parseIntEnv("NEWS_PAGE_SIZE", 5)
	if err != nil {
		return NewsConfig{}, err
	}
	return NewsConfig{
		APIKey:   strings.TrimSpace(os.Getenv("NEWS_API_KEY")),
		BaseURL:  getEnvOrDefault("NEWS_BASE_URL", "https://newsapi.org/v2"),
		Country:  getEnvOrDefault("NEWS_COUNTRY", "us"),
		PageSize: pageSize,
	}, nil
}

// JanitorConfig 临时音频文件清理任务配置。
type JanitorConfig struct {
	Schedule string
	MaxAge   time.Duration
}

func loadJanitorConfig() (JanitorConfig, error) {
	maxAge := time.Hour
	if raw := strings.TrimSpace(os.Getenv("SCRATCH_MAX_AGE")); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return JanitorConfig{}, fmt.Errorf("invalid SCRATCH_MAX_AGE value %q: %w", raw, err)
		}
		maxAge = d
	}
	return JanitorConfig{
		Schedule: getEnvOrDefault("SCRATCH_SWEEP_SCHEDULE", "@every 10m"),
		MaxAge:   maxAge,
	}, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := strings.TrimSpace(os.Getenv(key)); value != "" {
		return value
	}
	return defaultValue
}

func parseBoolEnv(key string, defaultValue bool) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return defaultValue, nil
	}

	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("invalid %s value %q: %w", key, raw, err)
	}
	return val, nil
}

func parseIntEnv(key string, defaultValue int) (int, error) {
	val, err := parseOptionalIntEnv(key)
	if err != nil {
		return 0, err
	}
	if val == nil {
		return defaultValue, nil
	}
	return *val, nil
}

func parseOptionalFloatEnv(key string) (*float64, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}

func parseOptionalIntEnv(key string) (*int, error) {
	raw, ok := os.LookupEnv(key)
	if !ok {
		return nil, nil
	}

	value := strings.TrimSpace(raw)
	if value == "" {
		return nil, nil
	}

	val, err := strconv.Atoi(value)
	if err != nil {
		return nil, fmt.Errorf("invalid %s value %q: %w", key, value, err)
	}
	return &val, nil
}
