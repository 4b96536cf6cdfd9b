package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/zhouzirui/z-voice/backend/internal/apperr"
	"github.com/zhouzirui/z-voice/backend/internal/metrics"
	"github.com/zhouzirui/z-voice/backend/internal/model/speech"
)

const defaultMurfRESTURL = "https://api.murf.ai/v1/speech/generate"

// RESTSynthesizer calls Murf's generate endpoint, which returns a hosted
// audio file URL.
type RESTSynthesizer struct {
	apiKey     string
	url        string
	httpClient *http.Client
	metrics    *metrics.Metrics
}

type murfGenerateRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voiceId"`
	Style   string `json:"style,omitempty"`
}

type murfGenerateResponse struct {
	AudioFile     string  `json:"audioFile"`
	AudioLengthS  float64 `json:"audioLengthInSeconds"`
	ErrorMessage  string  `json:"errorMessage"`
	RemainingChar int64   `json:"remainingCharacterCount"`
}

// NewRESTSynthesizer 创建 Murf REST 客户端。nil httpClient 使用 30 秒超时。
func NewRESTSynthesizer(apiKey, endpoint string, httpClient *http.Client, m *metrics.Metrics) *RESTSynthesizer {
	if endpoint == "" {
		endpoint = defaultMurfRESTURL
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	return &RESTSynthesizer{apiKey: apiKey, url: endpoint, httpClient: httpClient, metrics: m}
}

// Generate synthesizes text and returns the audio URL.
func (c *RESTSynthesizer) Generate(ctx context.Context, text string, voice speech.Voice) (string, error) {
	if c.apiKey == "" {
		return "", apperr.Configuration(apperr.StageSynthesis, "MURF_API_KEY is not configured")
	}

	audioURL, err := c.generate(ctx, text, voice)
	c.metrics.ObserveUpstream(apperr.StageSynthesis, err)
	if err != nil {
		return "", apperr.Upstream(apperr.StageSynthesis, err)
	}
	return audioURL, nil
}

func (c *RESTSynthesizer) generate(ctx context.Context, text string, voice speech.Voice) (string, error) {
	body, err := json.Marshal(murfGenerateRequest{Text: text, VoiceID: voice.ID, Style: voice.Style})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("api-key", c.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("murf request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("murf error %d: %s", resp.StatusCode, string(errBody))
	}

	var out murfGenerateResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if out.AudioFile == "" {
		if out.ErrorMessage != "" {
			return "", fmt.Errorf("murf error: %s", out.ErrorMessage)
		}
		return "", errors.New("murf returned no audio file")
	}
	return out.AudioFile, nil
}
