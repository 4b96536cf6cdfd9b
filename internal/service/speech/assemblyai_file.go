package speech

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/AssemblyAI/assemblyai-go-sdk"

	"github.com/zhouzirui/z-voice/backend/internal/apperr"
	"github.com/zhouzirui/z-voice/backend/internal/metrics"
)

// FileTranscriber transcribes recorded audio files with the AssemblyAI SDK.
type FileTranscriber struct {
	client  *assemblyai.Client
	metrics *metrics.Metrics
}

// NewFileTranscriber returns nil when apiKey is empty.
func NewFileTranscriber(apiKey string, m *metrics.Metrics, opts ...assemblyai.ClientOption) *FileTranscriber {
	if apiKey == "" {
		return nil
	}
	opts = append([]assemblyai.ClientOption{assemblyai.WithAPIKey(apiKey)}, opts...)
	return &FileTranscriber{client: assemblyai.NewClientWithOptions(opts...), metrics: m}
}

// TranscribeFile uploads the file at path and waits for its transcript.
// An empty transcript is an error: there is nothing to answer.
func (t *FileTranscriber) TranscribeFile(ctx context.Context, path string) (string, error) {
	if t == nil {
		return "", apperr.Configuration(apperr.StageTranscription, "ASSEMBLYAI_API_KEY is not configured")
	}

	text, err := t.transcribe(ctx, path)
	t.metrics.ObserveUpstream(apperr.StageTranscription, err)
	if err != nil {
		return "", apperr.Upstream(apperr.StageTranscription, err)
	}
	return text, nil
}

func (t *FileTranscriber) transcribe(ctx context.Context, path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open audio: %w", err)
	}
	defer f.Close()

	transcript, err := t.client.Transcripts.TranscribeFromReader(ctx, f, nil)
	if err != nil {
		return "", fmt.Errorf("assemblyai transcribe: %w", err)
	}
	if transcript.Status == assemblyai.TranscriptStatusError {
		return "", fmt.Errorf("assemblyai transcribe: %s", assemblyai.ToString(transcript.Error))
	}

	text := strings.TrimSpace(assemblyai.ToString(transcript.Text))
	if text == "" {
		return "", errors.New("no speech detected in audio")
	}
	return text, nil
}
