package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhouzirui/z-voice/backend/internal/apperr"
	"github.com/zhouzirui/z-voice/backend/internal/model/speech"
)

func TestRESTSynthesizerGenerate(t *testing.T) {
	var got murfGenerateRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "murf-key", r.Header.Get("api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_ = json.NewEncoder(w).Encode(map[string]any{"audioFile": "https://cdn.example/a.wav"})
	}))
	defer srv.Close()

	synth := NewRESTSynthesizer("murf-key", srv.URL, srv.Client(), nil)
	audioURL, err := synth.Generate(context.Background(), "Hello there.", speech.Voice{ID: "en-US-natalie", Style: "Promo"})
	require.NoError(t, err)

	assert.Equal(t, "https://cdn.example/a.wav", audioURL)
	assert.Equal(t, murfGenerateRequest{Text: "Hello there.", VoiceID: "en-US-natalie", Style: "Promo"}, got)
}

func TestRESTSynthesizerErrors(t *testing.T) {
	tests := map[string]http.HandlerFunc{
		"status": func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, `{"errorMessage":"invalid voice"}`, http.StatusBadRequest)
		},
		"no audio file": func(w http.ResponseWriter, r *http.Request) {
			_ = json.NewEncoder(w).Encode(map[string]any{"errorMessage": "quota"})
		},
	}

	for name, handler := range tests {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()

			_, err := NewRESTSynthesizer("murf-key", srv.URL, srv.Client(), nil).
				Generate(context.Background(), "hi", speech.Voice{ID: "en-US-ken"})
			require.Error(t, err)
			assert.True(t, apperr.IsKind(err, apperr.KindUpstream))
			assert.Equal(t, apperr.StageSynthesis, apperr.Stage(err))
		})
	}
}

func TestRESTSynthesizerRequiresKey(t *testing.T) {
	_, err := NewRESTSynthesizer("", "", nil, nil).Generate(context.Background(), "hi", speech.Voice{})
	assert.True(t, apperr.IsKind(err, apperr.KindConfiguration))
}
