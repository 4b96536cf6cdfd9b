package utils

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRespondStageError(t *testing.T) {
	rec := httptest.NewRecorder()
	RespondStageError(rec, http.StatusBadGateway, "llm", "quota exceeded")

	assert.Equal(t, http.StatusBadGateway, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, map[string]string{"error": "quota exceeded", "stage": "llm"}, body)
}

func TestSendSSEEvent(t *testing.T) {
	rec := httptest.NewRecorder()
	SetupSSEHeaders(rec)
	SendSSEEvent(rec, rec, "sentence", map[string]any{"text": "Hi.", "end": true})

	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, "event: sentence\ndata: {\"end\":true,\"text\":\"Hi.\"}\n\n", rec.Body.String())
	assert.True(t, rec.Flushed)
}
