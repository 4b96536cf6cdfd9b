package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"upstream", Upstream(StageLLM, errors.New("boom")), http.StatusBadGateway},
		{"validation", Validation(StageUpload, "not audio"), http.StatusBadRequest},
		{"configuration", Configuration(StageSynthesis, "missing key"), http.StatusServiceUnavailable},
		{"wrapped", fmt.Errorf("handler: %w", Validation(StageUpload, "empty")), http.StatusBadRequest},
		{"plain", errors.New("plain"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestUpstreamKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Upstream(StageSynthesis, cause)

	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, StageSynthesis, Stage(err))
	assert.True(t, IsKind(err, KindUpstream))
	assert.Equal(t, "synthesis: connection reset", err.Error())
}

func TestUpstreamDoesNotDoubleWrap(t *testing.T) {
	first := Upstream(StageLLM, errors.New("boom"))
	second := Upstream(StageLLM, first)
	assert.Same(t, first, second)

	assert.NoError(t, Upstream(StageLLM, nil))
}
