// Package apperr classifies failures so every externally visible operation
// can answer with one stage-tagged error.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind 错误分类。
type Kind int

const (
	// KindUpstream covers transcription, LLM, synthesis and news failures.
	KindUpstream Kind = iota + 1
	// KindValidation covers bad client input.
	KindValidation
	// KindConfiguration covers missing credentials for a feature.
	KindConfiguration
)

func (k Kind) String() string {
	switch k {
	case KindUpstream:
		return "upstream"
	case KindValidation:
		return "validation"
	case KindConfiguration:
		return "configuration"
	default:
		return "unknown"
	}
}

// Common stage names.
const (
	StageUpload        = "upload"
	StageTranscription = "transcription"
	StageLLM           = "llm"
	StageSynthesis     = "synthesis"
	StageNews          = "news"
)

// Error carries the failing stage alongside the cause.
type Error struct {
	Kind  Kind
	Stage string
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s error", e.Stage, e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Upstream wraps err as an upstream failure of stage. A nil err stays nil.
func Upstream(stage string, err error) error {
	if err == nil {
		return nil
	}
	var existing *Error
	if errors.As(err, &existing) && existing.Stage == stage {
		return err
	}
	return &Error{Kind: KindUpstream, Stage: stage, Err: err}
}

// Validation reports rejected client input.
func Validation(stage, msg string) error {
	return &Error{Kind: KindValidation, Stage: stage, Err: errors.New(msg)}
}

// Configuration reports a feature that cannot run without credentials.
func Configuration(stage, msg string) error {
	return &Error{Kind: KindConfiguration, Stage: stage, Err: errors.New(msg)}
}

// Stage returns the stage recorded in err, or "" if err is unclassified.
func Stage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// IsKind reports whether err was classified as kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// HTTPStatus maps err to the response status used by the HTTP facade.
func HTTPStatus(err error) int {
	var e *Error
	if !errors.As(err, &e) {
		return http.StatusInternalServerError
	}
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindConfiguration:
		return http.StatusServiceUnavailable
	case KindUpstream:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
