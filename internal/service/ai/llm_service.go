package ai

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-voice/backend/internal/apperr"
	"github.com/zhouzirui/z-voice/backend/internal/config"
	"github.com/zhouzirui/z-voice/backend/internal/logger"
	"github.com/zhouzirui/z-voice/backend/internal/metrics"
	"github.com/zhouzirui/z-voice/backend/internal/model/chat"
	"github.com/zhouzirui/z-voice/backend/internal/model/persona"
)

const historyLimit = 10

// QueryEnricher rewrites a user query before it reaches the model.
type QueryEnricher interface {
	Enrich(ctx context.Context, query string) string
}

// Service encapsulates LLM access through an eino chain.
type Service struct {
	persona  persona.Persona
	enricher QueryEnricher
	metrics  *metrics.Metrics
	chain    compose.Runnable[map[string]any, *schema.Message]
	log      zerolog.Logger
}

// Options carries the optional collaborators of Service.
type Options struct {
	Enricher QueryEnricher
	Metrics  *metrics.Metrics
}

// NewService creates the chat model described by cfg and wraps it.
func NewService(ctx context.Context, personas persona.Store, cfg config.AIConfig, opts Options) (*Service, error) {
	chatModel, err := cfg.NewChatModel(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create chat model: %w", err)
	}

	p, ok := persona.Resolve(personas, cfg.PersonaID)
	if !ok {
		return nil, fmt.Errorf("no persona available for id %q", cfg.PersonaID)
	}

	return NewServiceWithModel(ctx, chatModel, p, opts)
}

// NewServiceWithModel compiles the prompt chain around an existing model.
func NewServiceWithModel(ctx context.Context, chatModel model.BaseChatModel, p persona.Persona, opts Options) (*Service, error) {
	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile chat chain: %w", err)
	}

	return &Service{
		persona:  p,
		enricher: opts.Enricher,
		metrics:  opts.Metrics,
		chain:    runnable,
		log:      logger.Component("ai"),
	}, nil
}

// Persona returns the persona the service speaks as.
func (s *Service) Persona() persona.Persona {
	return s.persona
}

// StreamReply streams the answer to query chunk by chunk.
func (s *Service) StreamReply(ctx context.Context, history []chat.Message, query string) (*schema.StreamReader[*schema.Message], error) {
	input := s.buildChainInput(ctx, history, query)

	stream, err := s.chain.Stream(ctx, input)
	s.metrics.ObserveUpstream(apperr.StageLLM, err)
	if err != nil {
		return nil, apperr.Upstream(apperr.StageLLM, fmt.Errorf("failed to stream AI chain output: %w", err))
	}
	return stream, nil
}

func (s *Service) buildChainInput(ctx context.Context, history []chat.Message, query string) map[string]any {
	if s.enricher != nil {
		query = s.enricher.Enrich(ctx, query)
	}
	return map[string]any{
		"system":  BuildSystemPrompt(s.persona),
		"history": buildHistoryMessages(history),
		"query":   query,
	}
}

func buildHistoryMessages(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Role {
		case chat.RoleUser:
			history = append(history, schema.UserMessage(msg.Content))
		case chat.RoleAssistant:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}

	return history
}
