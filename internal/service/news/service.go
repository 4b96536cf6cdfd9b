package news

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/zhouzirui/z-voice/backend/internal/apperr"
	"github.com/zhouzirui/z-voice/backend/internal/logger"
	"github.com/zhouzirui/z-voice/backend/internal/metrics"
)

// Fetcher is the part of Client the enricher needs.
type Fetcher interface {
	TopHeadlines(ctx context.Context, category string) ([]Article, error)
	Search(ctx context.Context, query string) ([]Article, error)
}

// Enricher prepends current news to user queries that ask for it.
type Enricher struct {
	fetcher Fetcher
	metrics *metrics.Metrics
	log     zerolog.Logger
}

// NewEnricher wraps fetcher. A nil fetcher disables enrichment.
func NewEnricher(fetcher Fetcher, m *metrics.Metrics) *Enricher {
	return &Enricher{fetcher: fetcher, metrics: m, log: logger.Component("news")}
}

// Enrich returns query unchanged unless it asks for news and articles could
// be fetched. Fetch failures are logged, never returned.
func (e *Enricher) Enrich(ctx context.Context, query string) string {
	if e == nil || e.fetcher == nil || !ShouldFetch(query) {
		return query
	}

	articles, err := e.fetch(ctx, query)
	e.metrics.ObserveUpstream(apperr.StageNews, err)
	if err != nil {
		e.log.Warn().Err(err).Msg("news fetch failed, using plain query")
		return query
	}
	if len(articles) == 0 {
		e.log.Warn().Str("query", query).Msg("no news articles found")
		return query
	}

	e.log.Info().Int("articles", len(articles)).Msg("enhanced query with news")
	return fmt.Sprintf(`User's question: %s

I know you are not a newsbot, but my human friend asked me to talk about the news.
Here's some current news information that might be relevant:
%s
Please respond to the user's question using this news information if relevant, but stay in character.`,
		query, FormatForLLM(articles, MaxArticles))
}

func (e *Enricher) fetch(ctx context.Context, query string) ([]Article, error) {
	if terms := ExtractSearchTerms(query); terms != "" {
		articles, err := e.fetcher.Search(ctx, terms)
		if err != nil || len(articles) > 0 {
			return articles, err
		}
	}
	return e.fetcher.TopHeadlines(ctx, "")
}
