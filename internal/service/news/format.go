package news

import (
	"fmt"
	"strings"
)

// MaxArticles is how many articles FormatForLLM includes by default.
const MaxArticles = 3

var newsKeywords = []string{
	"news", "latest", "recent", "current", "today", "happening",
	"update", "events", "headlines", "breaking", "what's new",
	"tell me about", "what happened", "any news",
}

var stopWords = map[string]struct{}{
	"what": {}, "is": {}, "are": {}, "the": {}, "about": {}, "tell": {},
	"me": {}, "any": {}, "latest": {}, "recent": {}, "news": {},
}

// ShouldFetch reports whether query asks about news or current events.
func ShouldFetch(query string) bool {
	lower := strings.ToLower(query)
	for _, keyword := range newsKeywords {
		if strings.Contains(lower, keyword) {
			return true
		}
	}
	return false
}

// ExtractSearchTerms drops question filler words from query.
func ExtractSearchTerms(query string) string {
	words := strings.Fields(strings.ToLower(query))
	kept := words[:0]
	for _, word := range words {
		if _, stop := stopWords[word]; !stop {
			kept = append(kept, word)
		}
	}
	return strings.Join(kept, " ")
}

// FormatForLLM renders up to max articles as a numbered summary.
func FormatForLLM(articles []Article, max int) string {
	if len(articles) == 0 {
		return "No recent news articles found."
	}
	if max <= 0 || max > len(articles) {
		max = len(articles)
	}

	var b strings.Builder
	b.WriteString("Here are some recent news updates:\n\n")
	for i, article := range articles[:max] {
		title := orDefault(article.Title, "No title")
		source := orDefault(article.Source.Name, "Unknown source")
		description := orDefault(article.Description, "No description available")

		fmt.Fprintf(&b, "%d. **%s**\n", i+1, title)
		fmt.Fprintf(&b, "   Source: %s\n", source)
		fmt.Fprintf(&b, "   Summary: %s\n\n", description)
	}
	return b.String()
}

func orDefault(value, def string) string {
	if strings.TrimSpace(value) == "" {
		return def
	}
	return value
}
