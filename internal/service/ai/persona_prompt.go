package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/z-voice/backend/internal/model/persona"
)

const spokenRules = `Your reply is converted to speech:
- Write plain sentences ending with normal punctuation.
- No markdown, emoji, lists or code.`

// BuildSystemPrompt creates the system prompt for the persona.
func BuildSystemPrompt(p persona.Persona) string {
	base := strings.TrimSpace(p.Instructions)
	if base == "" {
		base = buildBasicSystemPrompt(p)
	}
	return base + "\n\n" + spokenRules
}

// buildBasicSystemPrompt is used for personas without explicit instructions.
func buildBasicSystemPrompt(p persona.Persona) string {
	var traits string
	if len(p.Traits) > 0 {
		traits = "\n- Traits: " + strings.Join(p.Traits, ", ")
	}

	return fmt.Sprintf(`You are %s, %s.

Character:
- Name: %s
- Tone: %s%s

Stay in character and answer in the %s style.`,
		p.Name,
		strings.ToLower(p.Title),
		p.Name,
		p.Tone,
		traits,
		p.Name,
	)
}
