package core

import (
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
)

const (
	DefaultPersonaName = "Phuc GPT"

	DefaultPersonaInstructions = "Based on the following context taken from the latest data, " +
		"answer the user's question accurately and helpfully. " +
		"If the context is irrelevant or empty, use your general knowledge, " +
		"and where data is missing reason from what you already know."

	DefaultTemperature = 0.7
)

// Persona is the fixed system level instruction set of the assistant.
type Persona struct {
	Name         string `yaml:"name"`
	Instructions string `yaml:"instructions"`
}

func DefaultPersona() Persona {
	return Persona{Name: DefaultPersonaName, Instructions: DefaultPersonaInstructions}
}

// SystemPrompt renders the persona followed by the literal context block.
func (p Persona) SystemPrompt(context string) string {
	var sb strings.Builder
	if p.Name != "" {
		fmt.Fprintf(&sb, "Your name is %s. ", p.Name)
	}
	sb.WriteString(p.Instructions)
	sb.WriteString("\n\nContext from the knowledge base:\n")
	sb.WriteString(context)
	return sb.String()
}

// BuildPrompt produces exactly two messages: the system prompt carrying the context, and
// the user's message verbatim.
func BuildPrompt(persona Persona, context AssembledContext, userMessage string) (PromptPayload, error) {
	if strings.TrimSpace(userMessage) == "" {
		return PromptPayload{}, errors.Wrap(ErrInvalidRequest, "user message is empty")
	}
	return PromptPayload{
		Messages: []ChatMessage{
			{Role: RoleSystem, Content: persona.SystemPrompt(context.Text)},
			{Role: RoleUser, Content: userMessage},
		},
	}, nil
}
