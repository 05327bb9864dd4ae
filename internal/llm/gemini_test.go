package llm

import (
	"context"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/phucgpt/ragchat/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSplitGeminiPrompt(t *testing.T) {
	turns, err := splitGeminiPrompt(core.PromptPayload{Messages: []core.ChatMessage{
		{Role: core.RoleSystem, Content: "You are Phuc GPT."},
		{Role: core.RoleUser, Content: "Hi"},
		{Role: core.RoleAssistant, Content: "Hello!"},
		{Role: core.RoleUser, Content: "Who is Phuc?"},
	}})
	require.NoError(t, err)

	assert.Equal(t, "You are Phuc GPT.", turns.system)
	assert.Equal(t, "Who is Phuc?", turns.last)
	require.Len(t, turns.history, 2)
	assert.Equal(t, "user", turns.history[0].Role)
	assert.Equal(t, "model", turns.history[1].Role)
	assert.Equal(t, genai.Text("Hello!"), turns.history[1].Parts[0])
}

func TestSplitGeminiPrompt_TwoMessagePrompt(t *testing.T) {
	turns, err := splitGeminiPrompt(core.PromptPayload{Messages: []core.ChatMessage{
		{Role: core.RoleSystem, Content: "system"},
		{Role: core.RoleUser, Content: "question"},
	}})
	require.NoError(t, err)
	assert.Empty(t, turns.history)
	assert.Equal(t, "question", turns.last)
}

func TestSplitGeminiPrompt_Errors(t *testing.T) {
	_, err := splitGeminiPrompt(core.PromptPayload{Messages: []core.ChatMessage{
		{Role: core.RoleSystem, Content: "system only"},
	}})
	assert.Error(t, err)

	_, err = splitGeminiPrompt(core.PromptPayload{Messages: []core.ChatMessage{
		{Role: core.RoleUser, Content: "q"},
		{Role: core.RoleAssistant, Content: "a"},
	}})
	assert.Error(t, err)

	_, err = splitGeminiPrompt(core.PromptPayload{Messages: []core.ChatMessage{{Role: "tool", Content: "x"}}})
	assert.Error(t, err)
}

func TestCandidateText(t *testing.T) {
	content := &genai.Content{Parts: []genai.Part{genai.Text("Hello, "), genai.Blob{MIMEType: "image/png"}, genai.Text("world")}}
	assert.Equal(t, "Hello, world", candidateText(content))
}

func TestNewGemini_RequiresKey(t *testing.T) {
	_, err := NewGemini(context.Background(), GeminiConfig{})
	assert.Error(t, err)
}
