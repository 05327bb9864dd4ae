package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/phucgpt/ragchat/internal/core"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestOpenAI(t *testing.T, handler http.HandlerFunc, dimension int) *OpenAI {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewOpenAI(OpenAIConfig{
		APIKey:    "test-api-key",
		BaseURL:   server.URL,
		Dimension: dimension,
	})
	require.NoError(t, err)
	return client
}

func embeddingResponse(values ...float64) map[string]any {
	return map[string]any{
		"object": "list",
		"model":  "text-embedding-3-small",
		"data": []map[string]any{
			{"object": "embedding", "index": 0, "embedding": values},
		},
		"usage": map[string]any{"prompt_tokens": 3, "total_tokens": 3},
	}
}

func chatResponse(content string) map[string]any {
	return map[string]any{
		"id":      "chatcmpl-test123",
		"object":  "chat.completion",
		"created": 1699999999,
		"model":   "gpt-4",
		"choices": []map[string]any{
			{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			},
		},
	}
}

func TestOpenAIEmbed(t *testing.T) {
	var body map[string]any
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Contains(t, r.URL.Path, "embeddings")
		assert.Equal(t, "Bearer test-api-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(embeddingResponse(0.1, 0.2, 0.3))
	}, 3)

	vector, err := client.Embed(context.Background(), "Who is Phuc?")
	require.NoError(t, err)
	assert.Equal(t, core.EmbeddingVector{0.1, 0.2, 0.3}, vector)

	assert.Equal(t, "Who is Phuc?", body["input"])
	assert.Equal(t, "text-embedding-3-small", body["model"])
	assert.Equal(t, "float", body["encoding_format"])
	assert.EqualValues(t, 3, body["dimensions"])
}

func TestOpenAIEmbed_DimensionMismatch(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(embeddingResponse(0.1, 0.2))
	}, 3)

	_, err := client.Embed(context.Background(), "hello")
	assert.True(t, errors.Is(err, core.ErrDimensionMismatch))
}

func TestOpenAIEmbed_NoData(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"object":"list","data":[],"model":"text-embedding-3-small"}`))
	}, 3)

	_, err := client.Embed(context.Background(), "hello")
	assert.True(t, errors.Is(err, ErrNoEmbedding))
}

func TestOpenAIEmbed_APIError(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"Incorrect API key provided","type":"invalid_request_error"}}`))
	}, 3)

	_, err := client.Embed(context.Background(), "hello")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "openai embedding request")
}

func TestOpenAIGenerate(t *testing.T) {
	var body struct {
		Model       string  `json:"model"`
		Temperature float64 `json:"temperature"`
		Messages    []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	client := newTestOpenAI(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Contains(t, r.URL.Path, "chat/completions")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse("Phuc is a software engineer."))
	}, 0)

	payload := core.PromptPayload{Messages: []core.ChatMessage{
		{Role: core.RoleSystem, Content: "You are Phuc GPT."},
		{Role: core.RoleUser, Content: "Who is Phuc?"},
	}}
	reply, err := client.Generate(context.Background(), payload, 0.7)
	require.NoError(t, err)
	assert.Equal(t, "Phuc is a software engineer.", reply)

	assert.Equal(t, "gpt-4", body.Model)
	assert.InDelta(t, 0.7, body.Temperature, 1e-9)
	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	assert.Equal(t, "You are Phuc GPT.", body.Messages[0].Content)
	assert.Equal(t, "user", body.Messages[1].Role)
	assert.Equal(t, "Who is Phuc?", body.Messages[1].Content)
}

func TestOpenAIGenerate_EmptyChoices(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "chatcmpl-empty", "object": "chat.completion", "created": 1699999999, "model": "gpt-4",
			"choices": []map[string]any{},
		})
	}, 0)

	reply, err := client.Generate(context.Background(), core.PromptPayload{Messages: []core.ChatMessage{{Role: core.RoleUser, Content: "hi"}}}, 0.7)
	assert.Empty(t, reply)
	assert.True(t, errors.Is(err, ErrNoResponseChoice))
}

func TestOpenAIGenerate_EmptyContent(t *testing.T) {
	client := newTestOpenAI(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(chatResponse(""))
	}, 0)

	_, err := client.Generate(context.Background(), core.PromptPayload{Messages: []core.ChatMessage{{Role: core.RoleUser, Content: "hi"}}}, 0.7)
	assert.Error(t, err)
}

func TestOpenAIMessages_RejectsUnknownRole(t *testing.T) {
	_, err := openAIMessages(core.PromptPayload{Messages: []core.ChatMessage{{Role: "tool", Content: "x"}}})
	assert.Error(t, err)

	_, err = openAIMessages(core.PromptPayload{})
	assert.Error(t, err)
}

func TestNewOpenAI_RequiresKey(t *testing.T) {
	_, err := NewOpenAI(OpenAIConfig{})
	assert.Error(t, err)
}
