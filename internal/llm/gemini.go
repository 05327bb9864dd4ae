package llm

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/google/generative-ai-go/genai"
	"github.com/phucgpt/ragchat/internal/core"
	"google.golang.org/api/option"
)

const (
	DefaultGeminiEmbeddingModel = "text-embedding-004"
	DefaultGeminiChatModel      = "gemini-1.5-flash-latest"
)

type GeminiConfig struct {
	APIKey         string
	EmbeddingModel string
	ChatModel      string
	Dimension      int
}

// Gemini implements core.Embedder and core.Generator on the Gemini API.
type Gemini struct {
	client *genai.Client
	cfg    GeminiConfig
}

func NewGemini(ctx context.Context, cfg GeminiConfig) (*Gemini, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("gemini api key is required")
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultGeminiEmbeddingModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultGeminiChatModel
	}

	client, err := genai.NewClient(ctx, option.WithAPIKey(cfg.APIKey))
	if err != nil {
		return nil, errors.Wrap(err, "failed to create GenAI client")
	}
	return &Gemini{client: client, cfg: cfg}, nil
}

func (g *Gemini) Close() error {
	if g.client == nil {
		return nil
	}
	return g.client.Close()
}

func (g *Gemini) Embed(ctx context.Context, text string) (core.EmbeddingVector, error) {
	em := g.client.EmbeddingModel(g.cfg.EmbeddingModel)
	res, err := em.EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, errors.Wrap(err, "gemini embedding request failed")
	}
	if res == nil || res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, ErrNoEmbedding
	}

	values := res.Embedding.Values
	if g.cfg.Dimension > 0 && len(values) != g.cfg.Dimension {
		return nil, errors.Wrapf(core.ErrDimensionMismatch,
			"model %s returned %d dimensions, expected %d", g.cfg.EmbeddingModel, len(values), g.cfg.Dimension)
	}
	return core.EmbeddingVector(values), nil
}

func (g *Gemini) Generate(ctx context.Context, payload core.PromptPayload, temperature float64) (string, error) {
	turns, err := splitGeminiPrompt(payload)
	if err != nil {
		return "", err
	}

	model := g.client.GenerativeModel(g.cfg.ChatModel)
	if turns.system != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(turns.system)},
		}
	}
	temp := float32(temperature)
	model.GenerationConfig = genai.GenerationConfig{Temperature: &temp}

	chatSession := model.StartChat()
	chatSession.History = turns.history

	resp, err := chatSession.SendMessage(ctx, genai.Text(turns.last))
	if err != nil {
		return "", errors.Wrap(err, "gemini chat SendMessage failed")
	}
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return "", ErrNoResponseChoice
	}

	return candidateText(resp.Candidates[0].Content), nil
}

type geminiTurns struct {
	system  string
	history []*genai.Content
	last    string
}

// splitGeminiPrompt maps a prompt onto Gemini's shape: system messages become the system
// instruction, and the final user message is sent while everything before it is history.
func splitGeminiPrompt(payload core.PromptPayload) (geminiTurns, error) {
	var turns geminiTurns
	var system []string
	var dialogue []core.ChatMessage

	for _, msg := range payload.Messages {
		switch msg.Role {
		case core.RoleSystem:
			system = append(system, msg.Content)
		case core.RoleUser, core.RoleAssistant:
			dialogue = append(dialogue, msg)
		default:
			return turns, errors.Newf("unsupported message role %q", msg.Role)
		}
	}

	if len(dialogue) == 0 || dialogue[len(dialogue)-1].Role != core.RoleUser {
		return turns, errors.New("last message in prompt is not from the user")
	}

	turns.system = strings.Join(system, "\n\n")
	turns.last = dialogue[len(dialogue)-1].Content
	for _, msg := range dialogue[:len(dialogue)-1] {
		role := "user"
		if msg.Role == core.RoleAssistant {
			role = "model"
		}
		turns.history = append(turns.history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(msg.Content)},
		})
	}
	return turns, nil
}

func candidateText(content *genai.Content) string {
	var responseText strings.Builder
	for _, part := range content.Parts {
		if txt, ok := part.(genai.Text); ok {
			responseText.WriteString(string(txt))
		}
	}
	return responseText.String()
}
