package llm

import (
	"context"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/phucgpt/ragchat/internal/core"
)

const (
	DefaultOpenAIEmbeddingModel = "text-embedding-3-small"
	DefaultOpenAIChatModel      = "gpt-4"
	DefaultEmbeddingDimension   = 1536
)

var (
	ErrNoEmbedding      = errors.New("no embedding data received")
	ErrNoResponseChoice = errors.New("no response choices received")
)

type OpenAIConfig struct {
	APIKey string
	// BaseURL points the client at an OpenAI compatible endpoint. Empty uses the default.
	BaseURL        string
	EmbeddingModel string
	ChatModel      string
	Dimension      int
	MaxRetries     int
}

// OpenAI implements core.Embedder and core.Generator on the OpenAI API.
type OpenAI struct {
	client *openai.Client
	cfg    OpenAIConfig
}

func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai api key is required")
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultOpenAIEmbeddingModel
	}
	if cfg.ChatModel == "" {
		cfg.ChatModel = DefaultOpenAIChatModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(max(cfg.MaxRetries, 0)),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	client := openai.NewClient(opts...)

	return &OpenAI{client: &client, cfg: cfg}, nil
}

func (c *OpenAI) Embed(ctx context.Context, text string) (core.EmbeddingVector, error) {
	params := openai.EmbeddingNewParams{
		Input:          openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model:          c.cfg.EmbeddingModel,
		EncodingFormat: openai.EmbeddingNewParamsEncodingFormatFloat,
	}
	// Only the text-embedding-3 family accepts a requested dimension.
	if c.cfg.Dimension > 0 && strings.HasPrefix(c.cfg.EmbeddingModel, "text-embedding-3") {
		params.Dimensions = openai.Int(int64(c.cfg.Dimension))
	}

	res, err := c.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, errors.Wrapf(err, "openai embedding request (model %s)", c.cfg.EmbeddingModel)
	}
	if res == nil || len(res.Data) == 0 || len(res.Data[0].Embedding) == 0 {
		return nil, ErrNoEmbedding
	}

	values := res.Data[0].Embedding
	if c.cfg.Dimension > 0 && len(values) != c.cfg.Dimension {
		return nil, errors.Wrapf(core.ErrDimensionMismatch,
			"model %s returned %d dimensions, expected %d", c.cfg.EmbeddingModel, len(values), c.cfg.Dimension)
	}

	vector := make(core.EmbeddingVector, len(values))
	for i, v := range values {
		vector[i] = float32(v)
	}
	return vector, nil
}

func (c *OpenAI) Generate(ctx context.Context, payload core.PromptPayload, temperature float64) (string, error) {
	messages, err := openAIMessages(payload)
	if err != nil {
		return "", err
	}

	params := openai.ChatCompletionNewParams{
		Messages:    messages,
		Model:       c.cfg.ChatModel,
		Temperature: openai.Float(temperature),
	}

	response, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", errors.Wrapf(err, "openai chat completion (model %s)", c.cfg.ChatModel)
	}
	if len(response.Choices) == 0 {
		return "", ErrNoResponseChoice
	}

	content := response.Choices[0].Message.Content
	if strings.TrimSpace(content) == "" {
		return "", errors.Newf("openai returned an empty completion (finish reason %q)", response.Choices[0].FinishReason)
	}
	return content, nil
}

func openAIMessages(payload core.PromptPayload) ([]openai.ChatCompletionMessageParamUnion, error) {
	if len(payload.Messages) == 0 {
		return nil, errors.New("prompt has no messages")
	}
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(payload.Messages))
	for _, msg := range payload.Messages {
		switch msg.Role {
		case core.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case core.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case core.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(msg.Content))
		default:
			return nil, errors.Newf("unsupported message role %q", msg.Role)
		}
	}
	return messages, nil
}
