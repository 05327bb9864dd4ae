package core

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
)

// State is a pipeline lifecycle state. A request moves strictly forward through the
// states and may enter Failed from any non-terminal one.
type State int

const (
	StateReceived State = iota
	StateEmbedding
	StateRetrieving
	StateAssembling
	StatePrompting
	StateGenerating
	StateCompleted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateEmbedding:
		return "embedding"
	case StateRetrieving:
		return "retrieving"
	case StateAssembling:
		return "assembling"
	case StatePrompting:
		return "prompting"
	case StateGenerating:
		return "generating"
	case StateCompleted:
		return "completed"
	case StateFailed:
		return "failed"
	}
	return "unknown"
}

// Terminal reports whether no further transitions are possible from s.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// Embedder turns text into a vector of the configured dimension.
type Embedder interface {
	Embed(ctx context.Context, text string) (EmbeddingVector, error)
}

// VectorStore returns up to topK chunks nearest to the vector, nearest first.
type VectorStore interface {
	Query(ctx context.Context, vector EmbeddingVector, topK int) ([]RetrievedChunk, error)
}

// Generator produces the assistant reply for a prompt.
type Generator interface {
	Generate(ctx context.Context, payload PromptPayload, temperature float64) (string, error)
}

const (
	DefaultTopK          = 3
	DefaultMinSimilarity = 0.2
	DefaultStepTimeout   = 30 * time.Second
)

type Options struct {
	TopK           int
	MinChunkLength int
	// MinSimilarity drops retrieved chunks scoring below it. Zero or less disables the cutoff.
	MinSimilarity float64
	Temperature   float64
	Persona       Persona
	// StepTimeout bounds each network step. Zero disables it.
	StepTimeout time.Duration
	// Observer, if set, is called on every state transition.
	Observer func(from, to State)
}

func DefaultOptions() Options {
	return Options{
		TopK:           DefaultTopK,
		MinChunkLength: DefaultMinChunkLength,
		MinSimilarity:  DefaultMinSimilarity,
		Temperature:    DefaultTemperature,
		Persona:        DefaultPersona(),
		StepTimeout:    DefaultStepTimeout,
	}
}

// Pipeline runs one chat message through embed, retrieve, assemble, prompt and generate.
// It keeps no per-request state, so a single Pipeline serves concurrent requests.
type Pipeline struct {
	embedder  Embedder
	store     VectorStore
	generator Generator
	assembler Assembler
	opts      Options
	logger    *slog.Logger
}

func NewPipeline(embedder Embedder, store VectorStore, generator Generator, opts Options, logger *slog.Logger) *Pipeline {
	if opts.TopK < 1 {
		opts.TopK = DefaultTopK
	}
	if opts.Persona.Instructions == "" {
		opts.Persona = DefaultPersona()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		embedder:  embedder,
		store:     store,
		generator: generator,
		assembler: NewAssembler(opts.MinChunkLength),
		opts:      opts,
		logger:    logger,
	}
}

// run tracks the state of a single request.
type run struct {
	p     *Pipeline
	state State
}

func (r *run) advance(to State) {
	from := r.state
	r.state = to
	r.p.logger.Debug("pipeline transition", "from", from.String(), "to", to.String())
	if r.p.opts.Observer != nil {
		r.p.opts.Observer(from, to)
	}
}

func (r *run) fail(kind, cause error) error {
	failedIn := r.state
	r.advance(StateFailed)
	r.p.logger.Error("pipeline failed",
		"state", failedIn.String(),
		"kind", kind.Error(),
		"error", cause,
	)
	return &StepError{State: failedIn, Kind: kind, Err: cause}
}

func (p *Pipeline) stepContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if p.opts.StepTimeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, p.opts.StepTimeout)
}

// Handle returns the assistant reply for message. Any failure is a *StepError whose kind
// is one of the Err* sentinels of this package.
func (p *Pipeline) Handle(ctx context.Context, message string) (string, error) {
	r := &run{p: p, state: StateReceived}

	if strings.TrimSpace(message) == "" {
		return "", r.fail(ErrInvalidRequest, errors.New("message is empty"))
	}

	r.advance(StateEmbedding)
	vector, err := p.embed(ctx, message)
	if err != nil {
		return "", r.fail(ErrEmbeddingFailure, err)
	}

	r.advance(StateRetrieving)
	chunks, err := p.retrieve(ctx, vector)
	if err != nil {
		if errors.Is(err, ErrDimensionMismatch) {
			return "", r.fail(ErrDimensionMismatch, err)
		}
		return "", r.fail(ErrRetrievalFailure, err)
	}

	r.advance(StateAssembling)
	assembled := p.assembler.Assemble(chunks)
	p.logger.Debug("context assembled",
		"retrieved", len(chunks),
		"used", assembled.Used,
		"status", assembled.Status.String(),
	)

	r.advance(StatePrompting)
	payload, err := BuildPrompt(p.opts.Persona, assembled, message)
	if err != nil {
		return "", r.fail(ErrInvalidRequest, err)
	}

	r.advance(StateGenerating)
	reply, err := p.generate(ctx, payload)
	if err != nil {
		return "", r.fail(ErrGenerationFailure, err)
	}

	r.advance(StateCompleted)
	return reply, nil
}

func (p *Pipeline) embed(ctx context.Context, message string) (EmbeddingVector, error) {
	stepCtx, cancel := p.stepContext(ctx)
	defer cancel()

	vector, err := p.embedder.Embed(stepCtx, message)
	if err != nil {
		return nil, err
	}
	if len(vector) == 0 {
		return nil, errors.New("embedding provider returned an empty vector")
	}
	return vector, nil
}

func (p *Pipeline) retrieve(ctx context.Context, vector EmbeddingVector) ([]RetrievedChunk, error) {
	stepCtx, cancel := p.stepContext(ctx)
	defer cancel()

	chunks, err := p.store.Query(stepCtx, vector, p.opts.TopK)
	if err != nil {
		return nil, err
	}
	if len(chunks) > p.opts.TopK {
		chunks = chunks[:p.opts.TopK]
	}
	return p.applyCutoff(chunks), nil
}

// applyCutoff removes chunks below MinSimilarity. Order is preserved.
func (p *Pipeline) applyCutoff(chunks []RetrievedChunk) []RetrievedChunk {
	if p.opts.MinSimilarity <= 0 || len(chunks) == 0 {
		return chunks
	}
	kept := make([]RetrievedChunk, 0, len(chunks))
	for _, chunk := range chunks {
		if chunk.Score < p.opts.MinSimilarity {
			continue
		}
		kept = append(kept, chunk)
	}
	if dropped := len(chunks) - len(kept); dropped > 0 {
		p.logger.Debug("dropped chunks below similarity cutoff",
			"dropped", dropped,
			"min_similarity", p.opts.MinSimilarity,
		)
	}
	return kept
}

func (p *Pipeline) generate(ctx context.Context, payload PromptPayload) (string, error) {
	stepCtx, cancel := p.stepContext(ctx)
	defer cancel()

	reply, err := p.generator.Generate(stepCtx, payload, p.opts.Temperature)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(reply) == "" {
		return "", errors.New("generation provider returned an empty reply")
	}
	return reply, nil
}
