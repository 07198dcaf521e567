package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/folio/internal/models"
	"github.com/xhad/folio/internal/types"
)

const (
	defaultTopK        = 3
	defaultTemperature = 0.2
	defaultMaxTokens   = 1000
)

// AnswererConfig holds the retrieval and generation knobs for answering.
type AnswererConfig struct {
	TopK        int
	Temperature float64
	MaxTokens   int
}

// Answerer turns a question into a cited answer by retrieving the most
// relevant chunks and handing them to the generation model.
type Answerer struct {
	config    AnswererConfig
	embedder  types.Embedder
	store     types.VectorStore
	generator types.Generator
	log       *zap.Logger
}

// NewAnswerer creates an Answerer with the given collaborators, applying
// defaults for any zero-valued config field.
func NewAnswerer(config AnswererConfig, embedder types.Embedder, store types.VectorStore, generator types.Generator, log *zap.Logger) *Answerer {
	if config.TopK <= 0 {
		config.TopK = defaultTopK
	}
	if config.Temperature == 0 {
		config.Temperature = defaultTemperature
	}
	if config.MaxTokens <= 0 {
		config.MaxTokens = defaultMaxTokens
	}
	return &Answerer{
		config:    config,
		embedder:  embedder,
		store:     store,
		generator: generator,
		log:       log,
	}
}

// AskOptions carries per-request overrides. Zero values fall back to the
// Answerer's configuration.
type AskOptions struct {
	TopK        int
	Temperature float64
	MaxTokens   int
}

// Answer resolves a question against the document store. It always returns a
// usable Answer: on failure the text carries a diagnostic, the sources are
// empty and the latency is zero. The accompanying error classifies what went
// wrong so callers can log it; it never needs to reach the client.
func (a *Answerer) Answer(ctx context.Context, question string, history []models.Message, opts AskOptions) (models.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		err := &InvalidInputError{Reason: "empty question"}
		return failedAnswer("Empty question provided. Please provide a valid question."), err
	}

	topK := a.config.TopK
	if opts.TopK > 0 {
		topK = opts.TopK
	}
	temperature := a.config.Temperature
	if opts.Temperature != 0 {
		temperature = opts.Temperature
	}
	maxTokens := a.config.MaxTokens
	if opts.MaxTokens > 0 {
		maxTokens = opts.MaxTokens
	}

	embedding, err := a.embedder.EmbedQuery(ctx, question)
	if err != nil {
		perr := &ProviderError{Provider: "embedding", Op: "embed query", Err: err}
		a.log.Error("question embedding failed", zap.Error(err))
		return failedAnswer("Failed to process the question. Please try again later."), perr
	}

	docs, err := a.store.Query(ctx, embedding, topK)
	if err != nil {
		perr := &ProviderError{Provider: "vector store", Op: "query", Err: err}
		a.log.Error("retrieval failed", zap.Error(err))
		return failedAnswer("Failed to search the document store. Please try again later."), perr
	}

	messages := buildMessages(question, history, docs)

	start := time.Now()
	text, err := a.generator.Generate(ctx, messages, temperature, maxTokens)
	if err != nil {
		perr := &ProviderError{Provider: "generation", Op: "generate", Err: err}
		a.log.Error("answer generation failed", zap.Error(err))
		return failedAnswer("Failed to generate an answer. Please try again later."), perr
	}
	latency := time.Since(start)

	a.log.Debug("question answered",
		zap.Int("retrieved", len(docs)),
		zap.Duration("generation", latency))

	return models.Answer{
		Text:    strings.TrimSpace(text),
		Sources: docs,
		Latency: latency,
	}, nil
}

func failedAnswer(detail string) models.Answer {
	return models.Answer{
		Text:    fmt.Sprintf("Error: %s", detail),
		Sources: []models.RetrievedDocument{},
	}
}
