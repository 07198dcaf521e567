package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xhad/folio/internal/models"
	"github.com/xhad/folio/pkg/processor"
)

type fakeEmbedder struct {
	mu         sync.Mutex
	queryCalls int
	batchCalls int
	batchTexts []string
	dim        int
	err        error
}

func (f *fakeEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queryCalls++
	if f.err != nil {
		return nil, f.err
	}
	return make([]float32, f.dim), nil
}

func (f *fakeEmbedder) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	f.batchTexts = append(f.batchTexts, texts...)
	if f.err != nil {
		return nil, f.err
	}
	out := make([][]float32, len(texts))
	for i := range out {
		out[i] = make([]float32, f.dim)
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int { return f.dim }

type fakeStore struct {
	mu        sync.Mutex
	records   []models.Record
	results   []models.RetrievedDocument
	topK      int
	queryErr  error
	upsertErr error
}

func (f *fakeStore) Upsert(_ context.Context, records []models.Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.records = append(f.records, records...)
	return nil
}

func (f *fakeStore) Query(_ context.Context, _ []float32, topK int) ([]models.RetrievedDocument, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.topK = topK
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.results, nil
}

func (f *fakeStore) Stats(_ context.Context) (models.StoreStats, error) {
	return models.StoreStats{Vectors: len(f.records)}, nil
}

func (f *fakeStore) DeleteAll(_ context.Context) error { return nil }
func (f *fakeStore) Close()                            {}

type fakeGenerator struct {
	mu       sync.Mutex
	calls    int
	messages []models.Message
	temp     float64
	tokens   int
	reply    string
	err      error
}

func (f *fakeGenerator) Generate(_ context.Context, messages []models.Message, temperature float64, maxTokens int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	f.messages = messages
	f.temp = temperature
	f.tokens = maxTokens
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

type fakeExtractor struct {
	pages map[string][]models.Page
	err   error
}

func (f *fakeExtractor) ExtractPages(_ context.Context, _ []byte, name string) ([]models.Page, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.pages[name], nil
}

func newTestAnswerer(embedder *fakeEmbedder, store *fakeStore, gen *fakeGenerator) *Answerer {
	return NewAnswerer(AnswererConfig{}, embedder, store, gen, zap.NewNop())
}

func retrieved(name string, page int, content string) models.RetrievedDocument {
	return models.RetrievedDocument{Document: name, Page: page, Content: content, Score: 0.9}
}

func TestAnswerHappyPath(t *testing.T) {
	embedder := &fakeEmbedder{dim: 4}
	store := &fakeStore{results: []models.RetrievedDocument{
		retrieved("neft.pdf", 3, "The platform was commissioned in 1949."),
		retrieved("neft.pdf", 7, "Production reached its peak a decade later."),
	}}
	gen := &fakeGenerator{reply: "It was commissioned in 1949 (Source: neft.pdf, Page 3)."}

	answer, err := newTestAnswerer(embedder, store, gen).Answer(context.Background(), "When was it commissioned?", nil, AskOptions{})
	require.NoError(t, err)

	assert.Equal(t, gen.reply, answer.Text)
	assert.Len(t, answer.Sources, 2)
	assert.Equal(t, "neft.pdf", answer.Sources[0].Document)
	assert.Greater(t, answer.Latency.Nanoseconds(), int64(-1))
	assert.Equal(t, 3, store.topK)
	assert.InDelta(t, 0.2, gen.temp, 1e-9)
	assert.Equal(t, 1000, gen.tokens)
}

func TestAnswerPromptCarriesContextAndCitationRules(t *testing.T) {
	embedder := &fakeEmbedder{dim: 4}
	store := &fakeStore{results: []models.RetrievedDocument{
		retrieved("arxiv.pdf", 11, "Some excerpt text."),
	}}
	gen := &fakeGenerator{reply: "ok"}

	_, err := newTestAnswerer(embedder, store, gen).Answer(context.Background(), "What does it say?", nil, AskOptions{})
	require.NoError(t, err)

	require.NotEmpty(t, gen.messages)
	system := gen.messages[0]
	assert.Equal(t, models.RoleSystem, system.Role)
	assert.Contains(t, system.Content, "ONLY the provided document excerpts")
	assert.Contains(t, system.Content, "cite the source document and page")

	user := gen.messages[len(gen.messages)-1]
	assert.Equal(t, models.RoleUser, user.Role)
	assert.Contains(t, user.Content, "Document 1 (Source: arxiv.pdf, Page 11):")
	assert.Contains(t, user.Content, "Some excerpt text.")
	assert.Contains(t, user.Content, "Question: What does it say?")
}

func TestAnswerHistoryPrecedesQuestion(t *testing.T) {
	embedder := &fakeEmbedder{dim: 4}
	store := &fakeStore{}
	gen := &fakeGenerator{reply: "ok"}
	history := []models.Message{
		{Role: models.RoleUser, Content: "earlier question"},
		{Role: models.RoleAssistant, Content: "earlier answer"},
		{Role: models.RoleSystem, Content: "should be dropped"},
	}

	_, err := newTestAnswerer(embedder, store, gen).Answer(context.Background(), "follow-up", history, AskOptions{})
	require.NoError(t, err)

	require.Len(t, gen.messages, 4)
	assert.Equal(t, "earlier question", gen.messages[1].Content)
	assert.Equal(t, "earlier answer", gen.messages[2].Content)
	assert.Contains(t, gen.messages[3].Content, "follow-up")
}

func TestAnswerEmptyQuestionSkipsProviders(t *testing.T) {
	embedder := &fakeEmbedder{dim: 4}
	store := &fakeStore{}
	gen := &fakeGenerator{reply: "never"}

	answer, err := newTestAnswerer(embedder, store, gen).Answer(context.Background(), "   \n\t ", nil, AskOptions{})

	var invalid *InvalidInputError
	require.ErrorAs(t, err, &invalid)
	assert.True(t, strings.HasPrefix(answer.Text, "Error:"))
	assert.Empty(t, answer.Sources)
	assert.Zero(t, answer.Latency)
	assert.Zero(t, embedder.queryCalls)
	assert.Zero(t, gen.calls)
}

func TestAnswerNoMatchesStillGenerates(t *testing.T) {
	embedder := &fakeEmbedder{dim: 4}
	store := &fakeStore{results: nil}
	gen := &fakeGenerator{reply: "The documents do not contain this information."}

	answer, err := newTestAnswerer(embedder, store, gen).Answer(context.Background(), "Anything about trains?", nil, AskOptions{})
	require.NoError(t, err)

	assert.Equal(t, 1, gen.calls)
	assert.Contains(t, gen.messages[len(gen.messages)-1].Content, "No relevant documents were found.")
	assert.Equal(t, gen.reply, answer.Text)
	assert.Empty(t, answer.Sources)
}

func TestAnswerGeneratorFailureIsShaped(t *testing.T) {
	embedder := &fakeEmbedder{dim: 4}
	store := &fakeStore{results: []models.RetrievedDocument{retrieved("a.pdf", 1, "text")}}
	gen := &fakeGenerator{err: errors.New("model overloaded")}

	answer, err := newTestAnswerer(embedder, store, gen).Answer(context.Background(), "What happened?", nil, AskOptions{})

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "generation", perr.Provider)
	assert.True(t, strings.HasPrefix(answer.Text, "Error:"))
	assert.Empty(t, answer.Sources)
	assert.Zero(t, answer.Latency)
}

func TestAnswerEmbedFailureIsShaped(t *testing.T) {
	embedder := &fakeEmbedder{dim: 4, err: errors.New("embedding service down")}
	store := &fakeStore{}
	gen := &fakeGenerator{reply: "never"}

	answer, err := newTestAnswerer(embedder, store, gen).Answer(context.Background(), "Who?", nil, AskOptions{})

	var perr *ProviderError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "embedding", perr.Provider)
	assert.True(t, strings.HasPrefix(answer.Text, "Error:"))
	assert.Zero(t, gen.calls)
}

func TestAnswerAskOptionsOverrideDefaults(t *testing.T) {
	embedder := &fakeEmbedder{dim: 4}
	store := &fakeStore{}
	gen := &fakeGenerator{reply: "ok"}

	_, err := newTestAnswerer(embedder, store, gen).Answer(context.Background(), "q", nil, AskOptions{
		TopK:        7,
		Temperature: 0.9,
		MaxTokens:   64,
	})
	require.NoError(t, err)

	assert.Equal(t, 7, store.topK)
	assert.InDelta(t, 0.9, gen.temp, 1e-9)
	assert.Equal(t, 64, gen.tokens)
}

func newTestIngestor(extractor *fakeExtractor, embedder *fakeEmbedder, store *fakeStore) *Ingestor {
	proc := processor.NewWithConfig(processor.ProcessorConfig{})
	return NewIngestor(IngestorConfig{Workers: 2}, extractor, proc, embedder, store, zap.NewNop())
}

func TestIngestHappyPath(t *testing.T) {
	extractor := &fakeExtractor{pages: map[string][]models.Page{
		"neft.pdf": {{Number: 1, Text: strings.Repeat("neftdaslar ", 80)}},
	}}
	embedder := &fakeEmbedder{dim: 4}
	store := &fakeStore{}

	report := newTestIngestor(extractor, embedder, store).Ingest(context.Background(), "neft.pdf", []byte("%PDF"))

	assert.Equal(t, models.StatusSuccess, report.Status)
	assert.Equal(t, report.Chunks, report.Vectors)
	assert.Greater(t, report.Chunks, 0)
	assert.Greater(t, report.TextLen, 0)
	assert.Empty(t, report.Error)

	require.Len(t, store.records, report.Vectors)
	for i, rec := range store.records {
		assert.Equal(t, fmt.Sprintf("neft.pdf_chunk_%d", i), rec.ID)
		assert.Equal(t, "neft.pdf", rec.Metadata["pdf_name"])
		assert.Equal(t, i, rec.Metadata["chunk_index"])
	}
}

func TestIngestIdempotentIDs(t *testing.T) {
	extractor := &fakeExtractor{pages: map[string][]models.Page{
		"neft.pdf": {{Number: 1, Text: "a short page of text"}},
	}}
	embedder := &fakeEmbedder{dim: 4}
	store := &fakeStore{}
	ing := newTestIngestor(extractor, embedder, store)

	first := ing.Ingest(context.Background(), "neft.pdf", nil)
	second := ing.Ingest(context.Background(), "neft.pdf", nil)

	require.Equal(t, models.StatusSuccess, first.Status)
	require.Equal(t, models.StatusSuccess, second.Status)
	require.Len(t, store.records, first.Vectors*2)
	assert.Equal(t, store.records[0].ID, store.records[first.Vectors].ID)
}

func TestIngestEmptyDocumentSkipped(t *testing.T) {
	extractor := &fakeExtractor{pages: map[string][]models.Page{
		"blank.pdf": {{Number: 1, Text: "   \n\n  "}},
	}}
	embedder := &fakeEmbedder{dim: 4}
	store := &fakeStore{}

	report := newTestIngestor(extractor, embedder, store).Ingest(context.Background(), "blank.pdf", nil)

	assert.Equal(t, models.StatusSkipped, report.Status)
	assert.Equal(t, "no_text_extracted", report.Error)
	assert.Zero(t, embedder.batchCalls)
	assert.Empty(t, store.records)
}

func TestIngestExtractionFailure(t *testing.T) {
	extractor := &fakeExtractor{err: errors.New("vision model unreachable")}
	embedder := &fakeEmbedder{dim: 4}
	store := &fakeStore{}

	report := newTestIngestor(extractor, embedder, store).Ingest(context.Background(), "broken.pdf", nil)

	assert.Equal(t, models.StatusFailed, report.Status)
	assert.Contains(t, report.Error, "vision model unreachable")
	assert.Zero(t, embedder.batchCalls)
}

func TestIngestUpsertFailure(t *testing.T) {
	extractor := &fakeExtractor{pages: map[string][]models.Page{
		"doc.pdf": {{Number: 1, Text: "enough text to produce a chunk"}},
	}}
	embedder := &fakeEmbedder{dim: 4}
	store := &fakeStore{upsertErr: errors.New("connection refused")}

	report := newTestIngestor(extractor, embedder, store).Ingest(context.Background(), "doc.pdf", nil)

	assert.Equal(t, models.StatusFailed, report.Status)
	assert.Contains(t, report.Error, "connection refused")
	assert.Equal(t, 1, embedder.batchCalls)
}

func TestIngestAllOneReportPerSourceInOrder(t *testing.T) {
	extractor := &fakeExtractor{pages: map[string][]models.Page{
		"a.pdf": {{Number: 1, Text: "first document text"}},
		"c.pdf": {{Number: 1, Text: "third document text"}},
	}}
	embedder := &fakeEmbedder{dim: 4}
	store := &fakeStore{}

	var mu sync.Mutex
	var completed int
	proc := processor.NewWithConfig(processor.ProcessorConfig{})
	ing := NewIngestor(IngestorConfig{
		Workers: 2,
		OnReport: func(models.Report) {
			mu.Lock()
			completed++
			mu.Unlock()
		},
	}, extractor, proc, embedder, store, zap.NewNop())

	sources := []Source{
		{Name: "a.pdf", Load: func() ([]byte, error) { return nil, nil }},
		{Name: "b.pdf", Load: func() ([]byte, error) { return nil, errors.New("no such file") }},
		{Name: "c.pdf", Load: func() ([]byte, error) { return nil, nil }},
	}
	reports := ing.IngestAll(context.Background(), sources)

	require.Len(t, reports, 3)
	assert.Equal(t, "a.pdf", reports[0].Document)
	assert.Equal(t, models.StatusSuccess, reports[0].Status)
	assert.Equal(t, models.StatusFailed, reports[1].Status)
	assert.Contains(t, reports[1].Error, "no such file")
	assert.Equal(t, models.StatusSuccess, reports[2].Status)
	assert.Equal(t, 3, completed)
}
