package types

import (
	"context"

	"github.com/xhad/folio/internal/models"
)

// Core collaborator interfaces. Implementations are constructed once at
// startup and must be safe for concurrent use by multiple workers.

// Embedder maps text to fixed-dimension vectors.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	Dimension() int
}

// Generator maps an ordered message list to generated text. Messages may
// carry a JPEG payload for vision-mode OCR.
type Generator interface {
	Generate(ctx context.Context, messages []models.Message, temperature float64, maxTokens int) (string, error)
}

// VectorStore is the keyed similarity index owning all embedding records.
type VectorStore interface {
	Upsert(ctx context.Context, records []models.Record) error
	Query(ctx context.Context, embedding []float32, topK int) ([]models.RetrievedDocument, error)
	Stats(ctx context.Context) (models.StoreStats, error)
	DeleteAll(ctx context.Context) error
	Close()
}

// PageExtractor turns raw document bytes into ordered per-page text. The
// backend (vision model or document-analysis service) is fixed at
// construction time.
type PageExtractor interface {
	ExtractPages(ctx context.Context, raw []byte, name string) ([]models.Page, error)
}
