package pipeline

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/xhad/folio/internal/models"
	"github.com/xhad/folio/internal/types"
	"github.com/xhad/folio/pkg/processor"
)

// Source names a document and knows how to produce its raw bytes. Loading is
// deferred so a large batch does not have to sit in memory at once.
type Source struct {
	Name string
	Load func() ([]byte, error)
}

// IngestorConfig controls batch ingestion concurrency and pacing. OnReport,
// when set, is called after each document finishes; it may run concurrently
// from multiple workers.
type IngestorConfig struct {
	Workers   int
	RateLimit float64
	OnReport  func(models.Report)
}

// Ingestor drives a document through extraction, chunking, embedding and
// storage, reporting what happened at each stage.
type Ingestor struct {
	config    IngestorConfig
	extractor types.PageExtractor
	processor processor.Processor
	embedder  types.Embedder
	store     types.VectorStore
	limiter   *rate.Limiter
	log       *zap.Logger
}

// NewIngestor creates an Ingestor. A RateLimit of zero disables pacing.
func NewIngestor(config IngestorConfig, extractor types.PageExtractor, proc processor.Processor, embedder types.Embedder, store types.VectorStore, log *zap.Logger) *Ingestor {
	if config.Workers <= 0 {
		config.Workers = 4
	}
	var limiter *rate.Limiter
	if config.RateLimit > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return &Ingestor{
		config:    config,
		extractor: extractor,
		processor: proc,
		embedder:  embedder,
		store:     store,
		limiter:   limiter,
		log:       log,
	}
}

// Ingest processes a single document end to end. Re-ingesting the same
// document overwrites its previous vectors because chunk IDs are derived
// from the document name and chunk index.
func (ing *Ingestor) Ingest(ctx context.Context, name string, raw []byte) models.Report {
	report := models.Report{Document: name}
	total := time.Now()

	if err := ing.wait(ctx); err != nil {
		return ing.failed(report, err)
	}

	start := time.Now()
	pages, err := ing.extractor.ExtractPages(ctx, raw, name)
	if err != nil {
		perr := &ProviderError{Provider: "ocr", Op: "extract pages", Err: err}
		return ing.failed(report, perr)
	}
	report.Timing.Extract = time.Since(start)

	chunks := ing.processor.Process(name, pages)
	if len(chunks) == 0 {
		report.Status = models.StatusSkipped
		report.Error = "no_text_extracted"
		report.Timing.Total = time.Since(total)
		ing.log.Warn("no text extracted, skipping", zap.String("document", name))
		return report
	}
	report.Chunks = len(chunks)
	for _, c := range chunks {
		report.TextLen += len(c.Text)
	}

	if err := ing.wait(ctx); err != nil {
		return ing.failed(report, err)
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	start = time.Now()
	embeddings, err := ing.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		perr := &ProviderError{Provider: "embedding", Op: "embed batch", Err: err}
		return ing.failed(report, perr)
	}
	report.Timing.Embed = time.Since(start)

	records := make([]models.Record, len(chunks))
	for i, c := range chunks {
		records[i] = models.Record{
			ID:        fmt.Sprintf("%s_chunk_%d", name, c.Index),
			Embedding: embeddings[i],
			Metadata:  models.NewMetadata(c),
		}
	}

	start = time.Now()
	if err := ing.store.Upsert(ctx, records); err != nil {
		perr := &ProviderError{Provider: "vector store", Op: "upsert", Err: err}
		return ing.failed(report, perr)
	}
	report.Timing.Upsert = time.Since(start)

	report.Status = models.StatusSuccess
	report.Vectors = len(records)
	report.Timing.Total = time.Since(total)

	ing.log.Info("document ingested",
		zap.String("document", name),
		zap.Int("pages", len(pages)),
		zap.Int("chunks", report.Chunks),
		zap.Duration("total", report.Timing.Total))
	return report
}

// IngestAll runs Ingest over every source using a bounded worker pool.
// Reports come back in the same order as the sources, one per source
// regardless of individual failures.
func (ing *Ingestor) IngestAll(ctx context.Context, sources []Source) []models.Report {
	reports := make([]models.Report, len(sources))
	jobs := make(chan int)

	var wg sync.WaitGroup
	for w := 0; w < ing.config.Workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				src := sources[i]
				raw, err := src.Load()
				if err != nil {
					reports[i] = ing.failed(models.Report{Document: src.Name}, fmt.Errorf("failed to read document: %v", err))
				} else {
					reports[i] = ing.Ingest(ctx, src.Name, raw)
				}
				if ing.config.OnReport != nil {
					ing.config.OnReport(reports[i])
				}
			}
		}()
	}

	for i := range sources {
		select {
		case jobs <- i:
		case <-ctx.Done():
			for j := i; j < len(sources); j++ {
				reports[j] = ing.failed(models.Report{Document: sources[j].Name}, ctx.Err())
			}
			close(jobs)
			wg.Wait()
			return reports
		}
	}
	close(jobs)
	wg.Wait()
	return reports
}

func (ing *Ingestor) wait(ctx context.Context) error {
	if ing.limiter == nil {
		return nil
	}
	return ing.limiter.Wait(ctx)
}

func (ing *Ingestor) failed(report models.Report, err error) models.Report {
	report.Status = models.StatusFailed
	report.Error = err.Error()
	ing.log.Error("ingestion failed", zap.String("document", report.Document), zap.Error(err))
	return report
}
