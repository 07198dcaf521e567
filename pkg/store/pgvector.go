package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
	"go.uber.org/zap"

	"github.com/xhad/folio/internal/models"
)

const upsertAttempts = 3

type VectorStoreConfig struct {
	ConnString string
	TableName  string
	VectorDim  int
	BatchSize  int
}

// VectorStore is a pgvector-backed similarity index. It exclusively owns the
// embedding records: the ingestion pipeline writes, the answering pipeline
// reads, nothing mutates records in place.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	log    *zap.Logger
}

func NewWithConfig(config VectorStoreConfig, log *zap.Logger) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = "documents"
	}
	if config.VectorDim == 0 {
		config.VectorDim = 1024
	}
	if config.BatchSize == 0 {
		config.BatchSize = 100
	}
	if log == nil {
		log = zap.NewNop()
	}

	pool, err := pgxpool.New(context.Background(), config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %v", err)
	}

	vs := &VectorStore{
		config: config,
		pool:   pool,
		log:    log,
	}

	if err := vs.initialize(); err != nil {
		pool.Close()
		return nil, err
	}

	return vs, nil
}

func (vs *VectorStore) initialize() error {
	ctx := context.Background()

	_, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector")
	if err != nil {
		return fmt.Errorf("failed to create vector extension: %v", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			embedding vector(%d),
			metadata JSONB
		)`, vs.config.TableName, vs.config.VectorDim)

	_, err = vs.pool.Exec(ctx, createTable)
	if err != nil {
		return fmt.Errorf("failed to create table: %v", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s_embedding_idx
		ON %s
		USING ivfflat (embedding vector_cosine_ops)
		WITH (lists = 100)`,
		vs.config.TableName, vs.config.TableName)

	_, err = vs.pool.Exec(ctx, createIndex)
	if err != nil {
		return fmt.Errorf("failed to create index: %v", err)
	}

	return nil
}

// Upsert writes records in bounded-size batches. Record IDs are the caller's
// deterministic keys, so re-ingesting a document replaces its records
// instead of duplicating them. A failing batch is retried on its own; the
// surrounding document is not restarted.
func (vs *VectorStore) Upsert(ctx context.Context, records []models.Record) error {
	batchSize := vs.config.BatchSize

	for i := 0; i < len(records); i += batchSize {
		end := i + batchSize
		if end > len(records) {
			end = len(records)
		}

		if err := vs.upsertBatch(ctx, records[i:end]); err != nil {
			return fmt.Errorf("failed to upsert batch at offset %d: %w", i, err)
		}
	}

	return nil
}

func (vs *VectorStore) upsertBatch(ctx context.Context, batch []models.Record) error {
	var lastErr error

	for attempt := 0; attempt < upsertAttempts; attempt++ {
		if attempt > 0 {
			vs.log.Warn("retrying upsert batch",
				zap.Int("attempt", attempt+1),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(1<<uint(attempt)) * time.Second):
			}
		}

		if lastErr = vs.writeBatch(ctx, batch); lastErr == nil {
			return nil
		}
	}

	return lastErr
}

func (vs *VectorStore) writeBatch(ctx context.Context, batch []models.Record) error {
	tx, err := vs.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %v", err)
	}
	defer tx.Rollback(ctx)

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, embedding, metadata)
		VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata`,
		vs.config.TableName)

	for _, record := range batch {
		_, err = tx.Exec(ctx, stmt,
			record.ID,
			pgvector.NewVector(record.Embedding),
			record.Metadata,
		)
		if err != nil {
			return fmt.Errorf("failed to insert record %s: %v", record.ID, err)
		}
	}

	return tx.Commit(ctx)
}

// Query returns the topK records most similar to the embedding under cosine
// similarity, most similar first, with metadata normalized into
// RetrievedDocuments.
func (vs *VectorStore) Query(ctx context.Context, embedding []float32, topK int) ([]models.RetrievedDocument, error) {
	if topK <= 0 {
		topK = 3
	}

	query := fmt.Sprintf(`
		SELECT metadata, 1 - (embedding <=> $1) AS score
		FROM %s
		ORDER BY embedding <=> $1
		LIMIT $2`,
		vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query, pgvector.NewVector(embedding), topK)
	if err != nil {
		return nil, fmt.Errorf("failed to query documents: %v", err)
	}
	defer rows.Close()

	var docs []models.RetrievedDocument
	for rows.Next() {
		var metadata map[string]interface{}
		var score float32

		if err := rows.Scan(&metadata, &score); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}

		doc := models.FromMetadata(metadata)
		doc.Score = score
		docs = append(docs, doc)
	}

	return docs, rows.Err()
}

// Stats reports the index size and configured dimension.
func (vs *VectorStore) Stats(ctx context.Context) (models.StoreStats, error) {
	var count int
	query := fmt.Sprintf("SELECT count(*) FROM %s", vs.config.TableName)

	if err := vs.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return models.StoreStats{}, fmt.Errorf("failed to read stats: %v", err)
	}

	return models.StoreStats{
		Vectors:   count,
		Dimension: vs.config.VectorDim,
	}, nil
}

// ListDocuments returns the distinct source document names in the index.
func (vs *VectorStore) ListDocuments(ctx context.Context) ([]string, error) {
	query := fmt.Sprintf("SELECT DISTINCT metadata->>'pdf_name' FROM %s", vs.config.TableName)

	rows, err := vs.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %v", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name *string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan row: %v", err)
		}
		if name != nil {
			names = append(names, *name)
		}
	}

	return names, rows.Err()
}

// DeleteAll wipes the index.
func (vs *VectorStore) DeleteAll(ctx context.Context) error {
	_, err := vs.pool.Exec(ctx, fmt.Sprintf("TRUNCATE %s", vs.config.TableName))
	if err != nil {
		return fmt.Errorf("failed to clear index: %v", err)
	}
	return nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}
