package config

import (
	"fmt"
	"net/url"
)

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, ValidationError{
			Field:   "llm.temperature",
			Message: "temperature must be between 0 and 2",
		})
	}

	if c.LLM.MaxTokens < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.max_tokens",
			Message: "max_tokens must be positive",
		})
	}

	if c.LLM.EmbeddingDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "llm.embedding_dim",
			Message: "embedding_dim must be positive",
		})
	}

	if c.LLM.BaseURL != "" {
		if _, err := url.Parse(c.LLM.BaseURL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "llm.base_url",
				Message: "invalid provider base URL",
			})
		}
	}

	switch c.OCR.Backend {
	case "vision", "analysis":
	default:
		errors = append(errors, ValidationError{
			Field:   "ocr.backend",
			Message: fmt.Sprintf("unknown OCR backend: %s", c.OCR.Backend),
		})
	}

	if c.OCR.Backend == "analysis" && c.OCR.AnalysisURL == "" {
		errors = append(errors, ValidationError{
			Field:   "ocr.analysis_url",
			Message: "analysis backend requires analysis_url",
		})
	}

	if c.OCR.DPI < 36 || c.OCR.DPI > 600 {
		errors = append(errors, ValidationError{
			Field:   "ocr.dpi",
			Message: "dpi must be between 36 and 600",
		})
	}

	if c.OCR.JPEGQuality < 1 || c.OCR.JPEGQuality > 100 {
		errors = append(errors, ValidationError{
			Field:   "ocr.jpeg_quality",
			Message: "jpeg_quality must be between 1 and 100",
		})
	}

	if c.OCR.MaxPages < 0 {
		errors = append(errors, ValidationError{
			Field:   "ocr.max_pages",
			Message: "max_pages cannot be negative",
		})
	}

	if c.Database.URL != "" {
		if _, err := url.Parse(c.Database.URL); err != nil {
			errors = append(errors, ValidationError{
				Field:   "database.url",
				Message: "invalid database URL",
			})
		}
	}

	if c.Database.VectorDim < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.vector_dim",
			Message: "vector_dim must be positive",
		})
	}

	if c.Database.BatchSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "database.batch_size",
			Message: "batch_size must be positive",
		})
	}

	if c.Processor.ChunkSize < 1 {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_size",
			Message: "chunk_size must be positive",
		})
	}

	if c.Processor.ChunkOverlap < 0 || c.Processor.ChunkOverlap >= c.Processor.ChunkSize {
		errors = append(errors, ValidationError{
			Field:   "processor.chunk_overlap",
			Message: "chunk_overlap must be non-negative and less than chunk_size",
		})
	}

	if c.Retrieval.TopK < 1 {
		errors = append(errors, ValidationError{
			Field:   "retrieval.top_k",
			Message: "top_k must be positive",
		})
	}

	if c.Ingest.Workers < 1 {
		errors = append(errors, ValidationError{
			Field:   "ingest.workers",
			Message: "workers must be positive",
		})
	}

	if c.Ingest.RateLimit <= 0 {
		errors = append(errors, ValidationError{
			Field:   "ingest.rate_limit",
			Message: "rate_limit must be positive",
		})
	}

	return errors
}
