package models

import "time"

// Message roles understood by the generation provider.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Page is the OCR output for a single document page. Numbers are 1-indexed.
type Page struct {
	Number int    `json:"page_number"`
	Text   string `json:"md_text"`
}

// Chunk is a bounded slice of cleaned document text, the unit of embedding
// and retrieval.
type Chunk struct {
	Document string
	Page     int
	Index    int
	Text     string
}

// Record is the persisted unit in the vector store. IDs are derived from the
// document name and chunk index so that re-ingesting a document overwrites
// its previous records instead of growing the index.
type Record struct {
	ID        string
	Embedding []float32
	Metadata  map[string]interface{}
}

// RetrievedDocument is one similarity-search hit, already normalized: the
// page number is always an integer and the document name never empty.
type RetrievedDocument struct {
	Document string  `json:"pdf_name"`
	Page     int     `json:"page_number"`
	Content  string  `json:"content"`
	Score    float32 `json:"score,omitempty"`
}

// Message is one turn of a conversation. ImageJPEG carries an optional page
// image for vision-mode OCR.
type Message struct {
	Role      string `json:"role"`
	Content   string `json:"content"`
	ImageJPEG []byte `json:"-"`
}

// Answer is the final unit returned by the answering pipeline. Sources are
// ordered by retrieval rank, most relevant first.
type Answer struct {
	Text    string
	Sources []RetrievedDocument
	Latency time.Duration
}

// Ingestion outcome per document.
const (
	StatusSuccess = "success"
	StatusSkipped = "skipped"
	StatusFailed  = "failed"
)

// StageTiming records how long each ingestion stage took.
type StageTiming struct {
	Extract time.Duration `json:"extract"`
	Embed   time.Duration `json:"embed"`
	Upsert  time.Duration `json:"upsert"`
	Total   time.Duration `json:"total"`
}

// Report summarizes the ingestion of one document.
type Report struct {
	Document string      `json:"pdf_name"`
	Status   string      `json:"status"`
	Chunks   int         `json:"num_chunks"`
	Vectors  int         `json:"num_vectors"`
	TextLen  int         `json:"text_length"`
	Timing   StageTiming `json:"timing"`
	Error    string      `json:"error,omitempty"`
}

// StoreStats describes the vector index.
type StoreStats struct {
	Vectors   int `json:"total_vectors"`
	Dimension int `json:"dimension"`
}
