package models

// UnknownDocument is substituted when a record carries no source name.
const UnknownDocument = "unknown.pdf"

// NewMetadata builds the metadata bag persisted with each record. It carries
// everything the answering pipeline needs to produce a verifiable citation:
// source name, page number and the chunk text itself.
func NewMetadata(chunk Chunk) map[string]interface{} {
	return map[string]interface{}{
		"pdf_name":    chunk.Document,
		"page_number": chunk.Page,
		"chunk_index": chunk.Index,
		"content":     chunk.Text,
	}
}

// FromMetadata normalizes a metadata bag into a RetrievedDocument. JSON
// round-trips hand numbers back as float64, so the page number is coerced to
// an integer; a missing document name defaults to UnknownDocument instead of
// failing the query.
func FromMetadata(meta map[string]interface{}) RetrievedDocument {
	doc := RetrievedDocument{
		Document: UnknownDocument,
		Page:     coerceInt(meta["page_number"]),
	}

	if name, ok := meta["pdf_name"].(string); ok && name != "" {
		doc.Document = name
	}
	if content, ok := meta["content"].(string); ok {
		doc.Content = content
	}

	return doc
}

func coerceInt(v interface{}) int {
	switch n := v.(type) {
	case int:
		return n
	case int32:
		return int(n)
	case int64:
		return int(n)
	case float32:
		return int(n)
	case float64:
		return int(n)
	default:
		return 0
	}
}
