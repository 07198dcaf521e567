package server

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/xhad/folio/internal/models"
	"github.com/xhad/folio/pkg/pipeline"
)

const maxUploadBytes = 50 << 20

type errorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type ocrPage struct {
	PageNumber int    `json:"page_number"`
	MDText     string `json:"md_text"`
}

// sourceRef is the citation shape clients validate against.
type sourceRef struct {
	PDFName    string `json:"pdf_name"`
	PageNumber int    `json:"page_number"`
	Content    string `json:"content"`
}

type answerResponse struct {
	Answer       string      `json:"answer"`
	Sources      []sourceRef `json:"sources"`
	ResponseTime float64     `json:"response_time"`
}

// chatMessage is one turn of an incoming conversation.
type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// llmRequest covers both object-shaped request formats. Exactly one of
// Question or Messages is expected to be set.
type llmRequest struct {
	Question    string        `json:"question"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

func (s *Server) handleOCR(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid upload", Detail: err.Error()})
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "missing file", Detail: "expected a multipart field named 'file'"})
		return
	}
	defer file.Close()

	name := header.Filename
	if name == "" {
		name = "document.pdf"
	}
	if !strings.HasSuffix(strings.ToLower(name), ".pdf") {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "unsupported file type", Detail: "only PDF uploads are accepted"})
		return
	}

	raw, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "failed to read upload", Detail: err.Error()})
		return
	}
	if len(raw) == 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "empty upload", Detail: "the uploaded file contains no data"})
		return
	}

	pages, err := s.extractor.ExtractPages(r.Context(), raw, name)
	if err != nil {
		s.log.Error("ocr extraction failed", zap.String("document", name), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "ocr failed", Detail: err.Error()})
		return
	}

	out := make([]ocrPage, len(pages))
	for i, p := range pages {
		out[i] = ocrPage{PageNumber: p.Number, MDText: p.Text}
	}
	writeJSON(w, http.StatusOK, out)
}

// handleLLM accepts three request shapes and always answers 200 with the
// same response schema, carrying failures in the answer text.
func (s *Server) handleLLM(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method not allowed"})
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeAnswerError(w, "Failed to read request body.")
		return
	}

	question, history, opts, shapeErr := normalizeLLMRequest(body)
	if shapeErr != "" {
		writeAnswerError(w, shapeErr)
		return
	}

	answer, err := s.answerer.Answer(r.Context(), question, history, opts)
	if err != nil {
		s.log.Warn("answer pipeline degraded", zap.Error(err))
	}

	writeJSON(w, http.StatusOK, answerResponse{
		Answer:       answer.Text,
		Sources:      sourceRefs(answer.Sources),
		ResponseTime: math.Round(answer.Latency.Seconds()*100) / 100,
	})
}

// normalizeLLMRequest reduces the three accepted request shapes to one
// canonical question plus prior chat turns. A non-empty string return is a
// client-facing shape error.
func normalizeLLMRequest(body []byte) (string, []models.Message, pipeline.AskOptions, string) {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "", nil, pipeline.AskOptions{}, "Invalid JSON in request body. Please send valid JSON with 'question' field."
	}

	if strings.HasPrefix(trimmed, "[") {
		var messages []chatMessage
		if err := json.Unmarshal(body, &messages); err != nil {
			return "", nil, pipeline.AskOptions{}, "Invalid JSON in request body. Please send valid JSON with 'question' field."
		}
		return splitConversation(messages, pipeline.AskOptions{})
	}

	var req llmRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return "", nil, pipeline.AskOptions{}, "Invalid JSON in request body. Please send valid JSON with 'question' field."
	}
	opts := pipeline.AskOptions{Temperature: req.Temperature, MaxTokens: req.MaxTokens}

	switch {
	case strings.TrimSpace(req.Question) != "":
		return req.Question, nil, opts, ""
	case req.Question != "" || jsonHasField(body, "question"):
		return "", nil, pipeline.AskOptions{}, "Empty question provided. Please provide a valid question."
	case len(req.Messages) > 0:
		return splitConversation(req.Messages, opts)
	case jsonHasField(body, "messages"):
		return "", nil, pipeline.AskOptions{}, "No messages provided in request."
	default:
		return "", nil, pipeline.AskOptions{}, "Invalid request format. Expected 'question' or 'messages' field in request body."
	}
}

// splitConversation finds the last user turn to use as the question; every
// turn before it becomes chat history.
func splitConversation(messages []chatMessage, opts pipeline.AskOptions) (string, []models.Message, pipeline.AskOptions, string) {
	last := -1
	for i, m := range messages {
		if m.Role == models.RoleUser {
			last = i
		}
	}
	if last < 0 {
		return "", nil, pipeline.AskOptions{}, "No user message found in messages array."
	}
	if strings.TrimSpace(messages[last].Content) == "" {
		return "", nil, pipeline.AskOptions{}, "Empty message content provided."
	}

	history := make([]models.Message, 0, last)
	for _, m := range messages[:last] {
		history = append(history, models.Message{Role: m.Role, Content: m.Content})
	}
	return messages[last].Content, history, opts, ""
}

func jsonHasField(body []byte, field string) bool {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(body, &probe); err != nil {
		return false
	}
	_, ok := probe[field]
	return ok
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"vector_store": map[string]interface{}{
			"connected":     true,
			"total_vectors": stats.Vectors,
			"dimension":     stats.Dimension,
		},
	})
}

func sourceRefs(docs []models.RetrievedDocument) []sourceRef {
	refs := make([]sourceRef, len(docs))
	for i, d := range docs {
		refs[i] = sourceRef{PDFName: d.Document, PageNumber: d.Page, Content: d.Content}
	}
	return refs
}

func writeAnswerError(w http.ResponseWriter, detail string) {
	writeJSON(w, http.StatusOK, answerResponse{
		Answer:  fmt.Sprintf("Error: %s", detail),
		Sources: []sourceRef{},
	})
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
