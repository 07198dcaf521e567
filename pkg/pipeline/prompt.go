package pipeline

import (
	"fmt"
	"strings"

	"github.com/xhad/folio/internal/models"
)

const answerSystemPrompt = `You are a helpful assistant that answers questions about historical archive documents.
You must answer using ONLY the provided document excerpts. Do not use any outside knowledge.
For every claim in your answer, cite the source document and page it came from, e.g. (Source: report.pdf, Page 3).
Page numbers are always integers. If the excerpts do not contain the answer, say so plainly.`

// buildContext enumerates the retrieved chunks the way the generation model
// expects them: numbered, each labeled with its source name and page.
func buildContext(docs []models.RetrievedDocument) string {
	if len(docs) == 0 {
		return "No relevant documents were found."
	}
	var b strings.Builder
	for i, doc := range docs {
		fmt.Fprintf(&b, "Document %d (Source: %s, Page %d):\n%s\n\n", i+1, doc.Document, doc.Page, doc.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}

// buildMessages assembles the full conversation for a single answer: the
// citation instructions, any prior user/assistant turns, then the question
// together with its retrieved context. History entries with other roles are
// dropped rather than forwarded.
func buildMessages(question string, history []models.Message, docs []models.RetrievedDocument) []models.Message {
	messages := make([]models.Message, 0, len(history)+2)
	messages = append(messages, models.Message{Role: models.RoleSystem, Content: answerSystemPrompt})

	for _, m := range history {
		if m.Role == models.RoleUser || m.Role == models.RoleAssistant {
			messages = append(messages, m)
		}
	}

	user := fmt.Sprintf("Context from documents:\n\n%s\n\nQuestion: %s", buildContext(docs), question)
	messages = append(messages, models.Message{Role: models.RoleUser, Content: user})
	return messages
}
