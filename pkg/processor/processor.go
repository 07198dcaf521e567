package processor

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/xhad/folio/internal/models"
)

// wordBoundarySlack is how far back from the window edge Chunk will look for
// whitespace before it gives up and splits mid-word.
const wordBoundarySlack = 100

var (
	imageMarkRe = regexp.MustCompile(`!\[Image\]\([^)]*\)`)
	blankRunRe  = regexp.MustCompile(`\n\s*\n+`)
)

type ProcessorConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.ChunkSize == 0 {
		config.ChunkSize = 600
	}
	if config.ChunkOverlap < 0 {
		config.ChunkOverlap = 0
	}
	if config.ChunkOverlap >= config.ChunkSize {
		config.ChunkOverlap = config.ChunkSize - 1
	}

	return Processor{
		config: config,
	}
}

// Clean strips inline image markers and collapses runs of blank lines.
// Image references exist only for OCR consumers and must never reach the
// retrievable text.
func (p *Processor) Clean(text string) string {
	clean := imageMarkRe.ReplaceAllString(text, "")
	clean = blankRunRe.ReplaceAllString(clean, "\n\n")
	return strings.TrimSpace(clean)
}

// Chunk splits text into overlapping character windows. Windows prefer to
// end on whitespace when one exists within the last wordBoundarySlack
// characters; a window is never shrunk below size-wordBoundarySlack for
// boundary alignment. Empty input yields no chunks, input shorter than the
// window yields exactly one.
func (p *Processor) Chunk(text string) []string {
	runes := []rune(text)
	if len(runes) == 0 {
		return nil
	}

	size := p.config.ChunkSize
	overlap := p.config.ChunkOverlap

	var chunks []string
	start := 0

	for start < len(runes) {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		window := runes[start:end]

		// Break at a word boundary when the edge falls mid-word.
		if end < len(runes) && !unicode.IsSpace(runes[end]) {
			if last := lastSpace(window); last > 0 && last > size-wordBoundarySlack {
				window = window[:last]
				end = start + last
			}
		}

		if piece := strings.TrimSpace(string(window)); piece != "" {
			chunks = append(chunks, piece)
		}

		next := end - overlap
		if end >= len(runes) || next <= start {
			// Window shorter than the overlap; step past it so the
			// loop always terminates.
			next = end
		}
		start = next
	}

	return chunks
}

// Process cleans and chunks one document's extracted pages. Pages are
// concatenated before chunking, so each chunk's page number is a
// proportional estimate across the document rather than an exact mapping.
func (p *Processor) Process(document string, pages []models.Page) []models.Chunk {
	parts := make([]string, 0, len(pages))
	numPages := 0
	for _, page := range pages {
		parts = append(parts, page.Text)
		if page.Number > numPages {
			numPages = page.Number
		}
	}
	if numPages == 0 {
		numPages = len(pages)
	}

	clean := p.Clean(strings.Join(parts, "\n\n"))
	pieces := p.Chunk(clean)

	chunks := make([]models.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		chunks = append(chunks, models.Chunk{
			Document: document,
			Page:     estimatePage(i, len(pieces), numPages),
			Index:    i,
			Text:     piece,
		})
	}
	return chunks
}

// estimatePage distributes chunk indices evenly across the document's pages.
func estimatePage(index, total, numPages int) int {
	if total == 0 || numPages == 0 {
		return 1
	}
	return index*numPages/total + 1
}

func lastSpace(window []rune) int {
	for i := len(window) - 1; i >= 0; i-- {
		if unicode.IsSpace(window[i]) {
			return i
		}
	}
	return -1
}
