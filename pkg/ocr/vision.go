package ocr

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/xhad/folio/internal/models"
	"github.com/xhad/folio/internal/types"
)

// Deterministic OCR settings for the generation provider.
const (
	ocrTemperature = 0.0
	ocrMaxTokens   = 4000
)

const ocrSystemPrompt = `You are an expert OCR system for historical archive documents.

Extract ALL text from the image with 100% accuracy. Follow these rules:
1. Preserve EXACT spelling - including Azerbaijani, Russian, and English text
2. Maintain original Cyrillic characters - DO NOT transliterate
3. Keep all numbers, symbols, and special characters exactly as shown
4. Preserve layout structure (paragraphs, line breaks)
5. Include ALL text - headers, body, footnotes, tables, captions

Output ONLY the extracted text. No explanations, no descriptions.`

// VisionExtractor rasterizes each page and asks a vision-capable generation
// model to transcribe it, one call per page.
type VisionExtractor struct {
	config    Config
	generator types.Generator
	open      docOpener
	log       *zap.Logger
}

// ExtractPages renders and transcribes every page of the document. Page
// image buffers are released between pages, so memory use is bounded by a
// single page regardless of document size.
func (e *VisionExtractor) ExtractPages(ctx context.Context, raw []byte, name string) ([]models.Page, error) {
	doc, err := e.open(raw)
	if err != nil {
		return nil, err
	}

	numPages := doc.NumPages()
	if err := checkPageCeiling(numPages, e.config.MaxPages); err != nil {
		return nil, err
	}

	pages := make([]models.Page, 0, numPages)
	for pageNum := 1; pageNum <= numPages; pageNum++ {
		image, err := doc.RenderJPEG(pageNum, e.config.DPI, e.config.JPEGQuality)
		if err != nil {
			return nil, err
		}

		messages := []models.Message{
			{Role: models.RoleSystem, Content: ocrSystemPrompt},
			{
				Role:      models.RoleUser,
				Content:   fmt.Sprintf("Extract all text from page %d:", pageNum),
				ImageJPEG: image,
			},
		}

		text, err := e.generator.Generate(ctx, messages, ocrTemperature, ocrMaxTokens)
		if err != nil {
			return nil, fmt.Errorf("vision OCR failed on page %d: %w", pageNum, err)
		}
		text = strings.TrimRight(text, "\n ")

		if e.config.IncludeImages {
			text = appendImageMarks(text, name, pageNum, doc.ImageCount(pageNum))
		}

		e.log.Debug("page extracted",
			zap.String("document", name),
			zap.Int("page", pageNum),
			zap.Int("chars", len(text)))

		pages = append(pages, models.Page{Number: pageNum, Text: text})
	}

	return pages, nil
}
