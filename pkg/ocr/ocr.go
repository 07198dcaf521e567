package ocr

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/xhad/folio/internal/types"
	"github.com/xhad/folio/pkg/pdf"
)

// Backend names accepted in configuration.
const (
	BackendVision   = "vision"
	BackendAnalysis = "analysis"
)

// Config selects and tunes the extraction backend.
type Config struct {
	Backend       string
	DPI           int
	JPEGQuality   int
	MaxPages      int // 0 = no ceiling
	IncludeImages bool
	AnalysisURL   string
	AnalysisKey   string
}

// pageRenderer is the slice of pkg/pdf the extractors need.
type pageRenderer interface {
	NumPages() int
	RenderJPEG(pageNum, dpi, quality int) ([]byte, error)
	ImageCount(pageNum int) int
}

type docOpener func(raw []byte) (pageRenderer, error)

func openPDF(raw []byte) (pageRenderer, error) {
	return pdf.Open(raw)
}

// New builds the extractor for the configured backend. The choice is made
// once here; call sites only ever see the PageExtractor interface.
func New(config Config, generator types.Generator, log *zap.Logger) (types.PageExtractor, error) {
	if config.DPI == 0 {
		config.DPI = 100
	}
	if config.JPEGQuality == 0 {
		config.JPEGQuality = 85
	}
	if log == nil {
		log = zap.NewNop()
	}

	switch config.Backend {
	case BackendVision, "":
		if generator == nil {
			return nil, fmt.Errorf("vision OCR backend requires a generation provider")
		}
		return &VisionExtractor{config: config, generator: generator, open: openPDF, log: log}, nil
	case BackendAnalysis:
		if config.AnalysisURL == "" {
			return nil, fmt.Errorf("analysis OCR backend requires an endpoint URL")
		}
		return NewAnalysisExtractor(config, log), nil
	default:
		return nil, fmt.Errorf("unsupported OCR backend: %s", config.Backend)
	}
}

// checkPageCeiling rejects oversized documents before extraction starts.
func checkPageCeiling(numPages, maxPages int) error {
	if maxPages > 0 && numPages > maxPages {
		return fmt.Errorf("document has %d pages, limit is %d", numPages, maxPages)
	}
	return nil
}

// appendImageMarks appends one machine-discoverable placeholder per embedded
// raster image, after the page's text. The markers are for OCR consumers
// only; the ingestion cleaner strips them before chunking.
func appendImageMarks(text, name string, pageNum, count int) string {
	for i := 1; i <= count; i++ {
		text += fmt.Sprintf("\n\n![Image](%s/page_%d/image_%d)\n\n", name, pageNum, i)
	}
	return text
}
