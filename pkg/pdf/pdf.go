package pdf

import (
	"bytes"
	"fmt"
	"image/jpeg"

	"github.com/unidoc/unipdf/v3/extractor"
	"github.com/unidoc/unipdf/v3/model"
	"github.com/unidoc/unipdf/v3/render"
)

// Document wraps a parsed PDF for page rendering and image inspection.
type Document struct {
	reader   *model.PdfReader
	numPages int
}

// Open parses raw PDF bytes.
func Open(raw []byte) (*Document, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty PDF")
	}

	reader, err := model.NewPdfReader(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse PDF: %w", err)
	}

	numPages, err := reader.GetNumPages()
	if err != nil {
		return nil, fmt.Errorf("failed to read page count: %w", err)
	}

	return &Document{
		reader:   reader,
		numPages: numPages,
	}, nil
}

// NumPages reports the page count.
func (d *Document) NumPages() int {
	return d.numPages
}

// RenderJPEG rasterizes one page (1-indexed) at the given DPI and encodes it
// as JPEG. The intermediate raster is released when this returns, so large
// documents can be rendered one page at a time.
func (d *Document) RenderJPEG(pageNum, dpi, quality int) ([]byte, error) {
	page, err := d.reader.GetPage(pageNum)
	if err != nil {
		return nil, fmt.Errorf("failed to load page %d: %w", pageNum, err)
	}

	mediaBox, err := page.GetMediaBox()
	if err != nil {
		return nil, fmt.Errorf("failed to read media box of page %d: %w", pageNum, err)
	}

	device := render.NewImageDevice()
	// MediaBox units are points (1/72 inch).
	device.OutputWidth = int((mediaBox.Urx - mediaBox.Llx) * float64(dpi) / 72.0)

	img, err := device.Render(page)
	if err != nil {
		return nil, fmt.Errorf("failed to render page %d: %w", pageNum, err)
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return nil, fmt.Errorf("failed to encode page %d: %w", pageNum, err)
	}

	return buf.Bytes(), nil
}

// ImageCount reports how many raster images are embedded in one page
// (1-indexed). Counting failures are treated as zero images; extraction of
// page text never depends on this.
func (d *Document) ImageCount(pageNum int) int {
	page, err := d.reader.GetPage(pageNum)
	if err != nil {
		return 0
	}

	ex, err := extractor.New(page)
	if err != nil {
		return 0
	}

	images, err := ex.ExtractPageImages(nil)
	if err != nil {
		return 0
	}

	return len(images.Images)
}
