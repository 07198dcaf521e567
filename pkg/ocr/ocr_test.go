package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xhad/folio/internal/models"
)

type fakeRenderer struct {
	numPages    int
	imageCounts map[int]int
}

func (f *fakeRenderer) NumPages() int { return f.numPages }

func (f *fakeRenderer) RenderJPEG(pageNum, dpi, quality int) ([]byte, error) {
	return []byte(fmt.Sprintf("jpeg-page-%d", pageNum)), nil
}

func (f *fakeRenderer) ImageCount(pageNum int) int { return f.imageCounts[pageNum] }

func fakeOpener(r *fakeRenderer) docOpener {
	return func(raw []byte) (pageRenderer, error) { return r, nil }
}

type fakeGenerator struct {
	calls []generateCall
	text  func(call int) string
	err   error
}

type generateCall struct {
	messages    []models.Message
	temperature float64
	maxTokens   int
}

func (f *fakeGenerator) Generate(ctx context.Context, messages []models.Message, temperature float64, maxTokens int) (string, error) {
	f.calls = append(f.calls, generateCall{messages, temperature, maxTokens})
	if f.err != nil {
		return "", f.err
	}
	return f.text(len(f.calls)), nil
}

func TestVisionExtractor_OneCallPerPage(t *testing.T) {
	gen := &fakeGenerator{text: func(call int) string { return fmt.Sprintf("Mətn səhifə %d", call) }}
	e := &VisionExtractor{
		config:    Config{DPI: 100, JPEGQuality: 85},
		generator: gen,
		log:       zap.NewNop(),
		open:      fakeOpener(&fakeRenderer{numPages: 2}),
	}

	pages, err := e.ExtractPages(context.Background(), []byte("pdf"), "arxiv_07.pdf")
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, 1, pages[0].Number)
	assert.Equal(t, "Mətn səhifə 1", pages[0].Text)
	assert.Equal(t, 2, pages[1].Number)

	require.Len(t, gen.calls, 2)
	for i, call := range gen.calls {
		require.Len(t, call.messages, 2)
		assert.Equal(t, models.RoleSystem, call.messages[0].Role)
		assert.Contains(t, call.messages[0].Content, "DO NOT transliterate")
		assert.Equal(t, models.RoleUser, call.messages[1].Role)
		assert.Equal(t, []byte(fmt.Sprintf("jpeg-page-%d", i+1)), call.messages[1].ImageJPEG)
		assert.Zero(t, call.temperature)
		assert.Equal(t, ocrMaxTokens, call.maxTokens)
	}
}

func TestVisionExtractor_ImagePlaceholders(t *testing.T) {
	gen := &fakeGenerator{text: func(call int) string { return fmt.Sprintf("page %d text", call) }}
	renderer := &fakeRenderer{numPages: 3, imageCounts: map[int]int{1: 1, 2: 1, 3: 1}}
	e := &VisionExtractor{
		config:    Config{DPI: 100, JPEGQuality: 85, IncludeImages: true},
		generator: gen,
		log:       zap.NewNop(),
		open:      fakeOpener(renderer),
	}

	pages, err := e.ExtractPages(context.Background(), []byte("pdf"), "maps.pdf")
	require.NoError(t, err)
	require.Len(t, pages, 3)

	for i, page := range pages {
		marker := fmt.Sprintf("![Image](maps.pdf/page_%d/image_1)", i+1)
		assert.Equal(t, 1, strings.Count(page.Text, "![Image]"))
		assert.Contains(t, page.Text, marker)
		// Placeholder comes after the page text.
		assert.Less(t, strings.Index(page.Text, "text"), strings.Index(page.Text, "![Image]"))
	}
}

func TestVisionExtractor_NoPlaceholdersWhenDisabled(t *testing.T) {
	gen := &fakeGenerator{text: func(call int) string { return "plain text" }}
	renderer := &fakeRenderer{numPages: 1, imageCounts: map[int]int{1: 4}}
	e := &VisionExtractor{
		config:    Config{DPI: 100, JPEGQuality: 85},
		generator: gen,
		log:       zap.NewNop(),
		open:      fakeOpener(renderer),
	}

	pages, err := e.ExtractPages(context.Background(), []byte("pdf"), "plain.pdf")
	require.NoError(t, err)
	assert.NotContains(t, pages[0].Text, "![Image]")
}

func TestVisionExtractor_PageCeiling(t *testing.T) {
	gen := &fakeGenerator{text: func(call int) string { return "x" }}
	e := &VisionExtractor{
		config:    Config{DPI: 100, JPEGQuality: 85, MaxPages: 5},
		generator: gen,
		log:       zap.NewNop(),
		open:      fakeOpener(&fakeRenderer{numPages: 9}),
	}

	_, err := e.ExtractPages(context.Background(), []byte("pdf"), "big.pdf")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "9 pages")
	assert.Contains(t, err.Error(), "limit is 5")
	assert.Empty(t, gen.calls, "extraction must not start past the ceiling")
}

func TestNew_BackendSelection(t *testing.T) {
	gen := &fakeGenerator{text: func(int) string { return "" }}

	vision, err := New(Config{Backend: BackendVision}, gen, nil)
	require.NoError(t, err)
	assert.IsType(t, &VisionExtractor{}, vision)

	analysis, err := New(Config{Backend: BackendAnalysis, AnalysisURL: "http://ocr.local"}, nil, nil)
	require.NoError(t, err)
	assert.IsType(t, &AnalysisExtractor{}, analysis)

	_, err = New(Config{Backend: "abacus"}, gen, nil)
	assert.Error(t, err)

	_, err = New(Config{Backend: BackendVision}, nil, nil)
	assert.Error(t, err)

	_, err = New(Config{Backend: BackendAnalysis}, nil, nil)
	assert.Error(t, err)
}

func TestAnalysisExtractor_SubmitAndPoll(t *testing.T) {
	var polls int
	mux := http.NewServeMux()

	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/analyze", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/pdf", r.Header.Get("Content-Type"))
		assert.Equal(t, "secret", r.Header.Get("Ocp-Apim-Subscription-Key"))
		w.Header().Set("Operation-Location", server.URL+"/operations/1")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/operations/1", func(w http.ResponseWriter, r *http.Request) {
		polls++
		if polls == 1 {
			json.NewEncoder(w).Encode(map[string]string{"status": "running"})
			return
		}
		result := analysisResult{Status: "succeeded"}
		result.AnalyzeResult.Pages = []analysisPage{
			{PageNumber: 1, Lines: []analysisLine{{Content: "Первая строка"}, {Content: "İkinci sətir"}}},
			{PageNumber: 2, Lines: []analysisLine{{Content: "second page"}}},
		}
		json.NewEncoder(w).Encode(result)
	})

	e := NewAnalysisExtractor(Config{
		AnalysisURL: server.URL + "/analyze",
		AnalysisKey: "secret",
	}, nil)
	e.open = fakeOpener(&fakeRenderer{numPages: 2})
	e.pollInterval = time.Millisecond

	pages, err := e.ExtractPages(context.Background(), []byte("pdf"), "scan.pdf")
	require.NoError(t, err)
	require.Len(t, pages, 2)

	assert.Equal(t, "Первая строка\nİkinci sətir", pages[0].Text)
	assert.Equal(t, 2, pages[1].Number)
	assert.Equal(t, "second page", pages[1].Text)
	assert.Equal(t, 2, polls)
}

func TestAnalysisExtractor_FailedOperation(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/analyze", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Operation-Location", server.URL+"/operations/1")
		w.WriteHeader(http.StatusAccepted)
	})
	mux.HandleFunc("/operations/1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "failed"})
	})

	e := NewAnalysisExtractor(Config{AnalysisURL: server.URL + "/analyze"}, nil)
	e.open = fakeOpener(&fakeRenderer{numPages: 1})
	e.pollInterval = time.Millisecond

	_, err := e.ExtractPages(context.Background(), []byte("pdf"), "scan.pdf")
	assert.Error(t, err)
}
