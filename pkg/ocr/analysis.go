package ocr

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/xhad/folio/internal/models"
)

// AnalysisExtractor submits the whole document once to a hosted
// document-analysis service and reads back per-page line groupings. The
// service follows the submit-then-poll pattern: the analyze call answers 202
// with an Operation-Location header, which is polled until the operation
// settles.
type AnalysisExtractor struct {
	config       Config
	client       *http.Client
	open         docOpener
	pollInterval time.Duration
	log          *zap.Logger
}

func NewAnalysisExtractor(config Config, log *zap.Logger) *AnalysisExtractor {
	if log == nil {
		log = zap.NewNop()
	}
	return &AnalysisExtractor{
		config:       config,
		client:       &http.Client{Timeout: 60 * time.Second},
		open:         openPDF,
		pollInterval: 2 * time.Second,
		log:          log,
	}
}

type analysisLine struct {
	Content string `json:"content"`
}

type analysisPage struct {
	PageNumber int            `json:"pageNumber"`
	Lines      []analysisLine `json:"lines"`
}

type analysisResult struct {
	Status        string `json:"status"`
	AnalyzeResult struct {
		Pages []analysisPage `json:"pages"`
	} `json:"analyzeResult"`
}

func (e *AnalysisExtractor) ExtractPages(ctx context.Context, raw []byte, name string) ([]models.Page, error) {
	doc, err := e.open(raw)
	if err != nil {
		return nil, err
	}
	if err := checkPageCeiling(doc.NumPages(), e.config.MaxPages); err != nil {
		return nil, err
	}

	operationURL, err := e.submit(ctx, raw)
	if err != nil {
		return nil, err
	}

	result, err := e.poll(ctx, operationURL)
	if err != nil {
		return nil, err
	}

	pages := make([]models.Page, 0, len(result.AnalyzeResult.Pages))
	for i, page := range result.AnalyzeResult.Pages {
		pageNum := page.PageNumber
		if pageNum == 0 {
			pageNum = i + 1
		}

		lines := make([]string, 0, len(page.Lines))
		for _, line := range page.Lines {
			lines = append(lines, line.Content)
		}
		text := strings.Join(lines, "\n")

		if e.config.IncludeImages {
			text = appendImageMarks(text, name, pageNum, doc.ImageCount(pageNum))
		}

		pages = append(pages, models.Page{Number: pageNum, Text: text})
	}

	e.log.Info("document analyzed",
		zap.String("document", name),
		zap.Int("pages", len(pages)))

	return pages, nil
}

func (e *AnalysisExtractor) submit(ctx context.Context, raw []byte) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.config.AnalysisURL, bytes.NewReader(raw))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/pdf")
	if e.config.AnalysisKey != "" {
		req.Header.Set("Ocp-Apim-Subscription-Key", e.config.AnalysisKey)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("analysis submit failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("analysis submit failed: status %d", resp.StatusCode)
	}

	operationURL := resp.Header.Get("Operation-Location")
	if operationURL == "" {
		return "", fmt.Errorf("analysis submit failed: missing Operation-Location header")
	}
	return operationURL, nil
}

func (e *AnalysisExtractor) poll(ctx context.Context, operationURL string) (*analysisResult, error) {
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, operationURL, nil)
		if err != nil {
			return nil, err
		}
		if e.config.AnalysisKey != "" {
			req.Header.Set("Ocp-Apim-Subscription-Key", e.config.AnalysisKey)
		}

		resp, err := e.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("analysis poll failed: %w", err)
		}

		var result analysisResult
		err = json.NewDecoder(resp.Body).Decode(&result)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("analysis poll failed: %w", err)
		}

		switch result.Status {
		case "succeeded":
			return &result, nil
		case "failed":
			return nil, fmt.Errorf("analysis operation failed")
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.pollInterval):
		}
	}
}
