package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"
	"github.com/schollz/progressbar/v3"

	"github.com/xhad/folio/internal/models"
	"github.com/xhad/folio/pkg/config"
	"github.com/xhad/folio/pkg/llm"
	"github.com/xhad/folio/pkg/logger"
	"github.com/xhad/folio/pkg/ocr"
	"github.com/xhad/folio/pkg/pipeline"
	"github.com/xhad/folio/pkg/processor"
	"github.com/xhad/folio/pkg/store"
)

type options struct {
	configPath string
	dir        string
	reportPath string
	workers    int
	clear      bool
	stats      bool
	force      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to config file")
	flag.StringVar(&opts.dir, "dir", "./pdfs", "Directory of PDF files to ingest")
	flag.StringVar(&opts.reportPath, "report", "ingest_report.json", "Where to write the JSON ingestion report")
	flag.IntVar(&opts.workers, "workers", 0, "Number of concurrent workers (0 = config value)")
	flag.BoolVar(&opts.clear, "clear", false, "Delete all stored vectors before ingesting")
	flag.BoolVar(&opts.stats, "stats", false, "Print store stats and exit")
	flag.BoolVar(&opts.force, "force", false, "Re-ingest documents already present in the store")
	flag.Parse()

	if err := run(opts); err != nil {
		log.Fatal(err)
	}
}

func run(opts options) error {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(opts.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			color.Red(e.Error())
		}
		return fmt.Errorf("invalid configuration (%d errors)", len(errs))
	}

	zlog, err := logger.New()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	vectorStore, err := store.NewWithConfig(store.VectorStoreConfig{
		ConnString: cfg.Database.URL,
		TableName:  cfg.Database.TableName,
		VectorDim:  cfg.Database.VectorDim,
		BatchSize:  cfg.Database.BatchSize,
	}, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize vector store: %v", err)
	}
	defer vectorStore.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if opts.stats {
		return printStats(ctx, vectorStore)
	}

	if opts.clear {
		if err := vectorStore.DeleteAll(ctx); err != nil {
			return fmt.Errorf("failed to clear store: %v", err)
		}
		color.Yellow("Cleared all stored vectors")
	}

	sources, skipped, err := collectSources(ctx, opts, vectorStore)
	if err != nil {
		return err
	}
	if skipped > 0 {
		color.Yellow("Skipping %d already-ingested documents (use -force to re-ingest)", skipped)
	}
	if len(sources) == 0 {
		color.Green("Nothing to ingest")
		return nil
	}

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     cfg.LLM.EmbeddingModel,
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		Dimension: cfg.LLM.EmbeddingDim,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	visionEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:   cfg.LLM.VisionModel,
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize vision engine: %v", err)
	}

	extractor, err := ocr.New(ocr.Config{
		Backend:       cfg.OCR.Backend,
		DPI:           cfg.OCR.DPI,
		JPEGQuality:   cfg.OCR.JPEGQuality,
		MaxPages:      cfg.OCR.MaxPages,
		IncludeImages: cfg.OCR.IncludeImages,
		AnalysisURL:   cfg.OCR.AnalysisURL,
		AnalysisKey:   cfg.OCR.AnalysisKey,
	}, visionEngine, zlog)
	if err != nil {
		return fmt.Errorf("failed to initialize ocr: %v", err)
	}

	workers := cfg.Ingest.Workers
	if opts.workers > 0 {
		workers = opts.workers
	}
	color.Cyan("\nIngesting %d documents with %d workers", len(sources), workers)
	bar := getProgressBar(len(sources), " Ingesting documents")

	var done int32
	ingestor := pipeline.NewIngestor(pipeline.IngestorConfig{
		Workers:   workers,
		RateLimit: cfg.Ingest.RateLimit,
		OnReport: func(models.Report) {
			bar.Set(int(atomic.AddInt32(&done, 1)))
		},
	}, extractor, processor.NewWithConfig(processor.ProcessorConfig{
		ChunkSize:    cfg.Processor.ChunkSize,
		ChunkOverlap: cfg.Processor.ChunkOverlap,
	}), embedder, vectorStore, zlog)

	start := time.Now()
	reports := ingestor.IngestAll(ctx, sources)
	bar.Finish()
	fmt.Println()

	summarize(reports, time.Since(start))
	if err := writeReport(opts.reportPath, reports); err != nil {
		color.Red("Failed to write report: %v", err)
	} else {
		color.Blue("Report written to %s", opts.reportPath)
	}
	return nil
}

func collectSources(ctx context.Context, opts options, vectorStore *store.VectorStore) ([]pipeline.Source, int, error) {
	entries, err := os.ReadDir(opts.dir)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read directory %s: %v", opts.dir, err)
	}

	ingested := map[string]bool{}
	if !opts.force {
		names, err := vectorStore.ListDocuments(ctx)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to list ingested documents: %v", err)
		}
		for _, name := range names {
			ingested[name] = true
		}
	}

	var sources []pipeline.Source
	skipped := 0
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(strings.ToLower(entry.Name()), ".pdf") {
			continue
		}
		if ingested[entry.Name()] {
			skipped++
			continue
		}
		path := filepath.Join(opts.dir, entry.Name())
		sources = append(sources, pipeline.Source{
			Name: entry.Name(),
			Load: func() ([]byte, error) { return os.ReadFile(path) },
		})
	}
	sort.Slice(sources, func(i, j int) bool { return sources[i].Name < sources[j].Name })
	return sources, skipped, nil
}

func printStats(ctx context.Context, vectorStore *store.VectorStore) error {
	stats, err := vectorStore.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to read stats: %v", err)
	}
	names, err := vectorStore.ListDocuments(ctx)
	if err != nil {
		return fmt.Errorf("failed to list documents: %v", err)
	}

	color.Cyan("\nVector store stats")
	fmt.Printf("  Vectors:    %d\n", stats.Vectors)
	fmt.Printf("  Dimension:  %d\n", stats.Dimension)
	fmt.Printf("  Documents:  %d\n", len(names))
	for _, name := range names {
		fmt.Printf("    - %s\n", name)
	}
	return nil
}

func summarize(reports []models.Report, elapsed time.Duration) {
	var success, skipped, failed, chunks, vectors int
	for _, r := range reports {
		switch r.Status {
		case models.StatusSuccess:
			success++
		case models.StatusSkipped:
			skipped++
		default:
			failed++
		}
		chunks += r.Chunks
		vectors += r.Vectors
	}

	color.Green("✓ Ingested %d documents (%d chunks, %d vectors) in %s", success, chunks, vectors, elapsed.Round(time.Second))
	if skipped > 0 {
		color.Yellow("  %d documents produced no text and were skipped", skipped)
	}
	if failed > 0 {
		color.Red("  %d documents failed:", failed)
		for _, r := range reports {
			if r.Status == models.StatusFailed {
				color.Red("    - %s: %s", r.Document, r.Error)
			}
		}
	}
}

func writeReport(path string, reports []models.Report) error {
	data, err := json.MarshalIndent(reports, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func getProgressBar(total int, description string) *progressbar.ProgressBar {
	return progressbar.NewOptions(total,
		progressbar.OptionSetDescription(color.BlueString(description)),
		progressbar.OptionSetItsString("docs"),
		progressbar.OptionShowCount(),
		progressbar.OptionShowIts(),
		progressbar.OptionSetTheme(progressbar.Theme{
			Saucer:        "█",
			SaucerHead:    "█",
			SaucerPadding: "░",
			BarStart:      "[",
			BarEnd:        "]",
		}),
		progressbar.OptionEnableColorCodes(true),
		progressbar.OptionSetWidth(40),
		progressbar.OptionShowElapsedTimeOnFinish(),
		progressbar.OptionSetPredictTime(true),
		progressbar.OptionFullWidth(),
		progressbar.OptionSetRenderBlankState(true),
	)
}
