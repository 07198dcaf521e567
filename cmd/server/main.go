package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/xhad/folio/pkg/config"
	"github.com/xhad/folio/pkg/llm"
	"github.com/xhad/folio/pkg/logger"
	"github.com/xhad/folio/pkg/ocr"
	"github.com/xhad/folio/pkg/pipeline"
	"github.com/xhad/folio/pkg/store"
	"github.com/xhad/folio/server"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to config file")
	flag.Parse()

	if err := run(configPath); err != nil {
		log.Fatal(err)
	}
}

func run(configPath string) error {
	_ = godotenv.Load()

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %v", err)
	}
	if errs := cfg.Validate(); len(errs) > 0 {
		for _, e := range errs {
			fmt.Fprintln(os.Stderr, e.Error())
		}
		return fmt.Errorf("invalid configuration (%d errors)", len(errs))
	}

	zlog, err := logger.New()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %v", err)
	}
	defer zlog.Sync()

	embedder, err := llm.NewEmbedderWithConfig(llm.EmbedderConfig{
		Model:     cfg.LLM.EmbeddingModel,
		BaseURL:   cfg.LLM.BaseURL,
		APIKey:    cfg.LLM.APIKey,
		Dimension: cfg.LLM.EmbeddingDim,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize embedder: %v", err)
	}

	chatEngine, err := llm.NewWithConfig(llm.ChatConfig{
		Model:   cfg.LLM.Model,
		BaseURL: cfg.LLM.BaseURL,
		APIKey:  cfg.LLM.APIKey,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize chat engine: %v", err)
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

	answerer := pipeline.NewAnswerer(pipeline.AnswererConfig{
		TopK:        cfg.Retrieval.TopK,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
	}, embedder, vectorStore, chatEngine, zlog)

	srv := server.New(server.Config{Port: cfg.Server.Port}, answerer, extractor, vectorStore, zlog)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	zlog.Info("starting server", zap.Int("port", cfg.Server.Port), zap.String("ocr_backend", cfg.OCR.Backend))
	return srv.ListenAndServe(ctx)
}
