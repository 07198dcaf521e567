package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLM struct {
		BaseURL        string  `yaml:"base_url"`
		APIKey         string  `yaml:"api_key"`
		Model          string  `yaml:"model"`
		VisionModel    string  `yaml:"vision_model"`
		EmbeddingModel string  `yaml:"embedding_model"`
		EmbeddingDim   int     `yaml:"embedding_dim"`
		MaxTokens      int     `yaml:"max_tokens"`
		Temperature    float64 `yaml:"temperature"`
	} `yaml:"llm"`

	OCR struct {
		Backend         string `yaml:"backend"` // vision or analysis
		DPI             int    `yaml:"dpi"`
		JPEGQuality     int    `yaml:"jpeg_quality"`
		MaxPages        int    `yaml:"max_pages"` // 0 = no ceiling
		IncludeImages   bool   `yaml:"include_images"`
		AnalysisURL     string `yaml:"analysis_url"`
		AnalysisKey     string `yaml:"analysis_key"`
	} `yaml:"ocr"`

	Database struct {
		URL       string `yaml:"url"`
		TableName string `yaml:"table_name"`
		VectorDim int    `yaml:"vector_dim"`
		BatchSize int    `yaml:"batch_size"`
	} `yaml:"database"`

	Processor struct {
		ChunkSize    int `yaml:"chunk_size"`
		ChunkOverlap int `yaml:"chunk_overlap"`
	} `yaml:"processor"`

	Retrieval struct {
		TopK int `yaml:"top_k"`
	} `yaml:"retrieval"`

	Server struct {
		Port int `yaml:"port"`
	} `yaml:"server"`

	Ingest struct {
		Workers   int     `yaml:"workers"`
		RateLimit float64 `yaml:"rate_limit"` // provider calls per second
	} `yaml:"ingest"`
}

func LoadConfig(path string) (*Config, error) {
	// If no path provided, try default locations
	if path == "" {
		locations := []string{
			"config.yaml",
			"config.yml",
			filepath.Join(os.Getenv("HOME"), ".config/folio/config.yaml"),
			"/etc/folio/config.yaml",
		}

		for _, loc := range locations {
			if _, err := os.Stat(loc); err == nil {
				path = loc
				break
			}
		}
	}

	if path == "" {
		return getDefaultConfig()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %v", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("error parsing config file: %v", err)
	}

	mergeWithEnv(&config)
	applyDefaults(&config)

	return &config, nil
}

func getDefaultConfig() (*Config, error) {
	config := &Config{}
	mergeWithEnv(config)
	applyDefaults(config)
	return config, nil
}

func applyDefaults(config *Config) {
	if config.LLM.Model == "" {
		config.LLM.Model = "gpt-4o"
	}
	if config.LLM.VisionModel == "" {
		config.LLM.VisionModel = config.LLM.Model
	}
	if config.LLM.EmbeddingModel == "" {
		config.LLM.EmbeddingModel = "text-embedding-3-small"
	}
	if config.LLM.EmbeddingDim == 0 {
		config.LLM.EmbeddingDim = 1024
	}
	if config.LLM.MaxTokens == 0 {
		config.LLM.MaxTokens = 1000
	}
	if config.LLM.Temperature == 0 {
		config.LLM.Temperature = 0.2
	}

	if config.OCR.Backend == "" {
		config.OCR.Backend = "vision"
	}
	if config.OCR.DPI == 0 {
		config.OCR.DPI = 100
	}
	if config.OCR.JPEGQuality == 0 {
		config.OCR.JPEGQuality = 85
	}

	if config.Database.TableName == "" {
		config.Database.TableName = "documents"
	}
	if config.Database.VectorDim == 0 {
		config.Database.VectorDim = config.LLM.EmbeddingDim
	}
	if config.Database.BatchSize == 0 {
		config.Database.BatchSize = 100
	}

	if config.Processor.ChunkSize == 0 {
		config.Processor.ChunkSize = 600
	}
	if config.Processor.ChunkOverlap == 0 {
		config.Processor.ChunkOverlap = 100
	}

	if config.Retrieval.TopK == 0 {
		config.Retrieval.TopK = 3
	}

	if config.Server.Port == 0 {
		config.Server.Port = 8080
	}

	if config.Ingest.Workers == 0 {
		config.Ingest.Workers = 4
	}
	if config.Ingest.RateLimit == 0 {
		config.Ingest.RateLimit = 2.0
	}
}

func mergeWithEnv(config *Config) {
	if baseURL := os.Getenv("LLM_BASE_URL"); baseURL != "" {
		config.LLM.BaseURL = baseURL
	}
	if apiKey := os.Getenv("LLM_API_KEY"); apiKey != "" {
		config.LLM.APIKey = apiKey
	} else if apiKey := os.Getenv("OPENAI_API_KEY"); apiKey != "" && config.LLM.APIKey == "" {
		config.LLM.APIKey = apiKey
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		config.Database.URL = dbURL
	}
	if url := os.Getenv("ANALYSIS_OCR_URL"); url != "" {
		config.OCR.AnalysisURL = url
	}
	if key := os.Getenv("ANALYSIS_OCR_KEY"); key != "" {
		config.OCR.AnalysisKey = key
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
}
