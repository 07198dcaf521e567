package llm

import (
	"context"
	"fmt"

	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"
	"github.com/xhad/folio/internal/models"
)

// ChatConfig represents the configuration for a generation engine.
type ChatConfig struct {
	Model   string
	BaseURL string // OpenAI-compatible endpoint
	APIKey  string
}

// ChatEngine generates text from an ordered message list. Messages may carry
// a JPEG payload, which is forwarded to the model as an image part for
// vision-mode OCR. The engine is stateless after construction and safe for
// concurrent use.
type ChatEngine struct {
	config ChatConfig
	llm    *openai.LLM
}

// NewWithConfig creates a new ChatEngine with the given configuration.
func NewWithConfig(config ChatConfig) (*ChatEngine, error) {
	if config.Model == "" {
		config.Model = "gpt-4o"
	}
	if config.APIKey == "" {
		return nil, fmt.Errorf("generation provider API key is required")
	}

	opts := []openai.Option{
		openai.WithModel(config.Model),
		openai.WithToken(config.APIKey),
	}
	if config.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(config.BaseURL))
	}

	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM: %w", err)
	}

	return &ChatEngine{
		config: config,
		llm:    llm,
	}, nil
}

// Generate produces a completion for the given conversation.
func (ce *ChatEngine) Generate(ctx context.Context, messages []models.Message, temperature float64, maxTokens int) (string, error) {
	content := make([]llms.MessageContent, 0, len(messages))
	for _, msg := range messages {
		mc := llms.MessageContent{Role: chatRole(msg.Role)}
		if msg.Content != "" {
			mc.Parts = append(mc.Parts, llms.TextPart(msg.Content))
		}
		if len(msg.ImageJPEG) > 0 {
			mc.Parts = append(mc.Parts, llms.BinaryPart("image/jpeg", msg.ImageJPEG))
		}
		content = append(content, mc)
	}

	response, err := ce.llm.GenerateContent(ctx, content,
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("chat error: %w", err)
	}
	if len(response.Choices) == 0 {
		return "", fmt.Errorf("no response from LLM")
	}

	return response.Choices[0].Content, nil
}

func chatRole(role string) llms.ChatMessageType {
	switch role {
	case models.RoleSystem:
		return llms.ChatMessageTypeSystem
	case models.RoleAssistant:
		return llms.ChatMessageTypeAI
	default:
		return llms.ChatMessageTypeHuman
	}
}
