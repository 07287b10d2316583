package llm

import (
	"fmt"
	"strings"
	"time"

	contractx "github.com/tanpawarit/Chative-Shopping-Assistant/agent/contract"
	openrouterx "github.com/tanpawarit/Chative-Shopping-Assistant/pkg/openrouter"
)

type Config struct {
	BaseURL            string        `envconfig:"BASE_URL" split_words:"true" default:"https://openrouter.ai/api/v1"`
	APIKey             string        `envconfig:"API_KEY" split_words:"true" required:"true"`
	Model              string        `envconfig:"MODEL" split_words:"true" required:"true"`
	MaxCompletionToken int           `envconfig:"MAX_COMPLETION_TOKEN" split_words:"true" default:"2000"`
	Temperature        float32       `envconfig:"TEMPERATURE" split_words:"true" default:"0"`
	Timeout            time.Duration `envconfig:"TIMEOUT" split_words:"true" default:"30s"`
	SiteURL            string        `envconfig:"SITE_URL" split_words:"true"`
	SiteName           string        `envconfig:"SITE_NAME" split_words:"true"`

	// Per-attempt deadline and retry count for one reasoning step.
	ReasoningTimeout time.Duration `envconfig:"REASONING_TIMEOUT" split_words:"true" default:"30s"`
	ReasoningRetries int           `envconfig:"REASONING_RETRIES" split_words:"true" default:"2"`

	// Embeddings may come from a different OpenAI-compatible provider than chat.
	EmbeddingModel   string `envconfig:"EMBEDDING_MODEL" split_words:"true" default:"text-embedding-3-small"`
	EmbeddingBaseURL string `envconfig:"EMBEDDING_BASE_URL" split_words:"true" default:"https://api.openai.com/v1"`
	EmbeddingAPIKey  string `envconfig:"EMBEDDING_API_KEY" split_words:"true"`
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.APIKey) == "" {
		return fmt.Errorf("%w: llm api key is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(c.Model) == "" {
		return fmt.Errorf("%w: llm model is required", contractx.ErrValidation)
	}
	if c.ReasoningRetries < 0 {
		return fmt.Errorf("%w: reasoning retries must be >= 0", contractx.ErrValidation)
	}
	return nil
}

// ChatModel is the OpenRouter config for the reasoning engine.
func (c Config) ChatModel() openrouterx.Config {
	maxCompletionToken := c.MaxCompletionToken
	return openrouterx.Config{
		BaseURL:            strings.TrimSpace(c.BaseURL),
		APIKey:             strings.TrimSpace(c.APIKey),
		Model:              strings.TrimSpace(c.Model),
		MaxCompletionToken: &maxCompletionToken,
		Temperature:        c.Temperature,
		Timeout:            c.Timeout,
		SiteURL:            strings.TrimSpace(c.SiteURL),
		SiteName:           strings.TrimSpace(c.SiteName),
	}
}

// Embedding is the client config for the embeddings endpoint. The chat API
// key is reused when no dedicated embedding key is set.
func (c Config) Embedding() openrouterx.Config {
	key := strings.TrimSpace(c.EmbeddingAPIKey)
	if key == "" {
		key = strings.TrimSpace(c.APIKey)
	}
	return openrouterx.Config{
		BaseURL: strings.TrimSpace(c.EmbeddingBaseURL),
		APIKey:  key,
		Model:   strings.TrimSpace(c.EmbeddingModel),
		Timeout: c.Timeout,
	}
}

func (c Config) ReasoningAttempts() int {
	if c.ReasoningRetries < 0 {
		return 1
	}
	return c.ReasoningRetries + 1
}
