package llm

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/genai"

	"pulse/internal/config"
)

const (
	// DefaultModel is the default Gemini model for persona generation
	DefaultModel = "gemini-flash-lite-latest"
	// DefaultEmbeddingModel is the default model for review embeddings
	DefaultEmbeddingModel = "gemini-embedding-001"
	// DefaultEmbeddingDimensions is the output dimension for embeddings (Matryoshka)
	DefaultEmbeddingDimensions = int32(768)
	// DefaultTimeout bounds a single model call
	DefaultTimeout = 60 * time.Second
)

// Client represents a client for interacting with Gemini
type Client struct {
	apiKey         string
	modelName      string
	embeddingModel string
	dimensions     int32
	timeout        time.Duration
	gClient        *genai.Client
}

// ClientConfig configures a Client. Empty fields fall back to defaults.
type ClientConfig struct {
	APIKey              string
	Model               string
	EmbeddingModel      string
	EmbeddingDimensions int32
	Timeout             time.Duration
}

// TextGenerationOptions contains options for text generation
type TextGenerationOptions struct {
	MaxTokens      int32         // Maximum number of tokens to generate
	Temperature    float32       // Temperature for randomness (0.0 to 1.0)
	Model          string        // Model to use (optional, defaults to client's model)
	ResponseSchema *genai.Schema // Optional schema for structured output
}

// NewClient creates a new Gemini client.
// The API key is taken from the config, then GEMINI_API_KEY (or alternatives),
// then the gemini.api_key viper setting.
func NewClient(cfg ClientConfig) (*Client, error) {
	apiKey := cfg.APIKey
	for _, env := range []string{"GEMINI_API_KEY", "GOOGLE_GEMINI_API_KEY", "GOOGLE_AI_API_KEY"} {
		if apiKey != "" {
			break
		}
		apiKey = os.Getenv(env)
	}
	if apiKey == "" {
		apiKey = viper.GetString("ai.gemini.api_key")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required. Set GEMINI_API_KEY environment variable or ai.gemini.api_key in config file")
	}
	if !config.IsValidAPIKey(apiKey) {
		return nil, fmt.Errorf("gemini API key %q is a placeholder. Set a real key in GEMINI_API_KEY or ai.gemini.api_key", apiKey)
	}

	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.EmbeddingDimensions <= 0 {
		cfg.EmbeddingDimensions = DefaultEmbeddingDimensions
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}

	gClient, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &Client{
		apiKey:         apiKey,
		modelName:      cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		dimensions:     cfg.EmbeddingDimensions,
		timeout:        cfg.Timeout,
		gClient:        gClient,
	}, nil
}

// GenerateText generates text using the LLM with specified options
func (c *Client) GenerateText(ctx context.Context, prompt string, options TextGenerationOptions) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("prompt cannot be empty")
	}

	modelName := c.modelName
	if options.Model != "" {
		modelName = options.Model
	}

	contents := []*genai.Content{{
		Parts: []*genai.Part{{Text: prompt}},
		Role:  "user",
	}}

	var genConfig *genai.GenerateContentConfig
	if options.MaxTokens > 0 || options.Temperature > 0 || options.ResponseSchema != nil {
		genConfig = &genai.GenerateContentConfig{}
		if options.MaxTokens > 0 {
			genConfig.MaxOutputTokens = options.MaxTokens
		}
		if options.Temperature > 0 {
			genConfig.Temperature = genai.Ptr(options.Temperature)
		}
		if options.ResponseSchema != nil {
			genConfig.ResponseMIMEType = "application/json"
			genConfig.ResponseSchema = options.ResponseSchema
		}
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.gClient.Models.GenerateContent(ctx, modelName, contents, genConfig)
	if err != nil {
		return "", fmt.Errorf("failed to generate text: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("empty response from LLM")
	}
	return text, nil
}

// GenerateEmbeddings embeds each text with the configured embedding model.
// Vectors are returned in input order.
func (c *Client) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = &genai.Content{
			Parts: []*genai.Part{{Text: text}},
			Role:  "user",
		}
	}

	dims := c.dimensions
	embedConfig := &genai.EmbedContentConfig{
		OutputDimensionality: &dims,
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.gClient.Models.EmbedContent(ctx, c.embeddingModel, contents, embedConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings from API", len(texts))
	}

	out := make([][]float64, len(resp.Embeddings))
	for i, emb := range resp.Embeddings {
		if emb == nil {
			return nil, fmt.Errorf("missing embedding for text %d", i)
		}
		out[i] = toFloat64(emb.Values)
	}
	return out, nil
}

func toFloat64(values []float32) []float64 {
	out := make([]float64, len(values))
	for i, v := range values {
		out[i] = float64(v)
	}
	return out
}

// Close releases client resources
func (c *Client) Close() {
	// The genai client holds no resources that need explicit release
}

// ModelName returns the generation model in use
func (c *Client) ModelName() string {
	return c.modelName
}
