package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"google.golang.org/genai"

	"veilleur/internal/resilience"
)

const (
	// DefaultModel serves completions when the config names none.
	DefaultModel = "gemini-2.5-flash"
	// DefaultEmbeddingModel generates article and synthesis vectors.
	DefaultEmbeddingModel = "text-embedding-004"
	// EmbeddingDimensions is the output dimension requested from the
	// embedding model, matched to the vector store collections.
	EmbeddingDimensions = int32(768)
)

// GeminiConfig configures the Gemini backend.
type GeminiConfig struct {
	APIKey         string
	Model          string        // Default DefaultModel
	EmbeddingModel string        // Default DefaultEmbeddingModel
	Timeout        time.Duration // Per-call HTTP timeout, default 120s
}

// GeminiClient implements Client on the Gemini API.
type GeminiClient struct {
	modelName      string
	embeddingModel string
	gClient        *genai.Client
}

// NewGeminiClient creates the Gemini backend. The API key is required here:
// keyless runs use the simulation client instead.
func NewGeminiClient(ctx context.Context, cfg GeminiConfig) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required, set VEILLEUR_GEMINI_API_KEY or ai.gemini.api_key in the config file")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = DefaultEmbeddingModel
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 120 * time.Second
	}

	gClient, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: cfg.Timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &GeminiClient{
		modelName:      cfg.Model,
		embeddingModel: cfg.EmbeddingModel,
		gClient:        gClient,
	}, nil
}

// ModelName returns the completion model name.
func (c *GeminiClient) ModelName() string { return c.modelName }

// Complete sends the conversation to Gemini. System messages become the
// system instruction, assistant turns map to the "model" role.
func (c *GeminiClient) Complete(ctx context.Context, messages []Message, opts Options) (Completion, error) {
	if err := ValidateMessages(messages); err != nil {
		return Completion{}, err
	}

	contents, system := buildContents(messages)

	config := &genai.GenerateContentConfig{}
	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}
	if opts.MaxTokens > 0 {
		config.MaxOutputTokens = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		config.Temperature = genai.Ptr(opts.Temperature)
	}
	if opts.JSON {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := c.gClient.Models.GenerateContent(ctx, c.modelName, contents, config)
	if err != nil {
		return Completion{}, classifyGeminiError(err)
	}

	text := resp.Text()
	if text == "" {
		return Completion{}, ErrEmptyResponse
	}

	out := Completion{Content: text, Model: c.modelName}
	if resp.UsageMetadata != nil {
		out.Usage = Usage{
			PromptTokens:     int(resp.UsageMetadata.PromptTokenCount),
			CompletionTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	} else {
		out.Usage = Usage{
			PromptTokens:     EstimateTokens(flattenMessages(messages), ""),
			CompletionTokens: EstimateTokens("", text),
		}
	}
	return out, nil
}

// Embed generates one 768-dimension vector per text in a single API call.
func (c *GeminiClient) Embed(ctx context.Context, texts []string) ([][]float64, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	contents := make([]*genai.Content, 0, len(texts))
	for _, text := range texts {
		contents = append(contents, &genai.Content{
			Parts: []*genai.Part{{Text: text}},
			Role:  "user",
		})
	}

	dims := EmbeddingDimensions
	config := &genai.EmbedContentConfig{OutputDimensionality: &dims}

	resp, err := c.gClient.Models.EmbedContent(ctx, c.embeddingModel, contents, config)
	if err != nil {
		return nil, classifyGeminiError(err)
	}
	if resp == nil || len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d texts, got %d vectors", len(texts), embeddingCount(resp))
	}

	vectors := make([][]float64, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, fmt.Errorf("no embedding values returned for text %d", i)
		}
		vec := make([]float64, len(emb.Values))
		for j, v := range emb.Values {
			vec[j] = float64(v)
		}
		vectors[i] = vec
	}
	return vectors, nil
}

func embeddingCount(resp *genai.EmbedContentResponse) int {
	if resp == nil {
		return 0
	}
	return len(resp.Embeddings)
}

// buildContents maps the portable messages onto Gemini contents, pulling
// system messages out into a single instruction string.
func buildContents(messages []Message) ([]*genai.Content, string) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			contents = append(contents, &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
				Role:  "model",
			})
		default:
			contents = append(contents, &genai.Content{
				Parts: []*genai.Part{{Text: m.Content}},
				Role:  "user",
			})
		}
	}
	// Gemini rejects empty content lists, so a system-only request becomes
	// a user turn.
	if len(contents) == 0 && len(system) > 0 {
		contents = append(contents, &genai.Content{
			Parts: []*genai.Part{{Text: strings.Join(system, "\n\n")}},
			Role:  "user",
		})
		return contents, ""
	}
	return contents, strings.Join(system, "\n\n")
}

func flattenMessages(messages []Message) string {
	var b strings.Builder
	for _, m := range messages {
		b.WriteString(m.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// classifyGeminiError maps SDK errors onto the shared retry policy's error
// type so rate limits and server errors retry while bad requests do not.
func classifyGeminiError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return &resilience.BackendError{Backend: "gemini", StatusCode: apiErr.Code, Err: err}
	}
	return &resilience.BackendError{Backend: "gemini", Err: err}
}
