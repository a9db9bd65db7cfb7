package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ternarybob/arbor"
	"google.golang.org/genai"

	"github.com/ternarybob/venari/internal/common"
	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiClient implements ModelClient over the Google Gemini API.
type GeminiClient struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  arbor.ILogger
}

// NewGeminiClient builds a Gemini-backed model client from config.
func NewGeminiClient(ctx context.Context, cfg common.LLMConfig, logger arbor.ILogger) (*GeminiClient, error) {
	if cfg.APIKey == "" {
		return nil, models.ValidationError("Gemini API key is required (set VENARI_LLM_API_KEY or llm.api_key)")
	}

	model := cfg.Model
	if model == "" {
		model = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Gemini client: %w", err)
	}

	logger.Debug().Str("model", model).Msg("Gemini model client initialized")

	return &GeminiClient{
		client:  client,
		model:   model,
		timeout: common.ParseDurationOr(cfg.Timeout, defaultTimeout),
		logger:  logger,
	}, nil
}

// ModelName returns the configured model identifier.
func (c *GeminiClient) ModelName() string { return c.model }

// VisionAnalyze sends a PNG screenshot plus prompt to the vision model.
func (c *GeminiClient) VisionAnalyze(ctx context.Context, image []byte, prompt string) (*interfaces.ModelResponse, error) {
	if len(image) == 0 {
		return nil, models.ValidationError("vision analysis requires image data")
	}

	content := &genai.Content{
		Role: genai.RoleUser,
		Parts: []*genai.Part{
			genai.NewPartFromBytes(image, "image/png"),
			genai.NewPartFromText(prompt),
		},
	}
	return c.generate(ctx, []*genai.Content{content})
}

// TextAnalyze sends text plus prompt to the model.
func (c *GeminiClient) TextAnalyze(ctx context.Context, text, prompt string) (*interfaces.ModelResponse, error) {
	content := genai.NewContentFromText(prompt+"\n\n"+text, genai.RoleUser)
	return c.generate(ctx, []*genai.Content{content})
}

func (c *GeminiClient) generate(ctx context.Context, contents []*genai.Content) (*interfaces.ModelResponse, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Models.GenerateContent(timeoutCtx, c.model, contents, nil)
	if err != nil {
		if timeoutCtx.Err() != nil {
			return nil, fmt.Errorf("%w: Gemini API call timed out: %v", models.ErrTimeout, err)
		}
		return nil, fmt.Errorf("%w: Gemini API call failed: %v", models.ErrNetwork, err)
	}

	var text strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part.Text != "" {
				text.WriteString(part.Text)
			}
		}
		if text.Len() > 0 {
			break
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("%w: model returned no text content", models.ErrParse)
	}

	response := &interfaces.ModelResponse{
		Text:  text.String(),
		Model: c.model,
	}
	if resp.UsageMetadata != nil {
		response.TokensIn = int(resp.UsageMetadata.PromptTokenCount)
		response.TokensOut = int(resp.UsageMetadata.CandidatesTokenCount)
	}

	c.logger.Debug().
		Str("model", c.model).
		Int("tokens_in", response.TokensIn).
		Int("tokens_out", response.TokensOut).
		Dur("duration", time.Since(start)).
		Msg("Gemini completion finished")

	return response, nil
}
