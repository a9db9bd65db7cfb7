// Package llm provides the external model clients used by the vision
// acquisition method and the AI enrichment stages. Every call is billable;
// callers gate on the cost tracker before invoking.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/common"
	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
)

const (
	defaultClaudeModel = "claude-sonnet-4-20250514"
	defaultMaxTokens   = 8192
	defaultTimeout     = 2 * time.Minute
)

// ClaudeClient implements ModelClient over the Anthropic API.
type ClaudeClient struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	timeout   time.Duration
	logger    arbor.ILogger
}

// NewClaudeClient builds a Claude-backed model client from config.
func NewClaudeClient(cfg common.LLMConfig, logger arbor.ILogger) (*ClaudeClient, error) {
	if cfg.APIKey == "" {
		return nil, models.ValidationError("Anthropic API key is required (set VENARI_LLM_API_KEY or llm.api_key)")
	}

	model := cfg.Model
	if model == "" {
		model = defaultClaudeModel
	}
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	timeout := common.ParseDurationOr(cfg.Timeout, defaultTimeout)

	client := anthropic.NewClient(option.WithAPIKey(cfg.APIKey))

	logger.Debug().
		Str("model", model).
		Dur("timeout", timeout).
		Int("max_tokens", maxTokens).
		Msg("Claude model client initialized")

	return &ClaudeClient{
		client:    client,
		model:     model,
		maxTokens: int64(maxTokens),
		timeout:   timeout,
		logger:    logger,
	}, nil
}

// ModelName returns the configured model identifier.
func (c *ClaudeClient) ModelName() string { return c.model }

// VisionAnalyze sends a PNG screenshot plus prompt to the vision model.
func (c *ClaudeClient) VisionAnalyze(ctx context.Context, image []byte, prompt string) (*interfaces.ModelResponse, error) {
	if len(image) == 0 {
		return nil, models.ValidationError("vision analysis requires image data")
	}

	encoded := base64.StdEncoding.EncodeToString(image)
	content := anthropic.NewUserMessage(
		anthropic.NewImageBlockBase64("image/png", encoded),
		anthropic.NewTextBlock(prompt),
	)
	return c.complete(ctx, []anthropic.MessageParam{content})
}

// TextAnalyze sends text plus prompt to the model.
func (c *ClaudeClient) TextAnalyze(ctx context.Context, text, prompt string) (*interfaces.ModelResponse, error) {
	content := anthropic.NewUserMessage(
		anthropic.NewTextBlock(prompt + "\n\n" + text),
	)
	return c.complete(ctx, []anthropic.MessageParam{content})
}

func (c *ClaudeClient) complete(ctx context.Context, messages []anthropic.MessageParam) (*interfaces.ModelResponse, error) {
	timeoutCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	start := time.Now()
	resp, err := c.client.Messages.New(timeoutCtx, anthropic.MessageNewParams{
		Model:     anthropic.Model(c.model),
		MaxTokens: c.maxTokens,
		Messages:  messages,
	})
	if err != nil {
		return nil, classifyClaudeError(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	if text.Len() == 0 {
		return nil, fmt.Errorf("%w: model returned no text content", models.ErrParse)
	}

	c.logger.Debug().
		Str("model", c.model).
		Int64("tokens_in", resp.Usage.InputTokens).
		Int64("tokens_out", resp.Usage.OutputTokens).
		Dur("duration", time.Since(start)).
		Msg("Claude completion finished")

	return &interfaces.ModelResponse{
		Text:      text.String(),
		TokensIn:  int(resp.Usage.InputTokens),
		TokensOut: int(resp.Usage.OutputTokens),
		Model:     c.model,
	}, nil
}

func classifyClaudeError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 429:
			return fmt.Errorf("%w: Claude API throttled: %v", models.ErrRateLimit, err)
		case apiErr.StatusCode >= 500:
			return fmt.Errorf("%w: Claude API unavailable: %v", models.ErrNetwork, err)
		default:
			return fmt.Errorf("Claude API call failed: %w", err)
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: Claude API call timed out: %v", models.ErrTimeout, err)
	}
	return fmt.Errorf("%w: Claude API call failed: %v", models.ErrNetwork, err)
}
