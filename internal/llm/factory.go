package llm

import (
	"context"

	"github.com/ternarybob/arbor"

	"github.com/ternarybob/venari/internal/common"
	"github.com/ternarybob/venari/internal/interfaces"
	"github.com/ternarybob/venari/internal/models"
)

// NewFromConfig builds the configured ModelClient.
func NewFromConfig(ctx context.Context, cfg common.LLMConfig, logger arbor.ILogger) (interfaces.ModelClient, error) {
	switch cfg.Provider {
	case "claude", "":
		return NewClaudeClient(cfg, logger)
	case "gemini":
		return NewGeminiClient(ctx, cfg, logger)
	}
	return nil, models.ValidationError("unknown llm provider %q", cfg.Provider)
}
