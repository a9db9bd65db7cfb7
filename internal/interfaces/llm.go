package interfaces

import "context"

// ModelResponse is the uniform reply shape from an external model call.
type ModelResponse struct {
	Text      string `json:"text"`
	TokensIn  int    `json:"tokens_in"`
	TokensOut int    `json:"tokens_out"`
	Model     string `json:"model"`
}

// ModelClient is the external vision/text model capability. Billable; every
// caller must consult the cost tracker's CheckLimits before invoking.
type ModelClient interface {
	VisionAnalyze(ctx context.Context, image []byte, prompt string) (*ModelResponse, error)
	TextAnalyze(ctx context.Context, text, prompt string) (*ModelResponse, error)
	ModelName() string
}
