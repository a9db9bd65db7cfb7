package costs

// ModelPricing is USD per 1000 tokens, plus a flat per-image charge for
// vision-capable models.
type ModelPricing struct {
	InputPer1K  float64
	OutputPer1K float64
	PerImage    float64
}

// defaultPricing covers the models the crawler drives. Unknown models fall
// back to the tracker's configured default with a logged warning.
var defaultPricing = map[string]ModelPricing{
	"claude-sonnet-4-20250514": {InputPer1K: 0.003, OutputPer1K: 0.015, PerImage: 0.0048},
	"claude-haiku-3-5":         {InputPer1K: 0.0008, OutputPer1K: 0.004, PerImage: 0.0016},
	"claude-opus-4":            {InputPer1K: 0.015, OutputPer1K: 0.075, PerImage: 0.024},
	"gemini-2.0-flash":         {InputPer1K: 0.0001, OutputPer1K: 0.0004, PerImage: 0.000265},
	"gemini-1.5-pro":           {InputPer1K: 0.00125, OutputPer1K: 0.005, PerImage: 0.00032875},
}

// Estimate computes the cost of one call. When the input/output split is
// known it prices each side; otherwise it averages the two rates over the
// combined token count. The per-image charge applies once per call.
func (p ModelPricing) Estimate(tokens int, hasImage bool, inTokens, outTokens int) float64 {
	var cost float64
	if inTokens > 0 || outTokens > 0 {
		cost = float64(inTokens)/1000*p.InputPer1K + float64(outTokens)/1000*p.OutputPer1K
	} else {
		cost = float64(tokens) / 1000 * ((p.InputPer1K + p.OutputPer1K) / 2)
	}
	if hasImage {
		cost += p.PerImage
	}
	return cost
}
