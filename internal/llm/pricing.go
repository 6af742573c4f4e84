package llm

// ModelPricing contains pricing per 1M tokens for a model.
type ModelPricing struct {
	InputPerMillion  float64
	OutputPerMillion float64
}

// DefaultModelPricing contains pricing for known Claude models.
var DefaultModelPricing = map[string]ModelPricing{
	"claude-opus-4-5-20251101":   {InputPerMillion: 15.00, OutputPerMillion: 75.00},
	"claude-sonnet-4-20250514":   {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-sonnet-20241022": {InputPerMillion: 3.00, OutputPerMillion: 15.00},
	"claude-3-5-haiku-20241022":  {InputPerMillion: 0.80, OutputPerMillion: 4.00},
}

// CostFor computes the dollar cost of a call for the given model. Unknown
// models cost zero; the resource tracker still records their tokens.
func CostFor(model string, inputTokens, outputTokens int64) float64 {
	p, ok := DefaultModelPricing[model]
	if !ok {
		return 0
	}
	return float64(inputTokens)/1e6*p.InputPerMillion +
		float64(outputTokens)/1e6*p.OutputPerMillion
}
