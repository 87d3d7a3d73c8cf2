package routing

import "fmt"

const (
	TierSimple    = "SIMPLE"
	TierMedium    = "MEDIUM"
	TierComplex   = "COMPLEX"
	TierReasoning = "REASONING"
)

var featureWeights = map[string]float64{
	"reasoning":   0.18,
	"code":        0.15,
	"simple":      0.12,
	"multistep":   0.12,
	"technical":   0.10,
	"token_count": 0.08,
	"creative":    0.05,
	"question":    0.05,
	"constraint":  0.04,
	"imperative":  0.03,
	"format":      0.03,
	"domain":      0.02,
	"reference":   0.02,
	"negation":    0.01,
}

var tierModels = map[string]string{
	TierSimple:    "openai/gpt-3.5-turbo",
	TierMedium:    "openai/gpt-4o-mini",
	TierComplex:   "anthropic/claude-opus-4-5",
	TierReasoning: "openai/o3",
}

var tierOrder = []string{TierSimple, TierMedium, TierComplex, TierReasoning}

// nextTier returns the tier one level above the given one, or "" at the top.
func nextTier(tier string) string {
	for i, t := range tierOrder {
		if t == tier && i+1 < len(tierOrder) {
			return tierOrder[i+1]
		}
	}
	return ""
}

// selectModel combines feature scores into a weighted complexity score and
// maps it onto a tier. Thresholds are calibrated against the observed score
// distribution of real prompts:
//
//	SIMPLE    0.02 - 0.07
//	MEDIUM    0.06 - 0.21
//	COMPLEX   0.22 - 0.35
//	REASONING 0.22 - 0.40+
func selectModel(scores map[string]float64) Decision {
	var weighted, totalWeight float64
	for feature, w := range featureWeights {
		weighted += w * scores[feature]
		totalWeight += w
	}

	normalized := weighted
	if totalWeight > 0 {
		normalized = weighted / totalWeight
	}

	var tier string
	switch {
	case normalized > 0.30:
		tier = TierReasoning
	case normalized > 0.20:
		tier = TierComplex
	case normalized > 0.08:
		tier = TierMedium
	default:
		tier = TierSimple
	}

	model := tierModels[tier]
	return Decision{
		Model:        model,
		Tier:         tier,
		Confidence:   normalized,
		CostEstimate: modelPrice(model),
		Explain:      fmt.Sprintf("weighted_score=%.3f", normalized),
	}
}
