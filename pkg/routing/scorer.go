package routing

import (
	"regexp"
	"strings"
)

var multistepRe = regexp.MustCompile(`first\b|then\b|step \d`)

// scoreText produces normalized per-feature scores for a prompt. Each score
// is in [0, 1]; the selector combines them with the configured weights.
func scoreText(text string) map[string]float64 {
	lower := strings.ToLower(text)
	scores := make(map[string]float64, 10)

	reasoningKeywords := []string{"prove", "theorem", "step by step", "formal"}
	codeKeywords := []string{"function", "import", "async", "```", "class"}

	reasoning := 0.0
	for _, k := range reasoningKeywords {
		if strings.Contains(lower, k) {
			reasoning++
		}
	}

	code := 0.0
	for _, k := range codeKeywords {
		if strings.Contains(lower, k) {
			code++
		}
	}

	multistep := 0.0
	if multistepRe.MatchString(lower) {
		multistep = 1.0
	}

	// Length as a crude token proxy.
	length := float64(len(lower))
	var tokenCount float64
	switch {
	case length < 100:
		tokenCount = 0.2
	case length > 1000:
		tokenCount = 1.0
	default:
		tokenCount = (length - 100) / 900
	}

	question := 0.0
	if strings.Contains(lower, "?") {
		question = 1.0
	}

	creative := 0.0
	if strings.Contains(lower, "story") || strings.Contains(lower, "poem") || strings.Contains(lower, "brainstorm") {
		creative = 1.0
	}

	imperative := 0.0
	if strings.Contains(lower, "build") || strings.Contains(lower, "create") || strings.Contains(lower, "implement") {
		imperative = 1.0
	}

	format := 0.0
	if strings.Contains(lower, "json") || strings.Contains(lower, "yaml") || strings.Contains(lower, "schema") {
		format = 1.0
	}

	technical := 0.0
	if strings.Contains(lower, "kubernetes") || strings.Contains(lower, "algorithm") || strings.Contains(lower, "distributed") {
		technical = 1.0
	}

	negation := 0.0
	if strings.Contains(lower, "don't") || strings.Contains(lower, "avoid") || strings.Contains(lower, "without") {
		negation = 1.0
	}

	scores["reasoning"] = min(reasoning, 3.0) / 3.0
	scores["code"] = min(code, 3.0) / 3.0
	scores["multistep"] = multistep
	scores["token_count"] = tokenCount
	scores["question"] = question
	scores["creative"] = creative
	scores["imperative"] = imperative
	scores["format"] = format
	scores["technical"] = technical
	scores["negation"] = negation

	return scores
}
