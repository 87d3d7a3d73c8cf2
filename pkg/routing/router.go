package routing

import (
	"sync"
	"time"

	"github.com/skiffbot/skiff/pkg/logger"
)

// Decision describes the outcome of routing a single prompt.
type Decision struct {
	Model        string  `json:"model"`
	Tier         string  `json:"tier"`
	Confidence   float64 `json:"confidence"`
	CostEstimate float64 `json:"cost_estimate"`
	Explain      string  `json:"explain"`
}

// Service routes prompts to models and tracks escalation. The agent treats a
// nil Service as routing disabled and falls back to its static default model.
type Service interface {
	Route(text string, tokenBudget int) Decision
	ContextLength(model string) int
	FallbackModel(tier string) (Decision, bool)
	RecordEscalation()
}

type record struct {
	Decision
	Timestamp time.Time `json:"timestamp"`
}

// Metrics is a point-in-time snapshot of routing activity.
type Metrics struct {
	TotalCalls         int            `json:"total_calls"`
	EscalationCount    int            `json:"escalation_count"`
	TierCounts         map[string]int `json:"tier_counts"`
	ModelCounts        map[string]int `json:"model_counts"`
	TotalEstimatedCost float64        `json:"total_estimated_cost"`
	LastDecision       *Decision      `json:"last_decision,omitempty"`
}

// Router is the in-process heuristic implementation of Service.
type Router struct {
	mu                 sync.Mutex
	totalCalls         int
	escalationCount    int
	tierCounts         map[string]int
	modelCounts        map[string]int
	totalEstimatedCost float64
	records            []record
}

func NewRouter() *Router {
	return &Router{
		tierCounts:  make(map[string]int),
		modelCounts: make(map[string]int),
	}
}

// Route scores the prompt and picks a tier. The token budget is part of the
// contract but does not influence the heuristic yet.
func (r *Router) Route(text string, tokenBudget int) Decision {
	decision := selectModel(scoreText(text))

	r.mu.Lock()
	r.totalCalls++
	r.tierCounts[decision.Tier]++
	r.modelCounts[decision.Model]++
	r.totalEstimatedCost += decision.CostEstimate
	r.records = append(r.records, record{Decision: decision, Timestamp: time.Now()})
	r.mu.Unlock()

	logger.DebugCF("routing", "Routed prompt", map[string]any{
		"model":      decision.Model,
		"tier":       decision.Tier,
		"confidence": decision.Confidence,
	})
	return decision
}

func (r *Router) ContextLength(model string) int {
	return modelContextLength(model)
}

// FallbackModel returns the decision for the tier one level above the given
// one. It reports false when already at the top tier.
func (r *Router) FallbackModel(tier string) (Decision, bool) {
	next := nextTier(tier)
	if next == "" {
		return Decision{}, false
	}
	model := tierModels[next]
	return Decision{
		Model:        model,
		Tier:         next,
		CostEstimate: modelPrice(model),
	}, true
}

func (r *Router) RecordEscalation() {
	r.mu.Lock()
	r.escalationCount++
	r.mu.Unlock()
}

// Snapshot returns the current metrics.
func (r *Router) Snapshot() Metrics {
	r.mu.Lock()
	defer r.mu.Unlock()

	m := Metrics{
		TotalCalls:         r.totalCalls,
		EscalationCount:    r.escalationCount,
		TierCounts:         make(map[string]int, len(r.tierCounts)),
		ModelCounts:        make(map[string]int, len(r.modelCounts)),
		TotalEstimatedCost: r.totalEstimatedCost,
	}
	for k, v := range r.tierCounts {
		m.TierCounts[k] = v
	}
	for k, v := range r.modelCounts {
		m.ModelCounts[k] = v
	}
	if len(r.records) > 0 {
		last := r.records[len(r.records)-1].Decision
		m.LastDecision = &last
	}
	return m
}

// Reset clears all accumulated metrics.
func (r *Router) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.totalCalls = 0
	r.escalationCount = 0
	r.tierCounts = make(map[string]int)
	r.modelCounts = make(map[string]int)
	r.totalEstimatedCost = 0
	r.records = nil
}
