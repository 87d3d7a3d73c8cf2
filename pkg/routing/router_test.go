package routing

import (
	"strings"
	"testing"
)

func TestScoreText_Features(t *testing.T) {
	scores := scoreText("Prove the theorem step by step, then implement it as a function?")

	if scores["reasoning"] <= 0 {
		t.Error("expected reasoning signal")
	}
	if scores["multistep"] != 1.0 {
		t.Error("expected multistep signal")
	}
	if scores["question"] != 1.0 {
		t.Error("expected question signal")
	}
	if scores["code"] <= 0 {
		t.Error("expected code signal")
	}
}

func TestScoreText_TokenProxy(t *testing.T) {
	short := scoreText("hi")
	if short["token_count"] != 0.2 {
		t.Errorf("short prompt token_count = %v, want 0.2", short["token_count"])
	}

	long := scoreText(strings.Repeat("word ", 300))
	if long["token_count"] != 1.0 {
		t.Errorf("long prompt token_count = %v, want 1.0", long["token_count"])
	}
}

func TestSelectModel_Tiers(t *testing.T) {
	tests := []struct {
		name   string
		prompt string
		tier   string
	}{
		{"trivial greeting", "hello", TierSimple},
		{
			"reasoning heavy",
			"Prove the theorem formally, step by step. First build a formal model, " +
				"then implement the distributed algorithm as an async function with a JSON schema. " +
				"Don't skip steps. " + strings.Repeat("Provide detailed analysis of each case. ", 30),
			TierReasoning,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := selectModel(scoreText(tt.prompt))
			if d.Tier != tt.tier {
				t.Errorf("tier = %q (score %.3f), want %q", d.Tier, d.Confidence, tt.tier)
			}
			if d.Model == "" {
				t.Error("expected a model for every tier")
			}
		})
	}
}

func TestFallbackModel_Chain(t *testing.T) {
	r := NewRouter()

	d, ok := r.FallbackModel(TierSimple)
	if !ok || d.Tier != TierMedium {
		t.Errorf("SIMPLE fallback = (%v, %v), want MEDIUM", d.Tier, ok)
	}

	d, ok = r.FallbackModel(TierComplex)
	if !ok || d.Tier != TierReasoning {
		t.Errorf("COMPLEX fallback = (%v, %v), want REASONING", d.Tier, ok)
	}

	if _, ok := r.FallbackModel(TierReasoning); ok {
		t.Error("REASONING should have no fallback")
	}
}

func TestRouter_Metrics(t *testing.T) {
	r := NewRouter()
	r.Route("hello", 8192)
	r.Route("write a story", 8192)
	r.RecordEscalation()

	m := r.Snapshot()
	if m.TotalCalls != 2 {
		t.Errorf("TotalCalls = %d, want 2", m.TotalCalls)
	}
	if m.EscalationCount != 1 {
		t.Errorf("EscalationCount = %d, want 1", m.EscalationCount)
	}
	if m.LastDecision == nil {
		t.Fatal("expected a last decision")
	}

	r.Reset()
	m = r.Snapshot()
	if m.TotalCalls != 0 || m.EscalationCount != 0 || m.LastDecision != nil {
		t.Error("Reset should clear all metrics")
	}
}

func TestRoute_DecisionIndependentOfBudget(t *testing.T) {
	r := NewRouter()
	a := r.Route("hello", 1024)
	b := r.Route("hello", 200000)
	if a.Tier != b.Tier || a.Model != b.Model {
		t.Errorf("budget changed decision: %+v vs %+v", a, b)
	}
}

func TestContextLength_KnownModels(t *testing.T) {
	r := NewRouter()
	if got := r.ContextLength("anthropic/claude-opus-4-5"); got != 200000 {
		t.Errorf("ContextLength = %d, want 200000", got)
	}
	if got := r.ContextLength("no-such-model"); got != 0 {
		t.Errorf("ContextLength for unknown model = %d, want 0", got)
	}
}
