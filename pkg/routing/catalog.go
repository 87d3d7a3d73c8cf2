package routing

import (
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/skiffbot/skiff/pkg/logger"
)

const catalogURL = "https://openrouter.ai/api/v1/models"

type catalogEntry struct {
	ID            string `json:"id"`
	ContextLength int    `json:"context_length"`
	Pricing       *struct {
		Prompt     string `json:"prompt"`
		Completion string `json:"completion"`
	} `json:"pricing"`
}

type catalogResponse struct {
	Data []catalogEntry `json:"data"`
}

type catalog struct {
	pricing        map[string]float64
	contextLengths map[string]int
}

var (
	catalogOnce sync.Once
	cachedCat   *catalog
)

// Pricing overrides for the core tier models, USD per 1M output tokens.
// Applied on top of whatever the remote catalog returns so routing stays
// deterministic when the network is unavailable.
var priceOverrides = map[string]float64{
	"openai/gpt-3.5-turbo":      1.50,
	"openai/gpt-4o-mini":        0.60,
	"openai/o3":                 8.00,
	"anthropic/claude-opus-4-5": 25.00,
	"deepseek/deepseek-chat":    0.42,
	"minimax/minimax-m2":        1.20,
}

var contextOverrides = map[string]int{
	"openai/gpt-3.5-turbo":      16384,
	"openai/gpt-4o-mini":        128000,
	"anthropic/claude-opus-4-5": 200000,
	"openai/o3":                 200000,
	"deepseek/deepseek-chat":    128000,
	"minimax/minimax-m2":        1000000,
}

func getCatalog() *catalog {
	catalogOnce.Do(func() {
		cat := &catalog{
			pricing:        make(map[string]float64),
			contextLengths: make(map[string]int),
		}

		if err := fetchRemoteCatalog(cat); err != nil {
			logger.DebugCF("routing", "Remote model catalog unavailable, using built-in overrides", map[string]any{
				"error": err.Error(),
			})
		}

		for model, price := range priceOverrides {
			cat.pricing[model] = price
		}
		for model, ctx := range contextOverrides {
			cat.contextLengths[model] = ctx
		}

		cachedCat = cat
	})
	return cachedCat
}

func fetchRemoteCatalog(cat *catalog) error {
	client := &http.Client{Timeout: 6 * time.Second}
	resp, err := client.Get(catalogURL)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var payload catalogResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return err
	}

	for _, entry := range payload.Data {
		if entry.ContextLength > 0 {
			cat.contextLengths[entry.ID] = entry.ContextLength
		}
		if entry.Pricing == nil {
			continue
		}
		// Per-token prices come back as decimal strings; convert to per-1M.
		raw := entry.Pricing.Completion
		if raw == "" {
			raw = entry.Pricing.Prompt
		}
		if price, err := strconv.ParseFloat(raw, 64); err == nil {
			cat.pricing[entry.ID] = price * 1_000_000
		}
	}
	return nil
}

// modelPrice returns the estimated USD cost per 1M output tokens, defaulting
// to 1.0 for unknown models.
func modelPrice(model string) float64 {
	if price, ok := getCatalog().pricing[model]; ok {
		return price
	}
	return 1.0
}

// modelContextLength returns the context window size for a model, or 0 when
// unknown.
func modelContextLength(model string) int {
	return getCatalog().contextLengths[model]
}
