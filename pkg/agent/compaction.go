package agent

import (
	"github.com/skiffbot/skiff/pkg/bus"
	"github.com/skiffbot/skiff/pkg/logger"
	"github.com/skiffbot/skiff/pkg/providers"
)

type compactionSettings struct {
	enabled      bool
	maxTokens    int
	triggerRatio float64
	keepLast     int
	silent       bool
}

// compactionFor resolves the effective compaction settings for a model,
// applying any per-model override on top of the configured defaults.
func (al *AgentLoop) compactionFor(model string) compactionSettings {
	defaults := al.cfg.Agents.Defaults

	settings := compactionSettings{
		enabled:      defaults.CompactionEnabled,
		maxTokens:    defaults.MaxTokens,
		triggerRatio: defaults.CompactionTrigger,
		keepLast:     defaults.CompactionKeepLast,
		silent:       defaults.CompactionSilent,
	}
	if settings.maxTokens <= 0 {
		settings.maxTokens = 8192
	}
	if settings.triggerRatio <= 0 {
		settings.triggerRatio = 0.9
	}
	if settings.keepLast <= 0 {
		settings.keepLast = 50
	}

	override, ok := defaults.CompactionModelOverrides[model]
	if !ok {
		return settings
	}
	if override.KeepLast != nil {
		settings.keepLast = *override.KeepLast
	}
	if override.TriggerRatio != nil {
		settings.triggerRatio = *override.TriggerRatio
	}
	if override.Silent != nil {
		settings.silent = *override.Silent
	}
	return settings
}

// maybeCompact folds old history into a compaction marker when the estimated
// prompt size crosses the trigger threshold, then rebuilds the message list
// from the compacted session. Compaction failures are never fatal; the
// original messages are returned and the turn proceeds.
func (al *AgentLoop) maybeCompact(sessionKey string, messages []providers.Message, msg bus.InboundMessage) []providers.Message {
	settings := al.compactionFor(al.model)
	if !settings.enabled {
		return messages
	}

	estimated := estimateTokens(messages, al.charsPerToken())
	threshold := int(float64(settings.maxTokens) * settings.triggerRatio)
	if estimated < threshold {
		return messages
	}

	if !settings.silent {
		logger.InfoCF("agent", "Compaction triggered", map[string]any{
			"session":          sessionKey,
			"estimated_tokens": estimated,
			"threshold":        threshold,
			"keep_last":        settings.keepLast,
		})
	}

	compacted, err := al.sessions.CompactSession(sessionKey, settings.keepLast, "")
	if err != nil {
		logger.WarnCF("agent", "Compaction failed", map[string]any{
			"session": sessionKey,
			"error":   err.Error(),
		})
		return messages
	}
	if compacted == 0 {
		return messages
	}

	if !settings.silent {
		logger.InfoCF("agent", "Compacted session", map[string]any{
			"session":            sessionKey,
			"messages_compacted": compacted,
		})
	}

	sess := al.sessions.GetOrCreate(sessionKey)
	return al.context.BuildMessages(sess.History(al.historyWindow), msg.Content, msg.Channel, msg.ChatID, msg.Media)
}
