package agent

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/skiffbot/skiff/pkg/bus"
	"github.com/skiffbot/skiff/pkg/config"
	"github.com/skiffbot/skiff/pkg/logger"
	"github.com/skiffbot/skiff/pkg/providers"
	"github.com/skiffbot/skiff/pkg/routing"
	"github.com/skiffbot/skiff/pkg/session"
	"github.com/skiffbot/skiff/pkg/tools"
)

const (
	noResponseFallback = "I've completed processing but have no response to give."
	backgroundFallback = "Background task completed."

	// maxEscalations bounds post-call model escalation per round.
	maxEscalations = 3
	// preCheckRatio escalates before calling when the prompt estimate
	// crosses this share of the model's context window.
	preCheckRatio = 0.9
)

// AgentLoop is the core processing engine. It consumes inbound messages
// from the bus, drives the model and tool cycle, and publishes responses.
type AgentLoop struct {
	bus           *bus.MessageBus
	provider      providers.LLMProvider
	cfg           *config.Config
	model         string
	maxIterations int
	historyWindow int

	context   *ContextBuilder
	sessions  *session.Store
	tools     *tools.Registry
	subagents *tools.SubagentManager
	router    routing.Service

	// turnMu serializes message processing: Run and ProcessDirect both
	// drive the same contextual tools and session records.
	turnMu  sync.Mutex
	running atomic.Bool
}

// NewAgentLoop wires the engine. router may be nil, which disables dynamic
// model selection and escalation entirely.
func NewAgentLoop(
	cfg *config.Config,
	msgBus *bus.MessageBus,
	provider providers.LLMProvider,
	router routing.Service,
	sessionsDir string,
) *AgentLoop {
	defaults := cfg.Agents.Defaults
	workspace := defaults.Workspace

	model := defaults.Model
	if model == "" {
		model = provider.GetDefaultModel()
	}

	maxIterations := defaults.MaxToolIterations
	if maxIterations <= 0 {
		maxIterations = 20
	}
	historyWindow := defaults.HistoryWindow
	if historyWindow <= 0 {
		historyWindow = 50
	}

	registry := tools.NewRegistry()
	al := &AgentLoop{
		bus:           msgBus,
		provider:      provider,
		cfg:           cfg,
		model:         model,
		maxIterations: maxIterations,
		historyWindow: historyWindow,
		context:       NewContextBuilder(workspace),
		sessions:      session.NewStore(sessionsDir),
		tools:         registry,
		router:        router,
	}
	al.subagents = tools.NewSubagentManager(provider, model, msgBus, al.newSubagentRegistry, 10)
	al.context.SetToolsRegistry(registry)
	al.registerDefaultTools()
	return al
}

func (al *AgentLoop) registerDefaultTools() {
	al.registerCoreTools(al.tools)
	al.tools.Register(tools.NewSpawnTool(al.subagents))
}

// newSubagentRegistry builds the tool set for one background task. Spawned
// tasks get their own instances instead of the loop's registry so a task
// setting its reply context cannot repoint a tool the loop is using. Spawn
// itself is left out: tasks do not fork further tasks.
func (al *AgentLoop) newSubagentRegistry() *tools.Registry {
	registry := tools.NewRegistry()
	al.registerCoreTools(registry)
	return registry
}

func (al *AgentLoop) registerCoreTools(registry *tools.Registry) {
	defaults := al.cfg.Agents.Defaults
	workspace := defaults.Workspace

	registry.Register(tools.NewReadFileTool(workspace, true))
	registry.Register(tools.NewWriteFileTool(workspace, true))
	registry.Register(tools.NewEditFileTool(workspace, true))
	registry.Register(tools.NewListDirTool(workspace, true))

	if al.cfg.Tools.Exec.Enabled {
		registry.Register(tools.NewExecTool(workspace))
	}

	registry.Register(tools.NewWebFetchTool(0))
	if search := tools.NewWebSearchTool(al.cfg.Tools.Web.BraveAPIKey, al.cfg.Tools.Web.MaxResults); search != nil {
		registry.Register(search)
	}

	messageTool := tools.NewMessageTool()
	messageTool.SetSendCallback(func(channel, chatID, content string) error {
		al.bus.PublishOutbound(bus.OutboundMessage{
			Channel: channel,
			ChatID:  chatID,
			Content: content,
		})
		return nil
	})
	registry.Register(messageTool)
}

// Tools exposes the registry so callers can add domain tools before Run.
func (al *AgentLoop) Tools() *tools.Registry {
	return al.tools
}

// Bus exposes the message bus the loop consumes from.
func (al *AgentLoop) Bus() *bus.MessageBus {
	return al.bus
}

// Sessions exposes the session store for management commands.
func (al *AgentLoop) Sessions() *session.Store {
	return al.sessions
}

// Run polls the bus until Stop is called or ctx is cancelled. Every
// processing failure is converted into an apology on the originating
// conversation; the loop itself never dies from a bad message.
func (al *AgentLoop) Run(ctx context.Context) error {
	al.running.Store(true)
	logger.InfoC("agent", "Agent loop started")

	for al.running.Load() {
		pollCtx, cancel := context.WithTimeout(ctx, time.Second)
		msg, ok := al.bus.ConsumeInbound(pollCtx)
		cancel()
		if !ok {
			if ctx.Err() != nil {
				logger.InfoC("agent", "Agent loop stopping")
				return nil
			}
			continue
		}

		response, err := al.processMessage(ctx, msg)
		if err != nil {
			logger.ErrorCF("agent", "Error processing message", map[string]any{
				"channel": msg.Channel,
				"error":   err.Error(),
			})
			al.bus.PublishOutbound(bus.OutboundMessage{
				Channel: msg.Channel,
				ChatID:  msg.ChatID,
				Content: fmt.Sprintf("Sorry, I encountered an error: %s", err.Error()),
			})
			continue
		}
		if response != nil {
			al.bus.PublishOutbound(*response)
		}
	}

	logger.InfoC("agent", "Agent loop stopping")
	return nil
}

func (al *AgentLoop) Stop() {
	al.running.Store(false)
}

func (al *AgentLoop) processMessage(ctx context.Context, msg bus.InboundMessage) (*bus.OutboundMessage, error) {
	al.turnMu.Lock()
	defer al.turnMu.Unlock()

	if msg.Channel == bus.SystemChannel {
		return al.processSystemMessage(ctx, msg)
	}

	logger.InfoCF("agent", "Processing message", map[string]any{
		"channel": msg.Channel,
		"sender":  msg.SenderID,
	})

	sessionKey := msg.SessionKey()
	sess := al.sessions.GetOrCreate(sessionKey)
	al.setToolContexts(msg.Channel, msg.ChatID)

	messages := al.context.BuildMessages(sess.History(al.historyWindow), msg.Content, msg.Channel, msg.ChatID, msg.Media)
	messages = al.maybeCompact(sessionKey, messages, msg)

	finalContent, err := al.runCycle(ctx, messages, msg.Content, msg.Channel, msg.ChatID, true)
	if err != nil {
		return nil, err
	}
	if finalContent == "" {
		finalContent = noResponseFallback
	}

	sess.AddMessage("user", msg.Content)
	sess.AddMessage("assistant", finalContent)
	if err := al.sessions.Save(sess); err != nil {
		logger.WarnCF("agent", "Failed to persist session", map[string]any{
			"session": sessionKey,
			"error":   err.Error(),
		})
	}

	return &bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: finalContent,
	}, nil
}

// processSystemMessage handles announces from background work. The ChatID
// carries the encoded origin so the response is routed back to the
// conversation that spawned the task.
func (al *AgentLoop) processSystemMessage(ctx context.Context, msg bus.InboundMessage) (*bus.OutboundMessage, error) {
	logger.InfoCF("agent", "Processing system message", map[string]any{
		"sender": msg.SenderID,
	})

	origin := bus.DecodeOrigin(msg.ChatID)
	sessionKey := origin.SessionKey()
	sess := al.sessions.GetOrCreate(sessionKey)
	al.setToolContexts(origin.Channel, origin.ChatID)

	messages := al.context.BuildMessages(sess.History(al.historyWindow), msg.Content, origin.Channel, origin.ChatID, msg.Media)

	finalContent, err := al.runCycle(ctx, messages, msg.Content, origin.Channel, origin.ChatID, false)
	if err != nil {
		return nil, err
	}
	if finalContent == "" {
		finalContent = backgroundFallback
	}

	sess.AddMessage("user", fmt.Sprintf("[System: %s] %s", msg.SenderID, msg.Content))
	sess.AddMessage("assistant", finalContent)
	if err := al.sessions.Save(sess); err != nil {
		logger.WarnCF("agent", "Failed to persist session", map[string]any{
			"session": sessionKey,
			"error":   err.Error(),
		})
	}

	return &bus.OutboundMessage{
		Channel: origin.Channel,
		ChatID:  origin.ChatID,
		Content: finalContent,
	}, nil
}

// runCycle drives the bounded tool-execution cycle. It returns the final
// assistant content, or "" when the iteration budget ran out before the
// model produced a plain response.
func (al *AgentLoop) runCycle(
	ctx context.Context,
	messages []providers.Message,
	routeText, channel, chatID string,
	useRouter bool,
) (string, error) {
	for iteration := 0; iteration < al.maxIterations; iteration++ {
		chosenModel, currentTier := al.selectModel(routeText, messages, useRouter)

		response := al.chat(ctx, messages, chosenModel)
		response = al.escalateOnFailure(ctx, messages, response, chosenModel, currentTier)

		// A still-failing response after escalation surfaces whatever
		// content the last call produced instead of killing the turn.
		if response.Failed() {
			return response.Content, nil
		}

		if !response.HasToolCalls() {
			return response.Content, nil
		}

		messages = al.context.AddAssistantMessage(messages, response.Content, response.ToolCalls)
		for _, tc := range response.ToolCalls {
			tc = providers.NormalizeToolCall(tc)
			logger.DebugCF("agent", "Executing tool", map[string]any{
				"tool": tc.Name,
			})
			result := al.tools.ExecuteWithContext(ctx, tc.Name, tc.Arguments, channel, chatID)
			messages = al.context.AddToolResult(messages, tc.ID, result.ForLLM)

			if !result.Silent && result.ForUser != "" && result.ForUser != result.ForLLM {
				al.bus.PublishOutbound(bus.OutboundMessage{
					Channel: channel,
					ChatID:  chatID,
					Content: result.ForUser,
				})
			}
		}
	}

	return "", nil
}

// selectModel asks the router for a model and pre-checks the prompt against
// the chosen model's context window, escalating tiers until it fits. With
// no router the static default model is used and tier is empty.
func (al *AgentLoop) selectModel(routeText string, messages []providers.Message, useRouter bool) (string, string) {
	if !useRouter || al.router == nil {
		return al.model, ""
	}

	decision := al.router.Route(routeText, al.compactionFor(al.model).maxTokens)
	chosenModel, currentTier := decision.Model, decision.Tier
	logger.InfoCF("agent", "Router decision", map[string]any{
		"tier":       currentTier,
		"model":      chosenModel,
		"confidence": decision.Confidence,
		"cost":       decision.CostEstimate,
	})

	estimated := estimateTokens(messages, al.charsPerToken())
	ctxLimit := al.router.ContextLength(chosenModel)
	for ctxLimit > 0 && estimated > int(float64(ctxLimit)*preCheckRatio) {
		fb, ok := al.router.FallbackModel(currentTier)
		if !ok {
			break
		}
		logger.WarnCF("agent", "Prompt exceeds context window, escalating", map[string]any{
			"estimated_tokens": estimated,
			"model":            chosenModel,
			"context_length":   ctxLimit,
			"next_model":       fb.Model,
			"next_tier":        fb.Tier,
		})
		chosenModel, currentTier = fb.Model, fb.Tier
		ctxLimit = al.router.ContextLength(chosenModel)
	}

	return chosenModel, currentTier
}

// escalateOnFailure retries a failed call on progressively higher tiers,
// at most maxEscalations times. Without a tier there is nothing to
// escalate to and the response is returned as-is.
func (al *AgentLoop) escalateOnFailure(
	ctx context.Context,
	messages []providers.Message,
	response *providers.LLMResponse,
	chosenModel, currentTier string,
) *providers.LLMResponse {
	if al.router == nil || currentTier == "" || !response.Failed() {
		return response
	}

	for attempt := 0; attempt < maxEscalations; attempt++ {
		fb, ok := al.router.FallbackModel(currentTier)
		if !ok {
			break
		}
		logger.WarnCF("agent", "Escalating after model failure", map[string]any{
			"failed_model":  chosenModel,
			"failed_tier":   currentTier,
			"finish_reason": response.FinishReason,
			"next_model":    fb.Model,
			"next_tier":     fb.Tier,
		})
		al.router.RecordEscalation()
		chosenModel, currentTier = fb.Model, fb.Tier

		response = al.chat(ctx, messages, chosenModel)
		if !response.Failed() {
			break
		}
	}
	return response
}

// chat calls the provider and folds transport errors into a response with
// a failure finish reason, so the cycle logic only deals in finish reasons.
func (al *AgentLoop) chat(ctx context.Context, messages []providers.Message, model string) *providers.LLMResponse {
	response, err := al.provider.Chat(ctx, messages, al.tools.Definitions(), model, nil)
	if err != nil {
		return providers.ResponseFromError(err)
	}
	return response
}

// setToolContexts points every context-aware tool at the conversation being
// processed, so replies and spawned work route back to it.
func (al *AgentLoop) setToolContexts(channel, chatID string) {
	for _, name := range al.tools.Names() {
		if tool, ok := al.tools.Get(name); ok {
			if contextual, ok := tool.(tools.ContextualTool); ok {
				contextual.SetContext(channel, chatID)
			}
		}
	}
}

func (al *AgentLoop) charsPerToken() int {
	if cpt := al.cfg.Agents.Defaults.TokenCharsPerToken; cpt > 0 {
		return cpt
	}
	return 4
}

// ProcessDirect runs one message through the engine synchronously, for CLI
// usage.
func (al *AgentLoop) ProcessDirect(ctx context.Context, content, sessionKey string) (string, error) {
	origin := bus.DecodeOrigin(sessionKey)
	msg := bus.InboundMessage{
		Channel:  origin.Channel,
		SenderID: "user",
		ChatID:   origin.ChatID,
		Content:  content,
	}
	response, err := al.processMessage(ctx, msg)
	if err != nil {
		return "", err
	}
	if response == nil {
		return "", nil
	}
	return response.Content, nil
}
