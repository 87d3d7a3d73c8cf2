package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/skiffbot/skiff/pkg/agent"
	"github.com/skiffbot/skiff/pkg/bus"
	"github.com/skiffbot/skiff/pkg/channels"
	"github.com/skiffbot/skiff/pkg/cron"
	"github.com/skiffbot/skiff/pkg/heartbeat"
	"github.com/skiffbot/skiff/pkg/logger"
	"github.com/skiffbot/skiff/pkg/tools"
)

func newGatewayCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "gateway",
		Short: "Run the gateway: channels, scheduler, heartbeat, and the agent loop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGateway()
		},
	}
}

func runGateway() error {
	cfg := loadConfig()
	workspace := cfg.Agents.Defaults.Workspace
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}

	loop, err := buildAgentLoop(cfg)
	if err != nil {
		return err
	}
	msgBus := loop.Bus()

	cronService := setupCron(loop, msgBus, workspace)

	heartbeatService := heartbeat.NewService(workspace, cfg.Heartbeat.IntervalMinutes, cfg.Heartbeat.Enabled)
	heartbeatService.SetHandler(func(ctx context.Context, prompt string) (string, error) {
		return loop.ProcessDirect(ctx, prompt, "cli:heartbeat")
	})

	channelManager, err := channels.NewManager(cfg, msgBus)
	if err != nil {
		return fmt.Errorf("creating channel manager: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := cronService.Start(); err != nil {
		return fmt.Errorf("starting cron service: %w", err)
	}
	if err := heartbeatService.Start(); err != nil {
		return fmt.Errorf("starting heartbeat: %w", err)
	}
	if err := channelManager.StartAll(ctx); err != nil {
		return fmt.Errorf("starting channels: %w", err)
	}
	go loop.Run(ctx)

	enabled := channelManager.GetEnabledChannels()
	logger.InfoCF("gateway", "Gateway started", map[string]any{
		"channels": enabled,
	})
	fmt.Printf("Gateway started (channels: %v). Press Ctrl+C to stop.\n", enabled)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	logger.InfoC("gateway", "Shutting down")

	heartbeatService.Stop()
	cronService.Stop()
	loop.Stop()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	channelManager.StopAll(stopCtx)
	cancel()

	logger.InfoC("gateway", "Shutdown complete")
	return nil
}

// setupCron wires the scheduler: fired jobs either go straight out to the
// recorded conversation or come back in as system messages for the agent.
func setupCron(loop *agent.AgentLoop, msgBus *bus.MessageBus, workspace string) *cron.CronService {
	storePath := filepath.Join(workspace, "cron", "jobs.json")
	cronService := cron.NewCronService(storePath, nil)

	cronService.SetOnJob(func(job *cron.CronJob) (string, error) {
		if job.Deliver {
			msgBus.PublishOutbound(bus.OutboundMessage{
				Channel: job.Channel,
				ChatID:  job.ChatID,
				Content: job.Message,
			})
			return "delivered", nil
		}
		msgBus.PublishInbound(bus.InboundMessage{
			Channel:  bus.SystemChannel,
			SenderID: "cron:" + job.ID,
			ChatID:   bus.Origin{Channel: job.Channel, ChatID: job.ChatID}.Encode(),
			Content:  job.Message,
		})
		return "enqueued", nil
	})

	loop.Tools().Register(tools.NewScheduleTool(cronService))
	return cronService
}
