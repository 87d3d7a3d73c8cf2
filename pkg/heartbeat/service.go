// Package heartbeat wakes the agent on a fixed interval so it can work
// through the tasks listed in the workspace HEARTBEAT.md.
package heartbeat

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/skiffbot/skiff/pkg/logger"
)

const (
	heartbeatFile = "HEARTBEAT.md"

	// okToken is what the agent replies when nothing needed doing.
	// Such beats are logged and otherwise suppressed.
	okToken = "HEARTBEAT_OK"

	defaultTemplate = `# Heartbeat Tasks

<!-- Add recurring tasks below. The agent reads this file on every beat. -->
`

	heartbeatPrompt = "Read " + heartbeatFile + " in your workspace and perform any pending tasks. " +
		"If there is nothing that needs doing right now, reply with exactly " + okToken + "."
)

// Handler runs one heartbeat prompt through the agent and returns the
// agent's reply.
type Handler func(ctx context.Context, prompt string) (string, error)

type Service struct {
	workspace string
	interval  time.Duration
	enabled   bool
	handler   Handler
	stopChan  chan struct{}
}

func NewService(workspace string, intervalMinutes int, enabled bool) *Service {
	if intervalMinutes <= 0 {
		intervalMinutes = 30
	}
	return &Service{
		workspace: workspace,
		interval:  time.Duration(intervalMinutes) * time.Minute,
		enabled:   enabled,
	}
}

func (s *Service) SetHandler(handler Handler) {
	s.handler = handler
}

func (s *Service) Start() error {
	if !s.enabled {
		logger.InfoC("heartbeat", "Heartbeat disabled")
		return nil
	}
	if s.handler == nil {
		return fmt.Errorf("heartbeat handler not set")
	}

	s.stopChan = make(chan struct{})
	logger.InfoCF("heartbeat", "Heartbeat started", map[string]any{
		"interval": s.interval.String(),
	})

	go func() {
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.executeHeartbeat()
			}
		}
	}()

	return nil
}

func (s *Service) Stop() {
	if s.stopChan != nil {
		close(s.stopChan)
		s.stopChan = nil
	}
	logger.InfoC("heartbeat", "Heartbeat stopped")
}

func (s *Service) executeHeartbeat() {
	if !s.hasActionableTasks() {
		logger.DebugC("heartbeat", "No actionable tasks, skipping beat")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	response, err := s.handler(ctx, heartbeatPrompt)
	if err != nil {
		logger.ErrorCF("heartbeat", "Heartbeat failed", map[string]any{
			"error": err.Error(),
		})
		return
	}

	if strings.TrimSpace(response) == okToken {
		logger.DebugC("heartbeat", "Heartbeat OK")
		return
	}
	logger.InfoCF("heartbeat", "Heartbeat completed", map[string]any{
		"response_length": len(response),
	})
}

// hasActionableTasks reports whether HEARTBEAT.md contains anything beyond
// headers, comments, blank lines, and unchecked-empty checkboxes. A missing
// file is seeded with the default template and counts as empty.
func (s *Service) hasActionableTasks() bool {
	path := filepath.Join(s.workspace, heartbeatFile)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if writeErr := os.WriteFile(path, []byte(defaultTemplate), 0o644); writeErr != nil {
				logger.WarnCF("heartbeat", "Failed to seed heartbeat file", map[string]any{
					"error": writeErr.Error(),
				})
			}
		}
		return false
	}

	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		switch {
		case line == "":
		case strings.HasPrefix(line, "#"):
		case strings.HasPrefix(line, "<!--"):
		case line == "- [ ]" || line == "- [x]" || line == "* [ ]":
		default:
			return true
		}
	}
	return false
}
