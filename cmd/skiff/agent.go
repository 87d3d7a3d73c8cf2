package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"

	"github.com/skiffbot/skiff/pkg/agent"
	"github.com/skiffbot/skiff/pkg/bus"
	"github.com/skiffbot/skiff/pkg/config"
	"github.com/skiffbot/skiff/pkg/providers"
	"github.com/skiffbot/skiff/pkg/routing"
)

func newAgentCmd() *cobra.Command {
	var (
		message    string
		sessionKey string
		model      string
	)

	cmd := &cobra.Command{
		Use:   "agent",
		Short: "Chat with the agent from the terminal",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if model != "" {
				cfg.Agents.Defaults.Model = model
			}

			loop, err := buildAgentLoop(cfg)
			if err != nil {
				return err
			}

			if message != "" {
				response, err := loop.ProcessDirect(context.Background(), message, sessionKey)
				if err != nil {
					return err
				}
				fmt.Println(response)
				return nil
			}

			return interactiveMode(loop, sessionKey)
		},
	}

	cmd.Flags().StringVarP(&message, "message", "m", "", "send a single message and exit")
	cmd.Flags().StringVarP(&sessionKey, "session", "s", "cli:direct", "session key")
	cmd.Flags().StringVar(&model, "model", "", "override the configured model")
	return cmd
}

// buildAgentLoop assembles the processing engine the way the gateway does,
// minus channels and background services.
func buildAgentLoop(cfg *config.Config) (*agent.AgentLoop, error) {
	provider, err := providers.CreateProvider(cfg)
	if err != nil {
		return nil, fmt.Errorf("creating provider: %w", err)
	}

	var router routing.Service
	if cfg.Routing.Enabled {
		router = routing.NewRouter()
	}

	msgBus := bus.NewMessageBus()
	return agent.NewAgentLoop(cfg, msgBus, provider, router, config.SessionsDir()), nil
}

func interactiveMode(loop *agent.AgentLoop, sessionKey string) error {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "you> ",
		HistoryFile:     filepath.Join(os.TempDir(), ".skiff_history"),
		HistoryLimit:    100,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	fmt.Println("Interactive mode. Type 'exit' or Ctrl+C to quit.")

	for {
		line, err := rl.Readline()
		if err != nil {
			if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
				fmt.Println("Goodbye!")
				return nil
			}
			return err
		}

		input := strings.TrimSpace(line)
		if input == "" {
			continue
		}
		if input == "exit" || input == "quit" {
			fmt.Println("Goodbye!")
			return nil
		}

		response, err := loop.ProcessDirect(context.Background(), input, sessionKey)
		if err != nil {
			fmt.Printf("Error: %v\n", err)
			continue
		}
		fmt.Printf("\nskiff> %s\n\n", response)
	}
}
