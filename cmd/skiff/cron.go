package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/skiffbot/skiff/pkg/cron"
)

func newCronCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cron",
		Short: "Manage scheduled jobs",
	}
	cmd.AddCommand(newCronListCmd(), newCronAddCmd(), newCronRemoveCmd())
	return cmd
}

func openCronStore() *cron.CronService {
	cfg := loadConfig()
	storePath := filepath.Join(cfg.Agents.Defaults.Workspace, "cron", "jobs.json")
	return cron.NewCronService(storePath, nil)
}

func newCronListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs := openCronStore()
			jobs := cs.ListJobs(true)
			if len(jobs) == 0 {
				fmt.Println("No scheduled jobs")
				return nil
			}
			for _, j := range jobs {
				status := "enabled"
				if !j.Enabled {
					status = "disabled"
				}
				var next string
				if j.State.NextRunAtMS != nil {
					next = time.UnixMilli(*j.State.NextRunAtMS).Format("2006-01-02 15:04:05")
				} else {
					next = "-"
				}
				fmt.Printf("%-10s %-20s [%s] kind=%-6s next=%s\n", j.ID, j.Name, status, j.Schedule.Kind, next)
			}
			return nil
		},
	}
}

func newCronAddCmd() *cobra.Command {
	var (
		name    string
		message string
		every   int64
		expr    string
		channel string
		chatID  string
		deliver bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Add a new scheduled job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cs := openCronStore()

			var schedule cron.CronSchedule
			switch {
			case expr != "":
				schedule = cron.CronSchedule{Kind: "cron", Expr: expr}
			case every > 0:
				everyMS := every * 1000
				schedule = cron.CronSchedule{Kind: "every", EveryMS: &everyMS}
			default:
				return fmt.Errorf("one of --every or --cron is required")
			}

			job, err := cs.AddJob(name, schedule, message, deliver, channel, chatID)
			if err != nil {
				return err
			}
			fmt.Printf("Added job %s (id: %s)\n", job.Name, job.ID)
			return nil
		},
	}

	cmd.Flags().StringVarP(&name, "name", "n", "", "job name")
	cmd.MarkFlagRequired("name")
	cmd.Flags().StringVarP(&message, "message", "m", "", "message to deliver or process")
	cmd.MarkFlagRequired("message")
	cmd.Flags().Int64VarP(&every, "every", "e", 0, "run every N seconds")
	cmd.Flags().StringVarP(&expr, "cron", "c", "", "cron expression (e.g. '0 9 * * *')")
	cmd.Flags().StringVar(&channel, "channel", "cli", "delivery channel")
	cmd.Flags().StringVar(&chatID, "to", "direct", "delivery chat id")
	cmd.Flags().BoolVar(&deliver, "deliver", true, "deliver directly instead of routing through the agent")
	return cmd
}

func newCronRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <job-id>",
		Short: "Remove a job by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cs := openCronStore()
			if !cs.RemoveJob(args[0]) {
				fmt.Printf("Job not found: %s\n", args[0])
				return nil
			}
			fmt.Printf("Removed job: %s\n", args[0])
			return nil
		},
	}
}
