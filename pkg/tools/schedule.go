package tools

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/skiffbot/skiff/pkg/cron"
)

// ScheduleTool lets the agent create, list, and cancel scheduled messages.
type ScheduleTool struct {
	cronService *cron.CronService
	channel     string
	chatID      string
	mu          sync.RWMutex
}

func NewScheduleTool(cronService *cron.CronService) *ScheduleTool {
	return &ScheduleTool{cronService: cronService}
}

func (t *ScheduleTool) Name() string {
	return "schedule"
}

func (t *ScheduleTool) Description() string {
	return "Create, list, or cancel scheduled tasks. Supports one-time tasks (at), recurring intervals (every), and cron expressions."
}

func (t *ScheduleTool) Parameters() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"action": map[string]any{
				"type":        "string",
				"enum":        []string{"create", "list", "cancel"},
				"description": "Action to perform.",
			},
			"name": map[string]any{
				"type":        "string",
				"description": "Job name (required for create).",
			},
			"message": map[string]any{
				"type":        "string",
				"description": "Message content delivered when the job fires (required for create).",
			},
			"schedule": map[string]any{
				"type":        "object",
				"description": "Schedule configuration (required for create).",
				"properties": map[string]any{
					"kind": map[string]any{
						"type":        "string",
						"enum":        []string{"at", "every", "cron"},
						"description": "Schedule type: 'at' one-time, 'every' recurring interval, 'cron' expression.",
					},
					"at": map[string]any{
						"type":        "string",
						"description": "ISO datetime for 'at' kind, e.g. '2026-01-01T12:00:00'.",
					},
					"every_seconds": map[string]any{
						"type":        "integer",
						"description": "Interval in seconds for 'every' kind. Must be positive.",
					},
					"expr": map[string]any{
						"type":        "string",
						"description": "Cron expression for 'cron' kind, e.g. '0 9 * * *' for daily at 9am.",
					},
					"timezone": map[string]any{
						"type":        "string",
						"description": "Timezone for 'at' times without an explicit offset and for cron expressions.",
					},
				},
				"required": []string{"kind"},
			},
			"deliver": map[string]any{
				"type":        "boolean",
				"description": "Send the message directly to the user when the job fires (default true). If false, the agent processes it.",
			},
			"id": map[string]any{
				"type":        "string",
				"description": "Job ID to cancel (required for cancel).",
			},
		},
		"required": []string{"action"},
	}
}

func (t *ScheduleTool) SetContext(channel, chatID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.channel = channel
	t.chatID = chatID
}

func (t *ScheduleTool) Execute(ctx context.Context, args map[string]any) *ToolResult {
	action, ok := args["action"].(string)
	if !ok {
		return ErrorResult("action is required and must be one of: create, list, cancel")
	}

	switch action {
	case "create":
		return t.createJob(args)
	case "list":
		return t.listJobs()
	case "cancel":
		return t.cancelJob(args)
	default:
		return ErrorResult(fmt.Sprintf("invalid action: %s (must be create, list, or cancel)", action))
	}
}

func (t *ScheduleTool) createJob(args map[string]any) *ToolResult {
	t.mu.RLock()
	channel, chatID := t.channel, t.chatID
	t.mu.RUnlock()

	if channel == "" || chatID == "" {
		return ErrorResult("no session context. Use this tool in an active conversation.")
	}

	name, ok := args["name"].(string)
	if !ok || name == "" {
		return ErrorResult("name is required for create action")
	}
	message, ok := args["message"].(string)
	if !ok || message == "" {
		return ErrorResult("message is required for create action")
	}
	scheduleMap, ok := args["schedule"].(map[string]any)
	if !ok {
		return ErrorResult("schedule is required and must be an object with a kind property")
	}

	schedule, err := parseScheduleArgs(scheduleMap)
	if err != nil {
		return ErrorResult(fmt.Sprintf("invalid schedule: %v", err))
	}

	deliver := true
	if d, ok := args["deliver"].(bool); ok {
		deliver = d
	}

	job, err := t.cronService.AddJob(name, schedule, message, deliver, channel, chatID)
	if err != nil {
		return ErrorResult(fmt.Sprintf("error creating job: %v", err))
	}

	var nextRunInfo string
	if job.State.NextRunAtMS != nil {
		nextRunInfo = fmt.Sprintf(", next run: %s", time.UnixMilli(*job.State.NextRunAtMS).Format("2006-01-02 15:04:05"))
	}
	return SilentResult(fmt.Sprintf("Scheduled job '%s' (id: %s%s)", job.Name, job.ID, nextRunInfo))
}

func parseScheduleArgs(scheduleMap map[string]any) (cron.CronSchedule, error) {
	kind, ok := scheduleMap["kind"].(string)
	if !ok {
		return cron.CronSchedule{}, fmt.Errorf("kind is required in schedule")
	}

	tz, _ := scheduleMap["timezone"].(string)
	schedule := cron.CronSchedule{Kind: kind, TZ: tz}

	switch kind {
	case "at":
		atStr, ok := scheduleMap["at"].(string)
		if !ok || atStr == "" {
			return cron.CronSchedule{}, fmt.Errorf("at field is required for 'at' kind")
		}

		loc := time.Local
		if tz != "" {
			var err error
			loc, err = time.LoadLocation(tz)
			if err != nil {
				return cron.CronSchedule{}, fmt.Errorf("invalid timezone: %v", err)
			}
		}

		atTime, err := time.Parse(time.RFC3339, atStr)
		if err != nil {
			atTime, err = time.ParseInLocation("2006-01-02T15:04:05", atStr, loc)
			if err != nil {
				return cron.CronSchedule{}, fmt.Errorf("invalid at datetime: use ISO format like '2026-01-01T12:00:00'")
			}
		}
		atMS := atTime.UnixMilli()
		schedule.AtMS = &atMS

	case "every":
		everySeconds, ok := scheduleMap["every_seconds"].(float64)
		if !ok {
			return cron.CronSchedule{}, fmt.Errorf("every_seconds field is required for 'every' kind")
		}
		if everySeconds <= 0 || everySeconds != float64(int64(everySeconds)) {
			return cron.CronSchedule{}, fmt.Errorf("every_seconds must be a positive integer")
		}
		everyMS := int64(everySeconds) * 1000
		schedule.EveryMS = &everyMS

	case "cron":
		expr, ok := scheduleMap["expr"].(string)
		if !ok || expr == "" {
			return cron.CronSchedule{}, fmt.Errorf("expr field is required for 'cron' kind")
		}
		schedule.Expr = expr

	default:
		return cron.CronSchedule{}, fmt.Errorf("invalid schedule kind: %s (must be at, every, or cron)", kind)
	}

	return schedule, nil
}

func (t *ScheduleTool) listJobs() *ToolResult {
	jobs := t.cronService.ListJobs(true)
	if len(jobs) == 0 {
		return SilentResult("No scheduled jobs")
	}

	var b strings.Builder
	b.WriteString("Scheduled jobs:\n")
	for _, j := range jobs {
		var scheduleInfo string
		switch j.Schedule.Kind {
		case "every":
			if j.Schedule.EveryMS != nil {
				scheduleInfo = fmt.Sprintf("every %ds", *j.Schedule.EveryMS/1000)
			} else {
				scheduleInfo = "every (unknown interval)"
			}
		case "cron":
			scheduleInfo = fmt.Sprintf("cron: %s", j.Schedule.Expr)
		case "at":
			scheduleInfo = "one-time"
		default:
			scheduleInfo = "unknown"
		}

		var nextRun string
		if j.State.NextRunAtMS != nil {
			nextRun = fmt.Sprintf(", next: %s", time.UnixMilli(*j.State.NextRunAtMS).Format("2006-01-02 15:04:05"))
		}

		status := "enabled"
		if !j.Enabled {
			status = "disabled"
		}
		fmt.Fprintf(&b, "- %s [%s] (id: %s, %s%s)\n", j.Name, status, j.ID, scheduleInfo, nextRun)
	}
	return SilentResult(b.String())
}

func (t *ScheduleTool) cancelJob(args map[string]any) *ToolResult {
	jobID, ok := args["id"].(string)
	if !ok || jobID == "" {
		return ErrorResult("id is required for cancel action")
	}
	if t.cronService.RemoveJob(jobID) {
		return SilentResult(fmt.Sprintf("Cancelled job: %s", jobID))
	}
	return ErrorResult(fmt.Sprintf("job not found: %s", jobID))
}
