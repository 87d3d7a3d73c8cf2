// Package cron schedules messages for future delivery. Jobs persist in a
// JSON store under the workspace and fire one-shot "at" times, recurring
// "every" intervals, or cron expressions.
package cron

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"

	"github.com/skiffbot/skiff/pkg/logger"
)

const (
	storeVersion = 1
	tickInterval = 30 * time.Second
)

// CronSchedule defines when a job fires. Exactly one of AtMS, EveryMS, or
// Expr is set, selected by Kind ("at", "every", "cron").
type CronSchedule struct {
	Kind    string `json:"kind"`
	AtMS    *int64 `json:"at_ms,omitempty"`
	EveryMS *int64 `json:"every_ms,omitempty"`
	Expr    string `json:"expr,omitempty"`
	TZ      string `json:"tz,omitempty"`
}

type CronJobState struct {
	NextRunAtMS *int64 `json:"next_run_at_ms,omitempty"`
	LastRunAtMS *int64 `json:"last_run_at_ms,omitempty"`
	LastStatus  string `json:"last_status,omitempty"`
}

type CronJob struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Schedule    CronSchedule `json:"schedule"`
	Message     string       `json:"message"`
	Deliver     bool         `json:"deliver"`
	Channel     string       `json:"channel"`
	ChatID      string       `json:"chat_id"`
	Enabled     bool         `json:"enabled"`
	CreatedAtMS int64        `json:"created_at_ms"`
	State       CronJobState `json:"state"`
}

type cronStore struct {
	Version int        `json:"version"`
	Jobs    []*CronJob `json:"jobs"`
}

// OnJobFunc executes a due job and returns a status string for the log.
type OnJobFunc func(job *CronJob) (string, error)

type CronService struct {
	storePath string
	jobs      map[string]*CronJob
	onJob     OnJobFunc
	stopChan  chan struct{}
	mu        sync.Mutex
}

func NewCronService(storePath string, onJob OnJobFunc) *CronService {
	cs := &CronService{
		storePath: storePath,
		jobs:      make(map[string]*CronJob),
		onJob:     onJob,
	}
	cs.load()
	return cs
}

func (cs *CronService) SetOnJob(onJob OnJobFunc) {
	cs.mu.Lock()
	cs.onJob = onJob
	cs.mu.Unlock()
}

func (cs *CronService) Start() error {
	cs.mu.Lock()
	if cs.stopChan != nil {
		cs.mu.Unlock()
		return nil
	}
	cs.stopChan = make(chan struct{})
	stopChan := cs.stopChan
	cs.mu.Unlock()

	logger.InfoCF("cron", "Cron service started", map[string]any{
		"jobs": len(cs.jobs),
	})

	go func() {
		ticker := time.NewTicker(tickInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stopChan:
				return
			case <-ticker.C:
				cs.runDueJobs(time.Now())
			}
		}
	}()
	return nil
}

func (cs *CronService) Stop() {
	cs.mu.Lock()
	if cs.stopChan != nil {
		close(cs.stopChan)
		cs.stopChan = nil
	}
	cs.mu.Unlock()
	logger.InfoC("cron", "Cron service stopped")
}

// AddJob validates the schedule, computes its first run, and persists the
// new job. deliver controls whether the fired message goes straight to the
// user or through the agent.
func (cs *CronService) AddJob(name string, schedule CronSchedule, message string, deliver bool, channel, chatID string) (*CronJob, error) {
	nextRun, err := computeNextRun(schedule, time.Now())
	if err != nil {
		return nil, err
	}

	job := &CronJob{
		ID:          uuid.NewString()[:8],
		Name:        name,
		Schedule:    schedule,
		Message:     message,
		Deliver:     deliver,
		Channel:     channel,
		ChatID:      chatID,
		Enabled:     true,
		CreatedAtMS: time.Now().UnixMilli(),
		State:       CronJobState{NextRunAtMS: &nextRun},
	}

	cs.mu.Lock()
	cs.jobs[job.ID] = job
	err = cs.saveLocked()
	cs.mu.Unlock()
	if err != nil {
		return nil, err
	}

	logger.InfoCF("cron", "Job added", map[string]any{
		"id":   job.ID,
		"name": job.Name,
		"kind": schedule.Kind,
	})
	return job, nil
}

// ListJobs returns jobs sorted by next run time. Disabled jobs are included
// only when requested.
func (cs *CronService) ListJobs(includeDisabled bool) []*CronJob {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	jobs := make([]*CronJob, 0, len(cs.jobs))
	for _, job := range cs.jobs {
		if !job.Enabled && !includeDisabled {
			continue
		}
		jobs = append(jobs, job)
	}
	sort.Slice(jobs, func(i, j int) bool {
		ni, nj := jobs[i].State.NextRunAtMS, jobs[j].State.NextRunAtMS
		switch {
		case ni == nil:
			return false
		case nj == nil:
			return true
		default:
			return *ni < *nj
		}
	})
	return jobs
}

// RemoveJob deletes a job by ID and reports whether it existed.
func (cs *CronService) RemoveJob(id string) bool {
	cs.mu.Lock()
	defer cs.mu.Unlock()

	if _, ok := cs.jobs[id]; !ok {
		return false
	}
	delete(cs.jobs, id)
	if err := cs.saveLocked(); err != nil {
		logger.WarnCF("cron", "Failed to persist job removal", map[string]any{
			"id":    id,
			"error": err.Error(),
		})
	}
	return true
}

// runDueJobs fires every enabled job whose next run is at or before now.
// One-shot jobs are disabled after firing; recurring jobs get a fresh next
// run time.
func (cs *CronService) runDueJobs(now time.Time) {
	nowMS := now.UnixMilli()

	cs.mu.Lock()
	var due []*CronJob
	for _, job := range cs.jobs {
		if job.Enabled && job.State.NextRunAtMS != nil && *job.State.NextRunAtMS <= nowMS {
			due = append(due, job)
		}
	}
	onJob := cs.onJob
	cs.mu.Unlock()

	for _, job := range due {
		status := "ok"
		if onJob != nil {
			if _, err := onJob(job); err != nil {
				status = fmt.Sprintf("error: %v", err)
				logger.ErrorCF("cron", "Job execution failed", map[string]any{
					"id":    job.ID,
					"error": err.Error(),
				})
			}
		}

		cs.mu.Lock()
		job.State.LastRunAtMS = &nowMS
		job.State.LastStatus = status
		if job.Schedule.Kind == "at" {
			job.Enabled = false
			job.State.NextRunAtMS = nil
		} else if next, err := computeNextRun(job.Schedule, now); err == nil {
			job.State.NextRunAtMS = &next
		} else {
			job.Enabled = false
			job.State.NextRunAtMS = nil
			logger.WarnCF("cron", "Disabling job with unschedulable next run", map[string]any{
				"id":    job.ID,
				"error": err.Error(),
			})
		}
		if err := cs.saveLocked(); err != nil {
			logger.WarnCF("cron", "Failed to persist job state", map[string]any{
				"id":    job.ID,
				"error": err.Error(),
			})
		}
		cs.mu.Unlock()
	}
}

func computeNextRun(schedule CronSchedule, from time.Time) (int64, error) {
	switch schedule.Kind {
	case "at":
		if schedule.AtMS == nil {
			return 0, fmt.Errorf("'at' schedule requires at_ms")
		}
		return *schedule.AtMS, nil

	case "every":
		if schedule.EveryMS == nil || *schedule.EveryMS <= 0 {
			return 0, fmt.Errorf("'every' schedule requires a positive every_ms")
		}
		return from.UnixMilli() + *schedule.EveryMS, nil

	case "cron":
		if schedule.Expr == "" {
			return 0, fmt.Errorf("'cron' schedule requires expr")
		}
		if !gronx.New().IsValid(schedule.Expr) {
			return 0, fmt.Errorf("invalid cron expression %q", schedule.Expr)
		}
		ref := from
		if schedule.TZ != "" {
			loc, err := time.LoadLocation(schedule.TZ)
			if err != nil {
				return 0, fmt.Errorf("invalid timezone: %w", err)
			}
			ref = ref.In(loc)
		}
		next, err := gronx.NextTickAfter(schedule.Expr, ref, false)
		if err != nil {
			return 0, fmt.Errorf("compute next run: %w", err)
		}
		return next.UnixMilli(), nil

	default:
		return 0, fmt.Errorf("unknown schedule kind %q", schedule.Kind)
	}
}

func (cs *CronService) load() {
	data, err := os.ReadFile(cs.storePath)
	if err != nil {
		return
	}
	var store cronStore
	if err := json.Unmarshal(data, &store); err != nil {
		logger.WarnCF("cron", "Failed to parse cron store, starting empty", map[string]any{
			"path":  cs.storePath,
			"error": err.Error(),
		})
		return
	}
	for _, job := range store.Jobs {
		cs.jobs[job.ID] = job
	}
}

func (cs *CronService) saveLocked() error {
	store := cronStore{Version: storeVersion}
	for _, job := range cs.jobs {
		store.Jobs = append(store.Jobs, job)
	}
	sort.Slice(store.Jobs, func(i, j int) bool {
		return store.Jobs[i].CreatedAtMS < store.Jobs[j].CreatedAtMS
	})

	data, err := json.MarshalIndent(store, "", "  ")
	if err != nil {
		return fmt.Errorf("encode cron store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(cs.storePath), 0o755); err != nil {
		return fmt.Errorf("create cron dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(cs.storePath), "jobs-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp store: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			os.Remove(tmpPath)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write cron store: %w", err)
	}
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		return fmt.Errorf("chmod cron store: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close cron store: %w", err)
	}
	if err := os.Rename(tmpPath, cs.storePath); err != nil {
		return fmt.Errorf("replace cron store: %w", err)
	}
	cleanup = false
	return nil
}
