package cron

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

func TestAddJobWritesPrivatePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("file permission bits are not reliable on windows")
	}

	storePath := filepath.Join(t.TempDir(), "cron", "jobs.json")
	cs := NewCronService(storePath, nil)

	everyMS := int64(60000)
	schedule := CronSchedule{Kind: "every", EveryMS: &everyMS}

	if _, err := cs.AddJob("perm-test", schedule, "hello", true, "cli", "direct"); err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	info, err := os.Stat(storePath)
	if err != nil {
		t.Fatalf("stat cron store: %v", err)
	}
	if got := info.Mode().Perm(); got != 0o600 {
		t.Fatalf("cron store perms = %o, want 600", got)
	}
}

func TestAddJobPersistsAcrossReload(t *testing.T) {
	storePath := filepath.Join(t.TempDir(), "jobs.json")
	cs := NewCronService(storePath, nil)

	everyMS := int64(60000)
	job, err := cs.AddJob("reload-test", CronSchedule{Kind: "every", EveryMS: &everyMS}, "ping", true, "cli", "direct")
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	reloaded := NewCronService(storePath, nil)
	jobs := reloaded.ListJobs(true)
	if len(jobs) != 1 {
		t.Fatalf("reloaded %d jobs, want 1", len(jobs))
	}
	if jobs[0].ID != job.ID || jobs[0].Message != "ping" {
		t.Errorf("reloaded job = %+v", jobs[0])
	}
}

func TestRemoveJob(t *testing.T) {
	cs := NewCronService(filepath.Join(t.TempDir(), "jobs.json"), nil)

	everyMS := int64(1000)
	job, err := cs.AddJob("rm", CronSchedule{Kind: "every", EveryMS: &everyMS}, "x", true, "cli", "direct")
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	if !cs.RemoveJob(job.ID) {
		t.Error("RemoveJob returned false for existing job")
	}
	if cs.RemoveJob(job.ID) {
		t.Error("RemoveJob returned true for deleted job")
	}
}

func TestRunDueJobs_OneShotDisablesAfterFiring(t *testing.T) {
	cs := NewCronService(filepath.Join(t.TempDir(), "jobs.json"), nil)

	fired := 0
	cs.SetOnJob(func(job *CronJob) (string, error) {
		fired++
		return "ok", nil
	})

	past := time.Now().Add(-time.Minute).UnixMilli()
	job, err := cs.AddJob("once", CronSchedule{Kind: "at", AtMS: &past}, "reminder", true, "cli", "direct")
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	cs.runDueJobs(time.Now())
	if fired != 1 {
		t.Fatalf("fired %d times, want 1", fired)
	}

	cs.runDueJobs(time.Now())
	if fired != 1 {
		t.Errorf("one-shot job fired again, total %d", fired)
	}

	jobs := cs.ListJobs(true)
	if len(jobs) != 1 || jobs[0].ID != job.ID {
		t.Fatalf("unexpected job list: %+v", jobs)
	}
	if jobs[0].Enabled {
		t.Error("one-shot job still enabled after firing")
	}
}

func TestRunDueJobs_RecurringReschedules(t *testing.T) {
	cs := NewCronService(filepath.Join(t.TempDir(), "jobs.json"), nil)
	cs.SetOnJob(func(job *CronJob) (string, error) { return "ok", nil })

	everyMS := int64(60000)
	job, err := cs.AddJob("recurring", CronSchedule{Kind: "every", EveryMS: &everyMS}, "tick", true, "cli", "direct")
	if err != nil {
		t.Fatalf("AddJob failed: %v", err)
	}

	// Force the job due.
	due := time.Now().Add(-time.Second).UnixMilli()
	job.State.NextRunAtMS = &due

	now := time.Now()
	cs.runDueJobs(now)

	if job.State.NextRunAtMS == nil {
		t.Fatal("recurring job lost its next run time")
	}
	if *job.State.NextRunAtMS <= now.UnixMilli() {
		t.Errorf("next run %d not in the future of %d", *job.State.NextRunAtMS, now.UnixMilli())
	}
	if !job.Enabled {
		t.Error("recurring job was disabled")
	}
}

func TestComputeNextRun(t *testing.T) {
	from := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)

	t.Run("cron expression", func(t *testing.T) {
		next, err := computeNextRun(CronSchedule{Kind: "cron", Expr: "0 9 * * *"}, from)
		if err != nil {
			t.Fatalf("computeNextRun error = %v", err)
		}
		nextTime := time.UnixMilli(next).UTC()
		if nextTime.Hour() != 9 || nextTime.Minute() != 0 {
			t.Errorf("next = %v, want 09:00", nextTime)
		}
		if !nextTime.After(from) {
			t.Errorf("next %v not after %v", nextTime, from)
		}
	})

	t.Run("invalid cron expression", func(t *testing.T) {
		if _, err := computeNextRun(CronSchedule{Kind: "cron", Expr: "not a cron"}, from); err == nil {
			t.Error("expected error for invalid expression")
		}
	})

	t.Run("every interval", func(t *testing.T) {
		everyMS := int64(5000)
		next, err := computeNextRun(CronSchedule{Kind: "every", EveryMS: &everyMS}, from)
		if err != nil {
			t.Fatalf("computeNextRun error = %v", err)
		}
		if next != from.UnixMilli()+5000 {
			t.Errorf("next = %d, want %d", next, from.UnixMilli()+5000)
		}
	})

	t.Run("unknown kind", func(t *testing.T) {
		if _, err := computeNextRun(CronSchedule{Kind: "sometimes"}, from); err == nil {
			t.Error("expected error for unknown kind")
		}
	})
}
