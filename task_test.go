package main

import (
	"testing"
	"time"
)

func TestTask_ApplyTransitionLifecycle(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	task := &TranscriptionTask{UUID: "t1", Status: TaskStatusPending}
	if applied, err := applyTransition(task, TaskStatusRunning, now); err != nil {
		t.Errorf("Fail for err %+v", err)
		return
	} else if !applied {
		t.Errorf("start should apply")
		return
	}
	if task.Status != TaskStatusRunning {
		t.Errorf("status failed, expect %v, actual %v", TaskStatusRunning, task.Status)
	}
	if expect := now.Format(time.RFC3339); task.StartedAt != expect {
		t.Errorf("started_at failed, expect %v, actual %v", expect, task.StartedAt)
	}

	finish := now.Add(time.Minute)
	if applied, err := applyTransition(task, TaskStatusSuccess, finish); err != nil {
		t.Errorf("Fail for err %+v", err)
		return
	} else if !applied {
		t.Errorf("complete should apply")
		return
	}
	if task.Status != TaskStatusSuccess {
		t.Errorf("status failed, expect %v, actual %v", TaskStatusSuccess, task.Status)
	}
	if expect := finish.Format(time.RFC3339); task.FinishedAt != expect {
		t.Errorf("finished_at failed, expect %v, actual %v", expect, task.FinishedAt)
	}
}

func TestTask_ApplyTransitionTerminalIdempotent(t *testing.T) {
	now := time.Now()

	// A late result or failure for an already terminal task is a silent no-op,
	// and never overwrites the recorded outcome.
	for _, from := range []TaskStatus{TaskStatusSuccess, TaskStatusFailed} {
		for _, to := range []TaskStatus{TaskStatusSuccess, TaskStatusFailed} {
			task := &TranscriptionTask{UUID: "t1", Status: from, FinishedAt: "2024-05-01T12:00:00Z"}
			applied, err := applyTransition(task, to, now)
			if err != nil {
				t.Errorf("transition %v to %v failed, err %+v", from, to, err)
				continue
			}
			if applied {
				t.Errorf("transition %v to %v should not apply", from, to)
			}
			if task.Status != from {
				t.Errorf("transition %v to %v mutated status to %v", from, to, task.Status)
			}
			if task.FinishedAt != "2024-05-01T12:00:00Z" {
				t.Errorf("transition %v to %v mutated finished_at to %v", from, to, task.FinishedAt)
			}
		}
	}
}

func TestTask_ApplyTransitionInvalid(t *testing.T) {
	now := time.Now()

	samples := []struct {
		from TaskStatus
		to   TaskStatus
	}{
		{from: TaskStatusPending, to: TaskStatusSuccess},
		{from: TaskStatusPending, to: TaskStatusFailed},
		{from: TaskStatusRunning, to: TaskStatusRunning},
		{from: TaskStatusSuccess, to: TaskStatusRunning},
		{from: TaskStatusFailed, to: TaskStatusRunning},
	}
	for _, sample := range samples {
		task := &TranscriptionTask{UUID: "t1", Status: sample.from}
		if _, err := applyTransition(task, sample.to, now); err == nil {
			t.Errorf("transition %v to %v should fail", sample.from, sample.to)
		} else if _, ok := err.(*InvalidTransitionError); !ok {
			t.Errorf("transition %v to %v expect InvalidTransitionError, actual %+v", sample.from, sample.to, err)
		}
	}
}

func TestTask_RunningBefore(t *testing.T) {
	cutoff := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	samples := []struct {
		status    TaskStatus
		startedAt string
		stuck     bool
	}{
		{status: TaskStatusRunning, startedAt: "2024-05-01T10:00:00Z", stuck: true},
		{status: TaskStatusRunning, startedAt: "2024-05-01T11:59:59Z", stuck: true},
		{status: TaskStatusRunning, startedAt: "2024-05-01T12:00:01Z", stuck: false},
		{status: TaskStatusPending, startedAt: "2024-05-01T10:00:00Z", stuck: false},
		{status: TaskStatusSuccess, startedAt: "2024-05-01T10:00:00Z", stuck: false},
		{status: TaskStatusFailed, startedAt: "2024-05-01T10:00:00Z", stuck: false},
	}
	for _, sample := range samples {
		task := &TranscriptionTask{UUID: "t1", Status: sample.status, StartedAt: sample.startedAt}
		stuck, err := taskRunningBefore(task, cutoff)
		if err != nil {
			t.Errorf("check %v/%v failed, err %+v", sample.status, sample.startedAt, err)
			continue
		}
		if stuck != sample.stuck {
			t.Errorf("check %v/%v failed, expect %v, actual %v", sample.status, sample.startedAt, sample.stuck, stuck)
		}
	}
}

func TestTask_RunningBeforeBadTimestamp(t *testing.T) {
	task := &TranscriptionTask{UUID: "t1", Status: TaskStatusRunning, StartedAt: "not-a-time"}
	if _, err := taskRunningBefore(task, time.Now()); err == nil {
		t.Errorf("check should fail for bad timestamp")
	}
}
