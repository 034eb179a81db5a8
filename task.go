//
// Copyright (c) 2022-2024 Winlin
//
// SPDX-License-Identifier: MIT
//
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ossrs/go-oryx-lib/errors"
)

// TaskStatus is the lifecycle state of a transcription task.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "Pending"
	TaskStatusRunning TaskStatus = "Running"
	TaskStatusSuccess TaskStatus = "Success"
	TaskStatusFailed  TaskStatus = "Failed"
)

// Terminal report whether no further transitions are permitted.
func (v TaskStatus) Terminal() bool {
	return v == TaskStatusSuccess || v == TaskStatusFailed
}

// TranscriptionTask is one unit of asynchronous work, source file to subtitle
// result. Records are never deleted, they are retained for audit.
type TranscriptionTask struct {
	// The unique id for task, caller or system assigned.
	UUID string `json:"uuid"`
	// The download locator of the source file.
	SourceReference string `json:"source"`
	// The lifecycle state.
	Status TaskStatus `json:"status"`
	// The inbound message payload, stored verbatim for audit and replay.
	InputPayload json.RawMessage `json:"input,omitempty"`
	// The result on Success, opaque to the store.
	Result json.RawMessage `json:"result,omitempty"`
	// The error detail on Failed.
	Error string `json:"error,omitempty"`
	// When the task was accepted from the inbound stream.
	CreatedAt string `json:"created_at,omitempty"`
	// When the task transitioned to Running.
	StartedAt string `json:"started_at,omitempty"`
	// When the task reached a terminal state.
	FinishedAt string `json:"finished_at,omitempty"`
}

func (v *TranscriptionTask) String() string {
	return fmt.Sprintf("uuid=%v, source=%v, status=%v, input=%vB, result=%vB, error=%v",
		v.UUID, v.SourceReference, v.Status, len(v.InputPayload), len(v.Result), v.Error)
}

// applyTransition mutate the task to the target status, recording timestamps.
// A duplicate completion signal for an already terminal task is a no-op, not an
// error, so a late pipeline result racing the monitor simply loses.
func applyTransition(task *TranscriptionTask, to TaskStatus, now time.Time) (bool, error) {
	if task.Status.Terminal() {
		if to.Terminal() {
			return false, nil
		}
		return false, &InvalidTransitionError{UUID: task.UUID, From: task.Status, To: to}
	}

	switch {
	case task.Status == TaskStatusPending && to == TaskStatusRunning:
		task.Status = to
		task.StartedAt = now.UTC().Format(time.RFC3339)
	case task.Status == TaskStatusRunning && to.Terminal():
		task.Status = to
		task.FinishedAt = now.UTC().Format(time.RFC3339)
	default:
		return false, &InvalidTransitionError{UUID: task.UUID, From: task.Status, To: to}
	}
	return true, nil
}

// TaskStore persist task records in a redis hash, one field per task. Status
// transitions are single conditional writes, transition only if the current
// state matches the expected prior state, so the pipeline driver and the stuck
// task monitor never interleave a transition for the same task.
type TaskStore struct {
	key string
}

func NewTaskStore() *TaskStore {
	return &TaskStore{key: TRANSCRIBER_TASK}
}

// Create insert a new Pending task, or DuplicateTaskError if the id exists.
func (v *TaskStore) Create(ctx context.Context, task *TranscriptionTask) error {
	task.Status = TaskStatusPending
	task.CreatedAt = time.Now().UTC().Format(time.RFC3339)

	b, err := json.Marshal(task)
	if err != nil {
		return errors.Wrapf(err, "marshal task %v", task.String())
	}

	ok, err := rdb.HSetNX(ctx, v.key, task.UUID, string(b)).Result()
	if err != nil {
		return errors.Wrapf(err, "hsetnx %v %v", v.key, task.UUID)
	}
	if !ok {
		return &DuplicateTaskError{UUID: task.UUID}
	}
	return nil
}

// Query load one task by id, or nil if not exists.
func (v *TaskStore) Query(ctx context.Context, uuid string) (*TranscriptionTask, error) {
	b, err := rdb.HGet(ctx, v.key, uuid).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrapf(err, "hget %v %v", v.key, uuid)
	}

	var task TranscriptionTask
	if err := json.Unmarshal([]byte(b), &task); err != nil {
		return nil, errors.Wrapf(err, "unmarshal %v", b)
	}
	return &task, nil
}

// Start transition Pending to Running, recording started_at.
func (v *TaskStore) Start(ctx context.Context, uuid string) error {
	_, err := v.transition(ctx, uuid, TaskStatusRunning, nil)
	return err
}

// Complete transition Running to Success, recording the result and finished_at.
// It reports whether the write landed, false when the task was already terminal.
func (v *TaskStore) Complete(ctx context.Context, uuid string, result json.RawMessage) (bool, error) {
	return v.transition(ctx, uuid, TaskStatusSuccess, func(task *TranscriptionTask) {
		task.Result = result
	})
}

// Fail transition Running to Failed, recording the error verbatim for diagnosis.
// It reports whether the write landed, false when the task was already terminal.
func (v *TaskStore) Fail(ctx context.Context, uuid string, cause string) (bool, error) {
	return v.transition(ctx, uuid, TaskStatusFailed, func(task *TranscriptionTask) {
		task.Error = cause
	})
}

// ListRunningBefore query all tasks in Running whose started_at is older than
// the cutoff, for the stuck task monitor.
func (v *TaskStore) ListRunningBefore(ctx context.Context, cutoff time.Time) ([]*TranscriptionTask, error) {
	objs, err := rdb.HGetAll(ctx, v.key).Result()
	if err != nil && err != redis.Nil {
		return nil, errors.Wrapf(err, "hgetall %v", v.key)
	}

	var tasks []*TranscriptionTask
	for uuid, obj := range objs {
		var task TranscriptionTask
		if err := json.Unmarshal([]byte(obj), &task); err != nil {
			return nil, errors.Wrapf(err, "unmarshal %v %v", uuid, obj)
		}

		if stuck, err := taskRunningBefore(&task, cutoff); err != nil {
			return nil, errors.Wrapf(err, "check %v", uuid)
		} else if stuck {
			tasks = append(tasks, &task)
		}
	}
	return tasks, nil
}

// taskRunningBefore report whether the task is in Running and started before
// the cutoff instant.
func taskRunningBefore(task *TranscriptionTask, cutoff time.Time) (bool, error) {
	if task.Status != TaskStatusRunning {
		return false, nil
	}

	startedAt, err := time.Parse(time.RFC3339, task.StartedAt)
	if err != nil {
		return false, errors.Wrapf(err, "parse %v", task.StartedAt)
	}
	return startedAt.Before(cutoff), nil
}

func (v *TaskStore) transition(ctx context.Context, uuid string, to TaskStatus, mutate func(*TranscriptionTask)) (bool, error) {
	var applied bool

	txf := func(tx *redis.Tx) error {
		b, err := tx.HGet(ctx, v.key, uuid).Result()
		if err == redis.Nil {
			return errors.Errorf("no task %v", uuid)
		}
		if err != nil {
			return errors.Wrapf(err, "hget %v %v", v.key, uuid)
		}

		var task TranscriptionTask
		if err := json.Unmarshal([]byte(b), &task); err != nil {
			return errors.Wrapf(err, "unmarshal %v", b)
		}

		if applied, err = applyTransition(&task, to, time.Now()); err != nil {
			return err
		}
		if !applied {
			return nil
		}
		if mutate != nil {
			mutate(&task)
		}

		nb, err := json.Marshal(&task)
		if err != nil {
			return errors.Wrapf(err, "marshal task %v", task.String())
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, v.key, uuid, string(nb))
			return nil
		})
		return err
	}

	// Retry on optimistic lock conflict, which only happens when another writer
	// touched the hash between the read and the write.
	for i := 0; i < 16; i++ {
		err := rdb.Watch(ctx, txf, v.key)
		if err == redis.TxFailedErr {
			continue
		}
		return applied, err
	}
	return false, errors.Errorf("transition %v to %v conflicted", uuid, to)
}
