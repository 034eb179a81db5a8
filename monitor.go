//
// Copyright (c) 2022-2024 Winlin
//
// SPDX-License-Identifier: MIT
//
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
)

var monitorWorker *MonitorWorker

// MonitorWorker periodically sweeps for tasks stuck in Running past the timeout
// and force-fails them. It's a liveness safety net, not a cancellation
// mechanism, the in-flight work is not stopped, only the record is marked so
// downstream consumers stop waiting on it.
type MonitorWorker struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup

	store *TaskStore
}

func NewMonitorWorker(store *TaskStore) *MonitorWorker {
	return &MonitorWorker{store: store}
}

func (v *MonitorWorker) Close() error {
	if v.cancel != nil {
		v.cancel()
	}
	v.wg.Wait()
	return nil
}

func (v *MonitorWorker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel

	ctx = logger.WithContext(ctx)
	logger.Tf(ctx, "monitor start a worker, interval=%v, timeout=%v",
		envStuckCheckInterval(), envStuckTaskTimeout())

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()

		for {
			select {
			case <-ctx.Done():
				return
			case <-time.After(envStuckCheckInterval()):
			}

			if err := v.sweepOnce(ctx); err != nil {
				logger.Wf(ctx, "monitor: ignore err %+v", err)
			}
		}
	}()

	return nil
}

func (v *MonitorWorker) sweepOnce(ctx context.Context) error {
	timeout := envStuckTaskTimeout()
	cutoff := time.Now().Add(-timeout)

	tasks, err := v.store.ListRunningBefore(ctx, cutoff)
	if err != nil {
		return errors.Wrapf(err, "list running before %v", cutoff)
	}
	if len(tasks) == 0 {
		return nil
	}
	logger.Wf(ctx, "monitor: found %v stuck tasks, running longer than %v", len(tasks), timeout)

	for _, task := range tasks {
		cause := fmt.Sprintf("task stuck in Running for more than %v", timeout)

		// Force the terminal state with the same conditional transition the
		// pipeline uses, a race with a genuinely completing task simply loses.
		applied, err := v.store.Fail(ctx, task.UUID, cause)
		if err != nil {
			logger.Wf(ctx, "monitor: fail task %v err %+v", task.UUID, err)
			continue
		}
		if !applied {
			logger.Tf(ctx, "monitor: task %v finished while sweeping, skip", task.UUID)
			continue
		}

		logger.Wf(ctx, "monitor: force-failed stuck task %v, started_at=%v", task.UUID, task.StartedAt)
		if err := notifyStuckTask(ctx, task, cause); err != nil {
			logger.Wf(ctx, "monitor: notify task %v err %+v", task.UUID, err)
		}
	}
	return nil
}

// notifyStuckTask post one operational notification per newly failed task to
// the configured webhook, if any.
func notifyStuckTask(ctx context.Context, task *TranscriptionTask, cause string) error {
	webhook := envNotifyWebhook()
	if webhook == "" {
		return nil
	}

	b, err := json.Marshal(&struct {
		Event     string `json:"event"`
		TaskUUID  string `json:"task_uuid"`
		StartedAt string `json:"started_at"`
		Cause     string `json:"cause"`
	}{
		Event: "stuck_task", TaskUUID: task.UUID, StartedAt: task.StartedAt, Cause: cause,
	})
	if err != nil {
		return errors.Wrapf(err, "marshal notification for %v", task.UUID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhook, bytes.NewReader(b))
	if err != nil {
		return errors.Wrapf(err, "request %v", webhook)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "post %v", webhook)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("post %v status %v", webhook, resp.StatusCode)
	}

	logger.Tf(ctx, "monitor: notify stuck task %v ok", task.UUID)
	return nil
}
