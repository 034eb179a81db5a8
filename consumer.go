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
	"io"
	"io/ioutil"
	"net/http"
	"os"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/ossrs/go-oryx-lib/logger"
)

var consumerWorker *ConsumerWorker

// TaskMessage is one inbound work item from the task stream, delivered at least
// once. The raw JSON is stored verbatim on the task record for audit.
type TaskMessage struct {
	// The unique id for task, assigned by the requester.
	TaskUUID string `json:"task_uuid"`
	// The name of the source file.
	FileName string `json:"file_name"`
	// The URL to download the source file from.
	DownloadURL string `json:"download_url"`
	// The bearer token for downloading the source file.
	Token string `json:"token,omitempty"`
	// The language of the source audio, optional.
	Language string `json:"language,omitempty"`
	// The model for speech to text, optional, overrides the config.
	Model string `json:"model,omitempty"`
	// The callback destination when the task completes.
	OnCompleted struct {
		// The outbound stream to publish the callback to.
		Stream string `json:"stream"`
		Data   struct {
			// The correlation id for the original requester.
			ClientID string `json:"client_id"`
		} `json:"data"`
	} `json:"on_completed"`
}

func (v *TaskMessage) String() string {
	return fmt.Sprintf("task=%v, file=%v, url=%v, token=%vB, lang=%v, model=%v, callback=%v, client=%v",
		v.TaskUUID, v.FileName, v.DownloadURL, len(v.Token), v.Language, v.Model,
		v.OnCompleted.Stream, v.OnCompleted.Data.ClientID)
}

// CallbackMessage is the one message published per completed task, success or
// failure, with enough correlation data for the requester to match it.
type CallbackMessage struct {
	TaskUUID string `json:"task_uuid"`
	ClientID string `json:"client_id"`
	// The artifact id of the uploaded subtitle document.
	FileID string `json:"file_id,omitempty"`
	// The name of the produced subtitle file.
	FileName string `json:"file_name,omitempty"`
	// The name of the source file.
	SourceFileName string `json:"source_file_name"`
	// The error detail when the task failed.
	Error string `json:"error,omitempty"`
}

// ConsumerWorker pull task messages from the inbound redis stream, one at a
// time, drives the pipeline for each, and publishes the outbound callback.
type ConsumerWorker struct {
	cancel context.CancelFunc
	wg     sync.WaitGroup

	store *TaskStore
}

func NewConsumerWorker(store *TaskStore) *ConsumerWorker {
	return &ConsumerWorker{store: store}
}

func (v *ConsumerWorker) Close() error {
	if v.cancel != nil {
		v.cancel()
	}
	v.wg.Wait()
	return nil
}

func (v *ConsumerWorker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	v.cancel = cancel

	ctx = logger.WithContext(ctx)
	logger.Tf(ctx, "consumer start a worker, stream=%v, group=%v, consumer=%v",
		envInboundStream(), envConsumerGroup(), envConsumerName())

	// Create the consumer group at the beginning of the stream. It may survive
	// a previous run of the service.
	if err := rdb.XGroupCreateMkStream(ctx, envInboundStream(), envConsumerGroup(), "0").Err(); err != nil {
		if !strings.Contains(err.Error(), "BUSYGROUP") {
			return errors.Wrapf(err, "create group %v of %v", envConsumerGroup(), envInboundStream())
		}
	}

	v.wg.Add(1)
	go func() {
		defer v.wg.Done()

		for ctx.Err() == nil {
			if err := v.consumeOnce(ctx); err != nil {
				logger.Wf(ctx, "consumer: ignore err %+v", err)

				select {
				case <-ctx.Done():
				case <-time.After(3 * time.Second):
				}
			}
		}
	}()

	return nil
}

func (v *ConsumerWorker) consumeOnce(ctx context.Context) error {
	streams, err := rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    envConsumerGroup(),
		Consumer: envConsumerName(),
		Streams:  []string{envInboundStream(), ">"},
		Count:    1,
		Block:    5 * time.Second,
	}).Result()
	if err == redis.Nil {
		return nil
	}
	if err != nil {
		return errors.Wrapf(err, "xreadgroup %v", envInboundStream())
	}

	for _, stream := range streams {
		for _, message := range stream.Messages {
			// Ack first, duplicates are already handled by idempotent task records.
			if err := rdb.XAck(ctx, stream.Stream, envConsumerGroup(), message.ID).Err(); err != nil {
				return errors.Wrapf(err, "xack %v %v", stream.Stream, message.ID)
			}

			if err := v.handleMessage(ctx, &message); err != nil {
				logger.Wf(ctx, "consumer: handle message %v err %+v", message.ID, err)
			}
		}
	}
	return nil
}

func (v *ConsumerWorker) handleMessage(ctx context.Context, message *redis.XMessage) error {
	data, ok := message.Values["data"].(string)
	if !ok {
		return errors.Errorf("no data field in %v", message.ID)
	}

	var msg TaskMessage
	if err := json.Unmarshal([]byte(data), &msg); err != nil {
		return errors.Wrapf(err, "unmarshal %v", data)
	}
	if msg.TaskUUID == "" {
		return errors.Errorf("no task uuid in %v", data)
	}

	// Idempotent ingestion, a redelivered message finds its record and is skipped.
	task := &TranscriptionTask{
		UUID:            msg.TaskUUID,
		SourceReference: msg.DownloadURL,
		InputPayload:    json.RawMessage(data),
	}
	if err := v.store.Create(ctx, task); err != nil {
		if _, ok := errors.Cause(err).(*DuplicateTaskError); ok {
			logger.Tf(ctx, "consumer: skip duplicate task %v, message=%v", msg.TaskUUID, message.ID)
			return nil
		}
		return errors.Wrapf(err, "create task %v", msg.TaskUUID)
	}
	logger.Tf(ctx, "consumer: accept task <%v>, message=%v", msg.String(), message.ID)

	return v.processTask(ctx, &msg)
}

func (v *ConsumerWorker) processTask(ctx context.Context, msg *TaskMessage) error {
	if err := v.store.Start(ctx, msg.TaskUUID); err != nil {
		return errors.Wrapf(err, "start task %v", msg.TaskUUID)
	}

	callback, err := v.runPipeline(ctx, msg)
	if err != nil {
		logger.Wf(ctx, "consumer: task %v failed, err %+v", msg.TaskUUID, err)

		// Record the error verbatim, then notify the requester so it's not left
		// waiting. A task the monitor already failed is left untouched.
		if applied, err2 := v.store.Fail(ctx, msg.TaskUUID, fmt.Sprintf("%v", err)); err2 != nil {
			return errors.Wrapf(err2, "fail task %v", msg.TaskUUID)
		} else if !applied {
			logger.Wf(ctx, "consumer: task %v already terminal, ignore failure", msg.TaskUUID)
			return nil
		}

		callback = &CallbackMessage{
			TaskUUID:       msg.TaskUUID,
			ClientID:       msg.OnCompleted.Data.ClientID,
			SourceFileName: msg.FileName,
			Error:          fmt.Sprintf("%v", err),
		}
		return v.publishCallback(ctx, msg.OnCompleted.Stream, callback)
	}

	result, err := json.Marshal(callback)
	if err != nil {
		return errors.Wrapf(err, "marshal callback %v", callback)
	}

	if applied, err := v.store.Complete(ctx, msg.TaskUUID, result); err != nil {
		return errors.Wrapf(err, "complete task %v", msg.TaskUUID)
	} else if !applied {
		// The monitor timed the task out while it was finishing, whichever write
		// lands first wins. Do not signal success for a failed record.
		logger.Wf(ctx, "consumer: task %v already terminal, drop late result", msg.TaskUUID)
		return nil
	}

	return v.publishCallback(ctx, msg.OnCompleted.Stream, callback)
}

func (v *ConsumerWorker) runPipeline(ctx context.Context, msg *TaskMessage) (*CallbackMessage, error) {
	workDir, err := ioutil.TempDir("", "transcriber-")
	if err != nil {
		return nil, errors.Wrapf(err, "create work dir")
	}
	defer os.RemoveAll(workDir)

	// Download the source file.
	fileName := msg.FileName
	if fileName == "" {
		fileName = "source"
	}
	inputPath := path.Join(workDir, fileName)
	if err := downloadFile(ctx, msg.DownloadURL, msg.Token, inputPath); err != nil {
		return nil, errors.Wrapf(err, "download %v", msg.DownloadURL)
	}

	// Normalize and load into memory.
	buf, err := normalizeAndLoad(ctx, inputPath, workDir)
	if err != nil {
		return nil, err
	}

	// Transcribe the buffer to a subtitle document.
	var config AsrConfig
	if err := config.Load(ctx); err != nil {
		return nil, errors.Wrapf(err, "load asr config")
	}
	if msg.Model != "" {
		config.Model = msg.Model
	}
	if msg.Language != "" {
		config.Language = msg.Language
	}

	doc, err := TranscribeBuffer(ctx, NewOpenAITranscriber(config), buf, loadTranscribeOptions())
	if err != nil {
		return nil, err
	}

	// Upload the SRT artifact, referenced by the callback.
	base := strings.TrimSuffix(fileName, path.Ext(fileName))
	srtFileName := fmt.Sprintf("%v.srt", base)

	var fileID string
	if artifactStore.Ready() {
		if fileID, err = artifactStore.Upload(ctx, msg.TaskUUID, srtFileName, []byte(doc.ComposeSRT())); err != nil {
			return nil, errors.Wrapf(err, "upload %v", srtFileName)
		}
	} else {
		logger.Wf(ctx, "consumer: artifact store not ready, skip upload for task %v", msg.TaskUUID)
	}

	return &CallbackMessage{
		TaskUUID:       msg.TaskUUID,
		ClientID:       msg.OnCompleted.Data.ClientID,
		FileID:         fileID,
		FileName:       srtFileName,
		SourceFileName: msg.FileName,
	}, nil
}

func (v *ConsumerWorker) publishCallback(ctx context.Context, stream string, callback *CallbackMessage) error {
	if stream == "" {
		logger.Wf(ctx, "consumer: no callback stream for task %v, skip publish", callback.TaskUUID)
		return nil
	}

	b, err := json.Marshal(callback)
	if err != nil {
		return errors.Wrapf(err, "marshal callback %v", callback)
	}

	entryID, err := rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		Values: map[string]interface{}{
			"data":   string(b),
			"source": envConsumerName(),
		},
	}).Result()
	if err != nil {
		return errors.Wrapf(err, "xadd %v %v", stream, string(b))
	}

	logger.Tf(ctx, "consumer: publish callback ok, task=%v, stream=%v, entry=%v", callback.TaskUUID, stream, entryID)
	return nil
}

// downloadFile fetch the source file with an optional bearer token.
func downloadFile(ctx context.Context, url, token, destPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return errors.Wrapf(err, "request %v", url)
	}
	if token != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %v", token))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrapf(err, "get %v", url)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("get %v status %v", url, resp.StatusCode)
	}

	f, err := os.Create(destPath)
	if err != nil {
		return errors.Wrapf(err, "create %v", destPath)
	}
	defer f.Close()

	if _, err := io.Copy(f, resp.Body); err != nil {
		return errors.Wrapf(err, "write %v", destPath)
	}
	return nil
}
