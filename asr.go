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
	"net"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/ossrs/go-oryx-lib/errors"
	"github.com/sashabaranov/go-openai"
)

// Transcriber convert one encoded audio segment to cues with chunk-local
// timestamps. It's the seam to the remote ASR service, so tests substitute a
// deterministic double without touching dispatch or reassembly.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, data []byte) ([]SubtitleCue, error)
}

// AsrConfig is the ASR service configuration, persisted in redis.
type AsrConfig struct {
	// The secret key for AI service.
	SecretKey string `json:"secretKey"`
	// The base URL for AI service.
	BaseURL string `json:"baseURL"`
	// The model for speech to text, for example, whisper-1.
	Model string `json:"model"`
	// The language of the source audio.
	Language string `json:"lang"`
}

func (v AsrConfig) String() string {
	return fmt.Sprintf("key=%vB, base=%v, model=%v, lang=%v",
		len(v.SecretKey), v.BaseURL, v.Model, v.Language)
}

func (v *AsrConfig) Load(ctx context.Context) error {
	if b, err := rdb.HGet(ctx, TRANSCRIBER_ASR_CONFIG, "global").Result(); err != nil && err != redis.Nil {
		return errors.Wrapf(err, "hget %v global", TRANSCRIBER_ASR_CONFIG)
	} else if len(b) > 0 {
		if err := json.Unmarshal([]byte(b), v); err != nil {
			return errors.Wrapf(err, "unmarshal %v", b)
		}
	}

	// Fallback to env for the unset fields.
	if v.SecretKey == "" {
		v.SecretKey = envAsrSecretKey()
	}
	if v.BaseURL == "" {
		v.BaseURL = envAsrBaseURL()
	}
	if v.Model == "" {
		v.Model = envAsrModel()
	}
	return nil
}

func (v *AsrConfig) Save(ctx context.Context) error {
	if b, err := json.Marshal(v); err != nil {
		return errors.Wrapf(err, "marshal conf %v", v)
	} else if err := rdb.HSet(ctx, TRANSCRIBER_ASR_CONFIG, "global", string(b)).Err(); err != nil && err != redis.Nil {
		return errors.Wrapf(err, "hset %v global %v", TRANSCRIBER_ASR_CONFIG, string(b))
	}
	return nil
}

type openaiTranscriber struct {
	client *openai.Client
	config AsrConfig
}

// NewOpenAITranscriber create the Whisper ASR client from config.
func NewOpenAITranscriber(config AsrConfig) Transcriber {
	aiConfig := openai.DefaultConfig(config.SecretKey)
	if config.BaseURL != "" {
		aiConfig.BaseURL = config.BaseURL
	}

	return &openaiTranscriber{
		client: openai.NewClientWithConfig(aiConfig),
		config: config,
	}
}

func (v *openaiTranscriber) Transcribe(ctx context.Context, filename string, data []byte) ([]SubtitleCue, error) {
	model := v.config.Model
	if model == "" {
		model = openai.Whisper1
	}

	// The request carries only the encoded bytes, never a filesystem path.
	resp, err := v.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    model,
		FilePath: filename,
		Reader:   bytes.NewReader(data),
		Format:   openai.AudioResponseFormatVerboseJSON,
		Language: v.config.Language,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "transcription %v, %vB", filename, len(data))
	}

	// The verbose JSON segments are the cues, with chunk-local timestamps.
	var cues []SubtitleCue
	for _, segment := range resp.Segments {
		cues = append(cues, SubtitleCue{
			Start: time.Duration(segment.Start * float64(time.Second)),
			End:   time.Duration(segment.End * float64(time.Second)),
			Text:  segment.Text,
		})
	}
	return cues, nil
}

// checkAsrModel query the configured model from the AI service, to verify the
// secret and base URL before saving a config.
func checkAsrModel(ctx context.Context, config AsrConfig) error {
	aiConfig := openai.DefaultConfig(config.SecretKey)
	if config.BaseURL != "" {
		aiConfig.BaseURL = config.BaseURL
	}

	model := config.Model
	if model == "" {
		model = openai.Whisper1
	}

	client := openai.NewClientWithConfig(aiConfig)
	if _, err := client.GetModel(ctx, model); err != nil {
		return errors.Wrapf(err, "query model %v", model)
	}
	return nil
}

// isTransientAsrError report whether the error is worth a local retry, that is
// a network error, a rate limit, or a server side failure. Auth failures and
// malformed input never recover by retrying.
func isTransientAsrError(err error) bool {
	cause := errors.Cause(err)

	if apiErr, ok := cause.(*openai.APIError); ok {
		return apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500
	}
	if reqErr, ok := cause.(*openai.RequestError); ok {
		return reqErr.HTTPStatusCode == 429 || reqErr.HTTPStatusCode >= 500
	}
	if _, ok := cause.(net.Error); ok {
		return true
	}
	return false
}
