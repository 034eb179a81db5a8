//
// Copyright (c) 2022-2024 Winlin
//
// SPDX-License-Identifier: MIT
//
package main

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path"
	"time"

	"github.com/google/uuid"
	"github.com/ossrs/go-oryx-lib/logger"
)

// The fixed sample rate of normalized audio, which Whisper prefers.
const normalizedSampleRate = 16000

// normalizeToWav convert any audio or video file to mono 16kHz s16 WAV, the
// normalized form the pipeline chunks and transcribes.
func normalizeToWav(ctx context.Context, inputPath, outputPath string) error {
	starttime := time.Now()

	args := []string{
		"-nostdin", "-i", inputPath,
		"-vn", "-acodec", "pcm_s16le", "-ac", "1", "-ar", fmt.Sprintf("%v", normalizedSampleRate),
		"-y", outputPath,
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return &NormalizationError{
			Message: fmt.Sprintf("ffmpeg %v: %v", args, err),
			Stderr:  stderr.String(),
		}
	}

	stats, err := os.Stat(outputPath)
	if err != nil {
		return &NormalizationError{Message: fmt.Sprintf("output %v not found", outputPath)}
	}

	logger.Tf(ctx, "normalize %v to %v ok, size=%v, cost=%v",
		inputPath, outputPath, stats.Size(), time.Since(starttime))
	return nil
}

// normalizeAndLoad normalize the source file and load the result fully into an
// in-memory AudioBuffer. The intermediate WAV lives in workDir and is removed
// before returning; chunk payloads never touch the filesystem.
func normalizeAndLoad(ctx context.Context, inputPath, workDir string) (*AudioBuffer, error) {
	outputPath := path.Join(workDir, fmt.Sprintf("%v.wav", uuid.NewString()))
	defer os.Remove(outputPath)

	if err := normalizeToWav(ctx, inputPath, outputPath); err != nil {
		return nil, err
	}

	data, err := ioutil.ReadFile(outputPath)
	if err != nil {
		return nil, &NormalizationError{Message: fmt.Sprintf("read %v: %v", outputPath, err)}
	}

	return ParseWavAudio(data)
}
