//
// Copyright (c) 2022-2024 Winlin
//
// SPDX-License-Identifier: MIT
//
package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ossrs/go-oryx-lib/logger"
)

// ChunkRange is one planned slice of the source audio, within the ASR size limit.
type ChunkRange struct {
	// The position in playback order, determines reassembly order.
	Index int `json:"index"`
	// The start offset in the source audio, inclusive.
	Start time.Duration `json:"start"`
	// The end offset in the source audio, exclusive.
	End time.Duration `json:"end"`
}

func (v ChunkRange) String() string {
	return fmt.Sprintf("index=%v, start=%v, end=%v", v.Index, v.Start, v.End)
}

// AudioChunk is one extracted standalone audio segment ready for the ASR service.
type AudioChunk struct {
	Range ChunkRange
	// The encoded WAV bytes of the segment, always carried in memory.
	Data []byte
}

// ChunkResult is the outcome of one chunk, either cues or a terminal error.
// The cue timestamps are chunk-local, starting at zero.
type ChunkResult struct {
	Index int
	Cues  []SubtitleCue
	Err   error
}

// TranscribeOptions bound the chunking and dispatch of one pipeline invocation.
type TranscribeOptions struct {
	// The target size in bytes for each chunk.
	TargetChunkSize int64
	// The hard request size limit of the ASR service, 25MB for OpenAI.
	HardLimit int64
	// The max number of in-flight ASR requests.
	Concurrency int
	// The max attempts per chunk, for transient errors only.
	Attempts int
}

func (v TranscribeOptions) String() string {
	return fmt.Sprintf("target=%v, limit=%v, concurrency=%v, attempts=%v",
		v.TargetChunkSize, v.HardLimit, v.Concurrency, v.Attempts)
}

// planChunks split [0, totalDuration) into the minimum number of contiguous,
// non-overlapping equal-duration ranges whose projected encoded size is within
// hardLimit. Pure and deterministic, so a retried task plans identically.
func planChunks(totalDuration time.Duration, totalSize, targetChunkSize, hardLimit int64) ([]ChunkRange, error) {
	if totalDuration <= 0 {
		return nil, errInvalidInput("duration=%v", totalDuration)
	}
	if totalSize <= 0 {
		return nil, errInvalidInput("size=%v", totalSize)
	}
	if targetChunkSize <= 0 {
		return nil, errInvalidInput("target chunk size=%v", targetChunkSize)
	}

	// Small input, no chunking overhead.
	if totalSize <= hardLimit {
		return []ChunkRange{{Index: 0, Start: 0, End: totalDuration}}, nil
	}

	numChunks := int((totalSize + targetChunkSize - 1) / targetChunkSize)
	chunkDuration := totalDuration / time.Duration(numChunks)

	ranges := make([]ChunkRange, 0, numChunks)
	for i := 0; i < numChunks; i++ {
		r := ChunkRange{
			Index: i,
			Start: time.Duration(i) * chunkDuration,
			End:   time.Duration(i+1) * chunkDuration,
		}
		// The final chunk absorbs the rounding of the integer division.
		if i == numChunks-1 {
			r.End = totalDuration
		}
		ranges = append(ranges, r)
	}
	return ranges, nil
}

// extractChunks encode one standalone segment per planned range, fully in memory.
func extractChunks(buf *AudioBuffer, plan []ChunkRange) ([]*AudioChunk, error) {
	chunks := make([]*AudioChunk, 0, len(plan))
	for _, r := range plan {
		data, err := buf.EncodeRange(r.Start, r.End)
		if err != nil {
			return nil, &ExtractionError{Index: r.Index, Cause: err}
		}
		chunks = append(chunks, &AudioChunk{Range: r, Data: data})
	}
	return chunks, nil
}

// dispatchChunks submit all chunks to the ASR service with at most concurrency
// requests in flight, and return one result per chunk in plan order. A chunk
// failure never cancels its siblings; transient errors are retried with backoff
// before they exhaust to the chunk's terminal error.
func dispatchChunks(ctx context.Context, t Transcriber, chunks []*AudioChunk, opts TranscribeOptions) []ChunkResult {
	// Each worker writes only its own index of the results arena, so no lock is
	// needed beyond the WaitGroup.
	results := make([]ChunkResult, len(chunks))

	concurrency := opts.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	attempts := opts.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	jobs := make(chan *AudioChunk, len(chunks))
	for _, chunk := range chunks {
		jobs <- chunk
	}
	close(jobs)

	var wg sync.WaitGroup
	for i := 0; i < concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			for chunk := range jobs {
				cues, err := transcribeChunk(ctx, t, chunk, attempts)
				results[chunk.Range.Index] = ChunkResult{Index: chunk.Range.Index, Cues: cues, Err: err}
			}
		}()
	}
	wg.Wait()

	return results
}

// transcribeChunk run the ASR for one chunk, retrying transient errors.
func transcribeChunk(ctx context.Context, t Transcriber, chunk *AudioChunk, attempts int) ([]SubtitleCue, error) {
	index := chunk.Range.Index
	// The chunk-local request identity, for logging and correlation.
	requestID := fmt.Sprintf("%v-chunk-%v", uuid.NewString(), index)

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		starttime := time.Now()
		cues, err := t.Transcribe(ctx, fmt.Sprintf("%v.wav", requestID), chunk.Data)
		if err == nil {
			logger.Tf(ctx, "asr chunk ok, request=%v, range=<%v>, cues=%v, attempt=%v, cost=%v",
				requestID, chunk.Range.String(), len(cues), attempt, time.Since(starttime))
			return cues, nil
		}

		lastErr = err
		if ctx.Err() != nil || !isTransientAsrError(err) || attempt == attempts {
			break
		}

		backoff := time.Duration(attempt) * time.Second
		logger.Wf(ctx, "asr chunk retry, request=%v, attempt=%v, backoff=%v, err %+v",
			requestID, attempt, backoff, err)
		select {
		case <-ctx.Done():
		case <-time.After(backoff):
		}
	}

	return nil, &ChunkTranscriptionError{Index: index, Attempts: attempts, Cause: lastErr}
}

// collectDispatchFailure surface a PartialTranscriptionFailure enumerating the
// failing indices, or nil when every chunk succeeded. A single-chunk plan whose
// only chunk fails is the same failure naming index 0.
func collectDispatchFailure(results []ChunkResult) error {
	var failure PartialTranscriptionFailure
	for _, r := range results {
		if r.Err != nil {
			failure.Indices = append(failure.Indices, r.Index)
			failure.Causes = append(failure.Causes, r.Err)
		}
	}
	if len(failure.Indices) > 0 {
		return &failure
	}
	return nil
}

// reassembleCues merge per-chunk results into one time-consistent document. ASR
// timestamps are always chunk-local, so every cue is shifted by its chunk's
// start offset, then cues are concatenated in chunk-index order and renumbered
// as a dense 1-based sequence. Boundary cues are never merged or deduplicated.
func reassembleCues(plan []ChunkRange, results []ChunkResult) (*SubtitleDocument, error) {
	if len(plan) == 0 || len(results) != len(plan) {
		return nil, &ReassemblyError{Message: fmt.Sprintf("plan=%v, results=%v", len(plan), len(results))}
	}
	for _, r := range results {
		if r.Err != nil {
			return nil, &ReassemblyError{Message: fmt.Sprintf("chunk %v not resolved: %v", r.Index, r.Err)}
		}
	}

	doc := &SubtitleDocument{}
	for i, r := range plan {
		for _, cue := range results[i].Cues {
			doc.Cues = append(doc.Cues, SubtitleCue{
				Sequence: len(doc.Cues) + 1,
				Start:    cue.Start + r.Start,
				End:      cue.End + r.Start,
				Text:     cue.Text,
			})
		}
	}
	return doc, nil
}

// TranscribeBuffer run the whole chunk, dispatch and reassemble pipeline for one
// normalized audio buffer.
func TranscribeBuffer(ctx context.Context, t Transcriber, buf *AudioBuffer, opts TranscribeOptions) (*SubtitleDocument, error) {
	plan, err := planChunks(buf.Duration(), buf.Size(), opts.TargetChunkSize, opts.HardLimit)
	if err != nil {
		return nil, err
	}
	logger.Tf(ctx, "transcribe plan ok, duration=%v, size=%v, chunks=%v, opts=<%v>",
		buf.Duration(), buf.Size(), len(plan), opts.String())

	chunks, err := extractChunks(buf, plan)
	if err != nil {
		return nil, err
	}

	results := dispatchChunks(ctx, t, chunks, opts)
	if err := collectDispatchFailure(results); err != nil {
		return nil, err
	}

	doc, err := reassembleCues(plan, results)
	if err != nil {
		return nil, err
	}

	logger.Tf(ctx, "transcribe ok, chunks=%v, doc=<%v>", len(plan), doc.String())
	return doc, nil
}
