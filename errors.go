//
// Copyright (c) 2022-2024 Winlin
//
// SPDX-License-Identifier: MIT
//
package main

import (
	"fmt"
	"strings"
)

// InvalidInputError rejects bad planning parameters before any work starts.
type InvalidInputError struct {
	Message string
}

func (v *InvalidInputError) Error() string {
	return fmt.Sprintf("invalid input: %v", v.Message)
}

func errInvalidInput(format string, a ...interface{}) error {
	return &InvalidInputError{Message: fmt.Sprintf(format, a...)}
}

// NormalizationError is a failure of the external media converter.
type NormalizationError struct {
	Message string
	Stderr  string
}

func (v *NormalizationError) Error() string {
	if v.Stderr != "" {
		return fmt.Sprintf("normalize: %v, stderr=%v", v.Message, v.Stderr)
	}
	return fmt.Sprintf("normalize: %v", v.Message)
}

// ExtractionError is a failure to produce a standalone audio segment for one chunk.
type ExtractionError struct {
	Index int
	Cause error
}

func (v *ExtractionError) Error() string {
	return fmt.Sprintf("extract chunk %v: %v", v.Index, v.Cause)
}

func (v *ExtractionError) Unwrap() error {
	return v.Cause
}

// ChunkTranscriptionError is the terminal error of one chunk after retries exhausted.
type ChunkTranscriptionError struct {
	Index    int
	Attempts int
	Cause    error
}

func (v *ChunkTranscriptionError) Error() string {
	return fmt.Sprintf("transcribe chunk %v after %v attempts: %v", v.Index, v.Attempts, v.Cause)
}

func (v *ChunkTranscriptionError) Unwrap() error {
	return v.Cause
}

// PartialTranscriptionFailure fails the whole task when any chunk exhausted retries,
// because a subtitle document with a missing segment is not a valid deliverable.
type PartialTranscriptionFailure struct {
	// The indices of failed chunks, in plan order.
	Indices []int
	// The per-chunk terminal errors, one per failed index.
	Causes []error
}

func (v *PartialTranscriptionFailure) Error() string {
	var sb strings.Builder
	for i, index := range v.Indices {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(fmt.Sprintf("%v", index))
	}
	return fmt.Sprintf("transcription failed for chunks [%v]", sb.String())
}

// ReassemblyError is an invariant violation when merging chunk results.
type ReassemblyError struct {
	Message string
}

func (v *ReassemblyError) Error() string {
	return fmt.Sprintf("reassemble: %v", v.Message)
}

// DuplicateTaskError is returned when creating a task whose id already exists,
// which keeps ingestion idempotent under at-least-once delivery.
type DuplicateTaskError struct {
	UUID string
}

func (v *DuplicateTaskError) Error() string {
	return fmt.Sprintf("task %v already exists", v.UUID)
}

// InvalidTransitionError is a lifecycle misuse, surfaced rather than swallowed.
type InvalidTransitionError struct {
	UUID string
	From TaskStatus
	To   TaskStatus
}

func (v *InvalidTransitionError) Error() string {
	return fmt.Sprintf("task %v can not transition %v to %v", v.UUID, v.From, v.To)
}
