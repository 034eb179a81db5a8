//
// Copyright (c) 2022-2024 Winlin
//
// SPDX-License-Identifier: MIT
//
package main

import (
	"bytes"
	"io"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/ossrs/go-oryx-lib/errors"
)

// AudioBuffer is an immutable in-memory normalized audio stream, that is mono PCM
// at a fixed sample rate. It's owned by one pipeline invocation, never shared
// across concurrent invocations, and chunk workers only ever read it.
type AudioBuffer struct {
	// The PCM samples, mono, interleaving not needed.
	samples []int
	// The format of samples, sample rate and channels.
	format *audio.Format
	// The bit depth of each sample, for example, 16.
	bitDepth int
	// The encoded size in bytes of the normalized source file.
	sizeBytes int64
}

// ParseWavAudio decode a normalized WAV file fully into memory.
func ParseWavAudio(data []byte) (*AudioBuffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return nil, errors.Errorf("invalid wav file, size=%vB", len(data))
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, errors.Wrapf(err, "decode wav, size=%vB", len(data))
	}
	if buf.Format == nil || buf.Format.SampleRate <= 0 {
		return nil, errors.Errorf("invalid wav format %v", buf.Format)
	}

	return &AudioBuffer{
		samples:   buf.Data,
		format:    buf.Format,
		bitDepth:  int(dec.BitDepth),
		sizeBytes: int64(len(data)),
	}, nil
}

// Duration is the total duration of the buffer.
func (v *AudioBuffer) Duration() time.Duration {
	frames := len(v.samples) / v.format.NumChannels
	return time.Duration(frames) * time.Second / time.Duration(v.format.SampleRate)
}

// Size is the encoded size in bytes of the normalized source, used to project
// the encoded size of each planned chunk.
func (v *AudioBuffer) Size() int64 {
	return v.sizeBytes
}

// EncodeRange encode [start, end) of the buffer as a standalone WAV segment,
// fully in memory, which decodes independently of its siblings.
func (v *AudioBuffer) EncodeRange(start, end time.Duration) ([]byte, error) {
	from := v.frameAt(start) * v.format.NumChannels
	to := v.frameAt(end) * v.format.NumChannels
	if from >= to || to > len(v.samples) {
		return nil, errors.Errorf("invalid range %v~%v of %v samples", from, to, len(v.samples))
	}

	ws := &memWriteSeeker{}
	enc := wav.NewEncoder(ws, v.format.SampleRate, v.bitDepth, v.format.NumChannels, 1)
	if err := enc.Write(&audio.IntBuffer{
		Data:   v.samples[from:to],
		Format: v.format,
	}); err != nil {
		return nil, errors.Wrapf(err, "encode wav %v~%v", start, end)
	}
	if err := enc.Close(); err != nil {
		return nil, errors.Wrapf(err, "close wav encoder")
	}

	return ws.buf, nil
}

func (v *AudioBuffer) frameAt(t time.Duration) int {
	frame := int(int64(t) * int64(v.format.SampleRate) / int64(time.Second))
	if max := len(v.samples) / v.format.NumChannels; frame > max {
		frame = max
	}
	return frame
}

// memWriteSeeker adapts a byte slice to io.WriteSeeker, because the wav encoder
// seeks back to patch the RIFF header after writing samples.
type memWriteSeeker struct {
	buf []byte
	pos int64
}

func (v *memWriteSeeker) Write(p []byte) (int, error) {
	if need := v.pos + int64(len(p)); need > int64(len(v.buf)) {
		grown := make([]byte, need)
		copy(grown, v.buf)
		v.buf = grown
	}
	copy(v.buf[v.pos:], p)
	v.pos += int64(len(p))
	return len(p), nil
}

func (v *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var pos int64
	switch whence {
	case io.SeekStart:
		pos = offset
	case io.SeekCurrent:
		pos = v.pos + offset
	case io.SeekEnd:
		pos = int64(len(v.buf)) + offset
	}
	if pos < 0 {
		return 0, errors.Errorf("invalid seek to %v", pos)
	}
	v.pos = pos
	return pos, nil
}
