package main

import (
	"io"
	"testing"
	"time"

	"github.com/go-audio/audio"
)

func testAudioBuffer(duration time.Duration, sampleRate int) *AudioBuffer {
	frames := int(int64(duration) * int64(sampleRate) / int64(time.Second))
	samples := make([]int, frames)
	for i := range samples {
		// A simple ramp so segment boundaries are verifiable.
		samples[i] = i % 1000
	}
	return &AudioBuffer{
		samples:   samples,
		format:    &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		bitDepth:  16,
		sizeBytes: int64(frames * 2),
	}
}

func TestAudio_EncodeRangeRoundTrip(t *testing.T) {
	buf := testAudioBuffer(3*time.Second, 8000)

	data, err := buf.EncodeRange(time.Second, 2*time.Second)
	if err != nil {
		t.Errorf("Fail for err %+v", err)
		return
	}

	// The segment is a standalone WAV, decodable on its own.
	segment, err := ParseWavAudio(data)
	if err != nil {
		t.Errorf("Fail for err %+v", err)
		return
	}

	if expect := time.Second; segment.Duration() != expect {
		t.Errorf("segment duration failed, expect %v, actual %v", expect, segment.Duration())
	}
	if expect := 8000; len(segment.samples) != expect {
		t.Errorf("segment samples failed, expect %v, actual %v", expect, len(segment.samples))
		return
	}

	// The segment starts at the source's 1s boundary.
	for i := 0; i < 10; i++ {
		if expect := (8000 + i) % 1000; segment.samples[i] != expect {
			t.Errorf("sample %v failed, expect %v, actual %v", i, expect, segment.samples[i])
		}
	}
}

func TestAudio_EncodeRangeWholeBuffer(t *testing.T) {
	buf := testAudioBuffer(2*time.Second, 8000)

	data, err := buf.EncodeRange(0, buf.Duration())
	if err != nil {
		t.Errorf("Fail for err %+v", err)
		return
	}

	segment, err := ParseWavAudio(data)
	if err != nil {
		t.Errorf("Fail for err %+v", err)
		return
	}
	if segment.Duration() != buf.Duration() {
		t.Errorf("duration failed, expect %v, actual %v", buf.Duration(), segment.Duration())
	}
}

func TestAudio_EncodeRangeInvalid(t *testing.T) {
	buf := testAudioBuffer(2*time.Second, 8000)

	samples := []struct {
		start, end time.Duration
	}{
		{start: time.Second, end: time.Second},
		{start: 2 * time.Second, end: time.Second},
		{start: 5 * time.Second, end: 6 * time.Second},
	}
	for _, sample := range samples {
		if _, err := buf.EncodeRange(sample.start, sample.end); err == nil {
			t.Errorf("encode %v~%v should fail", sample.start, sample.end)
		}
	}
}

func TestAudio_ParseWavAudioInvalid(t *testing.T) {
	if _, err := ParseWavAudio(nil); err == nil {
		t.Errorf("parse empty should fail")
	}
	if _, err := ParseWavAudio([]byte("definitely not a wav file")); err == nil {
		t.Errorf("parse garbage should fail")
	}
}

func TestAudio_MemWriteSeeker(t *testing.T) {
	ws := &memWriteSeeker{}

	if _, err := ws.Write([]byte("hello world")); err != nil {
		t.Errorf("Fail for err %+v", err)
		return
	}

	// Seek back and patch, like the wav encoder patching the RIFF header.
	if pos, err := ws.Seek(0, io.SeekStart); err != nil || pos != 0 {
		t.Errorf("seek failed, pos=%v, err %+v", pos, err)
		return
	}
	if _, err := ws.Write([]byte("HELLO")); err != nil {
		t.Errorf("Fail for err %+v", err)
		return
	}

	if actual := string(ws.buf); actual != "HELLO world" {
		t.Errorf("patch failed, expect %v, actual %v", "HELLO world", actual)
	}

	if pos, err := ws.Seek(0, io.SeekEnd); err != nil || pos != 11 {
		t.Errorf("seek end failed, pos=%v, err %+v", pos, err)
	}
	if _, err := ws.Seek(-100, io.SeekCurrent); err == nil {
		t.Errorf("seek before start should fail")
	}
}
