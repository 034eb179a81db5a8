package main

import (
	"strings"
	"testing"
	"time"
)

func TestSrt_Timestamp(t *testing.T) {
	samples := []struct {
		t      time.Duration
		expect string
	}{
		{t: 0, expect: "00:00:00,000"},
		{t: 5 * time.Second, expect: "00:00:05,000"},
		{t: 65 * time.Second, expect: "00:01:05,000"},
		{t: 61*time.Minute + 2*time.Second + 37*time.Millisecond, expect: "01:01:02,037"},
		{t: 10*time.Hour + 59*time.Minute + 59*time.Second + 999*time.Millisecond, expect: "10:59:59,999"},
	}
	for _, sample := range samples {
		if actual := srtTimestamp(sample.t); actual != sample.expect {
			t.Errorf("timestamp %v failed, expect %v, actual %v", sample.t, sample.expect, actual)
		}
	}
}

func TestSrt_ComposeSRT(t *testing.T) {
	doc := &SubtitleDocument{Cues: []SubtitleCue{
		{Sequence: 1, Start: 0, End: 5 * time.Second, Text: "hello world"},
		{Sequence: 2, Start: 10 * time.Second, End: 15 * time.Second, Text: "goodbye"},
	}}

	expect := "1\n" +
		"00:00:00,000 --> 00:00:05,000\n" +
		"hello world\n" +
		"\n" +
		"2\n" +
		"00:00:10,000 --> 00:00:15,000\n" +
		"goodbye\n" +
		"\n"
	if actual := doc.ComposeSRT(); actual != expect {
		t.Errorf("compose failed, expect %q, actual %q", expect, actual)
	}
}

func TestSrt_ComposeSRTWrapsLongLines(t *testing.T) {
	doc := &SubtitleDocument{Cues: []SubtitleCue{{
		Sequence: 1, Start: 0, End: 5 * time.Second,
		Text: strings.TrimSpace(strings.Repeat("word ", 30)),
	}}}

	lines := strings.Split(strings.TrimSpace(doc.ComposeSRT()), "\n")
	if len(lines) <= 3 {
		t.Errorf("compose should wrap long text, actual %v lines", len(lines))
		return
	}
	for _, line := range lines[2:] {
		if len(line) >= srtLineMaxSize+10 {
			t.Errorf("line too long, %v chars: %v", len(line), line)
		}
	}
}

func TestSrt_DocumentString(t *testing.T) {
	doc := &SubtitleDocument{Cues: []SubtitleCue{
		{Sequence: 1, Start: 0, End: 5 * time.Second, Text: "a"},
		{Sequence: 2, Start: 70 * time.Second, End: 75 * time.Second, Text: "b"},
	}}
	if actual := doc.String(); !strings.Contains(actual, "cues=2") || !strings.Contains(actual, "1m15s") {
		t.Errorf("document string failed, actual %v", actual)
	}
}
