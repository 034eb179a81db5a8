//
// Copyright (c) 2022-2024 Winlin
//
// SPDX-License-Identifier: MIT
//
package main

import (
	"fmt"
	"strings"
	"time"
)

// Limit each line of SRT text, write a new line if exceed.
const srtLineMaxSize = 45

// SubtitleCue is one timed line of subtitle text.
type SubtitleCue struct {
	// The 1-based sequence number, assigned after global reassembly.
	Sequence int `json:"seq"`
	// The absolute start time in the source audio.
	Start time.Duration `json:"start"`
	// The absolute end time in the source audio.
	End time.Duration `json:"end"`
	// The text of the cue.
	Text string `json:"text"`
}

func (v SubtitleCue) String() string {
	return fmt.Sprintf("seq=%v, start=%v, end=%v, text=%v", v.Sequence, v.Start, v.End, v.Text)
}

// SubtitleDocument is a single ordered sequence of cues covering the whole source.
type SubtitleDocument struct {
	Cues []SubtitleCue `json:"cues"`
}

func (v *SubtitleDocument) String() string {
	var duration time.Duration
	if nn := len(v.Cues); nn > 0 {
		duration = v.Cues[nn-1].End
	}
	return fmt.Sprintf("cues=%v, duration=%v", len(v.Cues), duration)
}

// ComposeSRT render the document as a SRT file body.
func (v *SubtitleDocument) ComposeSRT() string {
	var srt strings.Builder
	for _, cue := range v.Cues {
		// Write the sequence number.
		srt.WriteString(fmt.Sprintf("%v\n", cue.Sequence))

		// Write the start and end time.
		srt.WriteString(fmt.Sprintf("%v --> %v\n", srtTimestamp(cue.Start), srtTimestamp(cue.End)))

		// Limit each line of text, write a new line if exceed.
		words := strings.Split(cue.Text, " ")
		var current string
		for _, word := range words {
			if word == "" {
				continue
			}

			if len(current)+len(word) < srtLineMaxSize {
				current += word + " "
				continue
			}

			srt.WriteString(fmt.Sprintf("%v\n", strings.TrimSpace(current)))
			current = word + " "
		}
		if current != "" {
			srt.WriteString(fmt.Sprintf("%v\n", strings.TrimSpace(current)))
		}

		// Insert a new line between cues.
		srt.WriteString("\n")
	}
	return srt.String()
}

// srtTimestamp format a duration as hh:mm:ss,mmm of SRT.
func srtTimestamp(t time.Duration) string {
	return fmt.Sprintf("%02d:%02d:%02d,%03d",
		int(t.Hours()), int(t.Minutes())%60, int(t.Seconds())%60, int(t.Milliseconds())%1000)
}
