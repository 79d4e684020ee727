/*
Copyright (c) 2024 Loqa Labs

Licensed under the AGPLv3 License.
This file is part of the loqa-whisper-worker.
*/

package stt

import "strings"

// Ordered normalizes a segment sequence as it streams: text is trimmed,
// End is raised to at least Start, and Start never moves backwards.
func Ordered(seq Segments) Segments {
	return func(yield func(Segment, error) bool) {
		lastStart := 0.0
		for seg, err := range seq {
			if err != nil {
				yield(Segment{}, err)
				return
			}
			seg.Text = strings.TrimSpace(seg.Text)
			if seg.Start < lastStart {
				seg.Start = lastStart
			}
			if seg.End < seg.Start {
				seg.End = seg.Start
			}
			lastStart = seg.Start
			if !yield(seg, nil) {
				return
			}
		}
	}
}

// Offset shifts every segment of seq by seconds
func Offset(seq Segments, seconds float64) Segments {
	if seconds == 0 {
		return seq
	}
	return func(yield func(Segment, error) bool) {
		for seg, err := range seq {
			if err == nil {
				seg.Start += seconds
				seg.End += seconds
			}
			if !yield(seg, err) || err != nil {
				return
			}
		}
	}
}
