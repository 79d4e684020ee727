/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package vad

import (
	"fmt"
	"math"
	"time"
)

// Config holds voice activity detection parameters
type Config struct {
	SampleRate int
	Threshold  float32       // RMS level in [0,1] above which a window counts as speech
	Window     time.Duration // analysis window length
	MinSpeech  time.Duration // speech runs shorter than this are dropped
	SpeechPad  time.Duration // padding added on both sides of each region
}

// Region is a half-open span [Start, End) of sample indexes containing speech
type Region struct {
	Start int
	End   int
}

// Len returns the region length in samples
func (r Region) Len() int {
	return r.End - r.Start
}

// Detector splits a buffer into speech regions using windowed RMS energy
type Detector struct {
	cfg        Config
	windowSize int
}

// NewDetector validates cfg and returns a detector
func NewDetector(cfg Config) (*Detector, error) {
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("sample rate must be positive, got %d", cfg.SampleRate)
	}
	if cfg.Threshold < 0 || cfg.Threshold > 1 {
		return nil, fmt.Errorf("threshold must be between 0 and 1, got %f", cfg.Threshold)
	}
	windowSize := samplesIn(cfg.Window, cfg.SampleRate)
	if windowSize <= 0 {
		return nil, fmt.Errorf("window must cover at least one sample, got %s", cfg.Window)
	}
	return &Detector{cfg: cfg, windowSize: windowSize}, nil
}

// Regions returns the speech regions of samples in order. Silence gaps
// shorter than minSilence are bridged, so regions are always separated by
// at least minSilence of audio (before padding is applied).
func (d *Detector) Regions(samples []float32, minSilence time.Duration) []Region {
	if len(samples) == 0 {
		return nil
	}

	raw := d.speechRuns(samples)
	if len(raw) == 0 {
		return nil
	}

	gap := samplesIn(minSilence, d.cfg.SampleRate)
	merged := []Region{raw[0]}
	for _, r := range raw[1:] {
		last := &merged[len(merged)-1]
		if r.Start-last.End < gap {
			last.End = r.End
			continue
		}
		merged = append(merged, r)
	}

	minLen := samplesIn(d.cfg.MinSpeech, d.cfg.SampleRate)
	pad := samplesIn(d.cfg.SpeechPad, d.cfg.SampleRate)

	var regions []Region
	for _, r := range merged {
		if r.Len() < minLen {
			continue
		}
		r.Start = max(0, r.Start-pad)
		r.End = min(len(samples), r.End+pad)
		if n := len(regions); n > 0 && r.Start <= regions[n-1].End {
			regions[n-1].End = r.End
			continue
		}
		regions = append(regions, r)
	}
	return regions
}

// speechRuns returns contiguous runs of windows whose RMS meets the threshold
func (d *Detector) speechRuns(samples []float32) []Region {
	var runs []Region
	inSpeech := false
	for start := 0; start < len(samples); start += d.windowSize {
		end := min(start+d.windowSize, len(samples))
		level := rms(samples[start:end])
		// Digital silence never counts, even with a zero threshold.
		voiced := level > 0 && level >= float64(d.cfg.Threshold)

		switch {
		case voiced && !inSpeech:
			runs = append(runs, Region{Start: start, End: end})
			inSpeech = true
		case voiced:
			runs[len(runs)-1].End = end
		default:
			inSpeech = false
		}
	}
	return runs
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var energy float64
	for _, s := range samples {
		energy += float64(s) * float64(s)
	}
	return math.Sqrt(energy / float64(len(samples)))
}

func samplesIn(d time.Duration, sampleRate int) int {
	return int(d * time.Duration(sampleRate) / time.Second)
}
