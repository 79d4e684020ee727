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

package audio

import (
	"encoding/binary"
	stderrors "errors"
	"math"
	"time"

	"github.com/pkg/errors"
)

// ErrOddLength is returned for s16le payloads that end mid-sample
var ErrOddLength = stderrors.New("pcm payload not aligned to 16-bit samples")

// DecodePCM16LE converts signed 16-bit little-endian PCM into float32
// samples in [-1.0, 1.0).
func DecodePCM16LE(pcm []byte) ([]float32, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.Wrapf(ErrOddLength, "%d bytes", len(pcm))
	}
	samples := make([]float32, len(pcm)/2)
	for i := range samples {
		sample := int16(binary.LittleEndian.Uint16(pcm[i*2:]))
		samples[i] = float32(sample) / 32768.0
	}
	return samples, nil
}

// EncodePCM16LE is the inverse of DecodePCM16LE. Values outside [-1, 1] are clipped.
func EncodePCM16LE(samples []float32) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, s := range samples {
		v := math.Round(float64(s) * 32768.0)
		if v > math.MaxInt16 {
			v = math.MaxInt16
		} else if v < math.MinInt16 {
			v = math.MinInt16
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v)))
	}
	return pcm
}

// SamplesToInts widens s16le PCM into the int buffer layout go-audio expects
func SamplesToInts(pcm []byte) ([]int, error) {
	if len(pcm)%2 != 0 {
		return nil, errors.Wrapf(ErrOddLength, "%d bytes", len(pcm))
	}
	out := make([]int, len(pcm)/2)
	for i := range out {
		out[i] = int(int16(binary.LittleEndian.Uint16(pcm[i*2:])))
	}
	return out, nil
}

// Duration returns the play time of n mono samples at sampleRate
func Duration(n, sampleRate int) time.Duration {
	if sampleRate <= 0 {
		return 0
	}
	return time.Duration(n) * time.Second / time.Duration(sampleRate)
}

// Seconds converts a sample offset into seconds
func Seconds(offset, sampleRate int) float64 {
	if sampleRate <= 0 {
		return 0
	}
	return float64(offset) / float64(sampleRate)
}
