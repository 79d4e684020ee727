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

package protocol

import (
	"bytes"
	"errors"
	"fmt"
	"math"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseFrame(t *testing.T) {
	tests := []struct {
		name       string
		line       string
		wantExit   bool
		wantLength int64
		hasLength  bool
		wantErr    error
	}{
		{name: "exit command", line: `{"command":"exit"}`, wantExit: true},
		{name: "transcribe with length", line: `{"command":"transcribe","length":32000,"timestamp":1700000000000}`, wantLength: 32000, hasLength: true},
		{name: "length only", line: `{"length":4}`, wantLength: 4, hasLength: true},
		{name: "zero length is an empty turn", line: `{"length":0}`, wantLength: 0, hasLength: true},
		{name: "empty object", line: `{}`},
		{name: "null length", line: `{"length":null}`},
		{name: "false length", line: `{"length":false}`},
		{name: "empty string length", line: `{"length":""}`},
		{name: "empty array length", line: `{"length":[]}`},
		{name: "empty object length", line: `{"length":{ }}`},
		{name: "non-string command", line: `{"command":7}`},
		{name: "negative length", line: `{"length":-1}`, wantErr: ErrInvalidLength},
		{name: "fractional length", line: `{"length":4.5}`, wantErr: ErrInvalidLength},
		{name: "string length", line: `{"length":"4"}`, wantErr: ErrInvalidLength},
		{name: "non-empty array length", line: `{"length":[4]}`, wantErr: ErrInvalidLength},
		{name: "not json", line: `hello`, wantErr: ErrMalformedFrame},
		{name: "blank line", line: ``, wantErr: ErrMalformedFrame},
		{name: "json array", line: `[1,2]`, wantErr: ErrMalformedFrame},
		{name: "json null", line: `null`, wantErr: ErrMalformedFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			frame, err := ParseFrame([]byte(tt.line))
			if tt.wantErr != nil {
				require.Error(t, err)
				assert.True(t, errors.Is(err, tt.wantErr), "got %v, want %v", err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantExit, frame.IsExit())

			n, ok, err := frame.PayloadLength(0)
			require.NoError(t, err)
			assert.Equal(t, tt.hasLength, ok)
			if tt.hasLength {
				assert.Equal(t, tt.wantLength, n)
			}
		})
	}
}

func TestParseFrame_TraceStartsAtCallSite(t *testing.T) {
	_, err := ParseFrame([]byte(`{"length":-3}`))
	require.Error(t, err)

	trace := fmt.Sprintf("%+v", err)
	assert.Contains(t, trace, "parseLength")
	assert.NotContains(t, trace, "doInit")
}

func TestPayloadLengthLimit(t *testing.T) {
	frame, err := ParseFrame([]byte(`{"length":2048}`))
	require.NoError(t, err)

	_, _, err = frame.PayloadLength(1024)
	assert.True(t, errors.Is(err, ErrPayloadTooLarge))

	n, ok, err := frame.PayloadLength(4096)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(2048), n)
}

func TestEncoderWritesOneLinePerMessage(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	require.NoError(t, enc.Encode(NewReady()))
	require.NoError(t, enc.Encode(Transcription{Type: TypeTranscription, Text: "hello", Start: 0, End: 1.5, Confidence: -0.25}))
	require.NoError(t, enc.Encode(NewEndOfAudio()))
	require.NoError(t, enc.Encode(TurnError{Error: "boom", Trace: "stack"}))
	require.NoError(t, enc.Encode(NewInitError(errors.New("model missing"))))

	lines := strings.Split(strings.TrimSuffix(buf.String(), "\n"), "\n")
	require.Len(t, lines, 5)
	assert.Equal(t, `{"status":"ready"}`, lines[0])
	assert.Equal(t, `{"type":"transcription","text":"hello","start":0,"end":1.5,"confidence":-0.25}`, lines[1])
	assert.Equal(t, `{"type":"end_of_audio"}`, lines[2])
	assert.Equal(t, `{"error":"boom","trace":"stack"}`, lines[3])
	assert.Equal(t, `{"error":"Initialization failed: model missing"}`, lines[4])
}

// flushRecorder counts writes reaching the underlying writer
type flushRecorder struct {
	writes int
}

func (f *flushRecorder) Write(p []byte) (int, error) {
	f.writes++
	return len(p), nil
}

func TestEncoderFlushesEachMessage(t *testing.T) {
	rec := &flushRecorder{}
	enc := NewEncoder(rec)

	require.NoError(t, enc.Encode(NewReady()))
	assert.Equal(t, 1, rec.writes)
	require.NoError(t, enc.Encode(NewEndOfAudio()))
	assert.Equal(t, 2, rec.writes)
}

func TestEncoderRejectsUnencodableValues(t *testing.T) {
	var buf bytes.Buffer
	enc := NewEncoder(&buf)

	err := enc.Encode(Transcription{Type: TypeTranscription, Text: "x", Confidence: math.NaN()})
	var marshalErr *MarshalError
	require.True(t, errors.As(err, &marshalErr), "got %v", err)
	assert.Empty(t, buf.String())

	require.NoError(t, enc.Encode(NewEndOfAudio()))
	assert.Equal(t, "{\"type\":\"end_of_audio\"}\n", buf.String())
}

func TestDecodeMessageKinds(t *testing.T) {
	tests := []struct {
		line string
		want Kind
	}{
		{`{"status":"ready"}`, KindReady},
		{`{"type":"transcription","text":"hi","start":0.0,"end":0.4,"confidence":-0.3}`, KindTranscription},
		{`{"type":"end_of_audio"}`, KindEndOfAudio},
		{`{"error":"short payload","trace":"..."}`, KindError},
		{`{"error":"Initialization failed: no model"}`, KindError},
		{`{"something":"else"}`, KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.line))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg.Kind())
		})
	}

	_, err := DecodeMessage([]byte(`{"type":`))
	assert.Error(t, err)
}
