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
	"encoding/json"
	stderrors "errors"
	"strconv"

	"github.com/pkg/errors"
)

// Line-oriented request protocol between the parent application and the worker.
//
// Each request is one JSON header line, optionally followed by exactly
// `length` raw bytes of s16le mono PCM at 16 kHz:
//
//	{"command":"transcribe","length":32000}\n<32000 bytes>
//	{"command":"exit"}\n

const (
	// CommandTranscribe is sent by parents with every audio payload. The
	// worker does not require it; any frame with a length is a turn.
	CommandTranscribe = "transcribe"
	// CommandExit asks the worker to stop serving
	CommandExit = "exit"
)

var (
	// ErrMalformedFrame is returned for header lines that are not a JSON object
	ErrMalformedFrame = stderrors.New("malformed frame")
	// ErrInvalidLength is returned when length is not a whole, non-negative byte count
	ErrInvalidLength = stderrors.New("invalid payload length")
	// ErrPayloadTooLarge is returned when length exceeds the configured limit
	ErrPayloadTooLarge = stderrors.New("payload too large")
)

// Frame is one parsed request header
type Frame struct {
	Command string
	// Length is nil when the header carries no usable length.
	Length *int64
}

// ParseFrame decodes one header line. Unknown fields are ignored. A length
// that is absent, null or false leaves Length nil; anything else that is not
// a non-negative integer is an error.
func ParseFrame(line []byte) (Frame, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(line, &fields); err != nil {
		return Frame{}, errors.Wrapf(ErrMalformedFrame, "%v", err)
	}
	if fields == nil {
		return Frame{}, errors.Wrap(ErrMalformedFrame, "header is null")
	}

	var frame Frame
	if raw, ok := fields["command"]; ok {
		// Non-string commands are simply not recognized.
		var command string
		if json.Unmarshal(raw, &command) == nil {
			frame.Command = command
		}
	}

	if raw, ok := fields["length"]; ok {
		length, present, err := parseLength(raw)
		if err != nil {
			return Frame{}, err
		}
		if present {
			frame.Length = &length
		}
	}

	return frame, nil
}

func parseLength(raw json.RawMessage) (int64, bool, error) {
	raw = bytes.TrimSpace(raw)
	// Empty values carry no length, like a missing field. Integer 0 is
	// still a length.
	switch string(raw) {
	case "null", "false", `""`:
		return 0, false, nil
	}
	if isEmptyContainer(raw) {
		return 0, false, nil
	}

	n, err := strconv.ParseInt(string(raw), 10, 64)
	if err != nil {
		return 0, false, errors.Wrapf(ErrInvalidLength, "length %s", raw)
	}
	if n < 0 {
		return 0, false, errors.Wrapf(ErrInvalidLength, "length %d is negative", n)
	}
	return n, true, nil
}

func isEmptyContainer(raw json.RawMessage) bool {
	if len(raw) < 2 {
		return false
	}
	open, end := raw[0], raw[len(raw)-1]
	if !(open == '[' && end == ']') && !(open == '{' && end == '}') {
		return false
	}
	return len(bytes.TrimSpace(raw[1:len(raw)-1])) == 0
}

// IsExit reports whether the frame requests shutdown
func (f Frame) IsExit() bool {
	return f.Command == CommandExit
}

// PayloadLength returns the number of payload bytes that follow the header.
// ok is false for frames that carry no payload and must be ignored.
func (f Frame) PayloadLength(limit int64) (n int64, ok bool, err error) {
	if f.Length == nil {
		return 0, false, nil
	}
	if limit > 0 && *f.Length > limit {
		return 0, false, errors.Wrapf(ErrPayloadTooLarge, "%d bytes exceeds limit of %d", *f.Length, limit)
	}
	return *f.Length, true, nil
}

// Header is the request header written by the parent side
type Header struct {
	Command   string `json:"command,omitempty"`
	Length    *int64 `json:"length,omitempty"`
	RequestID string `json:"request_id,omitempty"`
	Timestamp int64  `json:"timestamp,omitempty"`
}
