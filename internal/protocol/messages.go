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
	"encoding/json"

	"github.com/pkg/errors"
)

// Message type and status values written by the worker
const (
	StatusReady       = "ready"
	TypeTranscription = "transcription"
	TypeEndOfAudio    = "end_of_audio"
	InitFailurePrefix = "Initialization failed: "
)

// Ready signals that the speech model is loaded
type Ready struct {
	Status string `json:"status"`
}

// Transcription carries one recognized segment
type Transcription struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Confidence float64 `json:"confidence"`
}

// EndOfAudio closes a successfully processed turn
type EndOfAudio struct {
	Type string `json:"type"`
}

// TurnError replaces EndOfAudio for a failed turn
type TurnError struct {
	Error string `json:"error"`
	Trace string `json:"trace"`
}

// InitError is the single fatal message of a worker that could not start
type InitError struct {
	Error string `json:"error"`
}

// NewReady builds the readiness message
func NewReady() Ready {
	return Ready{Status: StatusReady}
}

// NewEndOfAudio builds the end-of-turn marker
func NewEndOfAudio() EndOfAudio {
	return EndOfAudio{Type: TypeEndOfAudio}
}

// NewInitError builds the fatal initialization message
func NewInitError(err error) InitError {
	return InitError{Error: InitFailurePrefix + err.Error()}
}

// Kind classifies a decoded worker message
type Kind int

const (
	KindUnknown Kind = iota
	KindReady
	KindTranscription
	KindEndOfAudio
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindReady:
		return "ready"
	case KindTranscription:
		return "transcription"
	case KindEndOfAudio:
		return "end_of_audio"
	case KindError:
		return "error"
	default:
		return "unknown"
	}
}

// Message is the union of everything the worker writes, as seen by a parent
type Message struct {
	Status     string  `json:"status,omitempty"`
	Type       string  `json:"type,omitempty"`
	Text       string  `json:"text,omitempty"`
	Start      float64 `json:"start,omitempty"`
	End        float64 `json:"end,omitempty"`
	Confidence float64 `json:"confidence,omitempty"`
	Error      string  `json:"error,omitempty"`
	Trace      string  `json:"trace,omitempty"`
}

// Kind reports which message this is
func (m Message) Kind() Kind {
	switch {
	case m.Status == StatusReady:
		return KindReady
	case m.Type == TypeTranscription:
		return KindTranscription
	case m.Type == TypeEndOfAudio:
		return KindEndOfAudio
	case m.Error != "":
		return KindError
	default:
		return KindUnknown
	}
}

// DecodeMessage parses one output line
func DecodeMessage(line []byte) (Message, error) {
	var msg Message
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, errors.Wrap(err, "decode worker message")
	}
	return msg, nil
}
