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
	"bufio"
	"encoding/json"
	"io"

	"github.com/pkg/errors"
)

// Encoder writes one JSON message per line and flushes after every message
// so the reader observes output without buffering delay.
type Encoder struct {
	w *bufio.Writer
}

// NewEncoder wraps w
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// MarshalError reports a message that could not be encoded. Nothing was
// written, so the stream is still usable.
type MarshalError struct {
	Err error
}

func (m *MarshalError) Error() string {
	return "marshal message: " + m.Err.Error()
}

func (m *MarshalError) Unwrap() error {
	return m.Err
}

// Encode writes v as a single line. Encoding failures are returned as
// *MarshalError; anything else is a failure of the underlying writer.
func (e *Encoder) Encode(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return errors.WithStack(&MarshalError{Err: err})
	}
	data = append(data, '\n')
	if _, err := e.w.Write(data); err != nil {
		return errors.Wrap(err, "write message")
	}
	if err := e.w.Flush(); err != nil {
		return errors.Wrap(err, "flush message")
	}
	return nil
}
