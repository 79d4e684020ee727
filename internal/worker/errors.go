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

package worker

import (
	"fmt"

	"github.com/pkg/errors"
)

// InitError is returned by Serve when the transcription backend could not
// be constructed. The fatal message has already been written.
type InitError struct {
	Cause error
}

func (e *InitError) Error() string {
	return "initialization failed: " + e.Cause.Error()
}

func (e *InitError) Unwrap() error {
	return e.Cause
}

// panicError carries a recovered panic and the stack it was raised on
type panicError struct {
	value interface{}
	stack []byte
}

func (p *panicError) Error() string {
	return fmt.Sprintf("panic: %v", p.value)
}

// outputError marks failures writing to the parent. These end the loop
// instead of being reported as a turn error.
type outputError struct {
	err error
}

func (o *outputError) Error() string {
	return o.err.Error()
}

func (o *outputError) Unwrap() error {
	return o.err
}

func isOutputError(err error) bool {
	var out *outputError
	return errors.As(err, &out)
}

// traceOf renders the detailed trace sent alongside a turn error
func traceOf(err error) string {
	var p *panicError
	if errors.As(err, &p) {
		return fmt.Sprintf("%s\n\n%s", p.Error(), p.stack)
	}
	return fmt.Sprintf("%+v", err)
}
