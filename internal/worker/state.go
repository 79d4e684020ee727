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

import "sync/atomic"

// State is the position of the worker loop within a turn
type State int32

const (
	StateAwaitingFrame State = iota
	StateReadingPayload
	StateTranscribing
	StateEmitting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateAwaitingFrame:
		return "awaiting_frame"
	case StateReadingPayload:
		return "reading_payload"
	case StateTranscribing:
		return "transcribing"
	case StateEmitting:
		return "emitting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Readiness moves from initializing to ready exactly once and never back
type Readiness struct {
	ready atomic.Bool
}

// MarkReady performs the transition. It reports false if the worker was
// already ready.
func (r *Readiness) MarkReady() bool {
	return r.ready.CompareAndSwap(false, true)
}

// IsReady reports whether the transition happened
func (r *Readiness) IsReady() bool {
	return r.ready.Load()
}

func (r *Readiness) String() string {
	if r.IsReady() {
		return "ready"
	}
	return "initializing"
}
