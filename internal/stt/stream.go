/*
Copyright (c) 2024 Loqa Labs

Licensed under the AGPLv3 License.
This file is part of the loqa-whisper-worker.
*/

package stt

import "context"

// Streamed adapts a callback-driven decoder to a Segments sequence. run is
// started on its own goroutine and calls emit for each segment as the
// decoder produces it, so segments reach the consumer before decoding
// finishes. Segments emitted after the consumer stops are dropped. run is
// always waited for before the sequence returns, so the decoder state it
// uses is never shared with a later call.
func Streamed(ctx context.Context, run func(emit func(Segment)) error) Segments {
	return func(yield func(Segment, error) bool) {
		var (
			found    = make(chan Segment)
			stop     = make(chan struct{})
			done     = make(chan error, 1)
			finished bool
		)

		go func() {
			done <- run(func(seg Segment) {
				select {
				case found <- seg:
				case <-stop:
				}
			})
		}()

		defer func() {
			if !finished {
				close(stop)
				<-done
			}
		}()

		for {
			select {
			case seg := <-found:
				if !yield(seg, nil) {
					return
				}
			case err := <-done:
				finished = true
				if err != nil {
					yield(Segment{}, err)
				}
				return
			case <-ctx.Done():
				yield(Segment{}, ctx.Err())
				return
			}
		}
	}
}
