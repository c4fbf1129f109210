// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"io"
	"iter"

	"github.com/pkg/errors"
)

// readSize is the size of a single read from the underlying body.
const readSize = 4 * 1024

// Reader pulls Events out of a response body. Each call to Next reads from
// the body only when no parsed event is waiting, so the caller controls
// every suspension point and events come back in arrival order.
type Reader struct {
	src   io.Reader
	dec   *Decoder
	buf   []byte
	queue []Event
	err   error
}

// NewReader creates a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{
		src: r,
		dec: NewDecoder(),
		buf: make([]byte, readSize),
	}
}

// Next returns the next event. It returns io.EOF once the body is exhausted
// or after an Error event has been returned.
func (r *Reader) Next() (Event, error) {
	for len(r.queue) == 0 {
		if r.err != nil {
			return nil, r.err
		}
		if r.dec.Terminated() {
			r.err = io.EOF
			continue
		}

		n, err := r.src.Read(r.buf)
		if n > 0 {
			events, ferr := r.dec.Feed(r.buf[:n])
			r.queue = append(r.queue, events...)
			if ferr != nil {
				r.err = ferr
				continue
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				r.queue = append(r.queue, r.dec.Flush()...)
				r.err = io.EOF
			} else {
				r.err = errors.Wrap(err, "read turn body")
			}
		}
	}

	ev := r.queue[0]
	r.queue = r.queue[1:]
	return ev, nil
}

// All returns the remaining events as a range-over-func sequence. The
// sequence ends silently at io.EOF; any other error is yielded once as the
// final element.
func (r *Reader) All() iter.Seq2[Event, error] {
	return func(yield func(Event, error) bool) {
		for {
			ev, err := r.Next()
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, err)
				return
			}
			if !yield(ev, nil) {
				return
			}
		}
	}
}
