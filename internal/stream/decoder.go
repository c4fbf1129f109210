// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package stream

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/pkg/errors"
)

// =============================================================================
// CONSTANTS
// =============================================================================

// MaxLineSize is the largest protocol line the Decoder will buffer while
// waiting for its terminating newline.
const MaxLineSize = 1 << 20

const (
	eventPrefix = "event:"
	dataPrefix  = "data:"
)

// ErrLineTooLong is returned when an unterminated line grows past MaxLineSize.
var ErrLineTooLong = errors.New("stream: protocol line exceeds maximum size")

// =============================================================================
// DECODER
// =============================================================================

// Decoder turns raw body fragments into Events. Fragments must be fed in
// network order; a line split across fragments is reassembled before it is
// parsed. A Decoder is not safe for concurrent use.
type Decoder struct {
	buf        []byte
	pending    string
	terminated bool
	maxLine    int
}

// NewDecoder creates a Decoder with the default line limit.
func NewDecoder() *Decoder {
	return &Decoder{maxLine: MaxLineSize}
}

// Terminated reports whether an Error event has been emitted. A terminated
// Decoder ignores all further input.
func (d *Decoder) Terminated() bool {
	return d.terminated
}

// Feed parses every complete line in chunk, together with any partial line
// left over from the previous call, and returns the resulting events in
// order.
func (d *Decoder) Feed(chunk []byte) ([]Event, error) {
	if d.terminated {
		return nil, nil
	}
	d.buf = append(d.buf, chunk...)

	var events []Event
	off := 0
	for !d.terminated {
		i := bytes.IndexByte(d.buf[off:], '\n')
		if i < 0 {
			break
		}
		events = d.processLine(string(d.buf[off:off+i]), events)
		off += i + 1
	}

	if d.terminated {
		d.buf = nil
		return events, nil
	}
	if off > 0 {
		d.buf = append(d.buf[:0], d.buf[off:]...)
	}
	if len(d.buf) > d.maxLine {
		d.buf = nil
		return events, ErrLineTooLong
	}
	return events, nil
}

// Flush parses a final line that was not terminated by a newline. It is
// called once the body has been fully read.
func (d *Decoder) Flush() []Event {
	if d.terminated || len(d.buf) == 0 {
		d.buf = nil
		return nil
	}
	line := string(d.buf)
	d.buf = nil
	return d.processLine(line, nil)
}

// processLine applies one protocol line. Lines other than "event:" and
// "data:" (blank separators, ":" comments, id/retry fields) are ignored.
func (d *Decoder) processLine(line string, events []Event) []Event {
	line = strings.TrimSuffix(line, "\r")

	switch {
	case strings.HasPrefix(line, eventPrefix):
		d.pending = strings.TrimSpace(line[len(eventPrefix):])

	case strings.HasPrefix(line, dataPrefix):
		// Exactly one leading space belongs to the framing. Anything beyond it
		// is part of the token: model output often starts words with a space.
		data := strings.TrimPrefix(line[len(dataPrefix):], " ")
		kind := d.pending
		d.pending = ""
		if ev, ok := d.decodeData(kind, data); ok {
			events = append(events, ev)
		}
	}
	return events
}

func (d *Decoder) decodeData(kind, data string) (Event, bool) {
	payload := parsePayload(data)

	switch kind {
	case KindDone:
		var chatID string
		switch v := payload.(type) {
		case map[string]any:
			chatID = stringField(v, "chatId")
		case string:
			chatID = strings.TrimSpace(v)
		}
		return Done{ChatID: chatID}, true

	case KindError:
		d.terminated = true
		var msg string
		switch v := payload.(type) {
		case map[string]any:
			msg = stringField(v, "message")
			if msg == "" {
				msg = stringField(v, "error")
			}
		case string:
			msg = strings.TrimSpace(v)
		}
		return Error{Message: msg}, true

	default:
		var text string
		switch v := payload.(type) {
		case map[string]any:
			text = stringField(v, "token")
		case string:
			text = v
		}
		if text == "" {
			return nil, false
		}
		return Token{Text: text}, true
	}
}

// parsePayload decodes data as JSON when it looks structured and falls back
// to the raw string otherwise, including when the JSON is malformed.
func parsePayload(raw string) any {
	if raw == "" {
		return nil
	}
	s := strings.TrimSpace(raw)
	if s == "" || !strings.ContainsRune(`{["`, rune(s[0])) {
		return raw
	}
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return raw
	}
	return v
}

func stringField(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}
