// Package consumer is the client side of the engine: it issues chat
// requests, decodes the framed event stream, drives the session state
// machine, and promotes settled replies into insights.
package consumer

import (
	"bufio"
	"encoding/json"
	"io"
	"strings"

	"rekindle/internal/resume"
)

// Decoder reassembles StreamEvents from the response body. It decodes
// incrementally, so frames split across network reads come out whole, and
// it skips unparseable payloads as noise instead of aborting the stream.
type Decoder struct {
	scanner *bufio.Scanner
}

// NewDecoder wraps a raw event-stream body.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	return &Decoder{scanner: scanner}
}

// Next returns the next event. io.EOF means the transport ended; whether
// that is normal depends on whether the caller already saw a terminal
// event.
func (d *Decoder) Next() (resume.StreamEvent, error) {
	for d.scanner.Scan() {
		line := d.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			// Blank separators and unknown fields.
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if ev, ok := parseFrame(data); ok {
			return ev, nil
		}
	}
	if err := d.scanner.Err(); err != nil {
		return resume.StreamEvent{}, err
	}
	return resume.StreamEvent{}, io.EOF
}

// parseFrame maps one data payload onto the event union. The error key
// takes precedence, so a frame carrying both keys cannot be read two ways.
func parseFrame(data string) (resume.StreamEvent, bool) {
	if data == "[DONE]" {
		return resume.DoneEvent(), true
	}

	var frame struct {
		Text  *string `json:"text"`
		Error *string `json:"error"`
	}
	if err := json.Unmarshal([]byte(data), &frame); err != nil {
		return resume.StreamEvent{}, false
	}
	switch {
	case frame.Error != nil:
		return resume.ErrorEvent(*frame.Error), true
	case frame.Text != nil:
		return resume.TextEvent(*frame.Text), true
	default:
		return resume.StreamEvent{}, false
	}
}
