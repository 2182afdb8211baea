package events

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineSize bounds a single event line. Attempt outcomes can carry large
// error stacks, so this is generous.
const maxLineSize = 4 * 1024 * 1024

// Decoder reads lifecycle events from a newline-delimited JSON stream.
type Decoder struct {
	scanner *bufio.Scanner
	line    int
}

// NewDecoder creates a decoder reading from r.
func NewDecoder(r io.Reader) *Decoder {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	return &Decoder{scanner: scanner}
}

// Next returns the next event on the stream, skipping blank lines.
// It returns io.EOF once the stream is exhausted.
func (d *Decoder) Next() (*Envelope, error) {
	for d.scanner.Scan() {
		d.line++

		raw := bytes.TrimSpace(d.scanner.Bytes())
		if len(raw) == 0 {
			continue
		}

		var ev Envelope
		if err := json.Unmarshal(raw, &ev); err != nil {
			return nil, fmt.Errorf("parsing event at line %d: %w", d.line, err)
		}

		if ev.Type == "" {
			return nil, fmt.Errorf("event at line %d has no type", d.line)
		}

		return &ev, nil
	}

	if err := d.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event stream: %w", err)
	}

	return nil, io.EOF
}
