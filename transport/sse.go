package transport

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// maxEventLineSize allows single SSE lines up to 1 MB; bufio's 64 KiB default
// is too small for long completions.
const maxEventLineSize = 1 << 20

// Event is one server-sent event.
type Event struct {
	Name string
	Data string
}

// EventReader yields server-sent events one at a time.
type EventReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
}

// NewEventReader reads events from body and closes it on Close.
func NewEventReader(body io.ReadCloser) *EventReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxEventLineSize)
	return &EventReader{body: body, scanner: scanner}
}

// Next returns the next event. Comment lines are skipped, consecutive data
// lines are joined with newlines, and the OpenAI "[DONE]" sentinel ends the
// stream. It returns io.EOF when no events remain.
func (r *EventReader) Next() (Event, error) {
	var (
		name string
		data []string
	)

	for r.scanner.Scan() {
		line := r.scanner.Text()

		switch {
		case line == "":
			if len(data) > 0 {
				return Event{Name: name, Data: strings.Join(data, "\n")}, nil
			}
			name = ""
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			value := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			if value == "[DONE]" {
				return Event{}, io.EOF
			}
			data = append(data, value)
		}
	}

	if err := r.scanner.Err(); err != nil {
		return Event{}, fmt.Errorf("failed to read event stream: %w", err)
	}
	if len(data) > 0 {
		return Event{Name: name, Data: strings.Join(data, "\n")}, nil
	}
	return Event{}, io.EOF
}

// Close releases the response body.
func (r *EventReader) Close() error {
	return r.body.Close()
}
