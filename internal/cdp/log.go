package cdp

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// maxLineSize bounds a single recorded event. Response extra-info events with
// large header blocks can exceed bufio's default token size.
const maxLineSize = 8 * 1024 * 1024

// LineError describes a log line that could not be decoded.
type LineError struct {
	Line int
	Err  error
}

func (e *LineError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e *LineError) Unwrap() error {
	return e.Err
}

// ReadLog reads a JSONL event log. Malformed lines are skipped and returned
// as LineErrors alongside the decoded events; only I/O failures abort.
func ReadLog(r io.Reader, defaultTab string) ([]Event, []*LineError, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	var events []Event
	var bad []*LineError
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}

		var ev Event
		if err := json.Unmarshal(line, &ev); err != nil {
			bad = append(bad, &LineError{Line: lineNo, Err: err})
			continue
		}
		if ev.Method == "" {
			bad = append(bad, &LineError{Line: lineNo, Err: fmt.Errorf("missing method")})
			continue
		}
		if ev.TabID == "" {
			ev.TabID = defaultTab
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return events, bad, fmt.Errorf("failed to read event log: %w", err)
	}
	return events, bad, nil
}

// WriteLog writes events as JSONL.
func WriteLog(w io.Writer, events []Event) error {
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(ev); err != nil {
			return fmt.Errorf("failed to write event: %w", err)
		}
	}
	return nil
}
