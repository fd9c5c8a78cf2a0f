package importer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/artpar/cookielens/internal/cdp"
)

// DefaultLogTab is the tab assigned to logged events that carry no tabId.
const DefaultLogTab = "1"

// CDPLogImporter imports JSONL event logs written by the watch command or by
// any recorder emitting {"method","params","tabId"} lines.
type CDPLogImporter struct {
	defaultTab string
}

// NewCDPLogImporter creates a new event-log importer.
func NewCDPLogImporter() *CDPLogImporter {
	return &CDPLogImporter{defaultTab: DefaultLogTab}
}

func (c *CDPLogImporter) Name() string {
	return "DevTools protocol event log"
}

func (c *CDPLogImporter) Format() Format {
	return FormatCDPLog
}

func (c *CDPLogImporter) FileExtensions() []string {
	return []string{".jsonl", ".ndjson", ".log"}
}

// DetectFormat checks that the first non-comment line is an event object.
func (c *CDPLogImporter) DetectFormat(content []byte) bool {
	scanner := bufio.NewScanner(bytes.NewReader(content))
	scanner.Buffer(make([]byte, 0, 64*1024), len(content)+1)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 || line[0] == '#' {
			continue
		}
		var check struct {
			Method string `json:"method"`
		}
		if err := json.Unmarshal(line, &check); err != nil {
			return false
		}
		return check.Method != ""
	}
	return false
}

func (c *CDPLogImporter) Import(ctx context.Context, content []byte) (*Result, error) {
	events, bad, err := cdp.ReadLog(bytes.NewReader(content), c.defaultTab)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrParseError, err)
	}
	if len(events) == 0 && len(bad) > 0 {
		return nil, fmt.Errorf("%w: %v", ErrParseError, bad[0])
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res := &Result{Events: events}
	for _, le := range bad {
		res.Warnings = append(res.Warnings, le.Error())
	}
	seen := make(map[string]bool)
	for _, ev := range events {
		if !seen[ev.TabID] {
			seen[ev.TabID] = true
			res.Tabs = append(res.Tabs, ev.TabID)
		}
	}
	return res, nil
}

var _ Importer = (*CDPLogImporter)(nil)
