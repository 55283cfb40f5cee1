package harness

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
)

const maxLogLine = 1 << 20

var (
	warningMarker = []byte("warning")
	errorMarker   = []byte("error")
)

// ClassifyLogs scans streams in order, line by line and case-insensitively.
// Lines containing "warning" are returned as warnings; otherwise the first
// line containing "error" ends the scan with a *LogError.
func ClassifyLogs(streams ...io.Reader) ([]string, error) {
	var warnings []string
	for _, stream := range streams {
		if stream == nil {
			continue
		}
		sc := bufio.NewScanner(stream)
		sc.Buffer(make([]byte, 0, 64*1024), maxLogLine)
		for sc.Scan() {
			line := sc.Bytes()
			lower := bytes.ToLower(line)
			switch {
			case bytes.Contains(lower, warningMarker):
				warnings = append(warnings, string(bytes.TrimSpace(line)))
			case bytes.Contains(lower, errorMarker):
				return warnings, &LogError{Line: string(bytes.TrimSpace(line))}
			}
		}
		if err := sc.Err(); err != nil {
			return warnings, fmt.Errorf("scan child output: %w", err)
		}
	}
	return warnings, nil
}
