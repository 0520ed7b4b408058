package journal

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/YoshitsuguKoike/deerun/internal/domain/run"
)

// requiredKeys are present on every line; the rest are omitted when empty
var requiredKeys = []string{"ts", "run_id", "event", "status", "revision"}

// ValidateFile validates a journal NDJSON stream and returns detailed results
func (v *Validator) ValidateFile(reader io.Reader) (*ValidationResult, error) {
	result := &ValidationResult{
		File:  v.filePath,
		Lines: []LineResult{},
	}

	scanner := bufio.NewScanner(reader)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	lineNumber := 0

	for scanner.Scan() {
		lineNumber++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		lineResult := v.validateLine(line, lineNumber)
		result.Lines = append(result.Lines, lineResult)

		result.Summary.Lines++
		switch worst(lineResult.Issues) {
		case "error":
			result.Summary.Error++
		case "warn":
			result.Summary.Warn++
		default:
			result.Summary.OK++
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("error reading file: %w", err)
	}
	return result, nil
}

func worst(issues []ValidationIssue) string {
	level := "ok"
	for _, issue := range issues {
		switch issue.Type {
		case "error":
			return "error"
		case "warn":
			level = "warn"
		}
	}
	return level
}

func (v *Validator) validateLine(line string, lineNumber int) LineResult {
	result := LineResult{
		Line:   lineNumber,
		Issues: []ValidationIssue{},
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(line), &raw); err != nil {
		result.addError("", fmt.Sprintf("invalid JSON: %v", err))
		return result
	}
	for _, key := range requiredKeys {
		if _, ok := raw[key]; !ok {
			result.addError(key, fmt.Sprintf("missing required key: %s", key))
		}
	}
	if len(result.Issues) > 0 {
		return result
	}

	var e Entry
	if err := json.Unmarshal([]byte(line), &e); err != nil {
		result.addError("", fmt.Sprintf("invalid field type: %v", err))
		return result
	}

	v.validateTimestamp(e.Timestamp, &result)
	v.validateRunID(e.RunID, &result)
	v.validateEvent(e, &result)
	if !run.Status(e.Status).IsValid() {
		result.addError("status", fmt.Sprintf("invalid status value: %s", e.Status))
	}
	v.validateRevision(e.Revision, &result)
	if e.Event == "fail" && e.Error == "" {
		result.Issues = append(result.Issues, ValidationIssue{
			Type:    "warn",
			Field:   "error",
			Message: "fail event without an error message",
		})
	}
	return result
}

func (r *LineResult) addError(field, msg string) {
	r.Issues = append(r.Issues, ValidationIssue{Type: "error", Field: field, Message: msg})
}

func (v *Validator) validateTimestamp(ts string, result *LineResult) {
	// Must end with Z (UTC)
	if !strings.HasSuffix(ts, "Z") {
		result.addError("ts", "timestamp must be UTC (end with Z)")
	}
	if _, err := time.Parse(time.RFC3339Nano, ts); err != nil {
		result.addError("ts", fmt.Sprintf("invalid RFC3339Nano format: %v", err))
	}
}

func (v *Validator) validateRunID(id string, result *LineResult) {
	if id == "" {
		result.addError("run_id", "run_id must not be empty")
		return
	}
	if v.runID != "" && id != v.runID {
		result.Issues = append(result.Issues, ValidationIssue{
			Type:    "warn",
			Field:   "run_id",
			Message: fmt.Sprintf("run_id changed from %s to %s", v.runID, id),
		})
	}
	v.runID = id
}

func (v *Validator) validateEvent(e Entry, result *LineResult) {
	if !ValidEvents[e.Event] {
		result.addError("event", fmt.Sprintf("invalid event value: %s", e.Event))
		return
	}
	if phaseEvents[e.Event] && e.Phase == "" {
		result.addError("phase", fmt.Sprintf("%s event requires a phase", e.Event))
	}
	if e.Event == "complete" && e.Artifact == "" {
		result.addError("artifact", "complete event requires an artifact")
	}
}

// validateRevision checks monotonicity (warn if decreasing)
func (v *Validator) validateRevision(rev int, result *LineResult) {
	if rev < 0 {
		result.addError("revision", "revision must be >= 0")
		return
	}
	if v.previousRevision >= 0 && rev < v.previousRevision {
		result.Issues = append(result.Issues, ValidationIssue{
			Type:    "warn",
			Field:   "revision",
			Message: fmt.Sprintf("revision decreased from %d to %d (non-monotonic)", v.previousRevision, rev),
		})
	}
	v.previousRevision = rev
}
