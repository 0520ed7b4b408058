package journal

// Entry is one journal NDJSON line as written by the state machine
type Entry struct {
	Timestamp string            `json:"ts"`       // RFC3339Nano UTC (must end with Z)
	RunID     string            `json:"run_id"`   // constant within one file
	Event     string            `json:"event"`    // see ValidEvents
	Phase     string            `json:"phase"`    // empty for run-level events
	Status    string            `json:"status"`   // run status after the transition
	Revision  int               `json:"revision"` // non-decreasing
	Artifact  string            `json:"artifact"`
	Error     string            `json:"error"`
	Extra     map[string]string `json:"extra"`
}

// ValidationIssue represents a single validation issue
type ValidationIssue struct {
	Type    string `json:"type"` // "ok", "warn", "error"
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

// LineResult represents validation result for a single line
type LineResult struct {
	Line   int               `json:"line"`
	Issues []ValidationIssue `json:"issues"`
}

// ValidationResult represents the complete validation result
type ValidationResult struct {
	File    string       `json:"file"`
	Lines   []LineResult `json:"lines"`
	Summary Summary      `json:"summary"`
}

// Summary contains validation statistics
type Summary struct {
	Lines int `json:"lines"`
	OK    int `json:"ok"`
	Warn  int `json:"warn"`
	Error int `json:"error"`
}

// Validator checks one journal file; it is stateful across lines
type Validator struct {
	filePath         string
	runID            string
	previousRevision int
}

// ValidEvents defines the transitions the state machine records
var ValidEvents = map[string]bool{
	"create":   true,
	"start":    true,
	"skip":     true,
	"complete": true,
	"fail":     true,
	"suspend":  true,
	"decide":   true,
	"advance":  true,
	"finish":   true,
	"abort":    true,
}

// phaseEvents must name the phase they concern
var phaseEvents = map[string]bool{
	"start":    true,
	"skip":     true,
	"complete": true,
	"fail":     true,
	"suspend":  true,
	"advance":  true,
}

// NewValidator creates a new journal validator
func NewValidator(filePath string) *Validator {
	return &Validator{
		filePath:         filePath,
		previousRevision: -1,
	}
}
