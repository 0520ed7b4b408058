package repository

import "context"

// JournalRecord represents a single phase transition entry
type JournalRecord struct {
	Timestamp string            `json:"ts"` // UTC RFC3339Nano
	RunID     string            `json:"run_id"`
	Event     string            `json:"event"`
	Phase     string            `json:"phase,omitempty"`
	Status    string            `json:"status"`
	Revision  int               `json:"revision"`
	Artifact  string            `json:"artifact,omitempty"`
	Error     string            `json:"error,omitempty"`
	Extra     map[string]string `json:"extra,omitempty"`
}

// JournalRepository appends run transitions to an append-only log.
// The journal is informational and never read back for control.
type JournalRepository interface {
	// Append adds a new record to the journal of slug
	Append(ctx context.Context, slug string, record *JournalRecord) error

	// Load retrieves all journal records of slug
	Load(ctx context.Context, slug string) ([]*JournalRecord, error)
}
