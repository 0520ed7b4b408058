package file

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"

	"github.com/YoshitsuguKoike/deerun/internal/domain/repository"
	"github.com/YoshitsuguKoike/deerun/internal/pkg/specpath"
	"github.com/spf13/afero"
)

// JournalRepository appends NDJSON records to .state/{slug}.journal.ndjson
type JournalRepository struct {
	fs   afero.Fs
	root string
}

// NewJournalRepository creates a journal rooted at root
func NewJournalRepository(fs afero.Fs, root string) *JournalRepository {
	return &JournalRepository{fs: fs, root: root}
}

// Append adds a new record to the journal of slug
func (r *JournalRepository) Append(ctx context.Context, slug string, record *repository.JournalRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal journal record: %w", err)
	}
	return AppendLine(r.fs, r.pathFor(slug), data)
}

// Load retrieves all journal records of slug. Malformed lines are skipped.
func (r *JournalRepository) Load(ctx context.Context, slug string) ([]*repository.JournalRecord, error) {
	data, err := afero.ReadFile(r.fs, r.pathFor(slug))
	if err != nil {
		if os.IsNotExist(err) {
			return []*repository.JournalRecord{}, nil
		}
		return nil, fmt.Errorf("failed to read journal: %w", err)
	}

	records := []*repository.JournalRecord{}
	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var rec repository.JournalRecord
		if err := json.Unmarshal(line, &rec); err != nil {
			continue
		}
		records = append(records, &rec)
	}
	return records, scanner.Err()
}

func (r *JournalRepository) pathFor(slug string) string {
	return path.Join(r.root, specpath.JournalPath(slug))
}
