package costs

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/ternarybob/venari/internal/models"
)

// journalCap bounds the on-disk journal; older entries drop on write.
const journalCap = 1000

// journal persists usage records as a JSON array with write-then-rename
// atomicity. A single writer (the tracker's mutex) is assumed.
type journal struct {
	path string
}

// load replays the journal into memory. A missing file is an empty journal.
func (j *journal) load() ([]models.UsageRecord, error) {
	data, err := os.ReadFile(j.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read cost journal %s: %w", j.path, err)
	}

	var records []models.UsageRecord
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to parse cost journal %s: %w", j.path, err)
	}
	return records, nil
}

// write persists the journal, keeping only the most recent journalCap
// entries.
func (j *journal) write(records []models.UsageRecord) error {
	if len(records) > journalCap {
		records = records[len(records)-journalCap:]
	}

	if err := os.MkdirAll(filepath.Dir(j.path), 0755); err != nil {
		return fmt.Errorf("failed to create journal directory: %w", err)
	}

	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize cost journal: %w", err)
	}

	tmp := j.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write cost journal: %w", err)
	}
	if err := os.Rename(tmp, j.path); err != nil {
		return fmt.Errorf("failed to commit cost journal: %w", err)
	}
	return nil
}
