package jsonl

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/timmy/dishrank/internal/logger"
	"github.com/timmy/dishrank/internal/source"
)

// Adapter implements the Source interface for a local JSON Lines file.
type Adapter struct {
	path     string
	sourceID string
	records  []json.RawMessage
	loaded   bool
}

// NewAdapter creates a new JSONL adapter.
// Parameters:
//   - path: path to the .jsonl file.
//   - sourceID: identifier of the external source the file came from.
// Returns:
//   - *Adapter: initialized adapter; the file is read on first fetch.
func NewAdapter(path, sourceID string) *Adapter {
	return &Adapter{path: path, sourceID: sourceID}
}

// GetSourceID returns the external source identifier.
func (a *Adapter) GetSourceID() string {
	return a.sourceID
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("JSONL file %s (%s)", filepath.Base(a.path), a.sourceID)
}

// FetchBatch returns records from the file using an index cursor.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - cursor: pagination cursor as an index string.
//   - limit: maximum number of records to fetch.
// Returns:
//   - []json.RawMessage: batch of raw records.
//   - string: next cursor or empty if no more records.
//   - error: non-nil if loading or cursor parsing fails.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]json.RawMessage, string, error) {
	if !a.loaded {
		if err := a.load(ctx); err != nil {
			return nil, "", err
		}
		a.loaded = true
	}
	return source.Page(a.records, cursor, limit)
}

func (a *Adapter) load(ctx context.Context) error {
	file, err := os.Open(a.path)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", a.path, err)
	}
	defer file.Close()

	records, skipped, err := source.ReadJSONL(file)
	if err != nil {
		return err
	}
	if skipped > 0 {
		logger.CtxWarn(ctx, "Skipped %d malformed lines in %s", skipped, a.path)
	}
	a.records = records
	return nil
}
