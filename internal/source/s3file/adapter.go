package s3file

import (
	"context"
	"encoding/json"
	"fmt"
	"path"

	"github.com/timmy/dishrank/internal/logger"
	"github.com/timmy/dishrank/internal/source"
	"github.com/timmy/dishrank/internal/storage"
)

// Adapter reads a JSON Lines object from object storage.
type Adapter struct {
	store    storage.ObjectStorage
	key      string
	sourceID string
	records  []json.RawMessage
	loaded   bool
}

// NewAdapter creates a new S3 JSONL adapter for the object at key.
func NewAdapter(store storage.ObjectStorage, key, sourceID string) *Adapter {
	return &Adapter{store: store, key: key, sourceID: sourceID}
}

// GetSourceID returns the external source identifier.
func (a *Adapter) GetSourceID() string {
	return a.sourceID
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("S3 object %s (%s)", path.Base(a.key), a.sourceID)
}

// FetchBatch downloads the object on first use and pages through it.
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
	body, err := a.store.Download(ctx, a.key)
	if err != nil {
		return err
	}
	defer body.Close()

	records, skipped, err := source.ReadJSONL(body)
	if err != nil {
		return fmt.Errorf("read %s: %w", a.key, err)
	}
	if skipped > 0 {
		logger.CtxWarn(ctx, "Skipped %d malformed lines in s3 object %s", skipped, a.key)
	}
	a.records = records
	return nil
}
