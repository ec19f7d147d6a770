package httpfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/tidwall/gjson"

	"github.com/timmy/dishrank/internal/config"
)

// Adapter pages through a JSON feed that answers
// GET {base}?cursor=..&limit=.. with {"items": [...], "nextCursor": "..."}.
type Adapter struct {
	client   *resty.Client
	baseURL  string
	sourceID string
}

// NewAdapter creates a new HTTP feed adapter.
// Parameters:
//   - cfg: feed settings; APIKey, when set, is sent as a bearer token.
//   - sourceID: identifier stored on jobs and links for this feed.
// Returns:
//   - *Adapter: initialized adapter.
func NewAdapter(cfg config.HTTPFeedConfig, sourceID string) *Adapter {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	client := resty.New().
		SetTimeout(timeout).
		SetRetryCount(2).
		SetRetryWaitTime(500*time.Millisecond).
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("Authorization", "Bearer "+cfg.APIKey)
	}
	return &Adapter{client: client, baseURL: cfg.BaseURL, sourceID: sourceID}
}

// GetSourceID returns the external source identifier.
func (a *Adapter) GetSourceID() string {
	return a.sourceID
}

// GetDisplayName returns a human-readable name for this source.
func (a *Adapter) GetDisplayName() string {
	return fmt.Sprintf("HTTP feed %s (%s)", a.baseURL, a.sourceID)
}

// FetchBatch requests one page from the feed.
func (a *Adapter) FetchBatch(ctx context.Context, cursor string, limit int) ([]json.RawMessage, string, error) {
	req := a.client.R().SetContext(ctx)
	if cursor != "" {
		req.SetQueryParam("cursor", cursor)
	}
	if limit > 0 {
		req.SetQueryParam("limit", strconv.Itoa(limit))
	}

	resp, err := req.Get(a.baseURL)
	if err != nil {
		return nil, "", fmt.Errorf("failed to call feed: %w", err)
	}
	if resp.StatusCode() != 200 {
		return nil, "", fmt.Errorf("feed error: status %d", resp.StatusCode())
	}

	body := resp.Body()
	if !gjson.ValidBytes(body) {
		return nil, "", fmt.Errorf("feed returned invalid JSON")
	}
	doc := gjson.ParseBytes(body)

	items := doc.Get("items")
	if !items.IsArray() {
		return nil, "", fmt.Errorf("feed response has no items array")
	}
	records := make([]json.RawMessage, 0, len(items.Array()))
	items.ForEach(func(_, value gjson.Result) bool {
		if value.IsObject() {
			records = append(records, json.RawMessage(value.Raw))
		}
		return true
	})

	return records, doc.Get("nextCursor").String(), nil
}
