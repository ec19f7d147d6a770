package source

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// Source defines the interface for raw import record sources.
type Source interface {
	// GetSourceID returns the identifier stored on import jobs and links.
	// Parameters: none.
	// Returns:
	//   - string: stable source identifier.
	GetSourceID() string

	// GetDisplayName returns a human-readable name for this source.
	GetDisplayName() string

	// FetchBatch fetches raw JSON records starting from the given cursor.
	// Parameters:
	//   - ctx: context for cancellation and deadlines.
	//   - cursor: pagination cursor or empty for first page.
	//   - limit: maximum number of records to fetch.
	// Returns:
	//   - records: raw JSON objects, one per record.
	//   - nextCursor: cursor for the next batch or empty if done.
	//   - err: non-nil if fetching fails.
	FetchBatch(ctx context.Context, cursor string, limit int) (records []json.RawMessage, nextCursor string, err error)
}

// FetchAll drains src page by page. limit <= 0 reads everything.
func FetchAll(ctx context.Context, src Source, pageSize, limit int) ([]json.RawMessage, error) {
	if pageSize <= 0 {
		pageSize = 100
	}
	var all []json.RawMessage
	cursor := ""
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		n := pageSize
		if limit > 0 && limit-len(all) < n {
			n = limit - len(all)
		}
		records, next, err := src.FetchBatch(ctx, cursor, n)
		if err != nil {
			return nil, fmt.Errorf("fetch from %s: %w", src.GetSourceID(), err)
		}
		all = append(all, records...)
		if next == "" || len(records) == 0 || (limit > 0 && len(all) >= limit) {
			return all, nil
		}
		cursor = next
	}
}

// ReadJSONL reads one JSON object per line. Blank lines are ignored; lines
// that are not valid JSON are skipped and counted.
func ReadJSONL(r io.Reader) (records []json.RawMessage, skipped int, err error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !gjson.Valid(line) {
			skipped++
			continue
		}
		records = append(records, json.RawMessage(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, skipped, fmt.Errorf("error reading records: %w", err)
	}
	return records, skipped, nil
}

// Page slices an in-memory record list using an index cursor.
func Page(records []json.RawMessage, cursor string, limit int) ([]json.RawMessage, string, error) {
	start := 0
	if cursor != "" {
		var err error
		start, err = strconv.Atoi(cursor)
		if err != nil || start < 0 {
			return nil, "", fmt.Errorf("invalid cursor %q", cursor)
		}
	}
	if start >= len(records) {
		return []json.RawMessage{}, "", nil
	}

	end := len(records)
	if limit > 0 && start+limit < end {
		end = start + limit
	}

	next := ""
	if end < len(records) {
		next = strconv.Itoa(end)
	}
	return records[start:end], next, nil
}
