package s3file

import (
	"bytes"
	"context"
	"errors"
	"io"
	"testing"
)

type memStorage map[string][]byte

func (m memStorage) Upload(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	b, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	m[key] = b
	return nil
}

func (m memStorage) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	b, ok := m[key]
	if !ok {
		return nil, errors.New("not found")
	}
	return io.NopCloser(bytes.NewReader(b)), nil
}

func (m memStorage) Exists(ctx context.Context, key string) (bool, error) {
	_, ok := m[key]
	return ok, nil
}

func TestAdapter_FetchBatch(t *testing.T) {
	store := memStorage{
		"imports/dishes.jsonl": []byte("{\"externalId\":\"d1\"}\n{broken\n{\"externalId\":\"d2\"}\n{\"externalId\":\"d3\"}\n"),
	}
	a := NewAdapter(store, "imports/dishes.jsonl", "ubereats")

	batch, next, err := a.FetchBatch(context.Background(), "", 2)
	if err != nil {
		t.Fatalf("FetchBatch() error = %v", err)
	}
	if len(batch) != 2 || next != "2" {
		t.Fatalf("first page = %d records, next %q", len(batch), next)
	}
	batch, next, err = a.FetchBatch(context.Background(), next, 2)
	if err != nil {
		t.Fatalf("FetchBatch() error = %v", err)
	}
	if len(batch) != 1 || next != "" {
		t.Errorf("second page = %d records, next %q", len(batch), next)
	}
	if a.GetDisplayName() != "S3 object dishes.jsonl (ubereats)" {
		t.Errorf("GetDisplayName() = %q", a.GetDisplayName())
	}
}

func TestAdapter_MissingObject(t *testing.T) {
	a := NewAdapter(memStorage{}, "missing.jsonl", "x")
	if _, _, err := a.FetchBatch(context.Background(), "", 1); err == nil {
		t.Error("FetchBatch() on missing object returned nil error")
	}
}
