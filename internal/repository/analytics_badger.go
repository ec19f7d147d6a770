package repository

import (
	"context"
	"errors"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/timmy/dishrank/internal/domain"
	"github.com/timmy/dishrank/internal/logger"
)

const analyticsKeyPrefix = "analytics:"

// conflicting transactions on the same key are retried this many times
const badgerConflictRetries = 3

// BadgerAnalyticsStore keeps analytics records in an embedded BadgerDB. Entries
// expire at the record's ttl.
type BadgerAnalyticsStore struct {
	db  *badger.DB
	now func() time.Time
}

// OpenBadger opens a BadgerDB at dir. An empty dir opens an in-memory database.
func OpenBadger(dir string) (*badger.DB, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}
	return badger.Open(opts)
}

// NewBadgerAnalyticsStore creates a store on db.
// Parameters:
//   - db: BadgerDB instance, possibly shared with other components.
// Returns:
//   - *BadgerAnalyticsStore: store bound to db.
func NewBadgerAnalyticsStore(db *badger.DB) *BadgerAnalyticsStore {
	return &BadgerAnalyticsStore{db: db, now: time.Now}
}

func analyticsKey(eventID string) []byte {
	return []byte(analyticsKeyPrefix + eventID)
}

// PutIfAbsent stores record unless its eventId already exists.
// Parameters:
//   - ctx: context for cancellation and deadlines.
//   - record: record to write.
// Returns:
//   - error: *domain.DuplicateError if the event id is taken, a
//     *domain.StoreError for any other failure.
func (s *BadgerAnalyticsStore) PutIfAbsent(ctx context.Context, record *domain.AnalyticsRecord) error {
	data, err := json.Marshal(record)
	if err != nil {
		return domain.NewStoreError("marshal analytics record", err)
	}
	key := analyticsKey(record.EventID)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return domain.NewStoreError("put analytics record", err)
		}

		err = s.db.Update(func(txn *badger.Txn) error {
			if _, err := txn.Get(key); err == nil {
				return &domain.DuplicateError{Key: record.EventID}
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}

			e := badger.NewEntry(key, data)
			if record.TTL > 0 {
				ttl := time.Unix(record.TTL, 0).Sub(s.now())
				if ttl <= 0 {
					// already past retention; keep briefly so duplicates are still caught
					ttl = time.Minute
				}
				e = e.WithTTL(ttl)
			}
			return txn.SetEntry(e)
		})
		if errors.Is(err, badger.ErrConflict) && attempt < badgerConflictRetries {
			continue
		}
		break
	}

	if err != nil {
		if domain.IsDuplicate(err) {
			return err
		}
		return domain.NewStoreError("put analytics record", err)
	}
	return nil
}

// Get retrieves a record by event id.
func (s *BadgerAnalyticsStore) Get(ctx context.Context, eventID string) (*domain.AnalyticsRecord, error) {
	var record domain.AnalyticsRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(analyticsKey(eventID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, ErrAnalyticsRecordNotFound
		}
		return nil, domain.NewStoreError("get analytics record", err)
	}
	return &record, nil
}

// Count returns the number of live analytics records.
func (s *BadgerAnalyticsStore) Count(ctx context.Context) (int, error) {
	count := 0
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(analyticsKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	return count, err
}

// badgerGCInterval is how often RunBadgerGC reclaims value-log space.
const badgerGCInterval = 10 * time.Minute

// RunBadgerGC rewrites value-log files whose expired share exceeds half until
// ctx ends. It returns at once for in-memory databases.
func RunBadgerGC(ctx context.Context, db *badger.DB) {
	ticker := time.NewTicker(badgerGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		for {
			err := db.RunValueLogGC(0.5)
			if errors.Is(err, badger.ErrGCInMemoryMode) {
				return
			}
			if err != nil {
				if !errors.Is(err, badger.ErrNoRewrite) {
					logger.CtxWarn(ctx, "Badger value log GC failed: %v", err)
				}
				break
			}
		}
	}
}
