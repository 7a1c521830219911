// Package store provides durable, keyed storage for recorded presentations:
// a recording catalog backed by SQLite and per-recording segment blob
// partitions backed by Badger.
package store

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/dgraph-io/badger/v4"
)

// BlobStore is the segment blob store. Each recording gets its own partition,
// realized as a key prefix inside a single Badger instance so a partition can
// be dropped in one DropPrefix call when its recording is deleted.
//
// Keys have the form "<partition>/<segmentKey>". Values are written once and
// never mutated after a successful write; a retried write to the same key is
// last-write-wins, which is safe because segment bytes for a key are
// reproducible from the same source.
type BlobStore struct {
	db     *badger.DB
	logger *slog.Logger
}

// OpenBlobStore opens (or creates) the blob store in the given directory.
// An empty dir opens an in-memory store that does not survive a restart.
func OpenBlobStore(dir string, logger *slog.Logger) (*BlobStore, error) {
	if logger == nil {
		logger = slog.Default()
	}

	opts := badger.DefaultOptions(dir).WithLogger(nil)
	if dir == "" {
		opts = opts.WithInMemory(true)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: opening blob store: %v", ErrStorageUnavailable, err)
	}

	return &BlobStore{db: db, logger: logger}, nil
}

// Close closes the underlying storage engine.
func (b *BlobStore) Close() error {
	return b.db.Close()
}

// CreatePartition prepares a partition for writes. Partitions are key
// prefixes, so creation is idempotent and requires no storage mutation; the
// call exists to surface an unusable engine before any segment download
// starts.
func (b *BlobStore) CreatePartition(name string) error {
	if b.db.IsClosed() {
		return fmt.Errorf("%w: blob store is closed", ErrStorageUnavailable)
	}
	if name == "" || strings.Contains(name, "/") {
		return fmt.Errorf("%w: invalid partition name %q", ErrStorageUnavailable, name)
	}
	return nil
}

// Put stores segment bytes under a key inside a partition. Concurrent writes
// to different keys are safe; a same-key retry race resolves last-write-wins.
func (b *BlobStore) Put(partition, key string, data []byte) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(blobKey(partition, key), data)
	})
	if err != nil {
		return classifyWriteError(err)
	}
	return nil
}

// Get retrieves segment bytes by partition and key. Returns
// ErrSegmentNotFound if no blob exists under the key.
func (b *BlobStore) Get(partition, key string) ([]byte, error) {
	var data []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(blobKey(partition, key))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s/%s", ErrSegmentNotFound, partition, key)
		}
		return nil, fmt.Errorf("reading segment %s/%s: %w", partition, key, err)
	}
	return data, nil
}

// DropPartition removes every blob in a partition. Dropping a partition that
// was never written to is a no-op, not an error: a recording may be deleted
// before any segment was stored.
func (b *BlobStore) DropPartition(name string) error {
	if err := b.db.DropPrefix([]byte(name + "/")); err != nil {
		return fmt.Errorf("dropping partition %s: %w", name, err)
	}
	b.logger.Debug("partition dropped", slog.String("partition", name))
	return nil
}

// CountPartition returns the number of blobs stored in a partition.
func (b *BlobStore) CountPartition(name string) (int, error) {
	count := 0
	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = []byte(name + "/")
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			count++
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("counting partition %s: %w", name, err)
	}
	return count, nil
}

// Ensure BlobStore implements the store's blob engine contract.
var _ Blobs = (*BlobStore)(nil)

// blobKey builds the full storage key for a segment blob.
func blobKey(partition, key string) []byte {
	return []byte(partition + "/" + key)
}

// classifyWriteError maps storage engine write failures onto the store's
// error taxonomy. Out-of-space conditions become ErrQuotaExceeded; everything
// else becomes ErrStorageWrite. Both are fatal to an active session.
func classifyWriteError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "no space") || strings.Contains(msg, "disk quota") ||
		strings.Contains(msg, "exceeded") {
		return fmt.Errorf("%w (%w): %v", ErrQuotaExceeded, ErrStorageWrite, err)
	}
	if errors.Is(err, badger.ErrDBClosed) || errors.Is(err, badger.ErrBlockedWrites) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return fmt.Errorf("%w: %v", ErrStorageWrite, err)
}
