// Package bolt adapts go.etcd.io/bbolt into a pagestore.PageStoreBackend
// (spec.md §4.6). It is a reference implementation for benchmarking and
// integration testing, not a backend this module ships as part of its
// core contract (spec.md §1's Non-goals exclude concrete backends).
package bolt

import (
	"context"
	"encoding/binary"
	"fmt"

	bolt "go.etcd.io/bbolt"

	pagestore "github.com/dbathon/tagged-stuff-sub002"
)

var (
	indexBucket = []byte("index")
	pagesBucket = []byte("pages")

	indexKey = []byte("current")
)

// maxPageSize is generous; bbolt itself has no page-size ceiling that
// matters for this module's fixed-size pages.
const maxPageSize = 1 << 20

// Backend is a pagestore.PageStoreBackend backed by a single bbolt
// database file. Every WritePages call runs inside one bbolt write
// transaction, so bbolt's own single-writer serialization gives the
// compare-and-swap on the index row for free: the read-compare-write
// happens atomically within that transaction.
type Backend struct {
	db *bolt.DB
}

// Open opens (creating if needed) a bbolt file at path and prepares its
// two buckets.
func Open(path string) (*Backend, error) {
	db, err := bolt.Open(path, 0644, &bolt.Options{NoFreelistSync: true})
	if err != nil {
		return nil, fmt.Errorf("pagestore/backends/bolt: open: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(indexBucket); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(pagesBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("pagestore/backends/bolt: init buckets: %w", err)
	}
	return &Backend{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (b *Backend) Close() error {
	return b.db.Close()
}

func (b *Backend) MaxPageSize() uint32 { return maxPageSize }

// pageKey packs (pageNumber, transactionId) into bbolt's flat byte-slice
// keyspace; big-endian keeps keys of equal pageNumber adjacent (ordered
// by transaction id), and the stale-row GC pass below relies on that
// adjacency.
func pageKey(id pagestore.BackendPageIdentifier) []byte {
	key := make([]byte, 16)
	binary.BigEndian.PutUint64(key[:8], id.PageNumber)
	binary.BigEndian.PutUint64(key[8:], id.TransactionId)
	return key
}

func (b *Backend) ReadPages(ctx context.Context, includeIndex bool, ids []pagestore.BackendPageIdentifier) (pagestore.ReadPagesResult, error) {
	var result pagestore.ReadPagesResult
	err := b.db.View(func(tx *bolt.Tx) error {
		if includeIndex {
			idxBucket := tx.Bucket(indexBucket)
			if raw := idxBucket.Get(indexKey); raw != nil {
				txnId := binary.BigEndian.Uint64(raw[:8])
				data := append([]byte(nil), raw[8:]...)
				result.IndexPage = &pagestore.BackendIndexPage{TransactionId: txnId, Data: data}
			}
		}
		pagesB := tx.Bucket(pagesBucket)
		for _, id := range ids {
			if raw := pagesB.Get(pageKey(id)); raw != nil {
				result.Pages = append(result.Pages, pagestore.BackendPage{Id: id, Data: append([]byte(nil), raw...)})
			}
		}
		return nil
	})
	if err != nil {
		return pagestore.ReadPagesResult{}, fmt.Errorf("pagestore/backends/bolt: read: %w", err)
	}
	return result, nil
}

func (b *Backend) WritePages(ctx context.Context, indexPage pagestore.BackendIndexPage, previousTransactionId uint64, pages []pagestore.BackendPage) (bool, error) {
	committed := false
	err := b.db.Update(func(tx *bolt.Tx) error {
		idxBucket := tx.Bucket(indexBucket)
		pagesB := tx.Bucket(pagesBucket)

		current := uint64(0)
		if raw := idxBucket.Get(indexKey); raw != nil {
			current = binary.BigEndian.Uint64(raw[:8])
		}
		if current != previousTransactionId {
			return nil // CAS conflict; committed stays false
		}

		for _, p := range pages {
			key := pageKey(p.Id)
			if pagesB.Get(key) != nil {
				return nil // page already exists under this id; CAS conflict
			}
		}

		for _, p := range pages {
			if err := pagesB.Put(pageKey(p.Id), p.Data); err != nil {
				return err
			}
		}

		raw := make([]byte, 8+len(indexPage.Data))
		binary.BigEndian.PutUint64(raw[:8], indexPage.TransactionId)
		copy(raw[8:], indexPage.Data)
		if err := idxBucket.Put(indexKey, raw); err != nil {
			return err
		}

		// Best-effort GC of stale (pageNumber, olderTxnId) rows for the
		// page numbers just written (spec.md §4.6, SPEC_FULL.md §C).
		for _, p := range pages {
			c := pagesB.Cursor()
			prefix := make([]byte, 8)
			binary.BigEndian.PutUint64(prefix, p.Id.PageNumber)
			for k, _ := c.Seek(prefix); k != nil && len(k) == 16 && binary.BigEndian.Uint64(k[:8]) == p.Id.PageNumber; k, _ = c.Next() {
				if binary.BigEndian.Uint64(k[8:]) != p.Id.TransactionId {
					if err := c.Delete(); err != nil {
						return err
					}
				}
			}
		}

		committed = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("pagestore/backends/bolt: write: %w", err)
	}
	return committed, nil
}
