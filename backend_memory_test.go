package pagestore

import (
	"context"
	"sync"
)

// memoryBackend is a minimal in-process PageStoreBackend used to
// exercise the engine and the transform wrappers in tests. It is not
// part of the public API; concrete backends are out of scope for this
// module (spec.md §1), but something has to stand in for one here.
type memoryBackend struct {
	maxPageSize uint32

	mu    sync.Mutex
	index BackendIndexPage
	pages map[BackendPageIdentifier][]byte
}

func newMemoryBackend(maxPageSize uint32) *memoryBackend {
	return &memoryBackend{
		maxPageSize: maxPageSize,
		pages:       make(map[BackendPageIdentifier][]byte),
	}
}

func testContext() context.Context { return context.Background() }

func (b *memoryBackend) MaxPageSize() uint32 { return b.maxPageSize }

func (b *memoryBackend) ReadPages(ctx context.Context, includeIndex bool, ids []BackendPageIdentifier) (ReadPagesResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result ReadPagesResult
	if includeIndex {
		idx := b.index
		idx.Data = append([]byte(nil), b.index.Data...)
		result.IndexPage = &idx
	}
	for _, id := range ids {
		if data, ok := b.pages[id]; ok {
			result.Pages = append(result.Pages, BackendPage{Id: id, Data: append([]byte(nil), data...)})
		}
	}
	return result, nil
}

func (b *memoryBackend) WritePages(ctx context.Context, indexPage BackendIndexPage, previousTransactionId uint64, pages []BackendPage) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, p := range pages {
		if _, exists := b.pages[p.Id]; exists {
			return false, nil
		}
	}
	if b.index.TransactionId != previousTransactionId {
		return false, nil
	}

	for _, p := range pages {
		b.pages[p.Id] = append([]byte(nil), p.Data...)
	}
	b.index = BackendIndexPage{TransactionId: indexPage.TransactionId, Data: append([]byte(nil), indexPage.Data...)}

	// Best-effort GC of stale (pageNumber, olderTxnId) rows for the
	// page numbers just written.
	for _, p := range pages {
		for id := range b.pages {
			if id.PageNumber == p.Id.PageNumber && id.TransactionId != p.Id.TransactionId {
				delete(b.pages, id)
			}
		}
	}
	return true, nil
}
