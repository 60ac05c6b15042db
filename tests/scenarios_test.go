// Package tests holds black-box, multi-transaction scenarios against
// the public pagestore API, the same split the teacher uses between
// fast package-local unit tests and its own slower tests/ package.
package tests

import (
	"bytes"
	"context"
	"crypto/rand"
	"sync"
	"testing"

	pagestore "github.com/dbathon/tagged-stuff-sub002"
)

// memoryBackend is a minimal in-process PageStoreBackend, independent
// of the package-internal one pagestore uses for its own unit tests,
// since this package can only see the exported surface.
type memoryBackend struct {
	maxPageSize uint32

	mu    sync.Mutex
	index pagestore.BackendIndexPage
	pages map[pagestore.BackendPageIdentifier][]byte
}

func newMemoryBackend(maxPageSize uint32) *memoryBackend {
	return &memoryBackend{maxPageSize: maxPageSize, pages: make(map[pagestore.BackendPageIdentifier][]byte)}
}

func (b *memoryBackend) MaxPageSize() uint32 { return b.maxPageSize }

func (b *memoryBackend) ReadPages(ctx context.Context, includeIndex bool, ids []pagestore.BackendPageIdentifier) (pagestore.ReadPagesResult, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	var result pagestore.ReadPagesResult
	if includeIndex {
		idx := b.index
		idx.Data = append([]byte(nil), b.index.Data...)
		result.IndexPage = &idx
	}
	for _, id := range ids {
		if data, ok := b.pages[id]; ok {
			result.Pages = append(result.Pages, pagestore.BackendPage{Id: id, Data: append([]byte(nil), data...)})
		}
	}
	return result, nil
}

func (b *memoryBackend) WritePages(ctx context.Context, indexPage pagestore.BackendIndexPage, previousTransactionId uint64, pages []pagestore.BackendPage) (bool, error) {
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
	b.index = pagestore.BackendIndexPage{TransactionId: indexPage.TransactionId, Data: append([]byte(nil), indexPage.Data...)}
	for _, p := range pages {
		for id := range b.pages {
			if id.PageNumber == p.Id.PageNumber && id.TransactionId != p.Id.TransactionId {
				delete(b.pages, id)
			}
		}
	}
	return true, nil
}

// TestEmptyStoreBoot is spec.md §8 scenario 1.
func TestEmptyStoreBoot(t *testing.T) {
	backend := newMemoryBackend(1 << 20)
	store, err := pagestore.NewPageStore(backend, pagestore.WithPageSize(1024))
	if err != nil {
		t.Fatalf("NewPageStore: %v", err)
	}

	outcome := store.RunTransaction(func(pa pagestore.PageAccess) bool { return true })
	if outcome.Kind != pagestore.Committed || outcome.NewIndexTxnId != 1 {
		t.Fatalf("expected the first committed transaction to be index txn id 1, got %+v", outcome)
	}

	var got []byte
	if err := store.ReadOnly(func(pa pagestore.PageAccess) { got = pa.Get(0) }); err != nil {
		t.Fatalf("ReadOnly: %v", err)
	}
	if !bytes.Equal(got, make([]byte, 1024)) {
		t.Fatalf("expected a fresh all-zero 1024-byte page, got %d bytes", len(got))
	}
}

// TestSingleByteWrite is spec.md §8 scenario 2.
func TestSingleByteWrite(t *testing.T) {
	backend := newMemoryBackend(1 << 20)
	store, err := pagestore.NewPageStore(backend, pagestore.WithPageSize(1024))
	if err != nil {
		t.Fatalf("NewPageStore: %v", err)
	}

	outcome := store.RunTransaction(func(pa pagestore.PageAccess) bool {
		b := pa.GetForUpdate(0)
		b[10] = 42
		return true
	})
	if outcome.Kind != pagestore.Committed {
		t.Fatalf("expected Committed, got %+v", outcome)
	}

	var got []byte
	store.ReadOnly(func(pa pagestore.PageAccess) { got = pa.Get(0) })
	for i, b := range got {
		if i == 10 {
			if b != 42 {
				t.Fatalf("expected offset 10 to be 42, got %d", b)
			}
		} else if b != 0 {
			t.Fatalf("expected every other offset to stay zero, offset %d was %d", i, b)
		}
	}
}

// TestPatchThreshold is spec.md §8 scenario 3.
func TestPatchThreshold(t *testing.T) {
	backend := newMemoryBackend(1 << 20)
	// pageSize 512 gives the default threshold pageSize/2 = 256 bytes:
	// page 0's 3-byte edit serializes to 5 bytes, page 1's 300-byte edit
	// to 305 bytes (chunks of 255 and 45 bytes plus their headers).
	store, err := pagestore.NewPageStore(backend, pagestore.WithPageSize(512))
	if err != nil {
		t.Fatalf("NewPageStore: %v", err)
	}

	for commit := 0; commit < 2; commit++ {
		outcome := store.RunTransaction(func(pa pagestore.PageAccess) bool {
			p0 := pa.GetForUpdate(0)
			p0[0]++
			p0[1]++
			p0[2]++
			p1 := pa.GetForUpdate(1)
			for i := 0; i < 300; i++ {
				p1[i] = byte(commit + 1)
			}
			return true
		})
		if outcome.Kind != pagestore.Committed {
			t.Fatalf("commit %d failed: %+v", commit, outcome)
		}
	}

	// Page 0's 3-byte edits stay well under the default patch threshold
	// (pageSize/2): no full page row should ever be written for it.
	foundFullPage0 := false
	foundFullPage1 := false
	for id := range backend.pages {
		switch id.PageNumber {
		case 0:
			foundFullPage0 = true
		case 1:
			foundFullPage1 = true
		}
	}
	if foundFullPage0 {
		t.Fatalf("expected page 0 to stay inline as patches, not a full page row")
	}
	if !foundFullPage1 {
		t.Fatalf("expected page 1's 300-byte edit to be written as a full page row")
	}
}

// TestIndexOverflowIntoTree is spec.md §8 scenario 4.
func TestIndexOverflowIntoTree(t *testing.T) {
	backend := newMemoryBackend(1 << 20)
	store, err := pagestore.NewPageStore(backend, pagestore.WithPageSize(1024))
	if err != nil {
		t.Fatalf("NewPageStore: %v", err)
	}

	const numPages = 2000
	for pn := uint64(0); pn < numPages; pn++ {
		outcome := store.RunTransaction(func(pa pagestore.PageAccess) bool {
			b := pa.GetForUpdate(pn)
			b[0] = byte(pn)
			return true
		})
		if outcome.Kind != pagestore.Committed {
			t.Fatalf("page %d: commit failed: %+v", pn, outcome)
		}
	}

	res, err := backend.ReadPages(context.Background(), true, nil)
	if err != nil {
		t.Fatalf("ReadPages: %v", err)
	}
	if res.IndexPage == nil {
		t.Fatalf("expected an index page after 2000 commits")
	}

	// Every page's content must still be resolvable, whether it lives
	// inline as an index patch or was flushed into the tree.
	for pn := uint64(0); pn < numPages; pn++ {
		var got []byte
		if err := store.ReadOnly(func(pa pagestore.PageAccess) { got = pa.Get(pn) }); err != nil {
			t.Fatalf("page %d: ReadOnly: %v", pn, err)
		}
		if got[0] != byte(pn) {
			t.Fatalf("page %d: expected byte %d, got %d", pn, byte(pn), got[0])
		}
	}
}

// TestCASConflictRetry is spec.md §8 scenario 5: the loser of a race
// between two committers observes Committed after a retry, and no data
// is lost.
func TestCASConflictRetry(t *testing.T) {
	// A single PageStore already serializes its own writers through its
	// internal lock, so a real CAS race only happens between two
	// independent stores (e.g. two processes) sharing one backend.
	backend := newMemoryBackend(1 << 20)
	storeA, err := pagestore.NewPageStore(backend, pagestore.WithPageSize(1024))
	if err != nil {
		t.Fatalf("NewPageStore: %v", err)
	}
	storeB, err := pagestore.NewPageStore(backend, pagestore.WithPageSize(1024))
	if err != nil {
		t.Fatalf("NewPageStore: %v", err)
	}

	var wg sync.WaitGroup
	wg.Add(2)

	var outcomeA, outcomeB pagestore.TransactionOutcome

	go func() {
		defer wg.Done()
		outcomeA = storeA.RunTransaction(func(pa pagestore.PageAccess) bool {
			pa.GetForUpdate(0)[0] = 1
			return true
		})
	}()
	go func() {
		defer wg.Done()
		outcomeB = storeB.RunTransaction(func(pa pagestore.PageAccess) bool {
			pa.GetForUpdate(1)[0] = 2
			return true
		})
	}()
	wg.Wait()

	if outcomeA.Kind != pagestore.Committed || outcomeB.Kind != pagestore.Committed {
		t.Fatalf("expected both transactions to eventually commit: A=%+v B=%+v", outcomeA, outcomeB)
	}
	if outcomeA.NewIndexTxnId == outcomeB.NewIndexTxnId {
		t.Fatalf("expected distinct index txn ids, got %d and %d", outcomeA.NewIndexTxnId, outcomeB.NewIndexTxnId)
	}

	var p0, p1 []byte
	storeA.ReadOnly(func(pa pagestore.PageAccess) {
		p0 = pa.Get(0)
		p1 = pa.Get(1)
	})
	if p0[0] != 1 || p1[0] != 2 {
		t.Fatalf("expected both writers' data to survive, got p0[0]=%d p1[0]=%d", p0[0], p1[0])
	}
}

// TestCompressionBypass is spec.md §8 scenario 6.
func TestCompressionBypass(t *testing.T) {
	random := make([]byte, 4096)
	if _, err := rand.Read(random); err != nil {
		t.Fatalf("rand.Read: %v", err)
	}

	transform := pagestore.CompressingTransform{}
	encoded, err := transform.Forward(random)
	if err != nil {
		t.Fatalf("Forward: %v", err)
	}
	// spec.md §8 scenario 6: incompressible input is stored verbatim
	// with a trailing NONE marker byte (0).
	if len(encoded) == 0 || encoded[len(encoded)-1] != 0 {
		t.Fatalf("expected incompressible input to be stored with the NONE marker byte")
	}

	decoded, err := transform.Reverse(encoded)
	if err != nil {
		t.Fatalf("Reverse: %v", err)
	}
	if !bytes.Equal(decoded, random) {
		t.Fatalf("expected round-trip to return the exact original bytes")
	}
}
