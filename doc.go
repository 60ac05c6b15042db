// Package pagestore is a client-side transactional page store: fixed
// size pages, addressed by page number, persisted through a pluggable
// key/value backend.
//
// A PageStore never talks to a database directly. It keeps its own
// index of which transaction id last wrote each page, encoded as a
// small "index page" plus an addressable tree of overflow pages, and
// hands the backend only (pageNumber, transactionId) -> bytes rows
// plus one index row with optimistic compare-and-swap semantics. Any
// key/value store that can do that much can back a PageStore.
//
// Key features:
//   - MVCC reads against a pinned snapshot, independent of writers
//   - optimistic concurrency control with bounded stale-page/CAS retries
//   - patches (byte-range diffs) stored inline in the index instead of
//     a fresh full page, for small edits
//   - a read-invalidation subscription (ReadsRecorder) decoupled from
//     transactions
//   - pluggable Transform wrappers (compression, authenticated
//     encryption) around whatever the backend actually stores
//
// Basic usage:
//
//	store, err := pagestore.NewPageStore(backend)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	outcome := store.RunTransaction(func(pa pagestore.PageAccess) bool {
//	    buf := pa.GetForUpdate(42)
//	    buf[0] = 1
//	    return true
//	})
//	if outcome.Kind != pagestore.Committed {
//	    log.Fatal(outcome.Err)
//	}
package pagestore
