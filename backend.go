package pagestore

import "context"

// BackendPageIdentifier pairs a page number with the transaction id it
// was written under (spec.md §3).
type BackendPageIdentifier struct {
	PageNumber    uint64
	TransactionId uint64
}

// BackendPage is a page's bytes as stored by a backend, keyed by its
// identifier.
type BackendPage struct {
	Id   BackendPageIdentifier
	Data []byte
}

// BackendIndexPage is the authoritative snapshot descriptor: given
// this record, the current version of every other page in the store
// can be located (spec.md §3).
type BackendIndexPage struct {
	TransactionId uint64
	Data          []byte
}

// ReadPagesResult is the return value of PageStoreBackend.readPages.
type ReadPagesResult struct {
	IndexPage *BackendIndexPage // nil if includeIndex was false
	Pages     []BackendPage     // order unspecified; missing pages are omitted
}

// PageStoreBackend is the pluggable key-value contract the engine
// persists through (spec.md §4.6). Concrete backends (in-memory, HTTP
// key-value, SQL-over-REST, cloud function, ...) are external
// collaborators; this module only depends on the contract.
type PageStoreBackend interface {
	// MaxPageSize is the hard upper bound on any single data blob this
	// backend accepts.
	MaxPageSize() uint32

	// ReadPages fetches the index page (if includeIndex) and any of
	// ids that currently exist. Missing pages are omitted silently;
	// this is not an error.
	ReadPages(ctx context.Context, includeIndex bool, ids []BackendPageIdentifier) (ReadPagesResult, error)

	// WritePages attempts to insert every page in pages under its
	// identifier, then compare-and-swaps the index row: it succeeds
	// only if the stored index row's previous transaction id equals
	// previousTransactionId (0 meaning "no row yet"). Returns false,
	// nil on either a page-insert conflict or a CAS mismatch; in both
	// cases the index row is left unchanged. On success the backend
	// fires best-effort deletes of stale (pageNumber, olderTxnId) rows
	// for the just-written page numbers.
	WritePages(ctx context.Context, indexPage BackendIndexPage, previousTransactionId uint64, pages []BackendPage) (bool, error)
}
