package pagestore

// PageAccess is the interface a transaction closure gets: reads and
// marks pages for update against a fixed snapshot (spec.md §4.5). Both
// methods are non-suspending; a page not yet loaded into the snapshot
// is surfaced by the internal needsPage signal (spec.md §9), caught
// only at the engine boundary and never returned to a caller.
type PageAccess interface {
	// Get returns the page's current bytes (baseline, or the mutable
	// buffer installed by a prior GetForUpdate in this same attempt).
	Get(pageNumber uint64) []byte

	// GetForUpdate returns a mutable buffer for the page, copy-on-write
	// from its baseline on first call within this attempt.
	GetForUpdate(pageNumber uint64) []byte
}

// needsPage is the internal control-flow signal raised by pageAccess
// when a page is missing from the snapshot. It is recovered only by
// runOnce; it must never reach a caller of RunTransaction.
type needsPage struct {
	pageNumber uint64
}

// pageAccessImpl is the PageAccess handed to a transaction closure for
// one attempt. pageSize is carried along but not read by Get or
// GetForUpdate: zero pages for never-written page numbers are created
// when the attempt loads them (fetchOrZero), before they are accessed.
type pageAccessImpl struct {
	snapshot *Snapshot
	pageSize int
}

func (a *pageAccessImpl) Get(pageNumber uint64) []byte {
	entry, ok := a.snapshot.entry(pageNumber)
	if !ok {
		panic(needsPage{pageNumber: pageNumber})
	}
	return entry.Current
}

func (a *pageAccessImpl) GetForUpdate(pageNumber uint64) []byte {
	entry, ok := a.snapshot.entry(pageNumber)
	if !ok {
		panic(needsPage{pageNumber: pageNumber})
	}
	if !entry.Dirty {
		buf := make([]byte, len(entry.Baseline))
		copy(buf, entry.Baseline)
		entry.Current = buf
		entry.Dirty = true
		a.snapshot.dirty[pageNumber] = struct{}{}
	}
	return entry.Current
}
