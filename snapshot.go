package pagestore

import (
	"unsafe"

	"github.com/dbathon/tagged-stuff-sub002/internal/fastmap"
)

// PageEntry is the in-memory state of one page within a Snapshot
// (spec.md §3). Baseline is never mutated after being set; Current may
// equal Baseline by identity until getForUpdate allocates a distinct,
// mutable copy.
type PageEntry struct {
	CommittedTxnId uint64 // the txnId the backend holds, or 0 if never stored
	Baseline       []byte
	Current        []byte
	Dirty          bool
}

// Snapshot is an in-memory view pinned to one index transaction id
// (spec.md §3). It is created on demand and discarded once nothing
// references it; this module never pools or globally caches snapshots.
type Snapshot struct {
	IndexTxnId          uint64
	MaxNormalPageNumber uint64
	pages               fastmap.Uint64Map
	dirty               map[uint64]struct{}
}

func newSnapshot(indexTxnId, maxNormalPageNumber uint64) *Snapshot {
	return &Snapshot{
		IndexTxnId:          indexTxnId,
		MaxNormalPageNumber: maxNormalPageNumber,
		dirty:               make(map[uint64]struct{}),
	}
}

func (s *Snapshot) entry(pageNumber uint64) (*PageEntry, bool) {
	p := s.pages.Get(pageNumber)
	if p == nil {
		return nil, false
	}
	return (*PageEntry)(p), true
}

func (s *Snapshot) setEntry(pageNumber uint64, e *PageEntry) {
	s.pages.Set(pageNumber, unsafe.Pointer(e))
}

// installPage records a page's backend-read bytes as both baseline and
// current, clean.
func (s *Snapshot) installPage(pageNumber, txnId uint64, data []byte) {
	s.setEntry(pageNumber, &PageEntry{CommittedTxnId: txnId, Baseline: data, Current: data})
}

// dirtyPageNumbers returns the page numbers marked dirty, in ascending
// order, for deterministic commit-building.
func (s *Snapshot) dirtyPageNumbers() []uint64 {
	nums := make([]uint64, 0, len(s.dirty))
	for n := range s.dirty {
		nums = append(nums, n)
	}
	for i := 1; i < len(nums); i++ {
		for j := i; j > 0 && nums[j-1] > nums[j]; j-- {
			nums[j-1], nums[j] = nums[j], nums[j-1]
		}
	}
	return nums
}
