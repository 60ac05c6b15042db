package pagestore

import "sync"

// recordingPageAccess wraps a PageAccess and remembers every page
// number passed to Get or GetForUpdate, so the engine can learn which
// pages a read-only recorder action depends on (spec.md §4.5, §9).
type recordingPageAccess struct {
	inner   PageAccess
	touched map[uint64]struct{}
}

func (r *recordingPageAccess) Get(pageNumber uint64) []byte {
	r.touched[pageNumber] = struct{}{}
	return r.inner.Get(pageNumber)
}

func (r *recordingPageAccess) GetForUpdate(pageNumber uint64) []byte {
	r.touched[pageNumber] = struct{}{}
	return r.inner.GetForUpdate(pageNumber)
}

// ReadsRecorder is a subscription that tracks which pages a read-only
// action observed and fires a callback at most once per commit that
// overlaps them (spec.md §4.5, GLOSSARY "Recorder"). The callback's
// lifetime is owned by the caller; the store prunes a recorder once
// Cancel is called or an empty action is run.
type ReadsRecorder struct {
	store    *PageStore
	callback func()

	mu            sync.Mutex
	recordedPages map[uint64]struct{}
	cancelled     bool
}

func newReadsRecorder(store *PageStore, callback func()) *ReadsRecorder {
	return &ReadsRecorder{store: store, callback: callback, recordedPages: map[uint64]struct{}{}}
}

// Cancel unregisters the recorder; no further invalidations fire.
func (r *ReadsRecorder) Cancel() {
	r.mu.Lock()
	r.cancelled = true
	r.recordedPages = nil
	r.mu.Unlock()
	r.store.unregisterRecorder(r)
}

// recordedSet returns the set of pages currently recorded, or nil if
// cancelled. It is the recorded map itself, not a copy; setRecordedSet
// replaces that map rather than mutating it.
func (r *ReadsRecorder) recordedSet() map[uint64]struct{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cancelled {
		return nil
	}
	return r.recordedPages
}

func (r *ReadsRecorder) setRecordedSet(pages map[uint64]struct{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.cancelled {
		r.recordedPages = pages
	}
}

func (r *ReadsRecorder) fire() {
	r.mu.Lock()
	cb := r.callback
	cancelled := r.cancelled
	r.mu.Unlock()
	if !cancelled && cb != nil {
		cb()
	}
}

// GetPageReadsRecorder returns a new recorder. callback is posted at
// most once per commit whose changed pages intersect the set most
// recently recorded by RunRecorded.
func (s *PageStore) GetPageReadsRecorder(callback func()) *ReadsRecorder {
	r := newReadsRecorder(s, callback)
	s.registerRecorder(r)
	return r
}

// RunRecorded executes action against a pinned snapshot, fetching any
// pages it touches and retrying on the internal needsPage signal
// exactly like a transaction attempt, but never writing. The set of
// pages action observed becomes the recorder's subscription; an action
// of nil cancels the subscription instead of running anything.
//
// Go's method sets cannot carry their own type parameter, so this is a
// free function rather than a method on ReadsRecorder.
func RunRecorded[T any](r *ReadsRecorder, action func(PageAccess) T) (T, error) {
	var zero T
	if action == nil {
		r.Cancel()
		return zero, nil
	}
	result, touched, err := runRecorderAttempt(r.store, action)
	if err != nil {
		return zero, err
	}
	r.setRecordedSet(touched)
	return result, nil
}

// ReadOnly runs action against the latest snapshot, recording nothing
// and never invalidating (spec.md §4.5 "readOnly").
func (s *PageStore) ReadOnly(action func(PageAccess)) error {
	_, _, err := runRecorderAttempt(s, func(pa PageAccess) struct{} {
		action(pa)
		return struct{}{}
	})
	return err
}
