package pagestore

import (
	"context"
	"sort"
	"sync"
)

// Config holds the tunables of a PageStore (spec.md §4.5, §9). The
// zero Config is never used directly; NewPageStore always starts from
// DefaultConfig and applies Options.
type Config struct {
	PageSize         int
	MaxIndexPageSize int
	EntrySize        int
	Retries          int
	PatchThreshold   int

	// MaxNormalPageNumber is the fixed upper bound of the normal-page
	// address space, decided once at store creation. It is a capacity
	// decision, not something the engine grows on its own: the tree
	// geometry it implies (§4.2) is baked into every tree page address
	// ever written, so changing it on a store that already has data
	// would orphan whatever was already flushed under the old addresses.
	// Pick it generously up front; migrating to a larger value is out of
	// this module's scope.
	MaxNormalPageNumber uint64
}

// DefaultConfig returns the engine's out-of-the-box tunables.
// MaxNormalPageNumber is one below the uint32 maximum, so the tree
// root's page number (MaxNormalPageNumber+1) still fits the
// compressed-uint32 page number field of its index page entry.
func DefaultConfig() Config {
	return Config{
		PageSize:            8192,
		MaxIndexPageSize:    8192,
		EntrySize:           transactionIdEntrySize,
		Retries:             8,
		PatchThreshold:      8192 / 2,
		MaxNormalPageNumber: (uint64(1) << 32) - 2,
	}
}

// Option customizes a Config passed to NewPageStore.
type Option func(*Config)

func WithPageSize(n int) Option {
	return func(c *Config) { c.PageSize = n; c.MaxIndexPageSize = n; c.PatchThreshold = n / 2 }
}

func WithMaxIndexPageSize(n int) Option {
	return func(c *Config) { c.MaxIndexPageSize = n }
}

func WithRetries(n int) Option {
	return func(c *Config) { c.Retries = n }
}

func WithPatchThreshold(n int) Option {
	return func(c *Config) { c.PatchThreshold = n }
}

func WithMaxNormalPageNumber(n uint64) Option {
	return func(c *Config) { c.MaxNormalPageNumber = n }
}

// OutcomeKind classifies how a transaction attempt ended (spec.md §4.5).
type OutcomeKind int

const (
	Committed OutcomeKind = iota
	Aborted
	RetryExhaustedOutcome
	Errored
)

// TransactionOutcome is the result of RunTransaction.
type TransactionOutcome struct {
	Kind          OutcomeKind
	NewIndexTxnId uint64
	Err           error
}

// PageStore is the client-side transactional page store engine
// (spec.md §4.5). One PageStore owns exactly one backend and serializes
// writes through its own fifoLock while letting reads run in parallel.
type PageStore struct {
	backend PageStoreBackend
	cfg     Config
	tree    *TreeCalculator
	lock    *fifoLock

	mu          sync.Mutex
	subscribers map[*ReadsRecorder]struct{}
}

// NewPageStore opens (and, if the backend has no index row yet, boots)
// a store. Booting writes nothing: the first RunTransaction call
// creates index transaction id 1 the first time it commits (spec.md §8
// scenario 1); until then reads simply see every page as all-zero.
func NewPageStore(backend PageStoreBackend, opts ...Option) (*PageStore, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if uint32(cfg.PageSize) > backend.MaxPageSize() {
		return nil, newError(InsufficientSpace, "configured page size exceeds the backend's MaxPageSize")
	}
	return &PageStore{
		backend:     backend,
		cfg:         cfg,
		tree:        NewTreeCalculator(cfg.PageSize, cfg.EntrySize, cfg.MaxNormalPageNumber),
		lock:        newFIFOLock(),
		subscribers: map[*ReadsRecorder]struct{}{},
	}, nil
}

func (s *PageStore) registerRecorder(r *ReadsRecorder) {
	s.mu.Lock()
	s.subscribers[r] = struct{}{}
	s.mu.Unlock()
}

func (s *PageStore) unregisterRecorder(r *ReadsRecorder) {
	s.mu.Lock()
	delete(s.subscribers, r)
	s.mu.Unlock()
}

// loadIndex fetches the current index page from the backend and
// decodes it. An uninitialized backend (no index row ever written)
// decodes as an empty store at transaction id 0.
func (s *PageStore) loadIndex(ctx context.Context) (indexPageContents, uint64, error) {
	res, err := s.backend.ReadPages(ctx, true, nil)
	if err != nil {
		return indexPageContents{}, 0, wrapError(BackendError, "reading index page", err)
	}
	if res.IndexPage == nil || res.IndexPage.TransactionId == 0 {
		return indexPageContents{MaxNormalPageNumber: s.cfg.MaxNormalPageNumber}, 0, nil
	}
	contents, err := decodeIndexPage(res.IndexPage.Data)
	if err != nil {
		return indexPageContents{}, 0, wrapError(CorruptIndex, "decoding index page", err)
	}
	if contents.MaxNormalPageNumber != s.cfg.MaxNormalPageNumber {
		return indexPageContents{}, 0, newError(CorruptIndex, "index page geometry does not match this store's configured MaxNormalPageNumber")
	}
	return contents, res.IndexPage.TransactionId, nil
}

// attempt carries all the per-try state for one pass at either a
// read-only action or a write transaction closure (spec.md §4.5).
type attempt struct {
	ctx      context.Context
	store    *PageStore
	snapshot *Snapshot
	tree     *TreeCalculator
	overlay  map[uint64]indexEntry
}

func (s *PageStore) newAttempt(ctx context.Context, contents indexPageContents, indexTxnId uint64) *attempt {
	overlay := make(map[uint64]indexEntry, len(contents.Entries))
	for _, e := range contents.Entries {
		overlay[e.PageNumber] = e
	}
	return &attempt{
		ctx:      ctx,
		store:    s,
		snapshot: newSnapshot(indexTxnId, contents.MaxNormalPageNumber),
		tree:     s.tree,
		overlay:  overlay,
	}
}

// fetchOrZero returns txnId's stored bytes for pageNumber, or a fresh
// zero page if txnId is 0 (meaning "never written").
func (a *attempt) fetchOrZero(pageNumber, txnId uint64) ([]byte, error) {
	if txnId == 0 {
		return make([]byte, a.store.cfg.PageSize), nil
	}
	res, err := a.store.backend.ReadPages(a.ctx, false, []BackendPageIdentifier{{PageNumber: pageNumber, TransactionId: txnId}})
	if err != nil {
		return nil, wrapError(BackendError, "reading page", err)
	}
	for _, p := range res.Pages {
		if p.Id.PageNumber == pageNumber && p.Id.TransactionId == txnId {
			return p.Data, nil
		}
	}
	return nil, newError(CorruptIndex, "backend is missing a page the index references")
}

// resolveCommittedTxnId returns the transaction id the tree (not the
// overlay) currently records for pageNumber, which may itself be
// another tree page; the root's "parent" is the overlay itself since
// it has no tree ancestor (spec.md §4.2, §4.5 step 3).
func (a *attempt) resolveCommittedTxnId(pageNumber uint64) (uint64, error) {
	if pageNumber == a.tree.RootPageNumber() {
		if e, ok := a.overlay[pageNumber]; ok {
			return e.TransactionId, nil
		}
		return 0, nil
	}
	path := a.tree.GetPath(pageNumber)
	cur := uint64(0)
	if e, ok := a.overlay[a.tree.RootPageNumber()]; ok {
		cur = e.TransactionId
	}
	for _, loc := range path {
		bytes, err := a.ensureTreePageBytes(loc.ParentPageNumber, cur)
		if err != nil {
			return 0, err
		}
		slot, err := decodeTreePageSlot(bytes, loc.Offset)
		if err != nil {
			return 0, err
		}
		cur = slot
	}
	return cur, nil
}

// ensureTreePageBytes returns a tree page's bytes under the given
// (already known) committed transaction id, using the snapshot's cache
// when the page was already resolved this attempt.
func (a *attempt) ensureTreePageBytes(pageNumber, committedTxnId uint64) ([]byte, error) {
	if e, ok := a.snapshot.entry(pageNumber); ok {
		return e.Current, nil
	}
	data, err := a.fetchOrZero(pageNumber, committedTxnId)
	if err != nil {
		return nil, err
	}
	a.snapshot.installPage(pageNumber, committedTxnId, data)
	return data, nil
}

// loadPage resolves pageNumber's current content (tree reference plus
// any overlay override) and installs it into the snapshot.
func (a *attempt) loadPage(pageNumber uint64) error {
	if pageNumber > a.tree.MaxPageNumber() {
		return newError(OffsetOutOfBounds, "page number outside this store generation's address space")
	}

	if e, ok := a.overlay[pageNumber]; ok && a.tree.IsNormalPage(pageNumber) {
		switch e.Type {
		case indexPayloadTxnId:
			data, err := a.fetchOrZero(pageNumber, e.TransactionId)
			if err != nil {
				return err
			}
			a.snapshot.installPage(pageNumber, e.TransactionId, data)
			return nil
		case indexPayloadPatches:
			baseTxnId, err := a.resolveCommittedTxnId(pageNumber)
			if err != nil {
				return err
			}
			base, err := a.fetchOrZero(pageNumber, baseTxnId)
			if err != nil {
				return err
			}
			current := make([]byte, len(base))
			copy(current, base)
			if err := applyPatches(current, e.Patches); err != nil {
				return err
			}
			a.snapshot.installPage(pageNumber, baseTxnId, current)
			return nil
		}
	}

	txnId, err := a.resolveCommittedTxnId(pageNumber)
	if err != nil {
		return err
	}
	if a.tree.IsNormalPage(pageNumber) {
		data, err := a.fetchOrZero(pageNumber, txnId)
		if err != nil {
			return err
		}
		a.snapshot.installPage(pageNumber, txnId, data)
		return nil
	}
	_, err = a.ensureTreePageBytes(pageNumber, txnId)
	return err
}

// runOnce executes action once against the attempt's snapshot, catching
// the needsPage signal instead of letting it escape (spec.md §9).
func runOnce[T any](snapshot *Snapshot, pageSize int, action func(PageAccess) T) (result T, missing uint64, hasMissing bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			if np, ok := r.(needsPage); ok {
				missing = np.pageNumber
				hasMissing = true
				return
			}
			panic(r)
		}
	}()
	pa := &pageAccessImpl{snapshot: snapshot, pageSize: pageSize}
	result = action(pa)
	return
}

// runWithFetching repeatedly runs action, fetching whatever page it was
// missing and trying again, until it completes without a needsPage
// signal.
func runWithFetching[T any](a *attempt, action func(PageAccess) T) (T, error) {
	for {
		result, missing, hasMissing, err := runOnce(a.snapshot, a.store.cfg.PageSize, action)
		var zero T
		if err != nil {
			return zero, err
		}
		if !hasMissing {
			return result, nil
		}
		if err := a.loadPage(missing); err != nil {
			return zero, err
		}
	}
}

// runRecorderAttempt runs a read-only action against the latest
// snapshot and reports which pages it touched. It is a free function,
// not a method, because Go does not allow a method to introduce its
// own type parameter.
func runRecorderAttempt[T any](s *PageStore, action func(PageAccess) T) (T, map[uint64]struct{}, error) {
	var zero T
	release := s.lock.RLock()
	defer release()

	ctx := context.Background()
	contents, indexTxnId, err := s.loadIndex(ctx)
	if err != nil {
		return zero, nil, err
	}
	a := s.newAttempt(ctx, contents, indexTxnId)

	touched := map[uint64]struct{}{}
	wrapped := func(pa PageAccess) T {
		rec := &recordingPageAccess{inner: pa, touched: touched}
		return action(rec)
	}
	result, err := runWithFetching(a, wrapped)
	if err != nil {
		return zero, nil, err
	}
	return result, touched, nil
}

// RunTransaction runs closure against a consistent snapshot and, if it
// returns true, commits the resulting changes with optimistic
// concurrency control (spec.md §4.5). closure returning false aborts
// without writing anything. retries overrides the configured retry
// budget for this call only.
func (s *PageStore) RunTransaction(closure func(PageAccess) bool, retries ...int) TransactionOutcome {
	maxRetries := s.cfg.Retries
	if len(retries) > 0 {
		maxRetries = retries[0]
	}

	release := s.lock.Lock()
	defer release()

	ctx := context.Background()
	for try := 0; ; try++ {
		outcome, retryable := s.attemptTransaction(ctx, closure)
		if !retryable {
			return outcome
		}
		if try >= maxRetries {
			return TransactionOutcome{Kind: RetryExhaustedOutcome, Err: ErrRetryExhausted}
		}
	}
}

func (s *PageStore) attemptTransaction(ctx context.Context, closure func(PageAccess) bool) (TransactionOutcome, bool) {
	contents, indexTxnId, err := s.loadIndex(ctx)
	if err != nil {
		return TransactionOutcome{Kind: Errored, Err: err}, false
	}
	a := s.newAttempt(ctx, contents, indexTxnId)

	proceed, err := runWithFetching(a, closure)
	if err != nil {
		return TransactionOutcome{Kind: Errored, Err: err}, false
	}
	if !proceed {
		return TransactionOutcome{Kind: Aborted}, false
	}

	newIndexTxnId := indexTxnId + 1
	changedPages, writes, err := a.buildCommit(newIndexTxnId)
	if err != nil {
		return TransactionOutcome{Kind: Errored, Err: err}, false
	}

	entries := make([]indexEntry, 0, len(a.overlay))
	for _, e := range a.overlay {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].PageNumber < entries[j].PageNumber })

	indexData, err := encodeIndexPage(indexPageContents{MaxNormalPageNumber: s.cfg.MaxNormalPageNumber, Entries: entries})
	if err != nil {
		return TransactionOutcome{Kind: Errored, Err: err}, false
	}

	ok, err := s.backend.WritePages(ctx, BackendIndexPage{TransactionId: newIndexTxnId, Data: indexData}, indexTxnId, writes)
	if err != nil {
		return TransactionOutcome{Kind: Errored, Err: err}, false
	}
	if !ok {
		return TransactionOutcome{}, true // CAS conflict: reload and retry
	}

	s.publishInvalidations(changedPages)
	return TransactionOutcome{Kind: Committed, NewIndexTxnId: newIndexTxnId}, false
}

func (s *PageStore) publishInvalidations(changedPages map[uint64]struct{}) {
	s.mu.Lock()
	recorders := make([]*ReadsRecorder, 0, len(s.subscribers))
	for r := range s.subscribers {
		recorders = append(recorders, r)
	}
	s.mu.Unlock()

	for _, r := range recorders {
		recorded := r.recordedSet()
		if recorded == nil {
			continue
		}
		for p := range changedPages {
			if _, ok := recorded[p]; ok {
				r.fire()
				break
			}
		}
	}
}

// buildCommit decides, per dirty normal page, whether to store inline
// patches or a fresh full page, and flushes overlay entries into the
// tree when the index page would otherwise exceed MaxIndexPageSize
// (spec.md §4.5 step 5). It returns the set of page numbers whose
// visible content changed and the full list of BackendPages to write.
func (a *attempt) buildCommit(newTxnId uint64) (map[uint64]struct{}, []BackendPage, error) {
	changed := map[uint64]struct{}{}
	var writes []BackendPage

	for _, pn := range a.snapshot.dirtyPageNumbers() {
		entry, _ := a.snapshot.entry(pn)
		changed[pn] = struct{}{}

		reference, err := a.referenceBytes(pn)
		if err != nil {
			return nil, nil, err
		}
		patches := createPatches(reference, entry.Current)
		if serializedPatchSize(patches) < a.store.cfg.PatchThreshold {
			a.overlay[pn] = indexEntry{PageNumber: pn, Type: indexPayloadPatches, Patches: patches}
		} else {
			writes = append(writes, BackendPage{Id: BackendPageIdentifier{PageNumber: pn, TransactionId: newTxnId}, Data: entry.Current})
			a.overlay[pn] = indexEntry{PageNumber: pn, Type: indexPayloadTxnId, TransactionId: newTxnId}
		}
	}

	if err := a.flushOverflow(newTxnId, &writes); err != nil {
		return nil, nil, err
	}

	// Every tree page touched so far (by flushOverflow's setTreeSlot
	// calls) only had ITS OWN parent slot updated one level up; that
	// parent is now dirty too but its own identity has not yet been
	// linked any further. Propagate upward to a fixed point: each pass
	// links one more level, terminating at the root (whose identity
	// lives in the overlay, not in a further parent).
	linked := map[uint64]bool{}
	for {
		progressed := false
		for _, pn := range a.snapshot.dirtyPageNumbers() {
			if a.tree.IsNormalPage(pn) || linked[pn] {
				continue
			}
			if err := a.setTreeSlot(pn, newTxnId); err != nil {
				return nil, nil, err
			}
			linked[pn] = true
			progressed = true
		}
		if !progressed {
			break
		}
	}

	for pn := range a.snapshot.dirty {
		if !a.tree.IsNormalPage(pn) {
			entry, _ := a.snapshot.entry(pn)
			writes = append(writes, BackendPage{Id: BackendPageIdentifier{PageNumber: pn, TransactionId: newTxnId}, Data: entry.Current})
		}
	}

	return changed, dedupeWrites(writes), nil
}

// dedupeWrites drops later duplicates by Id, keeping the first. A page
// can be appended twice under the same (pageNumber, newTxnId) when the
// first loop above already wrote it as a full page and flushOverflow
// later re-selects the same page number as a flush candidate; spec.md
// §4.6 step 1 submits these as sequential inserts, so a duplicate key
// in one batch would otherwise report a spurious CAS conflict.
func dedupeWrites(writes []BackendPage) []BackendPage {
	seen := make(map[BackendPageIdentifier]struct{}, len(writes))
	deduped := writes[:0]
	for _, w := range writes {
		if _, ok := seen[w.Id]; ok {
			continue
		}
		seen[w.Id] = struct{}{}
		deduped = append(deduped, w)
	}
	return deduped
}

// referenceBytes returns the bytes a dirty page's patches should be
// computed against: the tree's last-flushed value for that page, or a
// zero page if the tree has never recorded one.
func (a *attempt) referenceBytes(pageNumber uint64) ([]byte, error) {
	txnId, err := a.resolveCommittedTxnId(pageNumber)
	if err != nil {
		return nil, err
	}
	return a.fetchOrZero(pageNumber, txnId)
}

// flushOverflow evicts overlay entries (lowest page number first) into
// the tree until the index page's encoded size fits MaxIndexPageSize,
// or no more normal-page entries remain to evict.
func (a *attempt) flushOverflow(newTxnId uint64, writes *[]BackendPage) error {
	for a.encodedOverlaySize() > a.store.cfg.MaxIndexPageSize {
		pn, ok := a.pickFlushCandidate()
		if !ok {
			return nil // nothing left we can evict; leave the index oversized rather than lose data
		}
		fullBytes, err := a.resolveFullBytes(pn)
		if err != nil {
			return err
		}
		*writes = append(*writes, BackendPage{Id: BackendPageIdentifier{PageNumber: pn, TransactionId: newTxnId}, Data: fullBytes})
		if err := a.setTreeSlot(pn, newTxnId); err != nil {
			return err
		}
		delete(a.overlay, pn)
	}
	return nil
}

func (a *attempt) encodedOverlaySize() int {
	entries := make([]indexEntry, 0, len(a.overlay))
	for _, e := range a.overlay {
		entries = append(entries, e)
	}
	return encodedIndexPageSize(indexPageContents{MaxNormalPageNumber: a.tree.maxNormalPageNumber, Entries: entries})
}

// pickFlushCandidate returns the smallest normal page number currently
// in the overlay, excluding the tree root (which has nowhere else to
// live).
func (a *attempt) pickFlushCandidate() (uint64, bool) {
	best := uint64(0)
	found := false
	for pn := range a.overlay {
		if !a.tree.IsNormalPage(pn) {
			continue
		}
		if !found || pn < best {
			best = pn
			found = true
		}
	}
	return best, found
}

// resolveFullBytes materializes a page's complete current bytes,
// applying its overlay patches on top of the tree's reference if
// needed.
func (a *attempt) resolveFullBytes(pageNumber uint64) ([]byte, error) {
	if e, ok := a.snapshot.entry(pageNumber); ok {
		return e.Current, nil
	}
	e := a.overlay[pageNumber]
	if e.Type == indexPayloadTxnId {
		return a.fetchOrZero(pageNumber, e.TransactionId)
	}
	base, err := a.referenceBytes(pageNumber)
	if err != nil {
		return nil, err
	}
	current := make([]byte, len(base))
	copy(current, base)
	if err := applyPatches(current, e.Patches); err != nil {
		return nil, err
	}
	return current, nil
}

// setTreeSlot records childTxnId as pageNumber's transaction id in the
// slot of its immediate parent tree page, marking that parent dirty;
// for the root, which has no parent, it updates the root's overlay
// entry instead (spec.md §4.5 step 5, §6). Linking the parent itself
// one level further up is left to buildCommit's propagation loop.
func (a *attempt) setTreeSlot(pageNumber, childTxnId uint64) error {
	loc, ok := a.tree.GetTransactionIdLocation(pageNumber)
	if !ok {
		a.overlay[pageNumber] = indexEntry{PageNumber: pageNumber, Type: indexPayloadTxnId, TransactionId: childTxnId}
		return nil
	}

	parentTxnId, err := a.resolveCommittedTxnId(loc.ParentPageNumber)
	if err != nil {
		return err
	}
	bytes, err := a.ensureTreePageBytes(loc.ParentPageNumber, parentTxnId)
	if err != nil {
		return err
	}
	entry, _ := a.snapshot.entry(loc.ParentPageNumber)
	if !entry.Dirty {
		buf := make([]byte, len(bytes))
		copy(buf, bytes)
		entry.Current = buf
		entry.Dirty = true
		a.snapshot.dirty[loc.ParentPageNumber] = struct{}{}
	}
	putUint48(entry.Current[loc.Offset:], childTxnId)
	return nil
}
