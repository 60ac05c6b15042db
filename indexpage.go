package pagestore

// indexPageSchemaVersion is written as the first 4 bytes of every
// index page (spec.md §6).
const indexPageSchemaVersion uint32 = 1

// indexPayloadType distinguishes the two ways an index entry can carry
// a page's current version.
type indexPayloadType uint32

const (
	indexPayloadPatches indexPayloadType = 0
	indexPayloadTxnId   indexPayloadType = 1
)

// indexEntry is one page's row in the index page: either a set of
// patches to apply to the page's previous bytes, or a reference to a
// full page stored under a fresh transaction id.
type indexEntry struct {
	PageNumber    uint64
	Patches       []Patch // valid when Type == indexPayloadPatches
	TransactionId uint64  // valid when Type == indexPayloadTxnId
	Type          indexPayloadType
}

// indexPageContents is the decoded form of an index page's data
// (spec.md §6). MaxNormalPageNumber is this store generation's fixed
// normal/tree-page boundary, decided once when the store was created
// (Config.MaxNormalPageNumber) and never changed afterwards: it is
// baked into the address of every tree page ever written.
type indexPageContents struct {
	MaxNormalPageNumber uint64
	Entries             []indexEntry
}

func patchesEntrySize(patches []Patch) int {
	n := compressedUint32Length(uint64(len(patches)))
	n += serializedPatchSize(patches)
	return n
}

func indexEntrySize(e indexEntry) int {
	n := compressedUint32Length(e.PageNumber)
	n += compressedUint32Length(uint64(e.Type))
	switch e.Type {
	case indexPayloadPatches:
		n += patchesEntrySize(e.Patches)
	case indexPayloadTxnId:
		n += 6
	}
	return n
}

// encodedIndexPageSize returns the exact byte length encodeIndexPage
// would produce, without allocating.
func encodedIndexPageSize(contents indexPageContents) int {
	n := 4 // schema version
	n += compressedUint32Length(contents.MaxNormalPageNumber)
	n += compressedUint32Length(uint64(len(contents.Entries)))
	for _, e := range contents.Entries {
		n += indexEntrySize(e)
	}
	return n
}

// encodeIndexPage serializes contents as the tuple-encoded record
// described in spec.md §6: the fixed schema version header, the fixed
// fields, and every entry's fields are all assembled as one flat
// []TupleElement and written with a single writeTuple call.
func encodeIndexPage(contents indexPageContents) ([]byte, error) {
	elems := make([]TupleElement, 0, 3+4*len(contents.Entries))
	elems = append(elems,
		uint32RawElem(indexPageSchemaVersion),
		varUintElem(contents.MaxNormalPageNumber),
		varUintElem(uint64(len(contents.Entries))),
	)
	for _, e := range contents.Entries {
		entryElems, err := indexEntryElements(e)
		if err != nil {
			return nil, err
		}
		elems = append(elems, entryElems...)
	}

	buf := make([]byte, encodedIndexPageSize(contents))
	n, err := writeTuple(buf, 0, elems)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// indexEntryElements builds one entry's fields as tuple elements, in
// wire order: page number, payload type, then either a patch count
// and each patch's (offset, byte run) or a single transaction id.
func indexEntryElements(e indexEntry) ([]TupleElement, error) {
	elems := []TupleElement{
		varUintElem(e.PageNumber),
		varUintElem(uint64(e.Type)),
	}
	switch e.Type {
	case indexPayloadPatches:
		elems = append(elems, varUintElem(uint64(len(e.Patches))))
		for _, p := range e.Patches {
			elems = append(elems, varUintElem(uint64(p.Offset)), byteRunElem(p.Bytes))
		}
	case indexPayloadTxnId:
		elems = append(elems, uint48RawElem(e.TransactionId))
	default:
		return nil, newError(InvalidEncoding, "unknown index payload type")
	}
	return elems, nil
}

// decodeIndexPage parses an index page's data. Any malformed input is
// reported as InvalidEncoding or InsufficientSpace; callers at the
// engine boundary translate that into CorruptIndex (spec.md §7).
func decodeIndexPage(data []byte) (indexPageContents, error) {
	if len(data) < 4 {
		return indexPageContents{}, newError(InvalidEncoding, "index page shorter than the schema version header")
	}

	r := NewTupleReader(data, 0)

	version, err := r.Uint32Raw()
	if err != nil {
		return indexPageContents{}, err
	}
	if version != indexPageSchemaVersion {
		return indexPageContents{}, newError(InvalidEncoding, "unsupported index page schema version")
	}

	maxNormalPageNumber, err := r.VarUint()
	if err != nil {
		return indexPageContents{}, err
	}

	entryCount, err := r.VarUint()
	if err != nil {
		return indexPageContents{}, err
	}

	entries := make([]indexEntry, 0, entryCount)
	for i := uint64(0); i < entryCount; i++ {
		e, err := readIndexEntry(r)
		if err != nil {
			return indexPageContents{}, err
		}
		entries = append(entries, e)
	}

	return indexPageContents{
		MaxNormalPageNumber: maxNormalPageNumber,
		Entries:             entries,
	}, nil
}

func readIndexEntry(r *TupleReader) (indexEntry, error) {
	pageNumber, err := r.VarUint()
	if err != nil {
		return indexEntry{}, err
	}

	payloadType, err := r.VarUint()
	if err != nil {
		return indexEntry{}, err
	}

	e := indexEntry{PageNumber: pageNumber, Type: indexPayloadType(payloadType)}

	switch e.Type {
	case indexPayloadPatches:
		patchCount, err := r.VarUint()
		if err != nil {
			return indexEntry{}, err
		}

		patches := make([]Patch, 0, patchCount)
		for i := uint64(0); i < patchCount; i++ {
			offset, err := r.VarUint()
			if err != nil {
				return indexEntry{}, err
			}
			bs, err := r.ByteRun()
			if err != nil {
				return indexEntry{}, err
			}
			patches = append(patches, Patch{Offset: uint32(offset), Bytes: bs})
		}
		e.Patches = patches
	case indexPayloadTxnId:
		txnId, err := r.Uint48Raw()
		if err != nil {
			return indexEntry{}, err
		}
		e.TransactionId = txnId
	default:
		return indexEntry{}, newError(InvalidEncoding, "unknown index payload type")
	}

	return e, nil
}

// decodeTreePageSlot reads the transaction id at the given byte offset
// of a tree page. A zero result means the slot was never written.
func decodeTreePageSlot(data []byte, offset uint32) (uint64, error) {
	if int(offset)+transactionIdEntrySize > len(data) {
		return 0, newError(OffsetOutOfBounds, "tree page slot offset out of range")
	}
	return getUint48(data[offset:]), nil
}
