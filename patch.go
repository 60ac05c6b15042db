package pagestore

// Patch describes a localized overwrite: copying Bytes into a target
// buffer starting at Offset (spec.md §4.3). Patch.Bytes is never
// mutated after creation; callers that keep a Patch around should not
// mutate it either.
type Patch struct {
	Offset uint32
	Bytes  []byte
}

// maxPatchChunk is the largest run of literal bytes a single Patch can
// carry; the wire encoding (indexpage.go) prefixes each patch with a
// 1-byte length, so longer runs must be split.
const maxPatchChunk = 255

// maxMergeGap is the largest run of untouched bytes that is cheaper to
// carry as literal pass-through than to pay for a second patch header
// (an offset plus a length byte). Four or more equal bytes always split.
const maxMergeGap = 3

// createPatches returns the smallest-by-serialized-size list of patches
// that, applied in order to a copy of base, produces next. base and
// next must have equal length.
func createPatches(base, next []byte) []Patch {
	if len(base) != len(next) {
		panic("pagestore: createPatches requires base and next of equal length")
	}

	var patches []Patch
	n := len(next)
	i := 0
	for i < n {
		if base[i] == next[i] {
			i++
			continue
		}

		start := i
		end := i + 1
		for end < n {
			if base[end] != next[end] {
				end++
				continue
			}

			gapStart := end
			for end < n && base[end] == next[end] {
				end++
			}
			gapLen := end - gapStart
			if end < n && gapLen <= maxMergeGap {
				// Another diff follows within the merge threshold;
				// absorb the gap as literal pass-through bytes and
				// keep growing this group.
				continue
			}
			// Either the buffer ended or the gap is too wide to pay
			// for: back off to just before the gap.
			end = gapStart
			break
		}

		for s := start; s < end; s += maxPatchChunk {
			e := s + maxPatchChunk
			if e > end {
				e = end
			}
			bytes := make([]byte, e-s)
			copy(bytes, next[s:e])
			patches = append(patches, Patch{Offset: uint32(s), Bytes: bytes})
		}
		i = end
	}
	return patches
}

// applyPatch copies patch.Bytes into buffer starting at patch.Offset.
func applyPatch(buffer []byte, patch Patch) error {
	if int(patch.Offset)+len(patch.Bytes) > len(buffer) {
		return newError(OffsetOutOfBounds, "patch does not fit in target buffer")
	}
	copy(buffer[patch.Offset:], patch.Bytes)
	return nil
}

// applyPatches applies patches in order to buffer.
func applyPatches(buffer []byte, patches []Patch) error {
	for _, p := range patches {
		if err := applyPatch(buffer, p); err != nil {
			return err
		}
	}
	return nil
}

// serializedPatchSize returns the number of bytes patches would occupy
// in the index page wire format (compressed-uint32 offset, 1-byte
// length, literal bytes each), used to decide whether storing a page's
// patches is cheaper than storing the whole page (spec.md §4.5 step 5).
func serializedPatchSize(patches []Patch) int {
	total := 0
	for _, p := range patches {
		total += compressedUint32Length(uint64(p.Offset)) + 1 + len(p.Bytes)
	}
	return total
}
