package pagestore

// Compressed uint32 encoding (spec.md §4.1): 1, 2, 3, or 5 bytes, never
// 4 (the length marker needs 2 bits, so 4 would waste an encoding
// slot). The encoding is chosen so that, for values encoded at their
// minimal length, byte-lexicographic order of the encoded bytes equals
// numeric order of the values, and a longer encoding always compares
// greater than a shorter one.
//
// Layout: the first byte's top 2 bits hold marker = length-1 (saturated
// at 3 for length 5); its low 6 bits hold the high bits of the value
// that don't fit in the remaining (length-1) bytes, which are written
// big-endian.

const maxCompressedUint32 = uint64(1)<<32 - 1

// compressedUint32Length returns the minimal encoded length for v.
func compressedUint32Length(v uint64) int {
	switch {
	case v <= 63:
		return 1
	case v <= 16383:
		return 2
	case v <= 4194303:
		return 3
	default:
		return 5
	}
}

// writeCompressedUint32 writes v at b[offset:] and returns the number of
// bytes written.
func writeCompressedUint32(b []byte, offset int, v uint64) (int, error) {
	if v > maxCompressedUint32 {
		return 0, newError(NotUint32, "value out of uint32 range")
	}
	length := compressedUint32Length(v)
	if offset+length > len(b) {
		return 0, newError(InsufficientSpace, "buffer too small for compressed uint32")
	}

	marker := byte(length - 1)
	if length == 5 {
		marker = 3
	}
	remainderBits := uint((length - 1) * 8)
	top := byte(v >> remainderBits)
	b[offset] = marker<<6 | top

	for i := 1; i < length; i++ {
		shift := uint(length-1-i) * 8
		b[offset+i] = byte(v >> shift)
	}
	return length, nil
}

// markerToLength maps the 2-bit marker in the top of the first byte to
// the encoded length (4 is never produced by the writer but the marker
// space only has 4 values, so this stays a straight table).
var markerToLength = [4]int{1, 2, 3, 5}

// readCompressedUint32 reads a value starting at b[offset:]. If the
// buffer is truncated before the length implied by the first byte, the
// missing trailing bytes are treated as zero; the returned length is
// always the one implied by the first byte's marker, even on a
// truncated read, matching spec.md §4.1.
func readCompressedUint32(b []byte, offset int) (uint32, int, error) {
	if offset >= len(b) {
		return 0, 0, newError(InsufficientSpace, "no bytes available to read compressed uint32")
	}
	first := b[offset]
	marker := first >> 6
	length := markerToLength[marker]

	value := uint64(first & 0x3F)
	for i := 1; i < length; i++ {
		var next byte
		if offset+i < len(b) {
			next = b[offset+i]
		}
		value = value<<8 | uint64(next)
	}
	return uint32(value), length, nil
}
