package pagestore

import "encoding/binary"

// Tuple encoding (spec.md §4.1): a heterogeneous record, written as the
// straight concatenation of its elements' encodings. There is no type
// tag in the stream — reader and writer must agree on the element
// sequence. indexpage.go's encodeIndexPage/decodeIndexPage is the
// codec's only consumer: an index page's header and every entry are
// assembled as a flat []TupleElement and run through writeTuple/
// TupleReader (spec.md §6).

// TupleElementKind identifies how a TupleElement is encoded.
type TupleElementKind int

const (
	// TupleNumber stores a float64 via the compressed float64 codec.
	TupleNumber TupleElementKind = iota
	// TupleUint32 stores a uint32 via the compressed uint32 codec.
	TupleUint32
	// TupleUint32Raw stores a uint32 as a fixed 4-byte big-endian field.
	TupleUint32Raw
	// TupleString stores a length-prefixed UTF-8 string.
	TupleString
	// TupleArray stores length-prefixed raw bytes.
	TupleArray
	// TupleVarUint stores a uint64-domain value via the compressed
	// uint32 codec (spec.md §4.1's page numbers and counts never exceed
	// that range, but the Go-side field stays uint64 throughout).
	TupleVarUint
	// TupleUint48Raw stores a uint64 as a fixed 6-byte big-endian field
	// (spec.md §6's transaction ids).
	TupleUint48Raw
	// TupleByteRun stores raw bytes behind a single literal length
	// byte, for runs that are bounded to 255 bytes by construction
	// (spec.md §6's patch byte runs).
	TupleByteRun
)

// TupleElement is one field of a tuple, tagged by Kind.
type TupleElement struct {
	Kind  TupleElementKind
	Num   float64 // Kind == TupleNumber
	U32   uint32  // Kind == TupleUint32 or TupleUint32Raw
	Str   string  // Kind == TupleString
	Bytes []byte  // Kind == TupleArray or TupleByteRun
	Val   uint64  // Kind == TupleVarUint or TupleUint48Raw
}

func numberElem(v float64) TupleElement   { return TupleElement{Kind: TupleNumber, Num: v} }
func uint32Elem(v uint32) TupleElement    { return TupleElement{Kind: TupleUint32, U32: v} }
func uint32RawElem(v uint32) TupleElement { return TupleElement{Kind: TupleUint32Raw, U32: v} }
func stringElem(s string) TupleElement    { return TupleElement{Kind: TupleString, Str: s} }
func arrayElem(b []byte) TupleElement     { return TupleElement{Kind: TupleArray, Bytes: b} }
func varUintElem(v uint64) TupleElement   { return TupleElement{Kind: TupleVarUint, Val: v} }
func uint48RawElem(v uint64) TupleElement { return TupleElement{Kind: TupleUint48Raw, Val: v} }
func byteRunElem(b []byte) TupleElement   { return TupleElement{Kind: TupleByteRun, Bytes: b} }

// writeTuple writes elems in order at b[offset:], returning the total
// number of bytes written.
func writeTuple(b []byte, offset int, elems []TupleElement) (int, error) {
	pos := offset
	for _, e := range elems {
		n, err := writeTupleElement(b, pos, e)
		if err != nil {
			return 0, err
		}
		pos += n
	}
	return pos - offset, nil
}

func writeTupleElement(b []byte, pos int, e TupleElement) (int, error) {
	switch e.Kind {
	case TupleNumber:
		return writeCompressedFloat64(b, pos, e.Num)
	case TupleUint32:
		return writeCompressedUint32(b, pos, uint64(e.U32))
	case TupleUint32Raw:
		if pos+4 > len(b) {
			return 0, newError(OffsetOutOfBounds, "tuple uint32raw element does not fit")
		}
		binary.BigEndian.PutUint32(b[pos:pos+4], e.U32)
		return 4, nil
	case TupleString:
		return writeLengthPrefixed(b, pos, []byte(e.Str))
	case TupleArray:
		return writeLengthPrefixed(b, pos, e.Bytes)
	case TupleVarUint:
		return writeCompressedUint32(b, pos, e.Val)
	case TupleUint48Raw:
		if pos+6 > len(b) {
			return 0, newError(OffsetOutOfBounds, "tuple uint48raw element does not fit")
		}
		putUint48(b[pos:], e.Val)
		return 6, nil
	case TupleByteRun:
		if len(e.Bytes) > 255 {
			return 0, newError(OffsetOutOfBounds, "tuple byte run exceeds the single-byte length prefix")
		}
		if pos+1+len(e.Bytes) > len(b) {
			return 0, newError(OffsetOutOfBounds, "tuple byte run does not fit")
		}
		b[pos] = byte(len(e.Bytes))
		copy(b[pos+1:], e.Bytes)
		return 1 + len(e.Bytes), nil
	default:
		return 0, newError(InvalidEncoding, "unknown tuple element kind")
	}
}

func writeLengthPrefixed(b []byte, pos int, data []byte) (int, error) {
	lenBytes, err := writeCompressedUint32(b, pos, uint64(len(data)))
	if err != nil {
		return 0, err
	}
	if pos+lenBytes+len(data) > len(b) {
		return 0, newError(OffsetOutOfBounds, "tuple length-prefixed element does not fit")
	}
	copy(b[pos+lenBytes:pos+lenBytes+len(data)], data)
	return lenBytes + len(data), nil
}

// TupleReader reads tuple elements from a buffer in the same order a
// matching writeTuple call wrote them.
type TupleReader struct {
	buf []byte
	pos int
}

// NewTupleReader creates a reader positioned at offset within buf.
func NewTupleReader(buf []byte, offset int) *TupleReader {
	return &TupleReader{buf: buf, pos: offset}
}

// Pos returns the reader's current byte offset into buf.
func (r *TupleReader) Pos() int { return r.pos }

func (r *TupleReader) Number() (float64, error) {
	v, n, err := readCompressedFloat64(r.buf, r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *TupleReader) Uint32() (uint32, error) {
	v, n, err := readCompressedUint32(r.buf, r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += n
	return v, nil
}

func (r *TupleReader) Uint32Raw() (uint32, error) {
	if r.pos+4 > len(r.buf) {
		return 0, newError(InsufficientSpace, "not enough bytes for tuple uint32raw element")
	}
	v := binary.BigEndian.Uint32(r.buf[r.pos : r.pos+4])
	r.pos += 4
	return v, nil
}

func (r *TupleReader) String() (string, error) {
	data, err := r.readLengthPrefixed()
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func (r *TupleReader) Array() ([]byte, error) {
	return r.readLengthPrefixed()
}

// VarUint reads a TupleVarUint element.
func (r *TupleReader) VarUint() (uint64, error) {
	v, n, err := readCompressedUint32(r.buf, r.pos)
	if err != nil {
		return 0, err
	}
	r.pos += n
	return uint64(v), nil
}

// Uint48Raw reads a TupleUint48Raw element.
func (r *TupleReader) Uint48Raw() (uint64, error) {
	if r.pos+6 > len(r.buf) {
		return 0, newError(InsufficientSpace, "not enough bytes for tuple uint48raw element")
	}
	v := getUint48(r.buf[r.pos:])
	r.pos += 6
	return v, nil
}

// ByteRun reads a TupleByteRun element.
func (r *TupleReader) ByteRun() ([]byte, error) {
	if r.pos >= len(r.buf) {
		return nil, newError(InsufficientSpace, "not enough bytes for tuple byte run length")
	}
	length := int(r.buf[r.pos])
	pos := r.pos + 1
	if pos+length > len(r.buf) {
		return nil, newError(InsufficientSpace, "not enough bytes for tuple byte run data")
	}
	data := make([]byte, length)
	copy(data, r.buf[pos:pos+length])
	r.pos = pos + length
	return data, nil
}

func (r *TupleReader) readLengthPrefixed() ([]byte, error) {
	length, n, err := readCompressedUint32(r.buf, r.pos)
	if err != nil {
		return nil, err
	}
	r.pos += n
	if r.pos+int(length) > len(r.buf) {
		return nil, newError(InsufficientSpace, "not enough bytes for tuple length-prefixed element")
	}
	data := r.buf[r.pos : r.pos+int(length)]
	r.pos += int(length)
	return data, nil
}
