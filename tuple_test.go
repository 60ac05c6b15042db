package pagestore

import (
	"bytes"
	"testing"
)

func TestTupleRoundTrip(t *testing.T) {
	elems := []TupleElement{
		uint32RawElem(1),
		uint32Elem(123456),
		numberElem(3.25),
		stringElem("hello, pages"),
		arrayElem([]byte{1, 2, 3, 4, 5}),
	}

	buf := make([]byte, 128)
	n, err := writeTuple(buf, 4, elems)
	if err != nil {
		t.Fatalf("writeTuple failed: %v", err)
	}

	r := NewTupleReader(buf, 4)
	raw, err := r.Uint32Raw()
	if err != nil || raw != 1 {
		t.Fatalf("Uint32Raw: got %d, err %v", raw, err)
	}
	u32, err := r.Uint32()
	if err != nil || u32 != 123456 {
		t.Fatalf("Uint32: got %d, err %v", u32, err)
	}
	num, err := r.Number()
	if err != nil || num != 3.25 {
		t.Fatalf("Number: got %v, err %v", num, err)
	}
	str, err := r.String()
	if err != nil || str != "hello, pages" {
		t.Fatalf("String: got %q, err %v", str, err)
	}
	arr, err := r.Array()
	if err != nil || !bytes.Equal(arr, []byte{1, 2, 3, 4, 5}) {
		t.Fatalf("Array: got %v, err %v", arr, err)
	}
	if r.Pos() != 4+n {
		t.Errorf("reader position %d != writer length %d", r.Pos(), 4+n)
	}
}

func TestWriteTupleOffsetOutOfBounds(t *testing.T) {
	elems := []TupleElement{stringElem("too long for this buffer")}
	buf := make([]byte, 4)
	_, err := writeTuple(buf, 0, elems)
	if err == nil {
		t.Fatal("expected OffsetOutOfBounds error")
	}
	pe, ok := err.(*Error)
	if !ok || pe.Code != OffsetOutOfBounds {
		t.Fatalf("expected OffsetOutOfBounds, got %v", err)
	}
}

func TestTupleVarUintAndUint48RawAndByteRun(t *testing.T) {
	elems := []TupleElement{
		varUintElem(70000),
		uint48RawElem(maxUint48),
		byteRunElem([]byte{9, 8, 7}),
		byteRunElem(nil),
	}

	buf := make([]byte, 64)
	n, err := writeTuple(buf, 0, elems)
	if err != nil {
		t.Fatalf("writeTuple failed: %v", err)
	}

	r := NewTupleReader(buf, 0)
	v, err := r.VarUint()
	if err != nil || v != 70000 {
		t.Fatalf("VarUint: got %d, err %v", v, err)
	}
	txnId, err := r.Uint48Raw()
	if err != nil || txnId != maxUint48 {
		t.Fatalf("Uint48Raw: got %d, err %v", txnId, err)
	}
	run, err := r.ByteRun()
	if err != nil || !bytes.Equal(run, []byte{9, 8, 7}) {
		t.Fatalf("ByteRun: got %v, err %v", run, err)
	}
	empty, err := r.ByteRun()
	if err != nil || len(empty) != 0 {
		t.Fatalf("ByteRun (empty): got %v, err %v", empty, err)
	}
	if r.Pos() != n {
		t.Errorf("reader position %d != writer length %d", r.Pos(), n)
	}
}

func TestTupleByteRunRejectsOversizedRun(t *testing.T) {
	buf := make([]byte, 512)
	_, err := writeTuple(buf, 0, []TupleElement{byteRunElem(make([]byte, 256))})
	if err == nil {
		t.Fatal("expected OffsetOutOfBounds for a byte run over 255 bytes")
	}
	pe, ok := err.(*Error)
	if !ok || pe.Code != OffsetOutOfBounds {
		t.Fatalf("expected OffsetOutOfBounds, got %v", err)
	}
}

func TestTupleEmpty(t *testing.T) {
	buf := make([]byte, 4)
	n, err := writeTuple(buf, 0, nil)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("expected 0 bytes for empty tuple, got %d", n)
	}
}
