package pagestore

import "testing"

func TestCompressedUint32RoundTrip(t *testing.T) {
	values := []uint64{0, 1, 63, 64, 16383, 16384, 4194303, 4194304, 1 << 30, maxCompressedUint32}
	for _, v := range values {
		buf := make([]byte, 16)
		n, err := writeCompressedUint32(buf, 3, v)
		if err != nil {
			t.Fatalf("write(%d) failed: %v", v, err)
		}
		got, readLen, err := readCompressedUint32(buf, 3)
		if err != nil {
			t.Fatalf("read(%d) failed: %v", v, err)
		}
		if uint64(got) != v {
			t.Errorf("value %d round-tripped to %d", v, got)
		}
		if readLen != n {
			t.Errorf("value %d: write length %d != read length %d", v, n, readLen)
		}
	}
}

func TestCompressedUint32Lengths(t *testing.T) {
	cases := []struct {
		v    uint64
		want int
	}{
		{0, 1}, {63, 1},
		{64, 2}, {16383, 2},
		{16384, 3}, {4194303, 3},
		{4194304, 5}, {maxCompressedUint32, 5},
	}
	for _, c := range cases {
		if got := compressedUint32Length(c.v); got != c.want {
			t.Errorf("length(%d) = %d, want %d", c.v, got, c.want)
		}
	}
}

func TestCompressedUint32NeverLengthFour(t *testing.T) {
	for v := uint64(0); v <= maxCompressedUint32; v += 999999937 {
		if l := compressedUint32Length(v); l == 4 {
			t.Fatalf("value %d encoded to length 4", v)
		}
	}
}

func TestCompressedUint32OutOfRange(t *testing.T) {
	buf := make([]byte, 16)
	_, err := writeCompressedUint32(buf, 0, maxCompressedUint32+1)
	if err == nil {
		t.Fatal("expected error for out-of-range value")
	}
	pe, ok := err.(*Error)
	if !ok || pe.Code != NotUint32 {
		t.Fatalf("expected NotUint32 error, got %v", err)
	}
}

func TestCompressedUint32InsufficientSpace(t *testing.T) {
	buf := make([]byte, 1)
	_, err := writeCompressedUint32(buf, 0, 100000)
	if err == nil {
		t.Fatal("expected InsufficientSpace error")
	}
	pe, ok := err.(*Error)
	if !ok || pe.Code != InsufficientSpace {
		t.Fatalf("expected InsufficientSpace error, got %v", err)
	}
}

// TestCompressedUint32OrderPreserving checks that, for values encoded
// at their minimal length, byte-lex order of the encoding matches
// numeric order, and a longer encoding always compares greater.
func TestCompressedUint32OrderPreserving(t *testing.T) {
	values := []uint64{0, 1, 5, 63, 64, 100, 16383, 16384, 50000, 4194303, 4194304, 1 << 30, maxCompressedUint32}
	for i, v1 := range values {
		for _, v2 := range values[i+1:] {
			b1 := make([]byte, 8)
			b2 := make([]byte, 8)
			n1, err := writeCompressedUint32(b1, 0, v1)
			if err != nil {
				t.Fatal(err)
			}
			n2, err := writeCompressedUint32(b2, 0, v2)
			if err != nil {
				t.Fatal(err)
			}
			cmp := compareBytes(b1[:n1], b2[:n2])
			if cmp >= 0 {
				t.Errorf("encoding(%d) should byte-lex compare before encoding(%d)", v1, v2)
			}
		}
	}
}

func TestReadCompressedUint32Truncated(t *testing.T) {
	// A 5-byte encoding (marker 11) truncated to just the first byte
	// should zero-extend and report the implied length.
	buf := make([]byte, 5)
	_, err := writeCompressedUint32(buf, 0, 1<<24)
	if err != nil {
		t.Fatal(err)
	}
	truncated := buf[:1]
	_, length, err := readCompressedUint32(truncated, 0)
	if err != nil {
		t.Fatalf("truncated read should not error, got %v", err)
	}
	if length != 5 {
		t.Errorf("expected implied length 5, got %d", length)
	}
}

func compareBytes(a, b []byte) int {
	for i := 0; i < len(a) && i < len(b); i++ {
		if a[i] != b[i] {
			if a[i] < b[i] {
				return -1
			}
			return 1
		}
	}
	switch {
	case len(a) < len(b):
		return -1
	case len(a) > len(b):
		return 1
	default:
		return 0
	}
}
