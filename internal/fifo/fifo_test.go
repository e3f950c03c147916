package fifo

import "testing"

func TestWriteReadRoundTrip(t *testing.T) {
	f := New(8)
	n := f.Write([]byte{1, 2, 3})
	if n != 3 {
		t.Fatalf("Write() = %d, want 3", n)
	}
	if f.Occupied() != 3 {
		t.Fatalf("Occupied() = %d, want 3", f.Occupied())
	}
	buf := make([]byte, 3)
	if got := f.Peek(buf, 0); got != 3 {
		t.Fatalf("Peek() = %d, want 3", got)
	}
	if buf[0] != 1 || buf[1] != 2 || buf[2] != 3 {
		t.Fatalf("Peek() = %v, want [1 2 3]", buf)
	}
	if f.Discard(2) != 2 {
		t.Fatalf("Discard() did not consume 2 bytes")
	}
	if f.Occupied() != 1 {
		t.Fatalf("Occupied() after discard = %d, want 1", f.Occupied())
	}
}

func TestWriteStopsWhenFull(t *testing.T) {
	f := New(4) // 3 usable slots
	n := f.Write([]byte{1, 2, 3, 4, 5})
	if n != 3 {
		t.Fatalf("Write() = %d, want 3 (one slot always kept empty)", n)
	}
}

func TestWrapsAround(t *testing.T) {
	f := New(4)
	f.Write([]byte{1, 2, 3})
	f.Discard(3)
	n := f.Write([]byte{4, 5, 6})
	if n != 3 {
		t.Fatalf("Write() after wraparound = %d, want 3", n)
	}
	buf := make([]byte, 3)
	f.Peek(buf, 0)
	if buf[0] != 4 || buf[1] != 5 || buf[2] != 6 {
		t.Fatalf("Peek() after wraparound = %v, want [4 5 6]", buf)
	}
}

func TestPeekWithOffset(t *testing.T) {
	f := New(8)
	f.Write([]byte{10, 20, 30, 40})
	buf := make([]byte, 2)
	if got := f.Peek(buf, 2); got != 2 {
		t.Fatalf("Peek(offset=2) = %d, want 2", got)
	}
	if buf[0] != 30 || buf[1] != 40 {
		t.Fatalf("Peek(offset=2) = %v, want [30 40]", buf)
	}
}

func TestResetClearsBuffer(t *testing.T) {
	f := New(4)
	f.Write([]byte{1, 2})
	f.Reset()
	if f.Occupied() != 0 {
		t.Fatalf("Occupied() after Reset() = %d, want 0", f.Occupied())
	}
}
