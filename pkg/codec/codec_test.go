package codec

import (
	"bytes"
	"errors"
	"math"
	"strings"
	"testing"
)

func TestWriterReaderPrimitives(t *testing.T) {
	w := NewWriter(IntSize + LongSize + 2*BoolSize + SizeUTF("key") + SizeUTFLong("text/plain") + 3)
	w.WriteInt(-42)
	w.WriteLong(math.MinInt64 + 7)
	w.WriteBool(true)
	w.WriteBool(false)
	if err := w.WriteUTF("key"); err != nil {
		t.Fatalf("WriteUTF: %v", err)
	}
	if err := w.WriteUTFLong("text/plain"); err != nil {
		t.Fatalf("WriteUTFLong: %v", err)
	}
	w.WriteBytes([]byte{1, 2, 3})
	buf := w.Bytes()
	if cap(buf) != len(buf) {
		t.Errorf("writer grew past its capacity hint: len=%d cap=%d", len(buf), cap(buf))
	}

	r := NewReader(buf)
	if v, err := r.ReadInt(); err != nil || v != -42 {
		t.Fatalf("ReadInt = %d, %v", v, err)
	}
	if v, err := r.ReadLong(); err != nil || v != math.MinInt64+7 {
		t.Fatalf("ReadLong = %d, %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || !v {
		t.Fatalf("ReadBool = %v, %v", v, err)
	}
	if v, err := r.ReadBool(); err != nil || v {
		t.Fatalf("ReadBool = %v, %v", v, err)
	}
	if s, err := r.ReadUTF(); err != nil || s != "key" {
		t.Fatalf("ReadUTF = %q, %v", s, err)
	}
	if s, err := r.ReadUTFLong(); err != nil || s != "text/plain" {
		t.Fatalf("ReadUTFLong = %q, %v", s, err)
	}
	p := make([]byte, 3)
	if err := r.ReadFull(p); err != nil || !bytes.Equal(p, []byte{1, 2, 3}) {
		t.Fatalf("ReadFull = %v, %v", p, err)
	}
	if r.Remaining() != 0 {
		t.Errorf("Remaining = %d, want 0", r.Remaining())
	}
}

func TestBigEndianLayout(t *testing.T) {
	w := NewWriter(IntSize)
	w.WriteInt(2)
	if got := w.Bytes(); !bytes.Equal(got, []byte{0, 0, 0, 2}) {
		t.Errorf("WriteInt(2) = %v", got)
	}
	w = NewWriter(SizeUTF("ab"))
	_ = w.WriteUTF("ab")
	if got := w.Bytes(); !bytes.Equal(got, []byte{0, 2, 'a', 'b'}) {
		t.Errorf("WriteUTF(ab) = %v", got)
	}
}

func TestReadBoolNonZeroIsTrue(t *testing.T) {
	r := NewReader([]byte{7})
	v, err := r.ReadBool()
	if err != nil || !v {
		t.Errorf("ReadBool(7) = %v, %v", v, err)
	}
}

func TestReadShortBuffer(t *testing.T) {
	tests := []struct {
		name string
		buf  []byte
		read func(r *Reader) error
	}{
		{"int", []byte{0, 0, 1}, func(r *Reader) error { _, err := r.ReadInt(); return err }},
		{"long", []byte{0, 0, 0, 0, 1}, func(r *Reader) error { _, err := r.ReadLong(); return err }},
		{"bool", nil, func(r *Reader) error { _, err := r.ReadBool(); return err }},
		{"utf prefix", []byte{0}, func(r *Reader) error { _, err := r.ReadUTF(); return err }},
		{"utf body", []byte{0, 5, 'a'}, func(r *Reader) error { _, err := r.ReadUTF(); return err }},
		{"utf long body", []byte{0, 0, 0, 9, 'a'}, func(r *Reader) error { _, err := r.ReadUTFLong(); return err }},
		{"full", []byte{1, 2}, func(r *Reader) error { return r.ReadFull(make([]byte, 3)) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.read(NewReader(tt.buf))
			if !errors.Is(err, ErrShortBuffer) {
				t.Fatalf("got %v, want ErrShortBuffer", err)
			}
			if !IsDecodeError(err) {
				t.Errorf("IsDecodeError(%v) = false", err)
			}
		})
	}
}

func TestReadInvalidUTF8(t *testing.T) {
	r := NewReader([]byte{0, 2, 0xff, 0xfe})
	if _, err := r.ReadUTF(); !errors.Is(err, ErrInvalidUTF8) {
		t.Errorf("got %v, want ErrInvalidUTF8", err)
	}
}

func TestReadNegativeLength(t *testing.T) {
	r := NewReader([]byte{0xff, 0xff, 0xff, 0xff})
	if _, err := r.ReadUTFLong(); !errors.Is(err, ErrNegativeLength) {
		t.Errorf("got %v, want ErrNegativeLength", err)
	}
}

func TestWriteUTFOverflow(t *testing.T) {
	w := NewWriter(0)
	err := w.WriteUTF(strings.Repeat("x", math.MaxUint16+1))
	if !errors.Is(err, ErrLengthOverflow) {
		t.Fatalf("got %v, want ErrLengthOverflow", err)
	}
	if w.Len() != 0 {
		t.Errorf("failed write left %d bytes behind", w.Len())
	}
	if err := w.WriteUTF(strings.Repeat("x", math.MaxUint16)); err != nil {
		t.Errorf("max-length string rejected: %v", err)
	}
}

func TestWriteLenRejectsNegative(t *testing.T) {
	if err := NewWriter(0).WriteLen(-1); !errors.Is(err, ErrNegativeLength) {
		t.Errorf("got %v, want ErrNegativeLength", err)
	}
}
