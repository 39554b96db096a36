package codec

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

const (
	IntSize  = 4
	LongSize = 8
	BoolSize = 1
)

type Writer struct {
	buf []byte
}

// NewWriter preallocates capacity bytes. Callers size it exactly so the
// buffer never grows.
func NewWriter(capacity int) *Writer {
	return &Writer{buf: make([]byte, 0, capacity)}
}

func (w *Writer) WriteInt(v int32) {
	w.buf = binary.BigEndian.AppendUint32(w.buf, uint32(v))
}

func (w *Writer) WriteLong(v int64) {
	w.buf = binary.BigEndian.AppendUint64(w.buf, uint64(v))
}

func (w *Writer) WriteBool(v bool) {
	if v {
		w.buf = append(w.buf, 1)
		return
	}
	w.buf = append(w.buf, 0)
}

func (w *Writer) WriteBytes(p []byte) {
	w.buf = append(w.buf, p...)
}

// WriteLen writes n as an int32, failing rather than truncating.
func (w *Writer) WriteLen(n int) error {
	if n < 0 {
		return errors.Wrapf(ErrNegativeLength, "length %d", n)
	}
	if n > math.MaxInt32 {
		return errors.Wrapf(ErrLengthOverflow, "length %d exceeds int32", n)
	}
	w.WriteInt(int32(n))
	return nil
}

// WriteUTF writes s with a uint16 length prefix.
func (w *Writer) WriteUTF(s string) error {
	if len(s) > math.MaxUint16 {
		return errors.Wrapf(ErrLengthOverflow, "string of %d bytes exceeds uint16", len(s))
	}
	w.buf = binary.BigEndian.AppendUint16(w.buf, uint16(len(s)))
	w.buf = append(w.buf, s...)
	return nil
}

// WriteUTFLong writes s with an int32 length prefix.
func (w *Writer) WriteUTFLong(s string) error {
	if err := w.WriteLen(len(s)); err != nil {
		return err
	}
	w.buf = append(w.buf, s...)
	return nil
}

func (w *Writer) Len() int {
	return len(w.buf)
}

// Bytes finalizes the writer. The writer must not be used afterwards.
func (w *Writer) Bytes() []byte {
	b := w.buf
	w.buf = nil
	return b
}

func SizeUTF(s string) int {
	return 2 + len(s)
}

func SizeUTFLong(s string) int {
	return IntSize + len(s)
}
