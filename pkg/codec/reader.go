// Package codec reads and writes the primitive fields of the on-disk
// record format. All integers are big-endian. Access is strictly
// sequential: there is no seeking.
package codec

import (
	"encoding/binary"
	"unicode/utf8"

	"github.com/pkg/errors"
)

var (
	ErrShortBuffer    = errors.New("codec: short buffer")
	ErrInvalidUTF8    = errors.New("codec: invalid utf-8")
	ErrNegativeLength = errors.New("codec: negative length")
	ErrLengthOverflow = errors.New("codec: length overflows prefix")
)

// IsDecodeError reports whether err came from reading a malformed buffer.
func IsDecodeError(err error) bool {
	return errors.Is(err, ErrShortBuffer) ||
		errors.Is(err, ErrInvalidUTF8) ||
		errors.Is(err, ErrNegativeLength)
}

type Reader struct {
	buf []byte
	off int
}

func NewReader(buf []byte) *Reader {
	return &Reader{buf: buf}
}

func (r *Reader) Remaining() int {
	return len(r.buf) - r.off
}

func (r *Reader) next(n int) ([]byte, error) {
	if n < 0 {
		return nil, ErrNegativeLength
	}
	if r.Remaining() < n {
		return nil, errors.Wrapf(ErrShortBuffer, "need %d bytes, have %d", n, r.Remaining())
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *Reader) ReadInt() (int32, error) {
	b, err := r.next(4)
	if err != nil {
		return 0, err
	}
	return int32(binary.BigEndian.Uint32(b)), nil
}

func (r *Reader) ReadLong() (int64, error) {
	b, err := r.next(8)
	if err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (r *Reader) ReadBool() (bool, error) {
	b, err := r.next(1)
	if err != nil {
		return false, err
	}
	return b[0] != 0, nil
}

// ReadLen reads an int32 that must be a non-negative length.
func (r *Reader) ReadLen() (int, error) {
	v, err := r.ReadInt()
	if err != nil {
		return 0, err
	}
	if v < 0 {
		return 0, errors.Wrapf(ErrNegativeLength, "length %d", v)
	}
	return int(v), nil
}

// ReadFull fills p exactly or fails without consuming anything.
func (r *Reader) ReadFull(p []byte) error {
	b, err := r.next(len(p))
	if err != nil {
		return err
	}
	copy(p, b)
	return nil
}

// ReadUTF reads a string with a uint16 length prefix.
func (r *Reader) ReadUTF() (string, error) {
	b, err := r.next(2)
	if err != nil {
		return "", err
	}
	return r.readString(int(binary.BigEndian.Uint16(b)))
}

// ReadUTFLong reads a string with an int32 length prefix.
func (r *Reader) ReadUTFLong() (string, error) {
	n, err := r.ReadLen()
	if err != nil {
		return "", err
	}
	return r.readString(n)
}

func (r *Reader) readString(n int) (string, error) {
	b, err := r.next(n)
	if err != nil {
		return "", err
	}
	if !utf8.Valid(b) {
		return "", ErrInvalidUTF8
	}
	return string(b), nil
}
