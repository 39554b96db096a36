// Package record encodes a domain.Content into the self-describing
// binary record persisted by storage backends, and decodes every record
// version ever written back into the same structure.
package record

import (
	"bitbin/pkg/codec"
	"bitbin/pkg/domain"

	"github.com/pkg/errors"
)

// CurrentVersion is the only version writers emit.
const CurrentVersion = 2

var ErrUnsupportedVersion = errors.New("record: unsupported version")

type decodeFunc func(r *codec.Reader, skipContent bool) (*domain.Content, error)

var decoders = map[int32]decodeFunc{
	1: decodeV1,
	2: decodeV2,
}

// Size returns the exact encoded size of c in the current version.
func Size(c *domain.Content) int {
	n := codec.IntSize +
		codec.SizeUTF(c.Key) +
		codec.SizeUTFLong(c.ContentType) +
		codec.LongSize +
		codec.LongSize +
		codec.BoolSize
	if c.Modifiable {
		n += codec.SizeUTF(c.AuthKey)
	}
	n += codec.SizeUTFLong(c.ContentEncoding)
	n += codec.IntSize + len(c.Content)
	return n
}

func validate(c *domain.Content) error {
	switch {
	case c.Content == nil:
		return errors.Wrap(domain.ErrInvalidRecord, "no content to persist")
	case c.ContentLength != len(c.Content):
		return errors.Wrapf(domain.ErrInvalidRecord, "content_length %d does not match %d content bytes", c.ContentLength, len(c.Content))
	case c.ContentEncoding == "":
		return errors.Wrap(domain.ErrInvalidRecord, "empty content_encoding")
	case !c.Modifiable && c.AuthKey != "":
		return errors.Wrap(domain.ErrInvalidRecord, "auth_key on a non-modifiable record")
	case c.Modifiable && c.AuthKey == "":
		return errors.Wrap(domain.ErrInvalidRecord, "modifiable record without auth_key")
	}
	return nil
}

// Encode serializes c in the current version.
func Encode(c *domain.Content) ([]byte, error) {
	if err := validate(c); err != nil {
		return nil, err
	}
	w := codec.NewWriter(Size(c))
	w.WriteInt(CurrentVersion)
	if err := w.WriteUTF(c.Key); err != nil {
		return nil, errors.Wrap(err, "encode key")
	}
	if err := w.WriteUTFLong(c.ContentType); err != nil {
		return nil, errors.Wrap(err, "encode content_type")
	}
	w.WriteLong(domain.Millis(c.Expiry))
	w.WriteLong(domain.Millis(c.LastModified))
	w.WriteBool(c.Modifiable)
	if c.Modifiable {
		if err := w.WriteUTF(c.AuthKey); err != nil {
			return nil, errors.Wrap(err, "encode auth_key")
		}
	}
	if err := w.WriteUTFLong(c.ContentEncoding); err != nil {
		return nil, errors.Wrap(err, "encode content_encoding")
	}
	if err := w.WriteLen(len(c.Content)); err != nil {
		return nil, errors.Wrap(err, "encode content_length")
	}
	w.WriteBytes(c.Content)
	return w.Bytes(), nil
}

// Decode parses a record of any supported version. With skipContent the
// payload bytes need not be present in buf and are never copied.
func Decode(buf []byte, skipContent bool) (*domain.Content, error) {
	r := codec.NewReader(buf)
	version, err := r.ReadInt()
	if err != nil {
		return nil, errors.Wrap(err, "decode version")
	}
	dec, ok := decoders[version]
	if !ok {
		return nil, errors.Wrapf(ErrUnsupportedVersion, "version %d", version)
	}
	return dec(r, skipContent)
}

// IsCorrupt reports whether err means the bytes are not a readable record.
func IsCorrupt(err error) bool {
	return codec.IsDecodeError(err) || errors.Is(err, ErrUnsupportedVersion)
}
