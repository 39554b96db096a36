package record

import (
	"bitbin/pkg/codec"
	"bitbin/pkg/domain"

	"github.com/pkg/errors"
)

// decodeV1 handles records written before content_encoding was stored;
// every such record was gzip-compressed.
func decodeV1(r *codec.Reader, skipContent bool) (*domain.Content, error) {
	c, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}
	c.ContentEncoding = domain.EncodingGzip
	if err := decodeBody(r, c, skipContent); err != nil {
		return nil, err
	}
	return c, nil
}

func decodeV2(r *codec.Reader, skipContent bool) (*domain.Content, error) {
	c, err := decodeHeader(r)
	if err != nil {
		return nil, err
	}
	if c.ContentEncoding, err = r.ReadUTFLong(); err != nil {
		return nil, errors.Wrap(err, "decode content_encoding")
	}
	if err := decodeBody(r, c, skipContent); err != nil {
		return nil, err
	}
	return c, nil
}

// decodeHeader reads the fields shared by all versions, up to auth_key.
func decodeHeader(r *codec.Reader) (*domain.Content, error) {
	var (
		c   domain.Content
		err error
	)
	if c.Key, err = r.ReadUTF(); err != nil {
		return nil, errors.Wrap(err, "decode key")
	}
	if c.ContentType, err = r.ReadUTFLong(); err != nil {
		return nil, errors.Wrap(err, "decode content_type")
	}
	expiry, err := r.ReadLong()
	if err != nil {
		return nil, errors.Wrap(err, "decode expiry")
	}
	c.Expiry = domain.UnixMillis(expiry)
	lastModified, err := r.ReadLong()
	if err != nil {
		return nil, errors.Wrap(err, "decode last_modified")
	}
	c.LastModified = domain.UnixMillis(lastModified)
	if c.Modifiable, err = r.ReadBool(); err != nil {
		return nil, errors.Wrap(err, "decode modifiable")
	}
	if c.Modifiable {
		if c.AuthKey, err = r.ReadUTF(); err != nil {
			return nil, errors.Wrap(err, "decode auth_key")
		}
	}
	return &c, nil
}

func decodeBody(r *codec.Reader, c *domain.Content, skipContent bool) error {
	n, err := r.ReadLen()
	if err != nil {
		return errors.Wrap(err, "decode content_length")
	}
	c.ContentLength = n
	if skipContent {
		return nil
	}
	if n > r.Remaining() {
		return errors.Wrap(errors.Wrapf(codec.ErrShortBuffer, "need %d bytes, have %d", n, r.Remaining()), "decode content")
	}
	c.Content = make([]byte, n)
	if err := r.ReadFull(c.Content); err != nil {
		c.Content = nil
		return errors.Wrap(err, "decode content")
	}
	return nil
}
