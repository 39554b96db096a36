package encoding

import (
	"bytes"
	"io"
	"strings"

	"bitbin/pkg/domain"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
)

var ErrTranscodeTooLarge = errors.New("decompressed content exceeds transcode limit")

// ParseContentEncoding normalizes an upload's Content-Encoding header
// into an ordered coding chain. An empty result means the body is raw.
func ParseContentEncoding(header string) []string {
	tokens := Tokens(header)
	for i, t := range tokens {
		t = strings.ToLower(t)
		if t == "x-gzip" {
			t = domain.EncodingGzip
		}
		tokens[i] = t
	}
	return tokens
}

func Compress(data []byte, level int) ([]byte, error) {
	var buf bytes.Buffer
	buf.Grow(len(data)/2 + 64)
	zw, err := gzip.NewWriterLevel(&buf, level)
	if err != nil {
		return nil, errors.Wrap(err, "gzip writer")
	}
	if _, err := zw.Write(data); err != nil {
		zw.Close()
		return nil, errors.Wrap(err, "gzip write")
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "gzip close")
	}
	return buf.Bytes(), nil
}

// Decompress inflates a gzip stream fully in memory. A limit <= 0 means
// no limit.
func Decompress(data []byte, limit int64) ([]byte, error) {
	zr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, errors.Wrap(err, "gzip reader")
	}
	defer zr.Close()
	var r io.Reader = zr
	if limit > 0 {
		r = io.LimitReader(zr, limit+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Wrap(err, "gzip read")
	}
	if limit > 0 && int64(len(out)) > limit {
		return nil, errors.Wrapf(ErrTranscodeTooLarge, "limit %d bytes", limit)
	}
	return out, nil
}
