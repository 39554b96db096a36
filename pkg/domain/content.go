package domain

import (
	"time"
)

const (
	EncodingIdentity   = "identity"
	EncodingGzip       = "gzip"
	DefaultContentType = "text/plain"
)

// Content is one stored item. Content is nil when the payload was not loaded.
type Content struct {
	Key             string    `json:"key"`
	ContentType     string    `json:"content_type"`
	Expiry          time.Time `json:"expiry,omitempty"`
	LastModified    time.Time `json:"last_modified"`
	Modifiable      bool      `json:"modifiable"`
	AuthKey         string    `json:"-"`
	ContentEncoding string    `json:"content_encoding"`
	BackendID       string    `json:"backend_id"`
	ContentLength   int       `json:"content_length"`
	Content         []byte    `json:"-"`
}

func (c *Content) HasExpiry() bool {
	return !c.Expiry.IsZero()
}

// Info returns a copy without the payload.
func (c *Content) Info() *Content {
	info := *c
	info.Content = nil
	return &info
}

type CreateParams struct {
	Body            []byte
	ContentType     string
	ContentEncoding string
}

// Served is the outcome of a read after encoding negotiation.
type Served struct {
	Info            *Content
	Body            []byte
	ContentEncoding string
	Transcoded      bool
}

// UnixMillis converts epoch milliseconds, mapping -1 to the zero time.
func UnixMillis(ms int64) time.Time {
	if ms < 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms)
}

// Millis is the inverse of UnixMillis.
func Millis(t time.Time) int64 {
	if t.IsZero() {
		return -1
	}
	return t.UnixMilli()
}
