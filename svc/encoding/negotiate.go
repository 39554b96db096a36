// Package encoding reconciles the Content-Encoding a record was stored
// with against a client's Accept-Encoding, transcoding gzip to identity
// when a client cannot take the stored bytes as they are.
package encoding

import (
	"context"
	"strings"

	"bitbin/pkg/domain"
)

const wildcard = "*"

// Runner executes blocking work, normally on the shared pool.
type Runner func(ctx context.Context, fn func() error) error

// Inline runs fn on the calling goroutine.
func Inline(ctx context.Context, fn func() error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn()
}

type Decision struct {
	Body            []byte
	ContentEncoding string
	Transcoded      bool
}

// Tokens splits a comma-separated coding list, dropping ";q=" parameters
// and empty entries.
func Tokens(header string) []string {
	parts := strings.Split(header, ",")
	tokens := make([]string, 0, len(parts))
	for _, p := range parts {
		if i := strings.IndexByte(p, ';'); i >= 0 {
			p = p[:i]
		}
		p = strings.TrimSpace(p)
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// Accepts reports whether every coding in the stored chain is acceptable
// under accept. identity is always acceptable; a "*" accepts anything.
func Accepts(stored, accept string) bool {
	acceptable := map[string]bool{domain.EncodingIdentity: true}
	for _, t := range Tokens(accept) {
		if t == wildcard {
			return true
		}
		acceptable[strings.ToLower(t)] = true
	}
	for _, ce := range strings.Split(stored, ",") {
		ce = strings.ToLower(strings.TrimSpace(ce))
		if ce == domain.EncodingIdentity {
			continue
		}
		if !acceptable[ce] {
			return false
		}
	}
	return true
}

// Negotiate decides what to send for a record stored with encoding stored.
// Only a plain gzip chain is ever transcoded; anything else the client
// cannot accept fails with domain.ErrNotAcceptable.
func Negotiate(ctx context.Context, stored, accept string, body []byte, limit int64, run Runner) (Decision, error) {
	if Accepts(stored, accept) {
		return Decision{Body: body, ContentEncoding: stored}, nil
	}
	if stored != domain.EncodingGzip {
		return Decision{}, domain.NotAcceptable(stored, accept)
	}
	if run == nil {
		run = Inline
	}
	var plain []byte
	err := run(ctx, func() error {
		var err error
		plain, err = Decompress(body, limit)
		return err
	})
	if err != nil {
		return Decision{}, err
	}
	return Decision{Body: plain, ContentEncoding: domain.EncodingIdentity, Transcoded: true}, nil
}
