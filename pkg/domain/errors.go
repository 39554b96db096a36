package domain

import (
	"fmt"
	"net/http"

	"github.com/pkg/errors"
)

var (
	ErrContentNotFound   = NewErr("CONTENT_NOT_FOUND", "content not found", http.StatusNotFound)
	ErrKeyConflict       = NewErr("KEY_CONFLICT", "key already used", http.StatusConflict)
	ErrNotAcceptable     = NewErr("NOT_ACCEPTABLE", "encoding not acceptable", http.StatusNotAcceptable)
	ErrContentRequired   = NewErr("CONTENT_REQUIRED", "missing content", http.StatusBadRequest)
	ErrContentTooLarge   = NewErr("CONTENT_TOO_LARGE", "content too large", http.StatusRequestEntityTooLarge)
	ErrInvalidRecord     = NewErr("INVALID_RECORD", "invalid content record", http.StatusInternalServerError)
	ErrRateLimitExceeded = NewErr("RATE_LIMIT_EXCEEDED", "rate limit exceeded", http.StatusTooManyRequests)
	ErrInternalServer    = NewErr("INTERNAL_ERROR", "internal error", http.StatusInternalServerError)
)

type Err struct {
	Code   string `json:"code"`
	Msg    string `json:"message"`
	Status int    `json:"-"`
}

func (e *Err) Error() string { return e.Msg }

// Is matches by code so formatted variants still match their sentinel.
func (e *Err) Is(target error) bool {
	t, ok := target.(*Err)
	return ok && t.Code == e.Code
}

func NewErr(code, msg string, status int) *Err {
	return &Err{Code: code, Msg: msg, Status: status}
}

// NotAcceptable names both the stored and the requested encodings.
func NotAcceptable(stored, requested string) error {
	return NewErr(ErrNotAcceptable.Code,
		fmt.Sprintf("Accept-Encoding %q does not contain Content-Encoding %q", requested, stored),
		ErrNotAcceptable.Status)
}

type ErrResp struct {
	Error ErrDetail `json:"error"`
}
type ErrDetail struct {
	Code string                 `json:"code"`
	Msg  string                 `json:"message"`
	Meta map[string]interface{} `json:"meta,omitempty"`
}

func asErr(err error) (*Err, bool) {
	var e *Err
	if errors.As(err, &e) {
		return e, true
	}
	if e, ok := errors.Cause(err).(*Err); ok {
		return e, true
	}
	return nil, false
}

func ToResp(err error) ErrResp {
	if e, ok := asErr(err); ok {
		return ErrResp{Error: ErrDetail{Code: e.Code, Msg: e.Msg}}
	}
	return ErrResp{Error: ErrDetail{Code: "INTERNAL_ERROR", Msg: "internal error"}}
}

func Status(err error) int {
	if e, ok := asErr(err); ok {
		return e.Status
	}
	return http.StatusInternalServerError
}
