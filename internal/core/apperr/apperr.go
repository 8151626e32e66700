// Package apperr is the application's error taxonomy. Every layer converts
// foreign errors into an *Error at its boundary; the HTTP layer maps the kind
// to a response.
package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

type Kind int

const (
	KindInternal Kind = iota
	KindNotFound
	KindRedirectToLogin
	KindUnauthorized
	KindDatabase
	KindDatabaseTimedOut
	KindDbNothingReturned
	KindTemplate
	KindCanceledBlock
	KindSteamAuth
	KindBadRequest
)

var kindNames = map[Kind]string{
	KindInternal:          "internal",
	KindNotFound:          "404 not found",
	KindRedirectToLogin:   "unauthorized - redirecting to login",
	KindUnauthorized:      "unauthorized",
	KindDatabase:          "database error",
	KindDatabaseTimedOut:  "database timed out",
	KindDbNothingReturned: "database returned nothing",
	KindTemplate:          "template error",
	KindCanceledBlock:     "canceled block",
	KindSteamAuth:         "steam authentication failed",
	KindBadRequest:        "bad request",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// Status is the HTTP status a kind surfaces as.
func (k Kind) Status() int {
	switch k {
	case KindNotFound:
		return http.StatusNotFound
	case KindRedirectToLogin:
		return http.StatusFound
	case KindSteamAuth:
		return http.StatusUnauthorized
	case KindBadRequest:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := e.Msg
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Err != nil {
		return msg + ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error of the same kind, so sentinels such as
// ErrNotFound work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Msg == "" && t.Err == nil && t.Kind == e.Kind
}

func New(kind Kind, msg string) *Error            { return &Error{Kind: kind, Msg: msg} }
func Wrap(kind Kind, msg string, err error) *Error { return &Error{Kind: kind, Msg: msg, Err: err} }

var (
	ErrNotFound        = &Error{Kind: KindNotFound}
	ErrRedirectToLogin = &Error{Kind: KindRedirectToLogin}
	ErrUnauthorized    = &Error{Kind: KindUnauthorized}
	ErrDatabaseTimeout = &Error{Kind: KindDatabaseTimedOut}
	ErrNothingReturned = &Error{Kind: KindDbNothingReturned}
	ErrCanceledBlock   = &Error{Kind: KindCanceledBlock}
)

func NotFound(msg string) error   { return New(KindNotFound, msg) }
func BadRequest(msg string) error { return New(KindBadRequest, msg) }
func Database(err error) error    { return Wrap(KindDatabase, "", err) }
func Template(err error) error    { return Wrap(KindTemplate, "", err) }
func Internal(msg string, err error) error {
	return Wrap(KindInternal, msg, err)
}

// KindOf reports the kind of err, KindInternal for foreign errors.
func KindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if errors.Is(err, context.Canceled) {
		return KindCanceledBlock
	}
	return KindInternal
}

// From converts err into an *Error, keeping existing ones as they are.
func From(err error) *Error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	if errors.Is(err, context.Canceled) {
		return Wrap(KindCanceledBlock, "", err)
	}
	return Wrap(KindInternal, "", err)
}
