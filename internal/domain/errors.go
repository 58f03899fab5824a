package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

type ErrorKind string

const (
	KindNetworkUnreachable ErrorKind = "network_unreachable"
	KindUnauthorized       ErrorKind = "unauthorized"
	KindNotFound           ErrorKind = "not_found"
	KindValidation         ErrorKind = "validation_failed"
	KindServerFault        ErrorKind = "server_fault"
	KindChannel            ErrorKind = "channel_failure"
)

// Error is the typed failure signal surfaced by the sync engine.
// Match it with errors.Is against the sentinels below.
type Error struct {
	Kind    ErrorKind
	Op      string
	Status  int
	Message string

	// Fields holds server-reported validation errors keyed by field name.
	Fields map[string][]string

	TokenExpired bool
	Err          error
}

var (
	ErrNetworkUnreachable = &Error{Kind: KindNetworkUnreachable}
	ErrUnauthorized       = &Error{Kind: KindUnauthorized}
	ErrTokenExpired       = &Error{Kind: KindUnauthorized, TokenExpired: true}
	ErrNotFound           = &Error{Kind: KindNotFound}
	ErrValidationFailed   = &Error{Kind: KindValidation}
	ErrServerFault        = &Error{Kind: KindServerFault}
	ErrChannelFailure     = &Error{Kind: KindChannel}
)

func (e *Error) Error() string {
	var b strings.Builder
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " [%d]", e.Status)
	}
	if e.TokenExpired {
		b.WriteString(" (token expired)")
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		fmt.Fprintf(&b, " (fields: %s)", strings.Join(keys, ","))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches on Kind. ErrTokenExpired additionally requires TokenExpired.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Kind != e.Kind {
		return false
	}
	if t.TokenExpired && !e.TokenExpired {
		return false
	}
	return true
}

func NewError(kind ErrorKind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Message: msg}
}

func ChannelError(op string, err error) *Error {
	return &Error{Kind: KindChannel, Op: op, Err: err}
}

// KindOf returns the kind of err, or "" when err is not a *Error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}
