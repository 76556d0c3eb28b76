// Package domain holds the error taxonomy shared by the booking and session
// cores. Every expected business failure is a *Error carrying a Kind, a stable
// Code and the identifiers a caller needs to render a precise response.
package domain

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"strings"
)

// Kind classifies a failure independently of the operation that produced it.
type Kind string

const (
	KindValidation   Kind = "validation"
	KindNotFound     Kind = "not_found"
	KindConflict     Kind = "conflict"
	KindInvalidState Kind = "invalid_state"
	KindExpired      Kind = "expired"
	KindRevoked      Kind = "revoked"
	KindUnauthorized Kind = "unauthorized"
	KindForbidden    Kind = "forbidden"
)

// Error is a typed business failure. Sentinels declared with New are matched
// with errors.Is by Code, so copies enriched through With* still match.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	// Fields holds field level reasons for validation failures.
	Fields map[string]string
	// Refs holds the identifiers involved, e.g. conflicting meeting ids.
	Refs map[string][]string
	Err  error
}

// New declares a sentinel error.
func New(kind Kind, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Message)
	if len(e.Fields) > 0 {
		keys := make([]string, 0, len(e.Fields))
		for k := range e.Fields {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		parts := make([]string, 0, len(keys))
		for _, k := range keys {
			parts = append(parts, k+": "+e.Fields[k])
		}
		fmt.Fprintf(&b, " (%s)", strings.Join(parts, "; "))
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the wrapped cause.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok || e == nil || t == nil {
		return false
	}
	return e.Code == t.Code
}

func (e *Error) clone() *Error {
	c := *e
	c.Fields = maps.Clone(e.Fields)
	if e.Refs != nil {
		c.Refs = make(map[string][]string, len(e.Refs))
		for k, v := range e.Refs {
			c.Refs[k] = append([]string(nil), v...)
		}
	}
	return &c
}

// WithRefs returns a copy carrying the given identifiers under key.
func (e *Error) WithRefs(key string, ids ...string) *Error {
	c := e.clone()
	if c.Refs == nil {
		c.Refs = make(map[string][]string)
	}
	c.Refs[key] = append(c.Refs[key], ids...)
	return c
}

// WithField returns a copy carrying a field level reason.
func (e *Error) WithField(field, reason string) *Error {
	c := e.clone()
	if c.Fields == nil {
		c.Fields = make(map[string]string)
	}
	c.Fields[field] = reason
	return c
}

// Wrap returns a copy that wraps cause.
func (e *Error) Wrap(cause error) *Error {
	c := e.clone()
	c.Err = cause
	return c
}

// Ref returns the first identifier recorded under key.
func (e *Error) Ref(key string) string {
	if e == nil || len(e.Refs[key]) == 0 {
		return ""
	}
	return e.Refs[key][0]
}

// As extracts the *Error from err's chain.
func As(err error) (*Error, bool) {
	var de *Error
	if errors.As(err, &de) {
		return de, true
	}
	return nil, false
}

// KindOf reports the Kind of err, or "" when err is not a domain error.
func KindOf(err error) Kind {
	if de, ok := As(err); ok {
		return de.Kind
	}
	return ""
}

// Validation collects field reasons and yields a validation error once done.
type Validation struct {
	base   *Error
	fields map[string]string
}

// NewValidation starts collecting field reasons for the given sentinel.
func NewValidation(base *Error) *Validation {
	return &Validation{base: base}
}

// Add records a reason for field. The first reason per field wins.
func (v *Validation) Add(field, reason string) {
	if v.fields == nil {
		v.fields = make(map[string]string)
	}
	if _, ok := v.fields[field]; ok {
		return
	}
	v.fields[field] = reason
}

// Err returns nil when no reason was recorded.
func (v *Validation) Err() error {
	if len(v.fields) == 0 {
		return nil
	}
	c := v.base.clone()
	c.Fields = maps.Clone(v.fields)
	return c
}
