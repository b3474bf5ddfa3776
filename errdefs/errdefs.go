// Package errdefs defines the error kinds surfaced by the predictor and the
// assistant. Callers classify errors with errors.Is against the sentinels or
// with KindOf.
package errdefs

import (
	"context"
	"errors"
	"fmt"
)

type Kind string

const (
	KindConfiguration         Kind = "ConfigurationError"
	KindStructuredOutputParse Kind = "StructuredOutputParseError"
	KindInvalidInput          Kind = "InvalidInputError"
	KindUpstreamService       Kind = "UpstreamServiceError"
	KindUnknownRole           Kind = "UnknownRoleError"
	KindUnknown               Kind = ""
)

// Error is a classified error. Op names the failing operation.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	switch {
	case e.Op != "" && e.Err != nil:
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches a bare sentinel of the same kind.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

var (
	ErrConfiguration         = &Error{Kind: KindConfiguration}
	ErrStructuredOutputParse = &Error{Kind: KindStructuredOutputParse}
	ErrInvalidInput          = &Error{Kind: KindInvalidInput}
	ErrUpstreamService       = &Error{Kind: KindUpstreamService}
	ErrUnknownRole           = &Error{Kind: KindUnknownRole}
)

func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Configuration(op string, err error) error { return New(KindConfiguration, op, err) }

func Configurationf(format string, args ...any) error {
	return New(KindConfiguration, "", fmt.Errorf(format, args...))
}

func StructuredOutputParse(op string, err error) error {
	return New(KindStructuredOutputParse, op, err)
}

func InvalidInput(op string, err error) error { return New(KindInvalidInput, op, err) }

func InvalidInputf(op, format string, args ...any) error {
	return New(KindInvalidInput, op, fmt.Errorf(format, args...))
}

// Upstream wraps a failure of the search, embedding or chat service. Errors that
// are already classified keep their kind.
func Upstream(op string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	return New(KindUpstreamService, op, err)
}

func UnknownRole(op string, err error) error { return New(KindUnknownRole, op, err) }

// KindOf returns the kind of the outermost classified error in the chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Marker is the client-visible name for err: its kind, UpstreamServiceError
// for deadlines, InternalError otherwise.
func Marker(err error) string {
	if k := KindOf(err); k != KindUnknown {
		return string(k)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return string(KindUpstreamService)
	}
	return "InternalError"
}
