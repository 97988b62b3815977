// File: internal/apierror/apierror.go

// Package apierror defines the error taxonomy shared by every inbound
// surface of the bridge. Handlers return these; the router renders them.
package apierror

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an API failure.
type Kind string

const (
	// KindIllegalParameter marks malformed caller input. Never retried.
	KindIllegalParameter Kind = "illegal_parameter"
	// KindNotFound marks an unknown file, callback path or URL.
	KindNotFound Kind = "url_not_found"
	// KindBadAction marks an unrecognised action name.
	KindBadAction Kind = "bad_action"
	// KindBadView marks an unrecognised view or other-request name.
	KindBadView Kind = "bad_view"
	// KindInternal marks an unexpected failure building a required
	// response. Surfaced with context, never crashes the process.
	KindInternal Kind = "internal_error"
)

// Error is the taxonomy error type. Detail names the offending parameter,
// path or operation.
type Error struct {
	Kind   Kind
	Detail string
	cause  error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Detail, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
}

func (e *Error) Unwrap() error { return e.cause }

// HTTPStatus maps the error kind to a response status code.
func (e *Error) HTTPStatus() int {
	switch e.Kind {
	case KindIllegalParameter:
		return http.StatusBadRequest
	case KindNotFound, KindBadAction, KindBadView:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// IllegalParameter reports malformed input for the named parameter.
func IllegalParameter(param string) *Error {
	return &Error{Kind: KindIllegalParameter, Detail: param}
}

// NotFound reports an unknown URL or file path.
func NotFound(path string) *Error {
	return &Error{Kind: KindNotFound, Detail: path}
}

// BadAction reports an unknown action name.
func BadAction(name string) *Error {
	return &Error{Kind: KindBadAction, Detail: name}
}

// BadView reports an unknown view or other-request name.
func BadView(name string) *Error {
	return &Error{Kind: KindBadView, Detail: name}
}

// Internal wraps an unexpected failure with the operation it broke.
func Internal(op string, cause error) *Error {
	return &Error{Kind: KindInternal, Detail: op, cause: cause}
}

// As extracts an *Error from err, or wraps err as internal if it is not one.
func As(err error) *Error {
	var apiErr *Error
	if errors.As(err, &apiErr) {
		return apiErr
	}
	return Internal("unexpected", err)
}
