/*
Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package errors

import (
	"errors"
	"fmt"
)

// Kind partitions every failure the engines can surface. Transport failures
// are captured inside the submission state machine and are never returned
// across an engine boundary.
type Kind string

const (
	KindValidation Kind = "Validation"
	KindNotFound   Kind = "NotFound"
	KindPermission Kind = "Permission"
	KindConflict   Kind = "Conflict"
	KindTransport  Kind = "Transport"
)

// Error carries a machine-readable code and structured details alongside the
// message so that API layers can render failures without string matching.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Details map[string]any
	cause   error
}

func (e *Error) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %s", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// WithDetail attaches a structured detail and returns the error for chaining.
func (e *Error) WithDetail(key string, value any) *Error {
	if e.Details == nil {
		e.Details = map[string]any{}
	}
	e.Details[key] = value
	return e
}

// WithCause records the underlying error.
func (e *Error) WithCause(err error) *Error {
	e.cause = err
	return e
}

func newError(kind Kind, code, format string, args ...any) *Error {
	return &Error{Kind: kind, Code: code, Message: fmt.Sprintf(format, args...)}
}

func Validation(code, format string, args ...any) *Error {
	return newError(KindValidation, code, format, args...)
}

func NotFound(entity string, id any) *Error {
	return newError(KindNotFound, "NOT_FOUND", "%s %q not found", entity, id).WithDetail("entity", entity).WithDetail("id", fmt.Sprint(id))
}

func Permission(code, format string, args ...any) *Error {
	return newError(KindPermission, code, format, args...)
}

func Conflict(code, format string, args ...any) *Error {
	return newError(KindConflict, code, format, args...)
}

func Transport(code, format string, args ...any) *Error {
	return newError(KindTransport, code, format, args...)
}

func isKind(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// IsValidation returns true if the error (even if wrapped) is a validation
// failure, i.e. recoverable only by the caller correcting its input.
func IsValidation(err error) bool { return isKind(err, KindValidation) }

func IsNotFound(err error) bool { return isKind(err, KindNotFound) }

func IsPermission(err error) bool { return isKind(err, KindPermission) }

func IsConflict(err error) bool { return isKind(err, KindConflict) }

// IsTransport reports adapter RPC failures. These must always be converted
// into a retryable submission state rather than propagated.
func IsTransport(err error) bool { return isKind(err, KindTransport) }

// CodeOf extracts the machine-readable code, or "" for untyped errors.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
