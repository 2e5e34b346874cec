package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindDocument           ErrorKind = "DocumentError"
	KindTransientInference ErrorKind = "TransientInferenceError"
	KindFatalInference     ErrorKind = "FatalInferenceError"
	KindSchema             ErrorKind = "SchemaError"
	KindReference          ErrorKind = "ReferenceError"
	KindResource           ErrorKind = "ResourceError"
	KindCanceled           ErrorKind = "CanceledError"
	KindInternal           ErrorKind = "InternalError"
)

// Error is a classified failure attached to a document's PipelineResult.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new classified error.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

func DocumentError(message string, err error) *Error {
	return NewError(KindDocument, message, err)
}

func TransientInferenceError(message string, err error) *Error {
	return NewError(KindTransientInference, message, err)
}

func FatalInferenceError(message string, err error) *Error {
	return NewError(KindFatalInference, message, err)
}

func SchemaError(message string, err error) *Error {
	return NewError(KindSchema, message, err)
}

func ReferenceError(message string, err error) *Error {
	return NewError(KindReference, message, err)
}

func ResourceError(message string, err error) *Error {
	return NewError(KindResource, message, err)
}

func CanceledError(message string, err error) *Error {
	return NewError(KindCanceled, message, err)
}

// KindOf returns the kind of the outermost classified error in the chain.
// Unclassified errors are reported as InternalError.
func KindOf(err error) ErrorKind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}
