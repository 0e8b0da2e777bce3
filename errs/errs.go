// Package errs implements the runtime's error taxonomy: a closed set of
// [Kind] values describing the category of a failure, wrapped in an
// [Error] that carries an optional cause, following the cause-chain idiom
// (Unwrap/Is, for use with the standard errors package).
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies a runtime error.
type Kind int

const (
	// KindUnknown is the zero value, used only for errors not otherwise classified.
	KindUnknown Kind = iota
	KindInvalidCast
	KindInvalidOperation
	KindInvalidArguments
	KindInvalidLock
	KindInvalidUnlock
	KindInvalidInput
	KindNotImplemented
	KindUnsupportedOperation
	KindOutOfRange
	KindBadClassDeclaration
	KindLibraryNotFound
	KindLibraryFunctionNotFound
	KindEnvironmentRuin
	KindInvalidArchitecture
	KindStackOverflow
	KindDivideByZero
	KindBadInstruction
	KindNumericOverflow
	KindNumericUnderflow
	KindSegmentationFault
	KindOutOfMemory
	KindAllocationFailure
	KindSystem
	KindInternal
	KindDeprecated
	KindMissingDependency
	KindCompileTime
	KindHotPath
	KindSymbol
	KindInvalidFunction
	KindInvalidIL
	KindInvalidType
	KindBadOperation
	// KindRuntimeNotInitialized is returned by any call made against a
	// Runtime that has not completed startup.
	KindRuntimeNotInitialized
	// KindCorrupted is returned by operations against a corrupted server.
	KindCorrupted
)

// String returns a human-readable name for k.
func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

var kindNames = map[Kind]string{
	KindUnknown:                 "unknown",
	KindInvalidCast:             "invalid_cast",
	KindInvalidOperation:        "invalid_operation",
	KindInvalidArguments:        "invalid_arguments",
	KindInvalidLock:             "invalid_lock",
	KindInvalidUnlock:           "invalid_unlock",
	KindInvalidInput:            "invalid_input",
	KindNotImplemented:          "not_implemented",
	KindUnsupportedOperation:    "unsupported_operation",
	KindOutOfRange:              "out_of_range",
	KindBadClassDeclaration:     "bad_class_declaration",
	KindLibraryNotFound:         "library_not_found",
	KindLibraryFunctionNotFound: "library_function_not_found",
	KindEnvironmentRuin:         "environment_ruin",
	KindInvalidArchitecture:     "invalid_architecture",
	KindStackOverflow:           "stack_overflow",
	KindDivideByZero:            "divide_by_zero",
	KindBadInstruction:          "bad_instruction",
	KindNumericOverflow:         "numeric_overflow",
	KindNumericUnderflow:        "numeric_underflow",
	KindSegmentationFault:       "segmentation_fault",
	KindOutOfMemory:             "out_of_memory",
	KindAllocationFailure:       "allocation_failure",
	KindSystem:                  "system",
	KindInternal:                "internal",
	KindDeprecated:              "deprecated",
	KindMissingDependency:       "missing_dependency",
	KindCompileTime:             "compile_time",
	KindHotPath:                 "hot_path",
	KindSymbol:                  "symbol",
	KindInvalidFunction:         "invalid_function",
	KindInvalidIL:               "invalid_il",
	KindInvalidType:             "invalid_type",
	KindBadOperation:            "bad_operation",
	KindRuntimeNotInitialized:   "runtime_not_initialized",
	KindCorrupted:               "corrupted",
}

// Error is the runtime's standard error type: a Kind, a message, and an
// optional cause. It supports errors.Is/errors.As via Unwrap.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New constructs an *Error with no cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap constructs an *Error of kind, wrapping cause. If message is empty,
// Error() uses the kind's name in its place, followed by cause's message.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := e.Message
	if msg == "" {
		msg = e.Kind.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s", msg, e.Cause.Error())
	}
	return msg
}

// Unwrap returns the wrapped cause, for errors.Is/errors.As.
func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Cause
}

// Is reports whether target is an *Error with the same Kind.
func (e *Error) Is(target error) bool {
	var other *Error
	if errors.As(target, &other) {
		return other.Kind == e.Kind
	}
	return false
}

// Of returns the Kind carried by err, if err is (or wraps) an *Error;
// otherwise KindUnknown.
func Of(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// Is reports whether err carries the given Kind anywhere in its cause chain.
func Is(err error, kind Kind) bool {
	var e *Error
	for errors.As(err, &e) {
		if e.Kind == kind {
			return true
		}
		if e.Cause == nil {
			return false
		}
		err = e.Cause
		e = nil
	}
	return false
}

// Sentinel errors for conditions that do not need a dynamic message.
var (
	// ErrRuntimeNotInitialized is returned by library calls made against
	// a Runtime that has not completed startup.
	ErrRuntimeNotInitialized = New(KindRuntimeNotInitialized, "runtime not initialized")
	// ErrCorrupted is returned by operations on a corrupted server.
	ErrCorrupted = New(KindCorrupted, "corrupted")
)
