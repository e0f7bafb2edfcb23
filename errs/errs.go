// Package errs defines the closed error taxonomy of the engine core.
//
// Every error that crosses a package boundary carries one of the codes
// below. Callers branch on codes via CodeOf or the Is* helpers; the
// formatted message is for humans and logs.
package errs

import (
	"errors"
	"fmt"
)

// Code identifies an error class.
type Code int

const (
	// CodeOK means no error.
	CodeOK Code = iota
	// CodeNotFound is returned when an item, namespace, meta key or index
	// does not exist.
	CodeNotFound
	// CodeParams indicates invalid input parameters.
	CodeParams
	// CodeLogic indicates an internal consistency violation that a caller
	// can recover from.
	CodeLogic
	// CodeConflict indicates a violated precondition (duplicate PK, index
	// limits, composite dependency).
	CodeConflict
	// CodeParseSQL indicates a SQL syntax error.
	CodeParseSQL
	// CodeParseBin indicates a malformed binary query or item buffer.
	CodeParseBin
	// CodeQueryExec indicates a runtime query execution failure.
	CodeQueryExec
	// CodeForbidden indicates an operation rejected by role or mode.
	CodeForbidden
	// CodeNamespaceInvalidated is returned to readers holding a namespace
	// that was swapped out by a copy-on-write commit; the operation should
	// be retried.
	CodeNamespaceInvalidated
	// CodeNotValid indicates invalid replication state.
	CodeNotValid
	// CodeTxInvalidatedBySubsequentCommit is returned when a transaction
	// lost the commit race against a newer transaction.
	CodeTxInvalidatedBySubsequentCommit
)

func (c Code) String() string {
	switch c {
	case CodeOK:
		return "OK"
	case CodeNotFound:
		return "NotFound"
	case CodeParams:
		return "Params"
	case CodeLogic:
		return "Logic"
	case CodeConflict:
		return "Conflict"
	case CodeParseSQL:
		return "ParseSQL"
	case CodeParseBin:
		return "ParseBin"
	case CodeQueryExec:
		return "QueryExec"
	case CodeForbidden:
		return "Forbidden"
	case CodeNamespaceInvalidated:
		return "NamespaceInvalidated"
	case CodeNotValid:
		return "NotValid"
	case CodeTxInvalidatedBySubsequentCommit:
		return "TxInvalidatedBySubsequentCommit"
	default:
		return fmt.Sprintf("Code(%d)", int(c))
	}
}

// Error is the concrete error type used across the engine.
type Error struct {
	code Code
	msg  string
	// cause, if set, is reachable via errors.Unwrap.
	cause error
}

// New creates an error with the given code and formatted message.
func New(code Code, format string, args ...any) *Error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, cause error, format string, args ...any) *Error {
	return &Error{code: code, msg: fmt.Sprintf(format, args...), cause: cause}
}

func (e *Error) Error() string {
	if e.cause != nil {
		return e.msg + ": " + e.cause.Error()
	}
	return e.msg
}

// Code returns the error class.
func (e *Error) Code() Code { return e.code }

func (e *Error) Unwrap() error { return e.cause }

// Is reports code equality so that errors.Is(err, errs.New(code, ...))
// style comparisons work against the per-code sentinels below.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.msg == "" && t.code == e.code
	}
	return false
}

// Per-code sentinels for errors.Is.
var (
	ErrNotFound             = &Error{code: CodeNotFound}
	ErrParams               = &Error{code: CodeParams}
	ErrLogic                = &Error{code: CodeLogic}
	ErrConflict             = &Error{code: CodeConflict}
	ErrParseSQL             = &Error{code: CodeParseSQL}
	ErrParseBin             = &Error{code: CodeParseBin}
	ErrQueryExec            = &Error{code: CodeQueryExec}
	ErrForbidden            = &Error{code: CodeForbidden}
	ErrNamespaceInvalidated = &Error{code: CodeNamespaceInvalidated}
	ErrNotValid             = &Error{code: CodeNotValid}
	ErrTxInvalidated        = &Error{code: CodeTxInvalidatedBySubsequentCommit}
)

// NotFound creates a CodeNotFound error.
func NotFound(format string, args ...any) *Error { return New(CodeNotFound, format, args...) }

// Params creates a CodeParams error.
func Params(format string, args ...any) *Error { return New(CodeParams, format, args...) }

// Logic creates a CodeLogic error.
func Logic(format string, args ...any) *Error { return New(CodeLogic, format, args...) }

// Conflict creates a CodeConflict error.
func Conflict(format string, args ...any) *Error { return New(CodeConflict, format, args...) }

// ParseSQL creates a CodeParseSQL error.
func ParseSQL(format string, args ...any) *Error { return New(CodeParseSQL, format, args...) }

// ParseBin creates a CodeParseBin error.
func ParseBin(format string, args ...any) *Error { return New(CodeParseBin, format, args...) }

// QueryExec creates a CodeQueryExec error.
func QueryExec(format string, args ...any) *Error { return New(CodeQueryExec, format, args...) }

// Forbidden creates a CodeForbidden error.
func Forbidden(format string, args ...any) *Error { return New(CodeForbidden, format, args...) }

// NamespaceInvalidated creates a CodeNamespaceInvalidated error.
func NamespaceInvalidated(format string, args ...any) *Error {
	return New(CodeNamespaceInvalidated, format, args...)
}

// NotValid creates a CodeNotValid error.
func NotValid(format string, args ...any) *Error { return New(CodeNotValid, format, args...) }

// TxInvalidated creates a CodeTxInvalidatedBySubsequentCommit error.
func TxInvalidated(format string, args ...any) *Error {
	return New(CodeTxInvalidatedBySubsequentCommit, format, args...)
}

// CodeOf extracts the code from any error. A nil error maps to CodeOK and
// unknown errors map to CodeQueryExec.
func CodeOf(err error) Code {
	if err == nil {
		return CodeOK
	}
	var e *Error
	if errors.As(err, &e) {
		return e.code
	}
	return CodeQueryExec
}
