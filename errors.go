package reindexer

import (
	"github.com/thedenisnikulin/reindexer/errs"
)

// Error codes, re-exported so callers can branch on failure classes
// without importing the errs package.
const (
	CodeOK                   = errs.CodeOK
	CodeNotFound             = errs.CodeNotFound
	CodeParams               = errs.CodeParams
	CodeLogic                = errs.CodeLogic
	CodeConflict             = errs.CodeConflict
	CodeParseSQL             = errs.CodeParseSQL
	CodeParseBin             = errs.CodeParseBin
	CodeQueryExec            = errs.CodeQueryExec
	CodeForbidden            = errs.CodeForbidden
	CodeNamespaceInvalidated = errs.CodeNamespaceInvalidated
	CodeNotValid             = errs.CodeNotValid
)

// ErrorCode extracts the error class, or CodeOK for nil.
func ErrorCode(err error) errs.Code {
	return errs.CodeOf(err)
}

// IsNotFound reports whether the error means a missing namespace, item,
// index or meta key.
func IsNotFound(err error) bool {
	return errs.CodeOf(err) == errs.CodeNotFound
}

// IsInvalidated reports whether the error means the caller holds a
// namespace instance that a transaction commit replaced; reopening the
// namespace handle resolves it.
func IsInvalidated(err error) bool {
	return errs.CodeOf(err) == errs.CodeNamespaceInvalidated
}
