package types

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine errors so callers can branch on policy
// without string matching.
type ErrorKind string

const (
	KindMemoryRetrieval      ErrorKind = "memory_retrieval_error"
	KindMemoryStorage        ErrorKind = "memory_storage_error"
	KindMemoryValidation     ErrorKind = "memory_validation_error"
	KindLlm                  ErrorKind = "llm_error"
	KindJsonParse            ErrorKind = "json_parse_error"
	KindEmbedding            ErrorKind = "embedding_error"
	KindApiKey               ErrorKind = "api_key_error"
	KindTokenBudgetExceeded  ErrorKind = "token_budget_exceeded"
	KindInvalidTask          ErrorKind = "invalid_task_error"
	KindGenealogyCycle       ErrorKind = "genealogy_cycle"
	KindRateLimited          ErrorKind = "rate_limited"
	KindConfirmationRequired ErrorKind = "confirmation_required"
	KindMattsDegraded        ErrorKind = "matts_degraded"
)

// Error is the tagged result used at API boundaries: a kind, a message,
// and the causal chain preserved through Unwrap.
type Error struct {
	Kind  ErrorKind
	Msg   string
	Cause error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// NewError builds a tagged error without a cause.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError builds a tagged error preserving cause for errors.Is/As chains.
func WrapError(kind ErrorKind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf extracts the ErrorKind from err's chain, or "" if untagged.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err's chain carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}
