package engine

import (
	"errors"
	"fmt"
)

// ErrorCode categorizes engine errors.
type ErrorCode string

const (
	// CodeDefinitionInvalid indicates a definition that fails to parse or
	// validate. Only that playlist is affected.
	CodeDefinitionInvalid ErrorCode = "DEFINITION_INVALID"

	// CodeDependencyCycle indicates a definition whose smart playlist
	// references lead back to itself. It is a kind of invalid definition.
	CodeDependencyCycle ErrorCode = "DEPENDENCY_CYCLE"

	// CodeStoreUnavailable indicates a failed store read or commit. The
	// playlist keeps its last-known membership.
	CodeStoreUnavailable ErrorCode = "STORE_UNAVAILABLE"

	// CodeResourceMissingForLimit indicates an item whose size could not be
	// resolved for a megabyte limit. The item counts as zero.
	CodeResourceMissingForLimit ErrorCode = "RESOURCE_MISSING_FOR_LIMIT"

	// CodeNoOp indicates a limit that cannot apply (no order, or a
	// degenerate number). Candidates pass through unchanged.
	CodeNoOp ErrorCode = "NO_OP"

	// CodeNotFound indicates an unknown smart playlist id.
	CodeNotFound ErrorCode = "NOT_FOUND"
)

// Error is an error raised by the engine, tagged with the affected playlist.
type Error struct {
	// Code identifies the error category.
	Code ErrorCode

	// PlaylistID identifies the affected smart playlist (0 when none).
	PlaylistID int64

	// Message is a human-readable description.
	Message string

	// Err is the underlying cause, if any.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %s", e.Code, e.Message)
	if e.PlaylistID != 0 {
		msg = fmt.Sprintf("%s (playlist=%d)", msg, e.PlaylistID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Err
}

func hasCode(err error, codes ...ErrorCode) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	for _, c := range codes {
		if e.Code == c {
			return true
		}
	}
	return false
}

// IsDefinitionInvalid returns true for invalid definitions, dependency
// cycles included. Uses errors.As to handle wrapped errors.
func IsDefinitionInvalid(err error) bool {
	return hasCode(err, CodeDefinitionInvalid, CodeDependencyCycle)
}

// IsDependencyCycle returns true if the definition was rejected for a
// reference cycle.
func IsDependencyCycle(err error) bool {
	return hasCode(err, CodeDependencyCycle)
}

// IsStoreUnavailable returns true if a store operation failed.
func IsStoreUnavailable(err error) bool {
	return hasCode(err, CodeStoreUnavailable)
}

// IsNotFound returns true if the playlist does not exist.
func IsNotFound(err error) bool {
	return hasCode(err, CodeNotFound)
}

// IsNoOp returns true if a limit did not apply.
func IsNoOp(err error) bool {
	return hasCode(err, CodeNoOp)
}

// IsResourceMissing returns true if a limit resource could not be resolved.
func IsResourceMissing(err error) bool {
	return hasCode(err, CodeResourceMissingForLimit)
}

func definitionInvalid(id int64, err error) *Error {
	return &Error{Code: CodeDefinitionInvalid, PlaylistID: id, Message: "invalid definition", Err: err}
}

func storeUnavailable(id int64, op string, err error) *Error {
	return &Error{Code: CodeStoreUnavailable, PlaylistID: id, Message: op, Err: err}
}

func notFound(id int64) *Error {
	return &Error{Code: CodeNotFound, PlaylistID: id, Message: "no such smart playlist"}
}
