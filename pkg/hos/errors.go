package hos

import "errors"

// StoreError represents a domain error from store operations.
//
// These are business-logic errors (object not found, locator invalidated,
// bounds outside the parent array) as opposed to infrastructure errors
// (disk failure, corrupt database), which are wrapped and surfaced as
// ErrFormatInvalid or passed through from the backend.
//
// Callers branch on Code via errors.As, or use the Is helpers below. The
// store itself never logs; surfacing the error to the calling application
// is the whole of its failure behaviour.
type StoreError struct {
	// Code is the error category.
	Code ErrorCode

	// Message is a human-readable description.
	Message string

	// Path is the object path related to the error, when applicable
	// (e.g. "CALIB.FLAT.DATA_ARRAY").
	Path string
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Path != "" {
		return e.Message + ": " + e.Path
	}
	return e.Message
}

// ErrorCode represents the category of a store error.
type ErrorCode int

const (
	// ErrNotFound indicates the requested container or component does not
	// exist.
	ErrNotFound ErrorCode = iota

	// ErrAlreadyExists indicates a container already exists at the target
	// path and overwrite was not requested.
	ErrAlreadyExists

	// ErrNameCollision indicates a component with the same name (compared
	// case-insensitively) already exists under the parent.
	ErrNameCollision

	// ErrObjectBusy indicates the object, or a descendant of it, is still
	// referenced by a live locator and cannot be erased or reshaped.
	ErrObjectBusy

	// ErrResourceBusy indicates the container is held by another process
	// (lock timeout), is already open in this process (aliasing guard),
	// or still has outstanding locators at close time.
	ErrResourceBusy

	// ErrInvalidLocator indicates a locator was used after annulment.
	ErrInvalidLocator

	// ErrInvalidShape indicates an invalid rank or extent, or a resize
	// that would shrink populated bounds without confirmation.
	ErrInvalidShape

	// ErrBoundsOutOfRange indicates a section or slice request outside the
	// parent object's bounds.
	ErrBoundsOutOfRange

	// ErrTypeMismatch indicates a mapping or scalar access with no defined
	// conversion (structure objects, character-to-numeric).
	ErrTypeMismatch

	// ErrAlreadyMapped indicates a second map call on a locator whose
	// current mapping has not been unmapped.
	ErrAlreadyMapped

	// ErrFormatInvalid indicates the container file is not a recognisable
	// container, or its structure is damaged.
	ErrFormatInvalid

	// ErrAccessDenied indicates the open mode is incompatible with the
	// filesystem permissions or the container's own mode, or a mode
	// string could not be parsed.
	ErrAccessDenied
)

func (c ErrorCode) String() string {
	switch c {
	case ErrNotFound:
		return "NotFound"
	case ErrAlreadyExists:
		return "AlreadyExists"
	case ErrNameCollision:
		return "NameCollision"
	case ErrObjectBusy:
		return "ObjectBusy"
	case ErrResourceBusy:
		return "ResourceBusy"
	case ErrInvalidLocator:
		return "InvalidLocator"
	case ErrInvalidShape:
		return "InvalidShape"
	case ErrBoundsOutOfRange:
		return "BoundsOutOfRange"
	case ErrTypeMismatch:
		return "TypeMismatch"
	case ErrAlreadyMapped:
		return "AlreadyMapped"
	case ErrFormatInvalid:
		return "FormatInvalid"
	case ErrAccessDenied:
		return "AccessDenied"
	default:
		return "Unknown"
	}
}

// IsCode reports whether err is (or wraps) a StoreError with the given code.
func IsCode(err error, code ErrorCode) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == code
}

// errf builds a StoreError with a formatted message.
func errf(code ErrorCode, path, message string) *StoreError {
	return &StoreError{Code: code, Message: message, Path: path}
}
