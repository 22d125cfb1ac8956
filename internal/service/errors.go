package service

import "errors"

// ErrValidation is the parent of every input validation failure. Handlers
// map it to 400.
var ErrValidation = errors.New("validation failed")

// Key registry errors. The validation errors unwrap to ErrValidation.
var (
	ErrInvalidID         error = &kindError{kind: ErrValidation, msg: "invalid key name: use letters, numbers, dot, underscore, or hyphen"}
	ErrInvalidLimit      error = &kindError{kind: ErrValidation, msg: "limit must be a non-negative integer"}
	ErrInvalidExpiration error = &kindError{kind: ErrValidation, msg: "invalid expiration time"}
	ErrDuplicateID             = errors.New("key name already exists")
	ErrKeyNotFound             = errors.New("API key not found")
)

// Admin session errors.
var (
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrTokenExpired       = errors.New("token expired")
)

type kindError struct {
	kind error
	msg  string
}

func (e *kindError) Error() string { return e.msg }
func (e *kindError) Unwrap() error { return e.kind }
