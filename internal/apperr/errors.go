// Package apperr holds the error taxonomy shared by the realtime core.
// Callers wrap these with fmt.Errorf("...: %w", err) and the command
// boundary maps them to transport status codes with errors.Is.
package apperr

import "errors"

var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrForbidden       = errors.New("forbidden")
	ErrNotFound        = errors.New("not found")
	ErrInvalid         = errors.New("invalid argument")
	// ErrConflict marks a conditional write that lost a race. It never
	// reaches clients: the loser re-reads the authoritative state instead.
	ErrConflict = errors.New("conflict")
)
