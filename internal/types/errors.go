package types

import "errors"

// Error classes shared by every layer. Components wrap these with context
// using fmt.Errorf("...: %w", ...) and callers classify with errors.Is.
var (
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrForbidden          = errors.New("forbidden")
	ErrNotFound           = errors.New("not found")
	ErrBadRequest         = errors.New("bad request")
	ErrIncompleteAssembly = errors.New("incomplete assembly")
)
