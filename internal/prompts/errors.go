package prompts

import "errors"

var (
	// ErrNotFound is returned when a prompt filename has no file on disk.
	ErrNotFound = errors.New("prompt not found")
	// ErrExists is returned by Create when the filename is already taken.
	ErrExists = errors.New("prompt already exists")
	// ErrInvalid is returned for a malformed filename or out-of-bounds content.
	ErrInvalid = errors.New("invalid prompt")
)
