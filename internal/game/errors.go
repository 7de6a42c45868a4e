package game

import "errors"

// Domain errors. The routing layer maps these to status codes.
var (
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("username already exists")
	ErrInvalidInput = errors.New("invalid input")
	ErrUnauthorized = errors.New("invalid credentials")
)
