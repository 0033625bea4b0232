package session

import "errors"

var (
	ErrNotFound     = errors.New("session: credential not found")
	ErrInvalidInput = errors.New("session: invalid input")
)
