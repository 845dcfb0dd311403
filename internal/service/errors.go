package service

import "errors"

var (
	// ErrValidation means a name field was missing or empty.
	ErrValidation = errors.New("validation failed")
	// ErrStorage means the record store was unreachable or rejected a write.
	ErrStorage = errors.New("storage error")
	// ErrPublish means the entry was stored but its derivation message was not published.
	ErrPublish = errors.New("publish derivation message")
)
