package domain

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrRateLimited       = errors.New("rate limited")
	ErrUnauthorized      = errors.New("unauthorized")
	ErrLockHeld          = errors.New("lock already held")
	ErrSourceUnavailable = errors.New("source unavailable")
	ErrRawSourceMissing  = errors.New("raw event table missing")
	ErrTableCorrupt      = errors.New("table unreadable")
)
