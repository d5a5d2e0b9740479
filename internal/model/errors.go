package model

import "errors"

var (
	ErrInvalidTimeFormat  = errors.New("invalid time format")
	ErrInvalidTimestamp   = errors.New("invalid timestamp")
	ErrInvalidPayload     = errors.New("invalid feed payload")
	ErrInvalidEvent       = errors.New("invalid event")
	ErrInvalidInput       = errors.New("invalid input")
	ErrFeedFetch          = errors.New("feed fetch failed")
	ErrPersistenceCorrupt = errors.New("persisted value is corrupt")
	ErrExport             = errors.New("event cannot be exported")
	ErrNotFound           = errors.New("no record")
	ErrSuperseded         = errors.New("superseded by a newer refetch")
)
