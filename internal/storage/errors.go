package storage

import "errors"

var (
	ErrNotFound        = errors.New("storage: not found")
	ErrVersionConflict = errors.New("storage: version conflict")
	ErrOverlap         = errors.New("storage: reservation overlap")
	ErrUniqueViolation = errors.New("storage: unique constraint violation")
	ErrNotInitialized  = errors.New("storage: not initialized")
)
