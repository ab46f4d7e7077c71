package utils

import (
	"errors"
	"fmt"
	"time"
)

// Sentinels for errors.Is. Every typed error below matches exactly one of them.
var (
	ErrConflict      = errors.New("conflict")
	ErrNotFound      = errors.New("not found")
	ErrGeocoding     = errors.New("geocoding failure")
	ErrTimeout       = errors.New("timeout")
	ErrInvalidFormat = errors.New("invalid format")
	ErrInvalidState  = errors.New("invalid state")
	ErrConfiguration = errors.New("configuration error")
)

// ConflictError covers booking races, lockers placed too close to each
// other and searches that found nothing to hold. Callers may retry.
type ConflictError struct {
	Reason string
	Err    error
}

func (e *ConflictError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("conflict: %s: %v", e.Reason, e.Err)
	}
	return "conflict: " + e.Reason
}

func (e *ConflictError) Is(target error) bool { return target == ErrConflict }
func (e *ConflictError) Unwrap() error        { return e.Err }

type NotFoundError struct {
	Kind string // reservation, locker, compartment, ...
	ID   any
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

type GeocodingFailure struct {
	Address string
	Err     error
}

func (e *GeocodingFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("geocoding %q failed: %v", e.Address, e.Err)
	}
	return fmt.Sprintf("geocoding %q failed", e.Address)
}

func (e *GeocodingFailure) Is(target error) bool { return target == ErrGeocoding }
func (e *GeocodingFailure) Unwrap() error        { return e.Err }

type TimeoutError struct {
	Op     string
	Target string
	After  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s to %s timed out after %s", e.Op, e.Target, e.After)
}

func (e *TimeoutError) Is(target error) bool { return target == ErrTimeout }

type InvalidFormatError struct {
	Input  string
	Reason string
}

func (e *InvalidFormatError) Error() string {
	return fmt.Sprintf("invalid format: %s", e.Reason)
}

func (e *InvalidFormatError) Is(target error) bool { return target == ErrInvalidFormat }

// InvalidStateError echoes the status the entity was in when the operation
// was rejected.
type InvalidStateError struct {
	Op     string
	Status string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("%s not allowed in status %q", e.Op, e.Status)
}

func (e *InvalidStateError) Is(target error) bool { return target == ErrInvalidState }

type ConfigurationError struct {
	Err error
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("configuration error: %v", e.Err)
}

func (e *ConfigurationError) Is(target error) bool { return target == ErrConfiguration }
func (e *ConfigurationError) Unwrap() error        { return e.Err }

// Retryable reports whether a caller may sensibly try the same call again.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict) || errors.Is(err, ErrGeocoding) || errors.Is(err, ErrTimeout)
}
