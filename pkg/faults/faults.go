// Package faults defines the error taxonomy shared across the core.
//
// Four classes cover every failure the core can surface:
//   - validation: malformed or out-of-range input
//   - authorization: authority, freshness, or signature rejection
//   - domain: a business rule blocked an otherwise well-formed request
//   - persistence: a durable-write or durable-read failure
//
// Callers classify with errors.Is against the sentinel for each class.
package faults

import (
	"errors"
	"fmt"
)

var (
	ErrValidation    = errors.New("validation")
	ErrAuthorization = errors.New("authorization")
	ErrDomain        = errors.New("domain")
	ErrPersistence   = errors.New("persistence")
)

// Validationf wraps a formatted message in the validation class.
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Authorizationf wraps a formatted message in the authorization class.
// Messages must not reveal which check failed beyond what the caller
// already knows; use a single generic message for signature mismatches.
func Authorizationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthorization, fmt.Sprintf(format, args...))
}

// Domainf wraps a formatted message in the domain class.
func Domainf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrDomain, fmt.Sprintf(format, args...))
}

// Persistence wraps an I/O error in the persistence class, preserving the
// underlying error in the message.
func Persistence(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrPersistence, op, err)
}
