package domain

import (
	"errors"
	"fmt"
)

// Error classes. Every error returned by the engine matches exactly one of
// these through errors.Is, optionally alongside a more specific sentinel.
var (
	ErrNotFound             = errors.New("not found")
	ErrDuplicateKey         = errors.New("duplicate key")
	ErrIntegrityViolation   = errors.New("integrity violation")
	ErrDanglingReference    = errors.New("dangling reference")
	ErrTransactionFailure   = errors.New("transaction failure")
	ErrCompositionIntegrity = errors.New("composition integrity error")
	ErrInvalidInput         = errors.New("invalid input")
	ErrInvalidFilter        = fmt.Errorf("invalid filter: %w", ErrInvalidInput)
)

var (
	ErrDuplicateVersion    = fmt.Errorf("duplicate theme version: %w", ErrDuplicateKey)
	ErrDuplicateMembership = fmt.Errorf("duplicate collection membership: %w", ErrDuplicateKey)
	ErrIncompatibleVersion = fmt.Errorf("incompatible theme version: %w", ErrIntegrityViolation)
	ErrContractViolation   = fmt.Errorf("contract violation: %w", ErrIntegrityViolation)
	ErrStoreMismatch       = fmt.Errorf("snapshot belongs to another store: %w", ErrIntegrityViolation)
	ErrSnapshotNotFound    = fmt.Errorf("snapshot: %w", ErrNotFound)
)

// TxError reports a multi-row operation that was rolled back. It matches
// ErrTransactionFailure as well as the underlying cause.
type TxError struct {
	Op  string
	Err error
}

func (e *TxError) Error() string {
	return fmt.Sprintf("%s rolled back: %v", e.Op, e.Err)
}

func (e *TxError) Unwrap() []error {
	return []error{ErrTransactionFailure, e.Err}
}

// WrapTx upgrades err to a *TxError. A nil err stays nil and an error that is
// already a transaction failure is returned as is.
func WrapTx(op string, err error) error {
	if err == nil {
		return nil
	}
	var txErr *TxError
	if errors.As(err, &txErr) {
		return err
	}
	return &TxError{Op: op, Err: err}
}

// ErrSchemaViolation is returned when a settings document does not conform to
// the theme version contract. The Errors field contains machine-readable details.
type ErrSchemaViolation struct {
	Errors []string
}

func (e *ErrSchemaViolation) Error() string {
	return fmt.Sprintf("%v: %v", ErrContractViolation, e.Errors)
}

func (e *ErrSchemaViolation) Unwrap() error {
	return ErrContractViolation
}

// CompositionError names the page node that could not be resolved.
type CompositionError struct {
	Page      string
	Component string
	Ref       string
}

func (e *CompositionError) Error() string {
	return fmt.Sprintf("compose page %q: component %q (%s) has no matching instance", e.Page, e.Component, e.Ref)
}

func (e *CompositionError) Is(target error) bool {
	return target == ErrCompositionIntegrity
}

// DanglingError names a binding whose source no longer exists.
type DanglingError struct {
	SourceType string
	SourceRef  string
}

func (e *DanglingError) Error() string {
	return fmt.Sprintf("dangling reference: %s %q", e.SourceType, e.SourceRef)
}

func (e *DanglingError) Is(target error) bool {
	return target == ErrDanglingReference
}
