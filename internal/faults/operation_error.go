package faults

import (
	"errors"
	"fmt"
)

// OperationError carries a stable "operation.reason" code alongside the
// underlying cause. The code ends up in API error bodies and log fields;
// the cause stays reachable through errors.Is/As.
type OperationError struct {
	code string
	err  error
}

// New builds an OperationError from an operation name, a short reason, and
// an optional cause.
func New(operation, reason string, cause error) error {
	return &OperationError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

func (e *OperationError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *OperationError) Unwrap() error {
	return e.err
}

// Code returns the stable operation.reason identifier.
func (e *OperationError) Code() string {
	return e.code
}

// CodeOf extracts the stable code from err, or an empty string when err does
// not carry one.
func CodeOf(err error) string {
	var operationErr *OperationError
	if errors.As(err, &operationErr) {
		return operationErr.Code()
	}
	return ""
}
