package deviceflow

import (
	"errors"
	"fmt"
)

// Errors that may occur during the device authorization flow
var (
	// ErrInvalidDeviceCode indicates a missing device code
	ErrInvalidDeviceCode = errors.New("invalid device code")

	// ErrNotFound indicates a code that resolves to no record
	ErrNotFound = errors.New("device flow record not found")

	// ErrDuplicateCode indicates a generated device or user code already exists
	ErrDuplicateCode = errors.New("duplicate device or user code")

	// ErrMissingApprover indicates an approval without the approving user's identity
	ErrMissingApprover = errors.New("approving user is required")

	// ErrInvalidDecision indicates a verification decision other than approve or deny
	ErrInvalidDecision = errors.New("invalid verification decision")

	// ErrUnknownClient indicates the client is not registered
	ErrUnknownClient = errors.New("unknown client")
)

// Error codes per RFC 8628 section 3.5 and RFC 6749 section 5.2
const (
	ErrorCodeAuthorizationPending = "authorization_pending"
	ErrorCodeSlowDown             = "slow_down"
	ErrorCodeAccessDenied         = "access_denied"
	ErrorCodeExpiredToken         = "expired_token"
	ErrorCodeInvalidRequest       = "invalid_request"
	ErrorCodeInvalidClient        = "invalid_client"
	ErrorCodeInvalidGrant         = "invalid_grant"
	ErrorCodeUnsupportedGrant     = "unsupported_grant_type"
	ErrorCodeServerError          = "server_error"
)

// DeviceFlowError carries an RFC 8628 error code and a human readable description
type DeviceFlowError struct {
	Code        string
	Description string
}

func (e *DeviceFlowError) Error() string {
	if e.Description == "" {
		return e.Code
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// NewDeviceFlowError creates a DeviceFlowError
func NewDeviceFlowError(code, description string) *DeviceFlowError {
	return &DeviceFlowError{Code: code, Description: description}
}

// StorageError wraps a backing store failure. The operation must be treated as not applied.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("device flow storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func storageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorageError reports whether err is a backing store failure
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
