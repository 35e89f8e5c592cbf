package download

import (
	"errors"
	"fmt"
)

// ErrNotFound is returned when a record id is unknown to the registry.
var ErrNotFound = errors.New("download not found")

// StartupError means the daemon binary is missing or the daemon never
// became reachable on its RPC endpoint.
type StartupError struct {
	Reason string
	Err    error
}

func (e *StartupError) Error() string {
	return fmt.Sprintf("daemon startup failed: %s", e.Reason)
}

func (e *StartupError) Unwrap() error {
	return e.Err
}

// UnsupportedSchemeError means a submitted URL matched no known transport.
type UnsupportedSchemeError struct {
	URL string
}

func (e *UnsupportedSchemeError) Error() string {
	return fmt.Sprintf("unsupported url scheme: %s", e.URL)
}

// InvalidMagnetError means a peer URI had a missing or malformed info-hash.
type InvalidMagnetError struct {
	URI    string
	Reason string
}

func (e *InvalidMagnetError) Error() string {
	return fmt.Sprintf("invalid magnet uri: %s", e.Reason)
}

// InvalidStateError means the requested transition is illegal for the
// record's current status.
type InvalidStateError struct {
	ID        string
	Operation string
	Status    Status
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("cannot %s download %s in state %q", e.Operation, e.ID, e.Status)
}

// RpcTimeoutError means the daemon did not answer within the call budget,
// including the single transparent retry.
type RpcTimeoutError struct {
	Method string
	Err    error
}

func (e *RpcTimeoutError) Error() string {
	return fmt.Sprintf("daemon rpc %s timed out", e.Method)
}

func (e *RpcTimeoutError) Unwrap() error {
	return e.Err
}

// TransferError carries a daemon- or swarm-reported failure reason.
type TransferError struct {
	ID     string
	Reason string
	Err    error
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer %s failed: %s", e.ID, e.Reason)
}

func (e *TransferError) Unwrap() error {
	return e.Err
}

// CancelledError is returned for operations attempted against a record
// that was already cancelled.
type CancelledError struct {
	ID string
}

func (e *CancelledError) Error() string {
	return fmt.Sprintf("download %s is cancelled", e.ID)
}
