package gateway

import "fmt"

// QuotaError indicates the request was rejected pre-flight because it hit or
// would exceed the user's daily token budget. No remote call was made; the
// user can retry the next UTC day.
type QuotaError struct {
	Reason string
}

func (e *QuotaError) Error() string {
	return "gateway: quota: " + e.Reason
}

// TransportError indicates the remote completion call failed, timed out,
// returned a non-success status, or produced a malformed payload.
type TransportError struct {
	Reason string
	Status int    // HTTP status when the service answered; 0 otherwise
	Body   string // error body for diagnostics
	Err    error
}

func (e *TransportError) Error() string {
	if e.Status != 0 {
		return fmt.Sprintf("gateway: transport: HTTP %d: %s", e.Status, e.Reason)
	}
	return "gateway: transport: " + e.Reason
}

func (e *TransportError) Unwrap() error { return e.Err }

// StorageError indicates a durable-store operation failed. Fatal to the
// current request only; other users' state is unaffected.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("gateway: storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }
