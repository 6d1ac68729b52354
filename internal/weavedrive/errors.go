package weavedrive

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when content or a header does not exist.
	ErrNotFound = errors.New("weavedrive: not found")

	// ErrNotAdmissible is returned when content has not been made available
	// to the process. The process sees a failed open.
	ErrNotAdmissible = errors.New("weavedrive: content is not admissible")

	// ErrBadDescriptor is returned for operations on unknown descriptors.
	ErrBadDescriptor = errors.New("weavedrive: bad file descriptor")

	// ErrBadPath is returned for paths outside the data, tx, tx2 and block
	// namespaces.
	ErrBadPath = errors.New("weavedrive: invalid path")
)

// ConfigError reports a process configuration the drive cannot serve,
// such as an unknown availability mode.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return "weavedrive: config: " + e.Message
}

// CapabilityHaltError stops the process that triggered it. It is not a
// content error: a supervisor may resume the process once the capability
// becomes available.
type CapabilityHaltError struct {
	Mode   AvailabilityMode
	Reason string
}

func (e *CapabilityHaltError) Error() string {
	return fmt.Sprintf("weavedrive: capability halt (%s): %s", e.Mode, e.Reason)
}

// Fatal marks the error as one that aborts the running call.
func (e *CapabilityHaltError) Fatal() bool { return true }

// TransientFetchError is a retryable remote failure that exhausted its
// retries.
type TransientFetchError struct {
	Path     string
	Attempts int
	Status   int
	Err      error
}

func (e *TransientFetchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("weavedrive: fetch %s failed after %d attempts: %v", e.Path, e.Attempts, e.Err)
	}
	return fmt.Sprintf("weavedrive: fetch %s failed after %d attempts: status %d", e.Path, e.Attempts, e.Status)
}

func (e *TransientFetchError) Unwrap() error {
	return e.Err
}

// IsConfigError reports whether err is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce)
}

// IsCapabilityHalt reports whether err is a CapabilityHaltError.
func IsCapabilityHalt(err error) bool {
	var he *CapabilityHaltError
	return errors.As(err, &he)
}

// IsTransient reports whether err is a TransientFetchError.
func IsTransient(err error) bool {
	var te *TransientFetchError
	return errors.As(err, &te)
}
