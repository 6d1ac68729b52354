package engine

import (
	"errors"
	"fmt"

	"github.com/roach88/aosim/internal/weavedrive"
)

// RuntimeError represents an error detected while driving a call.
//
// Runtime errors include:
//   - Cycle detection: the same (process, message) pair would run twice in a call
//   - Quota exceeded: a call produced more effects than the max steps limit
//   - Process halted: the target stopped on a capability halt
//   - Hash mismatch: a process hash chain disagrees with its epochs or ledger
type RuntimeError struct {
	// Code identifies the error category.
	Code RuntimeErrorCode

	// Message is a human-readable description.
	Message string

	// FlowToken identifies the affected call.
	FlowToken string

	// Process is the process involved, when there is one.
	Process string

	// Details contains additional context.
	Details map[string]string
}

// RuntimeErrorCode categorizes runtime errors.
type RuntimeErrorCode string

const (
	// ErrCodeCycleDetected indicates a (process, message) pair would run twice.
	ErrCodeCycleDetected RuntimeErrorCode = "CYCLE_DETECTED"

	// ErrCodeQuotaExceeded indicates the call exceeded max steps.
	ErrCodeQuotaExceeded RuntimeErrorCode = "QUOTA_EXCEEDED"

	// ErrCodeProcessHalted indicates the process is halted until resumed.
	ErrCodeProcessHalted RuntimeErrorCode = "PROCESS_HALTED"

	// ErrCodeHashMismatch indicates a broken hash chain.
	ErrCodeHashMismatch RuntimeErrorCode = "HASH_CHAIN_MISMATCH"
)

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.FlowToken != "" && e.Process != "" {
		return fmt.Sprintf("%s: %s (flow=%s, process=%s)", e.Code, e.Message, e.FlowToken, e.Process)
	}
	if e.Process != "" {
		return fmt.Sprintf("%s: %s (process=%s)", e.Code, e.Message, e.Process)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func hasCode(err error, code RuntimeErrorCode) bool {
	var re *RuntimeError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsCycleError returns true if the error is a cycle detection error.
func IsCycleError(err error) bool {
	return hasCode(err, ErrCodeCycleDetected)
}

// IsQuotaError returns true if the error is a quota exceeded error.
// Matches both RuntimeError with ErrCodeQuotaExceeded and StepsExceededError.
func IsQuotaError(err error) bool {
	if hasCode(err, ErrCodeQuotaExceeded) {
		return true
	}
	var se *StepsExceededError
	return errors.As(err, &se)
}

// IsHaltedError reports whether err refused work for a halted process.
func IsHaltedError(err error) bool {
	return hasCode(err, ErrCodeProcessHalted)
}

// IsHashMismatch reports whether err is a hash chain verification failure.
func IsHashMismatch(err error) bool {
	return hasCode(err, ErrCodeHashMismatch)
}

// NewCycleError creates a RuntimeError for cycle detection.
func NewCycleError(flowToken, process, message string) *RuntimeError {
	return &RuntimeError{
		Code:      ErrCodeCycleDetected,
		Message:   "message already assigned to process in this call",
		FlowToken: flowToken,
		Process:   process,
		Details:   map[string]string{"message": message},
	}
}

// NewHaltedError creates a RuntimeError for work refused by a halted process.
func NewHaltedError(process, reason string) *RuntimeError {
	return &RuntimeError{
		Code:    ErrCodeProcessHalted,
		Message: "process is halted: " + reason,
		Process: process,
	}
}

// ConfigError reports a missing or invalid spawn parameter.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Message
	}
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// SpawnError reports a process whose host could not be instantiated.
type SpawnError struct {
	Process string
	Module  string
	Reason  string
	Err     error
}

func (e *SpawnError) Error() string {
	msg := fmt.Sprintf("spawn %s (module %s): %s", e.Process, e.Module, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// ExecutionError is the Error field a host reported for one message.
// It is recorded on the message's output and never aborts the engine.
type ExecutionError struct {
	Process string
	Message string
	Reason  string
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("execution of %s on %s: %s", e.Message, e.Process, e.Reason)
}

// NotFoundError reports an unknown process or message.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Kind, e.ID)
}

// IsConfigError reports whether err is a ConfigError from the engine or
// an availability-mode ConfigError from the drive.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return errors.As(err, &ce) || weavedrive.IsConfigError(err)
}

// IsSpawnError reports whether err is a SpawnError.
func IsSpawnError(err error) bool {
	var se *SpawnError
	return errors.As(err, &se)
}

// IsExecutionError reports whether err is an ExecutionError.
func IsExecutionError(err error) bool {
	var ee *ExecutionError
	return errors.As(err, &ee)
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsCapabilityHalt reports whether err is a drive capability halt.
func IsCapabilityHalt(err error) bool {
	return weavedrive.IsCapabilityHalt(err)
}
