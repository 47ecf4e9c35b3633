// Unified error handling for the plotter host
//
// Copyright (C) 2026  Go Migration Team
//
// This file may be distributed under the terms of the GNU GPLv3 license.

package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents the category of error
type ErrorCode string

const (
	// Configuration errors
	ErrConfigSection    ErrorCode = "CONFIG_SECTION"
	ErrConfigOption     ErrorCode = "CONFIG_OPTION"
	ErrConfigValidation ErrorCode = "CONFIG_VALIDATION"

	// Board link errors
	ErrLinkUnavailable ErrorCode = "LINK_UNAVAILABLE"
	ErrLinkIO          ErrorCode = "LINK_IO"
	ErrProtocol        ErrorCode = "PROTOCOL"

	// Motion pipeline errors
	ErrQueueFull      ErrorCode = "QUEUE_FULL"
	ErrInvalidFeature ErrorCode = "INVALID_FEATURE"
	ErrBusy           ErrorCode = "BUSY"

	// State machine errors
	ErrSetupTimeout ErrorCode = "SETUP_TIMEOUT"
	ErrHomingStall  ErrorCode = "HOMING_STALL"

	ErrInternal ErrorCode = "INTERNAL"
)

// HostError is the unified error type for the host system
type HostError struct {
	// Code is the error category
	Code ErrorCode

	// Message is a human-readable error description
	Message string

	// Section is the config section or component
	Section string

	// Option is the config option name (if applicable)
	Option string

	// Err wraps the underlying error
	Err error

	// Context provides additional context
	Context map[string]interface{}
}

// Error implements the error interface
func (e *HostError) Error() string {
	where := e.Section
	if e.Option != "" {
		where = e.Section + "." + e.Option
	}
	msg := fmt.Sprintf("[%s:%s] %s", e.Code, where, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error
func (e *HostError) Unwrap() error {
	return e.Err
}

// SetSection sets the context section
func (e *HostError) SetSection(section string) *HostError {
	e.Section = section
	return e
}

// SetOption sets the config option
func (e *HostError) SetOption(option string) *HostError {
	e.Option = option
	return e
}

// SetContext adds additional context
func (e *HostError) SetContext(key string, value interface{}) *HostError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// Wrap wraps an existing error with additional context
func Wrap(err error, code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// New creates a new HostError
func New(code ErrorCode, message string) *HostError {
	return &HostError{
		Code:    code,
		Message: message,
	}
}

// ConfigSectionError creates an error for missing config section
func ConfigSectionError(section string) *HostError {
	return New(ErrConfigSection, fmt.Sprintf("section '%s' not found", section)).
		SetSection(section)
}

// ConfigValidationError creates an error for a config value that fails validation
func ConfigValidationError(section, option string, reason string) *HostError {
	return New(ErrConfigValidation, reason).
		SetSection(section).
		SetOption(option)
}

// LinkUnavailableError reports that no board could be opened.
func LinkUnavailableError(target string, err error) *HostError {
	return Wrap(err, ErrLinkUnavailable, fmt.Sprintf("no controller board at %q", target)).
		SetSection("board")
}

// LinkIOError wraps a transport failure during operation.
func LinkIOError(operation string, err error) *HostError {
	return Wrap(err, ErrLinkIO, operation).SetSection("board")
}

// QueueFullError reports that a feature did not fit into the packet queue.
func QueueFullError(need, free int) *HostError {
	return New(ErrQueueFull, fmt.Sprintf("need %d packets, %d free", need, free)).
		SetSection("queue").
		SetContext("need", need).
		SetContext("free", free)
}

// InvalidFeatureError reports a drawing feature that cannot be translated.
func InvalidFeatureError(kind, reason string) *HostError {
	return New(ErrInvalidFeature, reason).SetSection(kind)
}

// BusyError reports a request refused in the current operation mode.
func BusyError(operation, mode string) *HostError {
	return New(ErrBusy, fmt.Sprintf("%s not allowed while %s", operation, mode)).
		SetContext("mode", mode)
}

// SetupTimeoutError reports a setup state that never received its
// acknowledgement.
func SetupTimeoutError(state string, waited float64) *HostError {
	return New(ErrSetupTimeout, fmt.Sprintf("board unreachable: no acknowledgement in %s after %.1fs", state, waited)).
		SetSection("setup").
		SetContext("state", state)
}

// HomingStallError reports an axis whose limit switch never tripped.
func HomingStallError(axis string, corrections int) *HostError {
	return New(ErrHomingStall, fmt.Sprintf("axis %s did not reach its limit switch after %d corrective moves", axis, corrections)).
		SetSection("homing").
		SetContext("axis", axis)
}

// RecoverPanic safely recovers from panic and converts to error.
// It must be called directly from a deferred function.
func RecoverPanic(r interface{}) *HostError {
	if r == nil {
		return nil
	}
	switch x := r.(type) {
	case string:
		return New(ErrInternal, "panic: "+x)
	case error:
		return Wrap(x, ErrInternal, "panic")
	default:
		return New(ErrInternal, fmt.Sprintf("panic: %v", x))
	}
}

// Is checks if err, or any error it wraps, is a HostError with the given code
func Is(err error, code ErrorCode) bool {
	var hostErr *HostError
	if stderrors.As(err, &hostErr) {
		return hostErr.Code == code
	}
	return false
}

// CodeOf returns the code of the outermost HostError in err's chain, or
// ErrInternal for foreign errors.
func CodeOf(err error) ErrorCode {
	var hostErr *HostError
	if stderrors.As(err, &hostErr) {
		return hostErr.Code
	}
	return ErrInternal
}

// IsConfig checks if error is a config error
func IsConfig(err error) bool {
	return Is(err, ErrConfigSection) ||
		Is(err, ErrConfigOption) ||
		Is(err, ErrConfigValidation)
}

// IsFatal reports errors after which the controller stops driving the board.
func IsFatal(err error) bool {
	return Is(err, ErrLinkUnavailable) ||
		Is(err, ErrSetupTimeout) ||
		Is(err, ErrHomingStall)
}
