package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies an agent error.
type Kind string

const (
	KindValidation      Kind = "validation"
	KindUnauthorized    Kind = "unauthorized"
	KindNotFound        Kind = "not_found"
	KindImageNotFound   Kind = "image_not_found"
	KindPoolExhausted   Kind = "pool_exhausted"
	KindSegmentNotReady Kind = "segment_not_ready"
	KindBootstrap       Kind = "bootstrap"
	KindLaunch          Kind = "launch"
	KindRuntime         Kind = "runtime"
	KindConfig          Kind = "config"
	KindInternal        Kind = "internal"
)

// Exit codes for labagent
const (
	ExitSuccess      = 0
	ExitGeneralError = 1
	ExitBootstrap    = 2
	ExitConfigError  = 3
	ExitRuntime      = 4
)

// AgentError is the base error type for the agent.
type AgentError struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *AgentError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *AgentError) Unwrap() error {
	return e.Cause
}

// HTTPStatus returns the response status for this error kind.
func (e *AgentError) HTTPStatus() int {
	switch e.Kind {
	case KindValidation:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound, KindImageNotFound:
		return http.StatusNotFound
	case KindPoolExhausted:
		return http.StatusConflict
	case KindSegmentNotReady:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// ExitCode returns the process exit code for this error kind.
func (e *AgentError) ExitCode() int {
	switch e.Kind {
	case KindConfig, KindValidation:
		return ExitConfigError
	case KindBootstrap, KindSegmentNotReady:
		return ExitBootstrap
	case KindRuntime, KindLaunch:
		return ExitRuntime
	default:
		return ExitGeneralError
	}
}

// New creates a new AgentError
func New(kind Kind, message string) *AgentError {
	return &AgentError{
		Kind:    kind,
		Message: message,
	}
}

// Wrap wraps an existing error with an AgentError
func Wrap(kind Kind, message string, cause error) *AgentError {
	return &AgentError{
		Kind:    kind,
		Message: message,
		Cause:   cause,
	}
}

// Common error constructors

// ValidationError returns an error for a rejected request.
func ValidationError(format string, args ...any) *AgentError {
	return New(KindValidation, fmt.Sprintf(format, args...))
}

// Unauthorized returns an error for a missing or wrong access credential.
func Unauthorized() *AgentError {
	return New(KindUnauthorized, "invalid or missing access credential")
}

// DeploymentNotFound returns an error for an unknown deployment.
func DeploymentNotFound(id string) *AgentError {
	return New(KindNotFound, fmt.Sprintf("deployment not found: %s", id))
}

// ImageNotFound returns an error when the runtime cannot resolve an image.
func ImageNotFound(image string, cause error) *AgentError {
	return Wrap(KindImageNotFound, fmt.Sprintf("image not found: %s", image), cause)
}

// PoolExhausted returns an error when no address or port is free.
func PoolExhausted(pool string, cause error) *AgentError {
	return Wrap(KindPoolExhausted, fmt.Sprintf("no free %s available", pool), cause)
}

// SegmentNotReady returns an error for deployments that arrive before bootstrap succeeded.
func SegmentNotReady(name string) *AgentError {
	return New(KindSegmentNotReady, fmt.Sprintf("network %s is not ready", name))
}

// BootstrapError returns an error for a failed inspect-or-create of the segment.
func BootstrapError(name string, cause error) *AgentError {
	return Wrap(KindBootstrap, fmt.Sprintf("bootstrap of network %s failed", name), cause)
}

// LaunchError returns an error for a failed container launch.
func LaunchError(name string, cause error) *AgentError {
	return Wrap(KindLaunch, fmt.Sprintf("launch of %s failed", name), cause)
}

// RuntimeError returns an error for other runtime operations.
func RuntimeError(op string, cause error) *AgentError {
	return Wrap(KindRuntime, fmt.Sprintf("runtime %s failed", op), cause)
}

// ConfigError returns an error for configuration issues
func ConfigError(message string, cause error) *AgentError {
	return Wrap(KindConfig, message, cause)
}

// KindOf returns the kind of the first AgentError in err's chain.
func KindOf(err error) Kind {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.Kind
	}
	return KindInternal
}

// HTTPStatus extracts the response status from an error chain.
func HTTPStatus(err error) int {
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// GetExitCode extracts the exit code from an error
func GetExitCode(err error) int {
	if err == nil {
		return ExitSuccess
	}
	var agentErr *AgentError
	if errors.As(err, &agentErr) {
		return agentErr.ExitCode()
	}
	return ExitGeneralError
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var agentErr *AgentError
	return errors.As(err, &agentErr) && agentErr.Kind == kind
}

// Is checks if an error is of a specific type
func Is(err, target error) bool {
	return errors.Is(err, target)
}

// As finds the first error in err's chain that matches target
func As(err error, target any) bool {
	return errors.As(err, target)
}
