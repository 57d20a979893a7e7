// Package errors provides the structured error type shared by lifpow services.
package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// ErrorType is the category an error belongs to. It decides whether the
// error is retried and whether it counts against a circuit breaker.
type ErrorType string

const (
	// ErrorTypeNetwork represents network-related errors
	ErrorTypeNetwork ErrorType = "network"
	// ErrorTypeValidation represents validation errors
	ErrorTypeValidation ErrorType = "validation"
	// ErrorTypeDatabase represents database-related errors
	ErrorTypeDatabase ErrorType = "database"
	// ErrorTypeBitcoin represents node RPC errors
	ErrorTypeBitcoin ErrorType = "bitcoin"
	// ErrorTypeKafka represents Kafka messaging errors
	ErrorTypeKafka ErrorType = "kafka"
	// ErrorTypeTimeout represents timeout errors
	ErrorTypeTimeout ErrorType = "timeout"
	// ErrorTypeInternal represents internal/unknown errors
	ErrorTypeInternal ErrorType = "internal"
	// ErrorTypeConfiguration marks a network or service that must not start,
	// such as a genesis block that disagrees with its reference record
	ErrorTypeConfiguration ErrorType = "configuration"
	// ErrorTypeContract marks caller mistakes such as an unregistered network
	ErrorTypeContract ErrorType = "contract"
)

// ServiceError represents a structured error with context
type ServiceError struct {
	Type      ErrorType
	Operation string
	Message   string
	Cause     error
	Context   map[string]interface{}
	Timestamp time.Time
	Retryable bool
}

// Error implements the error interface
func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s operation '%s' failed: %s (caused by: %v)", e.Type, e.Operation, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s operation '%s' failed: %s", e.Type, e.Operation, e.Message)
}

// Unwrap returns the underlying cause for error unwrapping
func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// IsRetryable returns whether this error should be retried
func (e *ServiceError) IsRetryable() bool {
	return e.Retryable
}

// WithContext adds additional context to the error
func (e *ServiceError) WithContext(key string, value interface{}) *ServiceError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithValues copies values into the error context without overwriting keys
// already set.
func (e *ServiceError) WithValues(values map[string]any) *ServiceError {
	for k, v := range values {
		if _, ok := e.Context[k]; ok {
			continue
		}
		e.WithContext(k, v)
	}
	return e
}

// New creates a new ServiceError
func New(errorType ErrorType, operation, message string) *ServiceError {
	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Timestamp: time.Now(),
		Retryable: retryableType(errorType),
	}
}

// Wrap wraps err with a type and operation. A wrapped ServiceError keeps its
// retryability; any other cause is judged by its message.
func Wrap(err error, errorType ErrorType, operation, message string) *ServiceError {
	if err == nil {
		return nil
	}

	retryable := transientCause(err)
	if se, ok := err.(*ServiceError); ok {
		retryable = se.Retryable
	}

	return &ServiceError{
		Type:      errorType,
		Operation: operation,
		Message:   message,
		Cause:     err,
		Timestamp: time.Now(),
		Retryable: retryable,
	}
}

func retryableType(errorType ErrorType) bool {
	switch errorType {
	case ErrorTypeNetwork, ErrorTypeTimeout, ErrorTypeKafka:
		return true
	default:
		return false
	}
}

// Transport failures from RPC, Kafka and the databases.
var transientMessages = []string{
	"connection refused",
	"connection reset",
	"network unreachable",
	"timeout",
	"temporary failure",
	"too many connections",
	"broken pipe",
	"leader not available",
}

func transientCause(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, m := range transientMessages {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}

// TypeOf returns the type of the outermost ServiceError in err's chain, or
// ErrorTypeInternal when there is none.
func TypeOf(err error) ErrorType {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Type
	}
	return ErrorTypeInternal
}

// IsType checks if an error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Type == errorType
	}
	return false
}

// IsRetryable checks if an error should be retried
func IsRetryable(err error) bool {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.IsRetryable()
	}
	return transientCause(err)
}

// IsOutage reports whether err says the remote service is unhealthy, as
// opposed to the caller giving up or the remote refusing a request on its
// merits. Only outages count against a circuit breaker.
func IsOutage(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	switch TypeOf(err) {
	case ErrorTypeValidation, ErrorTypeContract, ErrorTypeConfiguration:
		return false
	}
	return true
}

// GetContext retrieves context from a ServiceError
func GetContext(err error) map[string]interface{} {
	var se *ServiceError
	if errors.As(err, &se) {
		return se.Context
	}
	return nil
}
