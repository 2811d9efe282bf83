package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for caller-input validation failures.
var (
	ErrEmptyQuestion   = errors.New("empty question text")
	ErrEmptyChatbotID  = errors.New("empty chatbot id")
	ErrEmptyQAID       = errors.New("empty qa id")
	ErrInvalidTopK     = errors.New("topK must be positive")
	ErrQuestionTooLong = errors.New("question text too long")
)

// ValidationError wraps a sentinel with the offending field and value.
// Not retryable: the caller sent bad input.
type ValidationError struct {
	Field   string
	Value   string
	Wrapped error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation: %s: %s (value=%q)", e.Wrapped, e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Wrapped }

// NewValidationError creates a ValidationError.
func NewValidationError(field, value string, wrapped error) *ValidationError {
	return &ValidationError{Field: field, Value: value, Wrapped: wrapped}
}

// ConfigError reports a missing or unusable configuration value, e.g. an
// absent index credential. Fatal for the operation, never retried.
type ConfigError struct {
	Key string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: missing or invalid %s", e.Key)
}

// NewConfigError creates a ConfigError for the given configuration key.
func NewConfigError(key string) *ConfigError {
	return &ConfigError{Key: key}
}

// EmbedError reports a failed embedding-provider call. Retryable with
// bounded backoff.
type EmbedError struct {
	Model   string
	Wrapped error
}

func (e *EmbedError) Error() string {
	return fmt.Sprintf("embed: model %s: %s", e.Model, e.Wrapped)
}

func (e *EmbedError) Unwrap() error { return e.Wrapped }

// NewEmbedError creates an EmbedError.
func NewEmbedError(model string, wrapped error) *EmbedError {
	return &EmbedError{Model: model, Wrapped: wrapped}
}

// IndexError reports a failed vector-index call. Retryable with bounded
// backoff.
type IndexError struct {
	Op      string
	Wrapped error
}

func (e *IndexError) Error() string {
	return fmt.Sprintf("index: %s: %s", e.Op, e.Wrapped)
}

func (e *IndexError) Unwrap() error { return e.Wrapped }

// NewIndexError creates an IndexError for the given index operation.
func NewIndexError(op string, wrapped error) *IndexError {
	return &IndexError{Op: op, Wrapped: wrapped}
}

// Retryable reports whether err is worth retrying. Upstream embed/index
// failures are transient; validation and configuration failures are not.
func Retryable(err error) bool {
	var ve *ValidationError
	var ce *ConfigError
	if errors.As(err, &ve) || errors.As(err, &ce) {
		return false
	}
	var ee *EmbedError
	var ie *IndexError
	return errors.As(err, &ee) || errors.As(err, &ie)
}
