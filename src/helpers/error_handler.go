package helpers

import "fmt"

// -----------------------------------------------------------------------------
// Custom Error Types
// -----------------------------------------------------------------------------

type CandleHubError struct {
	Message string
	Cause   error
}

func (e *CandleHubError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *CandleHubError) Unwrap() error {
	return e.Cause
}

// Helper to define distinct error types for type assertions if needed
type ConfigurationError struct{ CandleHubError }
type FeedError struct{ CandleHubError }
type DatabaseError struct{ CandleHubError }
type ValidationError struct{ CandleHubError }

// -----------------------------------------------------------------------------
// Constructors
// -----------------------------------------------------------------------------

// NewFeedError wraps an upstream transport or protocol failure.
func NewFeedError(message string, cause error) *FeedError {
	return &FeedError{CandleHubError{Message: message, Cause: cause}}
}

// -----------------------------------------------------------------------------

// NewConfigurationError wraps a failure to load or parse configuration.
func NewConfigurationError(message string, cause error) *ConfigurationError {
	return &ConfigurationError{CandleHubError{Message: message, Cause: cause}}
}

// -----------------------------------------------------------------------------

// NewValidationError wraps a configuration value the validator rejected.
func NewValidationError(message string, cause error) *ValidationError {
	return &ValidationError{CandleHubError{Message: message, Cause: cause}}
}

// -----------------------------------------------------------------------------

// NewDatabaseError wraps a storage failure.
func NewDatabaseError(message string, cause error) *DatabaseError {
	return &DatabaseError{CandleHubError{Message: message, Cause: cause}}
}
