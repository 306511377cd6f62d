package domain

import (
	"errors"
	"fmt"
)

// ErrorType classifies failures local to one requirement/meter pair.
type ErrorType string

const (
	ErrorTypeValidation    ErrorType = "validation"
	ErrorTypeExtraction    ErrorType = "extraction"
	ErrorTypeLookup        ErrorType = "lookup"
	ErrorTypeHallucination ErrorType = "hallucination"
	ErrorTypeParse         ErrorType = "parse"
	ErrorTypeTimeout       ErrorType = "timeout"
	ErrorTypeService       ErrorType = "service"
	ErrorTypeConfig        ErrorType = "config"
	ErrorTypeIO            ErrorType = "io"
)

// Sentinel errors shared across components.
var (
	ErrSpecNotFound  = errors.New("no specification available")
	ErrEmptyDocument = errors.New("document is empty")
	ErrNoCandidates  = errors.New("no candidate meters")
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// ErrorTypeOf returns the type of the first DomainError in err's chain, or "".
func ErrorTypeOf(err error) ErrorType {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type
	}
	return ""
}

func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ExtractionError(message string, err error) *DomainError {
	return NewError(ErrorTypeExtraction, message, err)
}

func LookupError(message string, err error) *DomainError {
	return NewError(ErrorTypeLookup, message, err)
}

func HallucinationError(message string, err error) *DomainError {
	return NewError(ErrorTypeHallucination, message, err)
}

func ParseError(message string, err error) *DomainError {
	return NewError(ErrorTypeParse, message, err)
}

func TimeoutError(message string, err error) *DomainError {
	return NewError(ErrorTypeTimeout, message, err)
}

func ServiceError(message string, err error) *DomainError {
	return NewError(ErrorTypeService, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}
