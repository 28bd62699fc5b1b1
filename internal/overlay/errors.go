package overlay

import (
	"errors"
	"fmt"
	"strings"
)

type ErrorType int

const (
	ErrTimeout ErrorType = iota
	ErrSelector
	ErrTranslation
	ErrRender
	ErrSession
	ErrUnknown
)

// OverlayError carries the failure category plus the page context that the
// pipeline logs attach to every report.
type OverlayError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *OverlayError {
	return &OverlayError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *OverlayError {
	return &OverlayError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *OverlayError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		var ctxParts []string
		for k, v := range e.Context {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, v))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *OverlayError) Unwrap() error {
	return e.Cause
}

func (e *OverlayError) WithContext(key string, value any) *OverlayError {
	e.Context[key] = value
	return e
}

func (t ErrorType) String() string {
	switch t {
	case ErrTimeout:
		return "Timeout"
	case ErrSelector:
		return "Selector"
	case ErrTranslation:
		return "Translation"
	case ErrRender:
		return "Render"
	case ErrSession:
		return "Session"
	case ErrUnknown:
		return "Unknown"
	default:
		return "Unknown"
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var ovErr *OverlayError
	if errors.As(err, &ovErr) {
		return ovErr.Type == errorType
	}
	return false
}

func WrapError(err error, errorType ErrorType, message string) *OverlayError {
	return NewErrorWithCause(errorType, message, err)
}

// SafeExecute converts a panic in fn into an error. The renderer runs each
// caption through it so one bad node cannot take down the refresh pass.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
