package brickflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Common errors.
var (
	// ErrBrickNotFound is returned by resolvers when no brick has the id.
	ErrBrickNotFound = errors.New("brickflow: brick not found")

	// ErrInvalidExpression is returned when an expression envelope is malformed.
	ErrInvalidExpression = errors.New("brickflow: invalid expression")

	// ErrInvalidStep is returned when a step definition is malformed.
	ErrInvalidStep = errors.New("brickflow: invalid step")

	// ErrUnknownVersion is returned for API versions other than v1, v2 and v3.
	ErrUnknownVersion = errors.New("brickflow: unknown api version")
)

// BusinessError is a problem with user-authored content, such as a missing
// brick or an explicit error raised by a pipeline. It is always safe to show
// to the pipeline author.
type BusinessError struct {
	Message string
	Cause   error
}

// NewBusinessError creates a business error with a formatted message.
func NewBusinessError(format string, args ...any) *BusinessError {
	return &BusinessError{Message: fmt.Sprintf(format, args...)}
}

func (e *BusinessError) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *BusinessError) Unwrap() error {
	return e.Cause
}

// TemplateRenderError reports a template that failed to parse or render.
// It is a business-class error: the template is user-authored.
type TemplateRenderError struct {
	Engine   string
	Template string
	Cause    error
}

func (e *TemplateRenderError) Error() string {
	if e.Engine == "" {
		return e.Cause.Error()
	}
	return fmt.Sprintf("render %s template: %v", e.Engine, e.Cause)
}

func (e *TemplateRenderError) Unwrap() error {
	return e.Cause
}

// ValidationIssue is a single schema violation.
type ValidationIssue struct {
	// Field is the path of the offending value, "(root)" for the document.
	Field   string
	Message string
}

// InputValidationError reports rendered brick arguments that do not match
// the brick's input schema.
type InputValidationError struct {
	BrickID string
	Issues  []ValidationIssue
	// Message replaces the generated text when set.
	Message string
}

func (e *InputValidationError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	parts := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		parts = append(parts, issue.Field+": "+issue.Message)
	}
	return fmt.Sprintf("invalid input for brick %s: %s", e.BrickID, strings.Join(parts, "; "))
}

// Fields returns the paths of all offending fields.
func (e *InputValidationError) Fields() []string {
	fields := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		fields = append(fields, issue.Field)
	}
	return fields
}

// CancelError reports a voluntary abort: the caller's context was cancelled
// or a cached request was superseded by a newer one. Callers usually treat
// it as "not an error".
type CancelError struct {
	Message string
	Cause   error
}

func (e *CancelError) Error() string {
	if e.Message == "" {
		return "cancelled"
	}
	return e.Message
}

func (e *CancelError) Unwrap() error {
	return e.Cause
}

// ContextError attaches the failing step to an error without changing the
// identity of the cause: errors.As and errors.Is see through it.
type ContextError struct {
	BrickID    string
	InstanceID string
	StepIndex  int
	Label      string
	Cause      error
}

func (e *ContextError) Error() string {
	name := e.BrickID
	if e.Label != "" {
		name = fmt.Sprintf("%s (%s)", e.Label, e.BrickID)
	}
	return fmt.Sprintf("step %d %s [%s]: %v", e.StepIndex, name, e.InstanceID, e.Cause)
}

func (e *ContextError) Unwrap() error {
	return e.Cause
}

// RootCause unwraps every ContextError layer around err.
func RootCause(err error) error {
	for {
		var ce *ContextError
		if !errors.As(err, &ce) {
			return err
		}
		err = ce.Cause
	}
}

// IsBusinessError reports whether err is caused by user-authored content.
func IsBusinessError(err error) bool {
	var be *BusinessError
	var te *TemplateRenderError
	var ve *InputValidationError
	return errors.As(err, &be) || errors.As(err, &te) || errors.As(err, &ve)
}

// IsCancelError reports whether err is a voluntary abort.
func IsCancelError(err error) bool {
	var ce *CancelError
	return errors.As(err, &ce)
}

// cancelFromContext converts a done context into a CancelError.
func cancelFromContext(ctx context.Context) error {
	if ctx.Err() == nil {
		return nil
	}
	return &CancelError{Message: "pipeline cancelled", Cause: context.Cause(ctx)}
}

// SerializedError is the JSON-friendly form of an error, used when errors
// are exposed to pipelines (e.g. as @error) or persisted in state.
type SerializedError struct {
	Name    string `json:"name"`
	Message string `json:"message"`
}

func (e *SerializedError) Error() string {
	return e.Message
}

// SerializeError converts err to its serialized form. The name is derived
// from the root cause's error class.
func SerializeError(err error) *SerializedError {
	if err == nil {
		return nil
	}
	root := RootCause(err)
	var (
		be *BusinessError
		te *TemplateRenderError
		ve *InputValidationError
		ce *CancelError
		se *SerializedError
	)
	name := "Error"
	switch {
	case errors.As(root, &se):
		name = se.Name
	case errors.As(root, &ce):
		name = "CancelError"
	case errors.As(root, &ve):
		name = "InputValidationError"
	case errors.As(root, &te):
		name = "TemplateRenderError"
	case errors.As(root, &be):
		name = "BusinessError"
	}
	return &SerializedError{Name: name, Message: root.Error()}
}

// Err rebuilds an error of the recorded class, so a stored failure is
// classified like the original. Unknown classes return e itself.
func (e *SerializedError) Err() error {
	switch e.Name {
	case "BusinessError":
		return &BusinessError{Message: e.Message}
	case "TemplateRenderError":
		return &TemplateRenderError{Cause: errors.New(e.Message)}
	case "InputValidationError":
		return &InputValidationError{Message: e.Message}
	case "CancelError":
		return &CancelError{Message: e.Message}
	default:
		return e
	}
}

// Map returns the error as a plain map suitable for a context variable.
func (e *SerializedError) Map() map[string]any {
	return map[string]any{"name": e.Name, "message": e.Message}
}
