// Package enginerrors defines the error kinds the upload engine classifies
// failures into, per the boundary propagation policy: every exception is
// caught and translated into one of these kinds before it crosses a
// component boundary.
package enginerrors

import (
	"fmt"
	"log/slog"
)

// Kind is the stable classification of an engine-level failure.
type Kind string

const (
	InvalidArgument     Kind = "INVALID_ARGUMENT"
	NotInitialized      Kind = "NOT_INITIALIZED"
	NotFound            Kind = "NOT_FOUND"
	IoError             Kind = "IO_ERROR"
	CredentialError     Kind = "CREDENTIAL_ERROR"
	RemoteRejection     Kind = "REMOTE_REJECTION"
	Cancelled           Kind = "CANCELLED"
	ConfirmationFailure Kind = "CONFIRMATION_FAILURE"
	QueueFull           Kind = "QUEUE_FULL"
	Internal            Kind = "INTERNAL"
)

// Error is the engine's wrapped error type. It carries enough structured
// context to both log and translate into a response envelope without
// re-parsing a message string.
type Error struct {
	Kind       Kind
	Message    string
	Operation  string
	UploadID   string
	DataID     string
	Cause      error
	HTTPStatus int    // set only for RemoteRejection
	RequestID  string // provider request id, set only for RemoteRejection
	Context    map[string]any
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Context: make(map[string]any)}
}

func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

func (e *Error) WithUpload(uploadID string) *Error {
	e.UploadID = uploadID
	return e
}

func (e *Error) WithData(dataID string) *Error {
	e.DataID = dataID
	return e
}

func (e *Error) WithCause(err error) *Error {
	e.Cause = err
	return e
}

func (e *Error) WithRemote(httpStatus int, requestID string) *Error {
	e.HTTPStatus = httpStatus
	e.RequestID = requestID
	return e
}

func (e *Error) WithContext(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is allows errors.Is(err, enginerrors.New(kind, "")) style kind checks by
// comparing only the Kind field.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// LogValue implements slog.LogValuer for structured logging.
func (e *Error) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("error_kind", string(e.Kind)),
		slog.String("message", e.Message),
	}
	if e.Operation != "" {
		attrs = append(attrs, slog.String("operation", e.Operation))
	}
	if e.UploadID != "" {
		attrs = append(attrs, slog.String("upload_id", e.UploadID))
	}
	if e.DataID != "" {
		attrs = append(attrs, slog.String("data_id", e.DataID))
	}
	if e.HTTPStatus != 0 {
		attrs = append(attrs, slog.Int("http_status", e.HTTPStatus))
	}
	if e.RequestID != "" {
		attrs = append(attrs, slog.String("request_id", e.RequestID))
	}
	if e.Cause != nil {
		attrs = append(attrs, slog.String("cause", e.Cause.Error()))
	}
	if len(e.Context) > 0 {
		contextAttrs := make([]any, 0, len(e.Context)*2)
		for k, v := range e.Context {
			contextAttrs = append(contextAttrs, slog.Any(k, v))
		}
		attrs = append(attrs, slog.Group("context", contextAttrs...))
	}
	return slog.GroupValue(attrs...)
}

// IsRetryable reports whether the kind is worth a fresh attempt upstream.
func (e *Error) IsRetryable() bool {
	switch e.Kind {
	case IoError, RemoteRejection, CredentialError:
		return true
	default:
		return false
	}
}

// Common constructors mirroring the failure points named in spec §4.7/§7.

func ErrInvalidParameters() *Error {
	return New(InvalidArgument, "Invalid parameters").WithOperation("validate")
}

func ErrNotInitialized() *Error {
	return New(NotInitialized, "AWS SDK not initialized").WithOperation("submit")
}

func ErrLocalFileMissing(path string) *Error {
	return New(NotFound, "Local file does not exist").
		WithContext("path", path).
		WithOperation("stat")
}

func ErrCannotReadFileSize(path string, cause error) *Error {
	return New(IoError, "Cannot read file size").
		WithContext("path", path).
		WithCause(cause).
		WithOperation("stat")
}

func ErrCannotOpenFile(path string, cause error) *Error {
	return New(IoError, fmt.Sprintf("Cannot open file for reading: %s", path)).
		WithCause(cause).
		WithOperation("open")
}

func ErrUploadFailed(attempt int, providerMessage string) *Error {
	return New(RemoteRejection, fmt.Sprintf("S3 upload failed (attempt %d): %s", attempt, providerMessage)).
		WithOperation("put")
}

func ErrUploadException(cause error) *Error {
	return New(Internal, fmt.Sprintf("Upload failed with exception: %v", cause)).
		WithCause(cause).
		WithOperation("upload")
}

func ErrQueueFull() *Error {
	return New(QueueFull, "Upload queue is full").WithOperation("admit")
}

func ErrConfirmation(cause error) *Error {
	return New(ConfirmationFailure, "confirmation sink rejected the upload").
		WithCause(cause).
		WithOperation("confirm")
}

func ErrCancelled() *Error {
	return New(Cancelled, "upload cancelled").WithOperation("checkpoint")
}
