package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind classifies every failure a conversion can surface.
type ErrorKind string

const (
	KindServiceUnavailable     ErrorKind = "service_unavailable"
	KindUploadRejected         ErrorKind = "upload_rejected"
	KindTransferFailed         ErrorKind = "transfer_failed"
	KindMissingLocator         ErrorKind = "missing_locator"
	KindRemoteProcessingFailed ErrorKind = "remote_processing_failed"
	KindTimeout                ErrorKind = "timeout"
	KindDownloadFailed         ErrorKind = "download_failed"
	KindMalformedContainer     ErrorKind = "malformed_container"
	KindTransportError         ErrorKind = "transport_error"
	KindCanceled               ErrorKind = "canceled"
)

// Sentinels for errors.Is matching on kind only.
var (
	ErrServiceUnavailable     = &ConversionError{Kind: KindServiceUnavailable}
	ErrUploadRejected         = &ConversionError{Kind: KindUploadRejected}
	ErrTransferFailed         = &ConversionError{Kind: KindTransferFailed}
	ErrMissingLocator         = &ConversionError{Kind: KindMissingLocator}
	ErrRemoteProcessingFailed = &ConversionError{Kind: KindRemoteProcessingFailed}
	ErrTimeout                = &ConversionError{Kind: KindTimeout}
	ErrDownloadFailed         = &ConversionError{Kind: KindDownloadFailed}
	ErrMalformedContainer     = &ConversionError{Kind: KindMalformedContainer}
	ErrTransportError         = &ConversionError{Kind: KindTransportError}
	ErrCanceled               = &ConversionError{Kind: KindCanceled}
)

// ErrServiceDisabled is returned by a transport that has no endpoint or credential.
var ErrServiceDisabled = errors.New("conversion service is not configured")

// ConversionError carries the kind plus whatever context is known at the failure site.
type ConversionError struct {
	Kind          ErrorKind
	Op            string
	BatchID       string
	StatusCode    int
	RemoteMessage string
	Err           error
}

func (e *ConversionError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s]", e.Kind)
	if e.Op != "" {
		b.WriteString(" " + e.Op)
	}
	if e.BatchID != "" {
		fmt.Fprintf(&b, " (batch %s)", e.BatchID)
	}
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " status=%d", e.StatusCode)
	}
	if e.RemoteMessage != "" {
		fmt.Fprintf(&b, ": %s", e.RemoteMessage)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *ConversionError) Unwrap() error {
	return e.Err
}

// Is reports whether target is a ConversionError of the same kind.
func (e *ConversionError) Is(target error) bool {
	t, ok := target.(*ConversionError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// NewError creates a new conversion error
func NewError(kind ErrorKind, op string, err error) *ConversionError {
	return &ConversionError{Kind: kind, Op: op, Err: err}
}

// WithBatch returns the error annotated with a batch id.
func (e *ConversionError) WithBatch(batchID string) *ConversionError {
	e.BatchID = batchID
	return e
}

// KindOf returns the kind of the first ConversionError in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var ce *ConversionError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ""
}

// RemoteError describes a request the remote service answered but rejected,
// either with a non-2xx HTTP status or a non-zero application code.
type RemoteError struct {
	Op         string
	StatusCode int
	Code       int
	Message    string
}

func (e *RemoteError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("%s: remote code %d: %s", e.Op, e.Code, e.Message)
	}
	return fmt.Sprintf("%s: HTTP %d: %s", e.Op, e.StatusCode, e.Message)
}

// ErrMalformedResponse marks a response body that could not be decoded or lacked
// an expected field.
var ErrMalformedResponse = errors.New("malformed response")
