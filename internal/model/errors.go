package model

import (
	"errors"
	"fmt"
)

// ErrorKind names the class of a per-item failure as written to reports.
type ErrorKind string

const (
	KindDecode         ErrorKind = "decode_error"
	KindDetection      ErrorKind = "detection_error"
	KindClassification ErrorKind = "classification_error"
	KindCancelled      ErrorKind = "cancelled"
)

var (
	// ErrInvalidThreshold is returned when a confidence threshold is outside (0,1].
	ErrInvalidThreshold = errors.New("confidence threshold must be in (0,1]")
	// ErrInvalidWorkerCount is returned when fewer than one worker is requested.
	ErrInvalidWorkerCount = errors.New("worker count must be at least 1")
	// ErrNoInput is returned when a batch has nothing to enumerate.
	ErrNoInput = errors.New("no input images")
)

// DecodeError means an image could not be read or decoded.
type DecodeError struct {
	Path string
	Err  error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Path, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }

// DetectionError means the detector backend failed for an image.
type DetectionError struct {
	Path string
	Err  error
}

func (e *DetectionError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("detection failed: %v", e.Err)
	}
	return fmt.Sprintf("detection failed for %s: %v", e.Path, e.Err)
}

func (e *DetectionError) Unwrap() error { return e.Err }

// ClassificationError means a detection carried malformed data.
type ClassificationError struct {
	Index  int
	Reason string
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("detection %d: %s", e.Index, e.Reason)
}

// WriteError wraps a failure to persist a report. The batch result itself
// is unaffected and may be written again.
type WriteError struct {
	Destination string
	Err         error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("write report to %s: %v", e.Destination, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ItemError is the error record stored for a failed batch item.
type ItemError struct {
	Kind      ErrorKind `json:"error"`
	ImagePath string    `json:"image_path"`
	Message   string    `json:"message,omitempty"`
}

// KindOf maps an error to the kind recorded for it. Unrecognised errors are
// reported as detection errors, since they can only originate in the backend.
func KindOf(err error) ErrorKind {
	var (
		decodeErr   *DecodeError
		classifyErr *ClassificationError
	)
	switch {
	case errors.As(err, &decodeErr):
		return KindDecode
	case errors.As(err, &classifyErr):
		return KindClassification
	default:
		return KindDetection
	}
}

// NewItemError builds the error record for path from err.
func NewItemError(path string, err error) *ItemError {
	return &ItemError{
		Kind:      KindOf(err),
		ImagePath: path,
		Message:   err.Error(),
	}
}
