package core

import (
	"errors"
	"fmt"
)

// FailureClass buckets ingestion failures for the queue's retry decision.
type FailureClass int

const (
	// FailUnknown covers errors with no class attached. Treated as transient.
	FailUnknown FailureClass = iota
	// FailValidation: bad or unreachable locator, rejected before admission.
	FailValidation
	// FailUnsupportedFormat: declared content type has no extractor.
	FailUnsupportedFormat
	// FailTransport: network failure, timeout, non-2xx fetch.
	FailTransport
	// FailExtraction: parser or OCR failure.
	FailExtraction
	// FailEmbedding: embedding collaborator failure.
	FailEmbedding
	// FailResource: OCR engine or scratch-file failure.
	FailResource
)

func (c FailureClass) String() string {
	switch c {
	case FailValidation:
		return "validation"
	case FailUnsupportedFormat:
		return "unsupported_format"
	case FailTransport:
		return "transport"
	case FailExtraction:
		return "extraction"
	case FailEmbedding:
		return "embedding"
	case FailResource:
		return "resource"
	default:
		return "unknown"
	}
}

// ErrUnsupportedFormat is the sentinel under every unsupported-format fault.
var ErrUnsupportedFormat = errors.New("unsupported content type")

// Fault attaches a FailureClass to an underlying error.
type Fault struct {
	Class FailureClass
	Err   error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %v", f.Class, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// NewFault wraps err with the given class. Returns nil for a nil err.
func NewFault(class FailureClass, err error) error {
	if err == nil {
		return nil
	}
	return &Fault{Class: class, Err: err}
}

// Faultf is NewFault over a formatted error.
func Faultf(class FailureClass, format string, args ...any) error {
	return &Fault{Class: class, Err: fmt.Errorf(format, args...)}
}

// ClassOf reports the failure class of err, FailUnknown if none is attached.
func ClassOf(err error) FailureClass {
	var f *Fault
	if errors.As(err, &f) {
		return f.Class
	}
	return FailUnknown
}

// Retryable reports whether the queue should retry after err. Validation and
// format faults are deterministic and never retried; everything else is
// treated as transient, including unclassified errors.
func Retryable(err error) bool {
	switch ClassOf(err) {
	case FailValidation, FailUnsupportedFormat:
		return false
	default:
		return true
	}
}
