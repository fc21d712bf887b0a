package router

import (
	"errors"
	"fmt"
)

// ErrorKind says why a classification or resolution failed.
type ErrorKind int

const (
	// KindGatewayFailed means the model could not be reached at all.
	KindGatewayFailed ErrorKind = iota + 1
	// KindBadFormat means the reply lacked a required marker line.
	KindBadFormat
	// KindUnknownValue means the marker was present but its value is not
	// one we accept.
	KindUnknownValue
)

func (k ErrorKind) String() string {
	switch k {
	case KindGatewayFailed:
		return "gateway_failed"
	case KindBadFormat:
		return "bad_format"
	case KindUnknownValue:
		return "unknown_value"
	}
	return "unknown"
}

// ClassificationError is returned by Classify and ParseTopicReply.
type ClassificationError struct {
	Kind  ErrorKind
	Raw   string // normalized reply, empty for KindGatewayFailed
	Value string // KindUnknownValue only
	Err   error  // KindGatewayFailed only
}

func (e *ClassificationError) Error() string {
	switch e.Kind {
	case KindGatewayFailed:
		return fmt.Sprintf("classify topic: %v", e.Err)
	case KindUnknownValue:
		return fmt.Sprintf("classify topic: unknown topic %q", e.Value)
	}
	return fmt.Sprintf("classify topic: bad reply format: %q", e.Raw)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

// ResolutionError is returned by ResolveMusicAction and ParseActionReply.
type ResolutionError struct {
	Kind  ErrorKind
	Raw   string
	Value string
	Err   error
}

func (e *ResolutionError) Error() string {
	switch e.Kind {
	case KindGatewayFailed:
		return fmt.Sprintf("resolve music action: %v", e.Err)
	case KindUnknownValue:
		return fmt.Sprintf("resolve music action: unknown action %q", e.Value)
	}
	return fmt.Sprintf("resolve music action: bad reply format: %q", e.Raw)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Degraded reports whether err came from the model being unreachable
// rather than from an unusable answer.
func Degraded(err error) bool {
	var ce *ClassificationError
	if errors.As(err, &ce) {
		return ce.Kind == KindGatewayFailed
	}
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Kind == KindGatewayFailed
	}
	return false
}

// Kind returns the ErrorKind of a router error, or 0.
func Kind(err error) ErrorKind {
	var ce *ClassificationError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}
