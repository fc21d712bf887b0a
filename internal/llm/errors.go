package llm

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a gateway failure.
type ErrorKind int

const (
	// KindBadStatus means Ollama answered with a non-2xx status.
	KindBadStatus ErrorKind = iota + 1
	// KindUnreachable covers connection failures and timeouts.
	KindUnreachable
	// KindMalformedBody means the reply was not JSON or had no response field.
	KindMalformedBody
)

func (k ErrorKind) String() string {
	switch k {
	case KindBadStatus:
		return "bad_status"
	case KindUnreachable:
		return "unreachable"
	case KindMalformedBody:
		return "malformed_body"
	}
	return "unknown"
}

// GatewayError is returned by OllamaClient.Generate for every failure.
type GatewayError struct {
	Kind       ErrorKind
	StatusCode int    // KindBadStatus only
	Body       string // KindBadStatus only, truncated
	Err        error
}

func (e *GatewayError) Error() string {
	switch e.Kind {
	case KindBadStatus:
		return fmt.Sprintf("ollama: status %d: %s", e.StatusCode, e.Body)
	case KindUnreachable:
		return fmt.Sprintf("ollama: unreachable: %v", e.Err)
	case KindMalformedBody:
		return fmt.Sprintf("ollama: malformed body: %v", e.Err)
	}
	return fmt.Sprintf("ollama: %v", e.Err)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsGatewayError reports whether err's chain contains a GatewayError.
func IsGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}
