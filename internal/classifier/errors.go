package classifier

import (
	"errors"
	"fmt"
)

// ErrorKind distinguishes the ways a model call can fail.
type ErrorKind int

const (
	KindUnreachable ErrorKind = iota + 1
	KindTimeout
	KindRemoteError
)

var (
	ErrUnreachable = errors.New("model unreachable")
	ErrTimeout     = errors.New("model timeout")
	ErrRemoteError = errors.New("model remote error")

	ErrNoStructuredContent = errors.New("no structured content found")
	ErrMalformedContent    = errors.New("malformed structured content")
)

// GatewayError is returned by a Gateway for every failure other than caller
// cancellation. errors.Is matches it against ErrUnreachable, ErrTimeout or
// ErrRemoteError depending on Kind.
type GatewayError struct {
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *GatewayError) sentinel() error {
	switch e.Kind {
	case KindTimeout:
		return ErrTimeout
	case KindRemoteError:
		return ErrRemoteError
	default:
		return ErrUnreachable
	}
}

func (e *GatewayError) Error() string {
	if e.Err == nil {
		return e.sentinel().Error()
	}
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: status %d: %v", e.sentinel(), e.StatusCode, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.sentinel(), e.Err)
}

func (e *GatewayError) Unwrap() []error {
	if e.Err == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Err}
}

// IsGatewayError reports whether err is a model transport failure.
func IsGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}
