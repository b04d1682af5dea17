package httpclient

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a transport failure. Callers decide policy by kind;
// the kind never crosses the boundary as a string.
type ErrorKind int

const (
	KindNetwork ErrorKind = iota
	KindTimeout
	KindAuth
	KindClient4xx
	KindServer5xx
	KindDecode
)

func (k ErrorKind) String() string {
	switch k {
	case KindNetwork:
		return "network"
	case KindTimeout:
		return "timeout"
	case KindAuth:
		return "auth"
	case KindClient4xx:
		return "client_4xx"
	case KindServer5xx:
		return "server_5xx"
	case KindDecode:
		return "decode"
	default:
		return "unknown"
	}
}

// Error is the tagged failure returned by Client.Do and the response
// decoding helpers.
type Error struct {
	Kind       ErrorKind
	StatusCode int
	Message    string
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: HTTP %d %s", e.Kind, e.StatusCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf extracts the ErrorKind from err, defaulting to KindNetwork for
// untagged errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindNetwork
}
