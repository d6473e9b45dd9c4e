package transport

import (
	"fmt"

	agenterrors "github.com/fleetwatch/gpu-observer/internal/errors"
)

// Kind classifies a RemoteError into the four-way taxonomy the component
// design calls for: AuthFailure, ConnectFailure, Timeout, TransportError.
type Kind int

const (
	KindAuthFailure Kind = iota
	KindConnectFailure
	KindTimeout
	KindTransportError
)

func (k Kind) String() string {
	switch k {
	case KindAuthFailure:
		return "AuthFailure"
	case KindConnectFailure:
		return "ConnectFailure"
	case KindTimeout:
		return "Timeout"
	case KindTransportError:
		return "TransportError"
	default:
		return "Unknown"
	}
}

// RemoteError wraps a transport-layer failure with its taxonomy Kind.
type RemoteError struct {
	Kind  Kind
	Cause error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("transport: %s: %v", e.Kind, e.Cause)
}

func (e *RemoteError) Unwrap() error {
	return e.Cause
}

// classify maps a RemoteError's Kind onto the agent's error-code taxonomy
// for reporting through the ErrorCollector.
func classify(err error) agenterrors.Code {
	re, ok := err.(*RemoteError)
	if !ok {
		return agenterrors.ErrRemoteTransport
	}
	switch re.Kind {
	case KindAuthFailure:
		return agenterrors.ErrRemoteAuth
	case KindConnectFailure:
		return agenterrors.ErrRemoteConnect
	case KindTimeout:
		return agenterrors.ErrRemoteTimeout
	default:
		return agenterrors.ErrRemoteTransport
	}
}
