package session

import (
	"context"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrInvalidIdentity is returned by StartHost for a name or creator label
// that cannot be announced
var ErrInvalidIdentity = errors.New("session: invalid session identity")

// ErrNotHosting is reported when a host-only view is requested in another role
var ErrNotHosting = errors.New("session: not hosting a session")

// Connect failure reasons reported to the user
const (
	ReasonUnreachable = "unreachable"
	ReasonRefused     = "refused"
	ReasonTimedOut    = "timed out"
)

// ConnectError reports why a client could not reach a host
type ConnectError struct {
	Addr   string
	Reason string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect to %s: %s: %v", e.Addr, e.Reason, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

func newConnectError(addr string, err error) *ConnectError {
	return &ConnectError{Addr: addr, Reason: connectReason(err), Err: err}
}

func connectReason(err error) string {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ReasonTimedOut
	case errors.As(err, &netErr) && netErr.Timeout():
		return ReasonTimedOut
	case errors.Is(err, syscall.ECONNREFUSED):
		return ReasonRefused
	default:
		return ReasonUnreachable
	}
}
