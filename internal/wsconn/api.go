// Package wsconn hides the websocket library behind a small interface so the
// control client can run on any of the supported drivers.
package wsconn

import (
	"context"
	"errors"
)

// MessageType matches the RFC 6455 data opcodes.
type MessageType uint8

const (
	MessageText   MessageType = 1
	MessageBinary MessageType = 2
)

type StatusCode uint16

const (
	StatusNormalClosure   StatusCode = 1000
	StatusGoingAway       StatusCode = 1001
	StatusPolicyViolation StatusCode = 1008
)

var ErrUnknownDriver = errors.New("wsconn: unknown driver")

// Conn is the subset of a websocket connection the control client needs.
// Read must not be called concurrently with itself; Write and Ping may be
// called concurrently with Read. Ping needs an active Read to observe the pong.
type Conn interface {
	Read(ctx context.Context) (MessageType, []byte, error)
	Write(ctx context.Context, typ MessageType, data []byte) error
	Ping(ctx context.Context) error
	Close(code StatusCode, reason string) error
}
