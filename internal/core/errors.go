package core

import "errors"

// WebSocket close codes the relays ask the transport to use.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	ClosePolicyViolation = 1008
)

// ErrLoopStopped is returned when work is submitted to a loop that is no longer running.
var ErrLoopStopped = errors.New("loop stopped")

// Session is the per-connection handle a relay returns on join.
// The transport feeds it raw inbound frames and calls Leave once the channel is gone.
type Session interface {
	Handle(data []byte)
	Leave()
}
