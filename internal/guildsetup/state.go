package guildsetup

import (
	"encoding/json"
	"errors"
)

// State is a guild's position in the setup state machine.
type State int

const (
	StateUnavailable State = iota
	StateInitializing
	StateAwaitingChunks
	StateCollecting
	StateReady
)

func (s State) String() string {
	switch s {
	case StateUnavailable:
		return "unavailable"
	case StateInitializing:
		return "initializing"
	case StateAwaitingChunks:
		return "awaiting_chunks"
	case StateCollecting:
		return "collecting"
	case StateReady:
		return "ready"
	default:
		return "unknown"
	}
}

// locked reports whether events for a guild in state s must be deferred.
func (s State) locked() bool {
	return s != StateReady
}

// Event is a gateway dispatch held back while its guild is locked.
type Event struct {
	Type string
	Data json.RawMessage
}

// ErrGuildRemoved resolves the completion of a guild deleted before it
// became ready.
var ErrGuildRemoved = errors.New("guild removed during setup")
