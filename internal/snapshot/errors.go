package snapshot

import (
	"errors"
	"fmt"

	"github.com/guildwire/guildwire/internal/models"
)

// ErrUnsupportedChannel is returned for channel types the cache does not model.
var ErrUnsupportedChannel = errors.New("unsupported channel type")

// ProtocolError describes a payload element that could not be applied. The
// element is skipped and the rest of the payload is still applied.
type ProtocolError struct {
	GuildID models.Snowflake
	Entity  string
	ID      models.Snowflake
	Reason  string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("guild %s: %s %s: %s", e.GuildID, e.Entity, e.ID, e.Reason)
}
