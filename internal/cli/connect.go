package cli

import (
	"github.com/spf13/cobra"

	"github.com/guildwire/guildwire/internal/events"
	"github.com/guildwire/guildwire/internal/logging"
)

// newConnectCmd creates the 'connect' command.
func newConnectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "connect",
		Short: "Run a gateway session and log guild lifecycle events",
		Long: `Connect to the gateway and keep the session open until interrupted.

Guild readiness, outages, removals and connection changes are logged as they
happen.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			log := GetLogger()
			sub := engine.Events().SubscribeAll()

			ctx := GetContext()
			if err := engine.Start(ctx); err != nil {
				engine.Stop()
				return err
			}
			defer engine.Stop()

			for {
				select {
				case <-ctx.Done():
					return nil
				case ev, ok := <-sub:
					if !ok {
						return nil
					}
					logEvent(log, ev)
				}
			}
		},
	}
}

func logEvent(log *logging.Logger, ev events.Event) {
	switch e := ev.(type) {
	case *events.GuildEvent:
		entry := log.Info()
		if e.Type() != events.EventGuildReady || e.Partial {
			entry = log.Warn()
		}
		entry.
			Str("event", string(e.Type())).
			Str("guild_id", e.GuildID.String()).
			Str("name", e.Name).
			Int("members", e.Members).
			Int("member_count", e.MemberCount).
			Bool("partial", e.Partial).
			Msg("guild")
	case *events.SessionEvent:
		log.Info().
			Str("session_id", e.SessionID).
			Int("guilds", e.Guilds).
			Int("unavailable", e.Unavailable).
			Msg("session ready")
	case *events.ConnectionEvent:
		entry := log.Info()
		if e.Error != nil {
			entry = log.Warn().Err(e.Error)
		}
		entry.Str("state", string(e.State)).Int("attempt", e.Attempt).Msg("gateway")
	}
}
