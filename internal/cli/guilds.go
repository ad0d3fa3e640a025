package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/guildwire/guildwire/internal/cache"
)

// newGuildsCmd creates the 'guilds' command.
func newGuildsCmd() *cobra.Command {
	var (
		timeout time.Duration
		details bool
	)

	cmd := &cobra.Command{
		Use:   "guilds",
		Short: "Connect, wait for every guild to load and print them",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Stop()

			ctx, cancel := context.WithTimeout(GetContext(), timeout)
			defer cancel()
			if err := engine.Start(ctx); err != nil {
				return err
			}
			if err := engine.WaitReady(ctx); err != nil {
				return fmt.Errorf("session not ready after %s: %w", timeout, err)
			}

			return printGuilds(cmd.OutOrStdout(), engine.Cache().Guilds(), details)
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "How long to wait for the initial guild load")
	cmd.Flags().BoolVar(&details, "details", false, "Also print roles and channels in display order")
	return cmd
}

func printGuilds(out io.Writer, guilds []*cache.Guild, details bool) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTATUS\tMEMBERS\tCACHED\tROLES\tCHANNELS")
	for _, g := range guilds {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			g.ID, g.Name(), g.Status(), g.MemberCount(), g.Members.Len(), g.Roles.Len(), g.Channels.Len())
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if !details {
		return nil
	}

	for _, g := range guilds {
		if !g.Available() {
			continue
		}
		fmt.Fprintf(out, "\n%s (%s)\n", g.Name(), g.ID)
		for _, r := range g.SortedRoles() {
			d := r.Data()
			fmt.Fprintf(out, "  role    %-4d %-24s perms=%d\n", d.Position, d.Name, d.Permissions)
		}
		for _, ch := range g.SortedChannels() {
			d := ch.Data()
			fmt.Fprintf(out, "  channel %-4d %-24s %s overwrites=%d\n", d.Position, d.Name, d.Kind, len(d.Overwrites))
		}
	}
	return nil
}
