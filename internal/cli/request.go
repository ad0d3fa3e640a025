package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/guildwire/guildwire/internal/api"
	"github.com/guildwire/guildwire/internal/constants"
	"github.com/guildwire/guildwire/internal/ratelimit"
)

// idParamNames maps a collection segment to the placeholder name of the id
// that follows it.
var idParamNames = map[string]string{
	"guilds":       "guild_id",
	"channels":     "channel_id",
	"webhooks":     "webhook_id",
	"roles":        "role_id",
	"members":      "user_id",
	"users":        "user_id",
	"messages":     "message_id",
	"bans":         "user_id",
	"emojis":       "emoji_id",
	"integrations": "integration_id",
}

// routeFromPath turns a concrete path such as /channels/123/messages into a
// compiled route whose template names the numeric segments, so the request
// lands in the right bucket.
func routeFromPath(method, path string) (ratelimit.CompiledRoute, error) {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	segments := strings.Split(strings.TrimSuffix(path, "/"), "/")

	var params []string
	for i := 1; i < len(segments); i++ {
		seg := segments[i]
		if seg == "" || !isNumeric(seg) {
			continue
		}
		name := "id"
		if n, ok := idParamNames[segments[i-1]]; ok {
			name = n
		}
		segments[i] = "{" + name + "}"
		params = append(params, seg)
	}

	route := ratelimit.NewRoute(method, strings.Join(segments, "/"))
	return route.Compile(params...)
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

// newRequestCmd creates the 'request' command.
func newRequestCmd() *cobra.Command {
	var (
		reason  string
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "request METHOD PATH [BODY]",
		Short: "Make one REST call through the rate-limit dispatcher",
		Long: `Make one REST call and print the JSON response.

PATH is relative to the API base URL, e.g. /users/@me or /channels/123/messages.
BODY, when given, is sent as the JSON request body.`,
		Args: cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Stop()

			route, err := routeFromPath(args[0], args[1])
			if err != nil {
				return err
			}
			var body interface{}
			if len(args) == 3 {
				if !json.Valid([]byte(args[2])) {
					return fmt.Errorf("request body is not valid JSON")
				}
				body = json.RawMessage(args[2])
			}

			ctx, cancel := context.WithTimeout(GetContext(), timeout)
			defer cancel()

			var out json.RawMessage
			if err := engine.API().Do(ctx, route, body, &out, api.WithReason(reason)); err != nil {
				return err
			}
			return writeJSON(cmd.OutOrStdout(), out)
		},
	}

	cmd.Flags().StringVar(&reason, "reason", "", "Audit log reason")
	cmd.Flags().DurationVar(&timeout, "timeout", constants.APIContextTimeout, "Deadline for the call, including rate-limit waits")
	return cmd
}

// newBucketsCmd creates the 'buckets' command.
func newBucketsCmd() *cobra.Command {
	var timeout time.Duration

	cmd := &cobra.Command{
		Use:   "buckets [PATH...]",
		Short: "Issue GET requests and print the rate-limit buckets they discover",
		Long: `Issue a GET for each PATH (default /users/@me and /gateway/bot) and print
the buckets the dispatcher learned from the responses.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			engine, err := newEngine()
			if err != nil {
				return err
			}
			defer engine.Stop()

			if len(args) == 0 {
				args = []string{"/users/@me", "/gateway/bot"}
			}

			ctx, cancel := context.WithTimeout(GetContext(), timeout)
			defer cancel()

			futures := make([]*api.Future, 0, len(args))
			for _, path := range args {
				route, err := routeFromPath("GET", path)
				if err != nil {
					return err
				}
				futures = append(futures, engine.API().Submit(ctx, route, nil))
			}
			for i, f := range futures {
				if _, err := f.Wait(ctx); err != nil {
					GetLogger().Warn().Err(err).Str("path", args[i]).Msg("request failed")
				}
			}

			return printBuckets(cmd.OutOrStdout(), engine.Buckets())
		},
	}

	cmd.Flags().DurationVar(&timeout, "timeout", constants.APIContextTimeout, "Deadline for all requests")
	return cmd
}

func printBuckets(out io.Writer, buckets []ratelimit.BucketInfo) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "BUCKET\tLIMIT\tREMAINING\tRESET\tQUEUED")
	for _, b := range buckets {
		reset := "-"
		if !b.Reset.IsZero() {
			reset = time.Until(b.Reset).Round(time.Millisecond).String()
		}
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\t%d\n", b.ID, b.Limit, b.Remaining, reset, b.Queued)
	}
	return w.Flush()
}

func writeJSON(out io.Writer, data json.RawMessage) error {
	if len(data) == 0 {
		_, err := fmt.Fprintln(out, "(no content)")
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, data, "", "  "); err != nil {
		_, err = out.Write(data)
		return err
	}
	buf.WriteByte('\n')
	_, err := buf.WriteTo(out)
	return err
}
