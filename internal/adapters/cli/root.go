// Package cli implements docqactl, the operator command line for a running
// docqa service.
package cli

import (
	"context"
	"encoding/json"
	"os"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docqa/internal/core/domain"
	natsevents "github.com/kirillkom/docqa/internal/infrastructure/events/nats"
)

// EventSource delivers rollout events until ctx ends.
type EventSource interface {
	SubscribeRolloutEvents(ctx context.Context, handler func(domain.RolloutEvent)) error
	Close()
}

// Options wires the command tree. Zero values fall back to the network.
type Options struct {
	Version string
	// NewClient overrides the API client, mostly for tests.
	NewClient func(server, token string) *Client
	// NewEventSource overrides the NATS subscription used by rollout watch.
	NewEventSource func(url, subject string) (EventSource, error)
}

type globalFlags struct {
	server string
	token  string
	json   bool
}

func NewRootCmd(opts Options) *cobra.Command {
	if opts.NewClient == nil {
		opts.NewClient = func(server, token string) *Client { return NewClient(server, token, nil) }
	}
	if opts.NewEventSource == nil {
		opts.NewEventSource = func(url, subject string) (EventSource, error) {
			bus, err := natsevents.New(url, subject)
			if err != nil {
				return nil, err
			}
			return bus, nil
		}
	}
	if opts.Version == "" {
		opts.Version = "dev"
	}

	flags := &globalFlags{}
	root := &cobra.Command{
		Use:           "docqactl",
		Short:         "Query and operate a docqa service",
		Version:       opts.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&flags.server, "server", envOr("DOCQA_SERVER", "http://localhost:8080"), "docqa API base URL")
	root.PersistentFlags().StringVar(&flags.token, "token", os.Getenv("DOCQA_ADMIN_TOKEN"), "admin bearer token")
	root.PersistentFlags().BoolVar(&flags.json, "json", false, "print raw JSON")

	client := func() *Client { return opts.NewClient(flags.server, flags.token) }

	root.AddCommand(
		newAskCmd(flags, client),
		newRolloutCmd(flags, client, opts.NewEventSource),
		newTiersCmd(flags, client),
		newCacheCmd(flags, client),
	)
	return root
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
