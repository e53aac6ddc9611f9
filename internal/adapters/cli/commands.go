package cli

import (
	"fmt"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/kirillkom/docqa/internal/core/domain"
	natsevents "github.com/kirillkom/docqa/internal/infrastructure/events/nats"
)

func newAskCmd(flags *globalFlags, client func() *Client) *cobra.Command {
	var (
		topK          int
		noCompression bool
	)
	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question about the indexed documents",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := domain.QueryRequest{
				Query:   strings.Join(args, " "),
				Options: domain.QueryOptions{TopK: topK},
			}
			if noCompression {
				off := false
				req.Options.UseCompression = &off
			}
			resp, err := client().Ask(cmd.Context(), req)
			if err != nil {
				return err
			}
			if flags.json {
				return printJSON(cmd, resp)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintln(out, resp.Answer)
			if len(resp.Sources) > 0 {
				fmt.Fprintf(out, "\nsources: %s\n", strings.Join(resp.Sources, ", "))
			}
			fmt.Fprintf(out, "variant=%s tier=%s cache=%t latency=%dms request=%s\n",
				resp.Variant, resp.Tier, resp.FromCache, resp.LatencyMs, resp.RequestID)
			return nil
		},
	}
	cmd.Flags().IntVarP(&topK, "top-k", "k", 0, "number of context chunks (default: server setting)")
	cmd.Flags().BoolVar(&noCompression, "no-compression", false, "disable context compression for this request")
	return cmd
}

func newRolloutCmd(flags *globalFlags, client func() *Client, events func(url, subject string) (EventSource, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rollout",
		Short: "Inspect and control variant traffic",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show traffic split and rolling metrics per variant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			states, err := client().Rollout(cmd.Context())
			if err != nil {
				return err
			}
			return printRollout(cmd, flags, states)
		},
	}

	var reason string
	disable := &cobra.Command{
		Use:   "disable [variant]",
		Short: "Route all traffic away from a variant",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			states, err := client().Disable(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return printRollout(cmd, flags, states)
		},
	}
	disable.Flags().StringVar(&reason, "reason", "manual", "reason recorded with the rollback event")

	set := &cobra.Command{
		Use:   "set [percent]",
		Short: "Set the optimized variant traffic percentage and clear a rollback",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			percent, err := strconv.Atoi(args[0])
			if err != nil || percent < 0 || percent > 100 {
				return fmt.Errorf("percent must be an integer between 0 and 100, got %q", args[0])
			}
			states, err := client().SetTraffic(cmd.Context(), percent)
			if err != nil {
				return err
			}
			return printRollout(cmd, flags, states)
		},
	}

	var natsURL, subject string
	watch := &cobra.Command{
		Use:   "watch",
		Short: "Stream rollback events from NATS",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			source, err := events(natsURL, subject)
			if err != nil {
				return err
			}
			defer source.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			out := cmd.OutOrStdout()
			fmt.Fprintf(cmd.ErrOrStderr(), "watching %s on %s\n", subject, natsURL)
			return source.SubscribeRolloutEvents(ctx, func(event domain.RolloutEvent) {
				if flags.json {
					_ = printJSON(cmd, event)
					return
				}
				kind := "auto"
				if event.Manual {
					kind = "manual"
				}
				fmt.Fprintf(out, "%s %s rollback of %s: %d%% -> %d%% (%s) error_rate=%.3f p95=%s quality=%.2f samples=%d\n",
					event.At.Format("2006-01-02T15:04:05Z07:00"), kind, event.Variant,
					event.FromPercent, event.ToPercent, event.Reason,
					event.Window.ErrorRate, event.Window.P95Latency, event.Window.Quality, event.Window.Samples)
			})
		},
	}
	watch.Flags().StringVar(&natsURL, "nats-url", envOr("NATS_URL", "nats://localhost:4222"), "NATS server URL")
	watch.Flags().StringVar(&subject, "subject", envOr("NATS_ROLLOUT_SUBJECT", natsevents.DefaultSubject), "rollout event subject")

	cmd.AddCommand(status, disable, set, watch)
	return cmd
}

func printRollout(cmd *cobra.Command, flags *globalFlags, states []domain.RolloutState) error {
	if flags.json {
		return printJSON(cmd, states)
	}
	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VARIANT\tTRAFFIC\tSAMPLES\tERROR RATE\tP95\tQUALITY\tROLLED BACK\tREASON")
	for _, s := range states {
		fmt.Fprintf(w, "%s\t%d%%\t%d\t%.3f\t%s\t%.2f\t%t\t%s\n",
			s.Variant, s.TrafficPercent, s.Window.Samples, s.Window.ErrorRate,
			s.Window.P95Latency, s.Window.Quality, s.RolledBack, s.RollbackReason)
	}
	return w.Flush()
}

func newTiersCmd(flags *globalFlags, client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "tiers",
		Short: "Show generation tier breaker and quota state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			tiers, err := client().Tiers(cmd.Context())
			if err != nil {
				return err
			}
			if flags.json {
				return printJSON(cmd, tiers)
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "TIER\tMODEL\tBREAKER\tFAILURES\tQUOTA\tDEGRADED")
			for _, t := range tiers {
				quota := "-"
				if t.QuotaRemaining >= 0 {
					quota = fmt.Sprintf("%.0f%%", t.QuotaRemaining*100)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%t\n", t.ID, t.Model, t.Status, t.ConsecutiveFailures, quota, t.Degraded)
			}
			return w.Flush()
		},
	}
}

func newCacheCmd(flags *globalFlags, client func() *Client) *cobra.Command {
	return &cobra.Command{
		Use:   "cache",
		Short: "Show semantic cache counters",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := client().Cache(cmd.Context())
			if err != nil {
				return err
			}
			if flags.json {
				return printJSON(cmd, stats)
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "entries:  %d / %d\n", stats.Entries, stats.Capacity)
			fmt.Fprintf(out, "hits:     %d\n", stats.Hits)
			fmt.Fprintf(out, "misses:   %d\n", stats.Misses)
			fmt.Fprintf(out, "evicted:  %d\n", stats.Evictions)
			fmt.Fprintf(out, "expired:  %d\n", stats.Expired)
			fmt.Fprintf(out, "inflight: %d (shared %d)\n", stats.InFlight, stats.SharedResults)
			return nil
		},
	}
}
