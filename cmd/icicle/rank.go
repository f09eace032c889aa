// SPDX-License-Identifier: ice License 1.0

package main

import (
	"context"
	"fmt"
	"os"
	"sync"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/rcrowley/go-metrics"
	"github.com/spf13/cobra"

	"github.com/ice-blockchain/icicle/client"
	"github.com/ice-blockchain/icicle/relay"
	"github.com/ice-blockchain/icicle/relay/pool"
)

var (
	rankRelays  []string
	rankWarmUp  stdlibtime.Duration
	rankMetrics bool
	rankCmd     = &cobra.Command{
		Use:   "rank",
		Short: "orders relays best first by what the scoreboard knows about them",
		RunE: func(cmd *cobra.Command, _ []string) error {
			var opts []client.Option
			if rankMetrics {
				opts = append(opts, client.WithMetricsRegistry(metrics.DefaultRegistry))
			}
			c, err := client.New(config, opts...)
			if err != nil {
				return errors.Wrap(err, "failed to start client")
			}
			if rankWarmUp > 0 {
				warmUp(cmd.Context(), c, rankRelays)
			}
			for i, url := range c.RankedRelays(rankRelays) {
				fmt.Fprintf(cmd.OutOrStdout(), "%v. %v %.2f\n", i+1, url, c.Scoreboard().Score(url))
			}
			if rankMetrics {
				metrics.WriteJSONOnce(metrics.DefaultRegistry, os.Stderr)
			}

			return errors.Wrap(c.Close(), "failed to close client")
		},
	}
)

func init() {
	rankCmd.Flags().StringArrayVar(&rankRelays, "relay", nil, "relay to rank, repeatable; the configured default relays when omitted")
	rankCmd.Flags().DurationVar(&rankWarmUp, "warm-up", 0, "connect to every relay first, waiting up to this long, so fresh latencies count")
	rankCmd.Flags().BoolVar(&rankMetrics, "metrics", false, "dump the scoreboard metrics as json to stderr")
}

// warmUp connects to urls and waits until each one is open or closed.
func warmUp(ctx context.Context, c *client.Client, urls []string) {
	if len(urls) == 0 {
		urls = config.DefaultRelays
	}
	ctx, cancel := context.WithTimeout(ctx, rankWarmUp)
	defer cancel()
	claim := pool.NewClaim("rank warm-up")
	settled := make(chan struct{}, len(urls))
	for _, url := range urls {
		r, err := c.Pool().RequestRelay(url)
		if err == nil {
			err = c.Pool().AddClaim(url, claim)
		}
		if err != nil {
			fmt.Fprintf(os.Stderr, "skipping %v: %v\n", url, err)
			settled <- struct{}{}

			continue
		}
		defer c.Pool().RemoveClaim(url, claim)
		once := new(sync.Once)
		unsubscribe := r.Status().Subscribe(func(state relay.State) {
			if state != relay.StateConnecting {
				once.Do(func() { settled <- struct{}{} })
			}
		})
		defer unsubscribe()
	}
	for range urls {
		select {
		case <-settled:
		case <-ctx.Done():
			return
		}
	}
}
