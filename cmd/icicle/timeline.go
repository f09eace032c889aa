// SPDX-License-Identifier: ice License 1.0

package main

import (
	"context"
	"fmt"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"

	"github.com/ice-blockchain/icicle/client"
	"github.com/ice-blockchain/icicle/logger"
	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/timeline"
)

var (
	timelineRelays  []string
	timelineAuthors []string
	timelineKinds   []int
	timelinePages   int
	timelineWait    stdlibtime.Duration
	timelineCmd     = &cobra.Command{
		Use:   "timeline",
		Short: "prints the merged timeline of the given relays, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			filter := model.Filter{Kinds: timelineKinds}
			for _, author := range timelineAuthors {
				pubkey, err := decodeHex(author, "npub")
				if err != nil {
					return err
				}
				filter.Authors = append(filter.Authors, pubkey)
			}
			c, err := client.New(config)
			if err != nil {
				return errors.Wrap(err, "failed to start client")
			}
			c.WatchConfig()
			l, err := c.Timeline("cli", timelineRelays, model.Filters{filter}, nil)
			if err != nil {
				return multierror.Append(err, c.Close()).ErrorOrNil() //nolint:wrapcheck // .
			}
			for page := range timelinePages {
				var load func() error
				if page > 0 {
					if _, more := l.Cursor(); !more {
						break
					}
					load = l.LoadMore
				}
				if err = waitPage(cmd.Context(), l, load); err != nil {
					break
				}
			}
			printTimeline(cmd, l.Events())
			if failed := l.Failed(); len(failed) > 0 {
				logger.Log.Warnw("relays excluded", "relays", failed)
			}

			return multierror.Append(err, l.Close(), c.Close()).ErrorOrNil() //nolint:wrapcheck // .
		},
	}
)

func init() {
	timelineCmd.Flags().StringArrayVar(&timelineRelays, "relay", nil, "relay to read from, repeatable; the configured default relays when omitted")
	timelineCmd.Flags().StringArrayVar(&timelineAuthors, "author", nil, "author pubkey, hex or npub, repeatable")
	timelineCmd.Flags().IntSliceVar(&timelineKinds, "kind", []int{1}, "event kinds")
	timelineCmd.Flags().IntVar(&timelinePages, "pages", 1, "pages to load")
	timelineCmd.Flags().DurationVar(&timelineWait, "wait", 10*stdlibtime.Second, "how long to wait for every page")
}

// waitPage runs load, when given, and waits until the loader reports the page complete again.
func waitPage(ctx context.Context, l *timeline.Loader, load func() error) error {
	ctx, cancel := context.WithTimeout(ctx, timelineWait)
	defer cancel()
	complete := make(chan bool, 1)
	unsubscribe := l.Complete().Subscribe(func(v bool) {
		// Keep only the latest value; emissions never overlap.
		select {
		case <-complete:
		default:
		}
		complete <- v
	})
	defer unsubscribe()
	started := !<-complete
	if load == nil && !started {
		return nil
	}
	if load != nil {
		if err := load(); err != nil {
			return errors.Wrap(err, "failed to load the next page")
		}
	}
	for {
		select {
		case v := <-complete:
			if !v {
				started = true
			} else if started {
				return nil
			}
		case <-ctx.Done():
			if l.Complete().Current() {
				return nil
			}

			return errors.Wrap(ctx.Err(), "page not complete")
		}
	}
}

func printTimeline(cmd *cobra.Command, events []*model.Event) {
	for _, ev := range events {
		note, err := nip19.EncodeNote(ev.ID)
		if err != nil {
			note = ev.ID
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%v %v kind:%v %q\n", ev.CreatedAt.Time().UTC().Format(stdlibtime.RFC3339), note, ev.Kind, ev.Content)
	}
}
