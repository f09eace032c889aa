// SPDX-License-Identifier: ice License 1.0

package main

import (
	"context"
	"fmt"
	"os"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/mailru/easyjson"
	"github.com/nbd-wtf/go-nostr"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"github.com/ice-blockchain/icicle/client"
	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/publish"
)

var (
	publishRelays  []string
	publishEvent   string
	publishKey     string
	publishTimeout stdlibtime.Duration
	publishCmd     = &cobra.Command{
		Use:   "publish",
		Short: "sends an event to the given relays and reports every acknowledgement",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ev, err := readEvent(publishEvent, publishKey)
			if err != nil {
				return err
			}
			if publishTimeout > 0 {
				config.Publish = &publish.Config{Timeout: publishTimeout}
			}
			c, err := client.New(config)
			if err != nil {
				return errors.Wrap(err, "failed to start client")
			}
			results, err := publishWithProgress(cmd.Context(), c, ev)
			for _, res := range results {
				status := "ok"
				if !res.Status {
					status = "failed"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%v %v %v\n", res.URL, status, res.Message)
			}

			return multierror.Append(err, c.Close()).ErrorOrNil() //nolint:wrapcheck // .
		},
	}
)

func init() {
	publishCmd.Flags().StringArrayVar(&publishRelays, "relay", nil, "relay to publish to, repeatable; the configured default relays when omitted")
	publishCmd.Flags().StringVar(&publishEvent, "event", "", "path to the event json")
	publishCmd.Flags().StringVar(&publishKey, "key", "", "private key, hex or nsec, signing an unsigned event")
	publishCmd.Flags().DurationVar(&publishTimeout, "timeout", 0, "acknowledgement timeout; the configured one when omitted")
	if err := publishCmd.MarkFlagRequired("event"); err != nil {
		panic(err)
	}
}

func readEvent(path, key string) (*model.Event, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %v", path)
	}
	var ev nostr.Event
	if err = easyjson.Unmarshal(data, &ev); err != nil {
		return nil, errors.Wrapf(err, "failed to parse %v", path)
	}
	if ev.Sig == "" {
		if key, err = decodeHex(key, "nsec"); err != nil {
			return nil, err
		}
		if key == "" {
			return nil, errors.Errorf("%v is not signed and no --key given", path)
		}
		if ev.CreatedAt == 0 {
			ev.CreatedAt = nostr.Now()
		}
		if err = ev.Sign(key); err != nil {
			return nil, errors.Wrapf(err, "failed to sign %v", path)
		}
	}
	if ok, vErr := ev.CheckSignature(); vErr != nil || !ok {
		return nil, errors.Errorf("%v has an invalid signature: %v", path, vErr)
	}

	return model.NewEvent(ev), nil
}

func publishWithProgress(ctx context.Context, c *client.Client, ev *model.Event) ([]*publish.Result, error) {
	label := uuid.NewString()
	action, err := c.Publish(label, publishRelays, ev)
	if err != nil {
		return nil, err //nolint:wrapcheck // Wrapped by the client.
	}
	bar := progressbar.Default(int64(len(action.URLs())), "publishing "+model.TruncatedID(ev.ID))
	unsubscribe := action.Results().Subscribe(func(results []*publish.Result) {
		bar.Set(len(results)) //nolint:errcheck // Progress only.
	})
	defer unsubscribe()
	results, err := action.Wait(ctx)
	if err != nil {
		return nil, errors.Wrapf(err, "publish %v interrupted", label)
	}
	bar.Finish() //nolint:errcheck // Progress only.
	for _, res := range results {
		if res.Status {
			return results, nil
		}
	}

	return results, errors.Wrap(action.Failures(), "every relay refused the event")
}
