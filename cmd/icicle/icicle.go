// SPDX-License-Identifier: ice License 1.0

package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr/nip19"
	"github.com/spf13/cobra"

	"github.com/ice-blockchain/icicle/cfg"
	"github.com/ice-blockchain/icicle/client"
	"github.com/ice-blockchain/icicle/logger"
)

var (
	configPath string
	config     *client.Config
	icicle     = &cobra.Command{
		Use:           "icicle",
		Short:         "icicle talks to nostr relays: reads timelines, publishes events, ranks relays",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(*cobra.Command, []string) {
			cfg.MustInit(configPath, "/etc/icicle/application.yaml")
			config = client.MustLoadConfig()
			logger.Init(cfg.MustGet[logger.Config]())
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			logger.Sync()
		},
	}
)

func init() {
	icicle.PersistentFlags().StringVar(&configPath, "config", "application.yaml", "path to the yaml configuration")
	icicle.AddCommand(timelineCmd, publishCmd, rankCmd)
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	if err := icicle.ExecuteContext(ctx); err != nil {
		cancel()
		log.Panic(err) //nolint:gocritic // Cancel already ran.
	}
}

// decodeHex accepts both hex and the given bech32 form (npub, nsec, note).
func decodeHex(value, prefix string) (string, error) {
	if !strings.HasPrefix(value, prefix+"1") {
		return value, nil
	}
	got, decoded, err := nip19.Decode(value)
	if err != nil {
		return "", errors.Wrapf(err, "failed to decode %v", value)
	}
	hex, ok := decoded.(string)
	if got != prefix || !ok {
		return "", errors.Errorf("%v is a %v, expected %v", value, got, prefix)
	}

	return hex, nil
}
