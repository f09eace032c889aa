// SPDX-License-Identifier: ice License 1.0

package client

import (
	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"
	"github.com/rcrowley/go-metrics"

	"github.com/ice-blockchain/icicle/cfg"
	"github.com/ice-blockchain/icicle/eventrelays"
	"github.com/ice-blockchain/icicle/logger"
	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/publish"
	"github.com/ice-blockchain/icicle/relay"
	"github.com/ice-blockchain/icicle/relay/pool"
	"github.com/ice-blockchain/icicle/scoreboard"
	"github.com/ice-blockchain/icicle/subscription"
	"github.com/ice-blockchain/icicle/timeline"
)

// MustLoadConfig reads the client section and every component section it is made of.
func MustLoadConfig() *Config {
	c := cfg.MustGet[Config]()
	c.Relay = cfg.MustGet[relay.Config]()
	c.Pool = cfg.MustGet[pool.Config]()
	c.Publish = cfg.MustGet[publish.Config]()
	c.Timeline = cfg.MustGet[timeline.Config]()
	c.Scoreboard = cfg.MustGet[scoreboard.Config]()

	return c
}

// WithDialer replaces the websocket transport.
func WithDialer(dialer relay.Dialer) Option {
	return func(c *Client) { c.dialer = dialer }
}

// WithMetricsRegistry records the scoreboard metrics into registry instead of a private one.
func WithMetricsRegistry(registry metrics.Registry) Option {
	return func(c *Client) { c.registry = registry }
}

func New(config *Config, opts ...Option) (*Client, error) {
	if config == nil {
		config = new(Config)
	}
	c := &Client{cfg: *config, log: publish.NewLog(), tracker: eventrelays.New()}
	for _, opt := range opts {
		opt(c)
	}
	var sbOpts []scoreboard.Option
	if c.registry != nil {
		sbOpts = append(sbOpts, scoreboard.WithRegistry(c.registry))
	}
	sb, err := scoreboard.Open(config.Scoreboard, sbOpts...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open scoreboard")
	}
	c.scoreboard = sb
	poolOpts := []pool.Option{pool.WithMonitor(sb)}
	if config.Relay != nil {
		poolOpts = append(poolOpts, pool.WithRelayConfig(config.Relay))
	}
	if c.dialer != nil {
		poolOpts = append(poolOpts, pool.WithDialer(c.dialer))
	}
	c.pool = pool.New(config.Pool, poolOpts...)
	c.detach = sb.Attach(c.pool)
	logger.Log.Debugw("client started", "defaultRelays", config.DefaultRelays)

	return c, nil
}

func (c *Client) Pool() *pool.Pool {
	return c.pool
}

func (c *Client) Scoreboard() *scoreboard.Scoreboard {
	return c.scoreboard
}

func (c *Client) Log() *publish.Log {
	return c.log
}

func (c *Client) Tracker() *eventrelays.Tracker {
	return c.tracker
}

func (c *Client) config() Config {
	c.mx.Lock()
	defer c.mx.Unlock()

	return c.cfg
}

// Reload applies the settings that can change while running: default relays, publish timeout,
// timeline paging and retries for loaders opened afterwards, and the pool grace delay.
// Relay transport and scoreboard storage keep what they were started with.
func (c *Client) Reload(config *Config) {
	c.mx.Lock()
	c.cfg.DefaultRelays = config.DefaultRelays
	c.cfg.Publish = config.Publish
	c.cfg.Timeline = config.Timeline
	c.mx.Unlock()
	if config.Pool != nil {
		c.pool.SetGraceDelay(config.Pool.GraceDelay)
	}
	logger.Log.Infow("client configuration reloaded", "defaultRelays", config.DefaultRelays)
}

// WatchConfig reloads the client every time the configuration file changes.
func (c *Client) WatchConfig() {
	cfg.OnChange(func(path string) {
		logger.Log.Infow("configuration changed", "path", path)
		c.Reload(MustLoadConfig())
	})
}

func (c *Client) relays(urls []string) ([]string, error) {
	if len(urls) == 0 {
		urls = c.config().DefaultRelays
	}
	if len(urls) == 0 {
		return nil, ErrNoRelays
	}

	return urls, nil
}

// Subscribe opens a subscription on url; inbound events are attributed to it in the tracker.
func (c *Client) Subscribe(url string, filters model.Filters) (*subscription.Subscription, error) {
	sub := subscription.New(c.pool, url, filters, nil)
	unsubscribe := sub.OnEvent().Subscribe(func(ev *relay.IncomingEvent) { c.tracker.Add(ev.Event.ID, sub.URL()) })
	if err := sub.Open(); err != nil {
		unsubscribe()

		return nil, errors.Wrapf(err, "failed to subscribe to %v", url)
	}

	return sub, nil
}

// Publish sends event to urls, the default relays when none are given.
func (c *Client) Publish(label string, urls []string, event *model.Event) (*publish.Action, error) {
	urls, err := c.relays(urls)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to publish %v", event.ID)
	}
	opts := &publish.Options{Log: c.log}
	if config := c.config(); config.Publish != nil {
		opts.Timeout = config.Publish.Timeout
	}
	action, err := publish.New(c.pool, label, urls, event, opts)

	return action, errors.Wrapf(err, "failed to publish %v", event.ID)
}

// Timeline opens a loader over urls, the default relays when none are given.
func (c *Client) Timeline(name string, urls []string, filters model.Filters, accept timeline.EventFilter) (*timeline.Loader, error) {
	urls, err := c.relays(urls)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to load %v", name)
	}
	l := timeline.New(c.pool, name, urls, filters, &timeline.Options{
		Config:      c.config().Timeline,
		EventFilter: accept,
		Tracker:     c.tracker,
	})
	if err = l.Open(); err != nil {
		return nil, errors.Wrapf(err, "failed to load %v", name)
	}

	return l, nil
}

// RankedRelays orders urls, the default relays when none are given, best first.
func (c *Client) RankedRelays(urls []string) []string {
	if len(urls) == 0 {
		urls = c.config().DefaultRelays
	}

	return c.scoreboard.GetRankedRelays(urls)
}

// BuildRepost drafts a repost hinting the best ranked relay event was seen on.
func (c *Client) BuildRepost(event *model.Event) *model.Event {
	var hint string
	if ranked := c.scoreboard.GetRankedRelays(c.tracker.Relays(event.ID)); len(ranked) > 0 {
		hint = ranked[0]
	}

	return model.BuildRepost(event, hint)
}

// Close releases every relay and saves the scoreboard.
func (c *Client) Close() error {
	c.detach()
	err := multierror.Append(c.pool.Close(), c.scoreboard.Close())

	return errors.Wrap(err.ErrorOrNil(), "failed to close client")
}
