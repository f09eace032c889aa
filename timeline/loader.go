// SPDX-License-Identifier: ice License 1.0

package timeline

import (
	"slices"
	"strings"
	stdlibtime "time"

	"github.com/cockroachdb/errors"
	"github.com/hashicorp/go-multierror"

	"github.com/ice-blockchain/icicle/logger"
	"github.com/ice-blockchain/icicle/model"
	"github.com/ice-blockchain/icicle/observable"
	"github.com/ice-blockchain/icicle/relay"
	"github.com/ice-blockchain/icicle/relay/pool"
	"github.com/ice-blockchain/icicle/subscription"
)

// New prepares a loader over urls; nothing is requested until Open.
// Urls that are not relay urls are skipped.
func New(p *pool.Pool, name string, urls []string, filters model.Filters, opts *Options) *Loader {
	if opts == nil {
		opts = new(Options)
	}
	l := &Loader{
		pool:     p,
		name:     name,
		tracker:  opts.Tracker,
		accept:   opts.EventFilter,
		until:    opts.Until,
		filters:  filters,
		cfg:      withDefaults(opts.Config),
		state:    StateInit,
		relays:   make(map[string]*relayLoader, len(urls)),
		byUID:    make(map[string]*model.Event),
		timeline: observable.NewPersistentSubjectWithValue([]*model.Event{}),
		complete: observable.NewPersistentSubjectWithValue(false),
	}
	l.page = model.Paginate(filters, l.until, l.cfg.PageSize)
	l.urls = l.addRelaysLocked(urls)

	return l
}

func withDefaults(cfg *Config) Config {
	c := Config{PageSize: defaultPageSize, MaxRetries: defaultMaxRetries, RetryDelay: defaultRetryDelay}
	if cfg == nil {
		return c
	}
	if cfg.PageSize > 0 {
		c.PageSize = cfg.PageSize
	}
	if cfg.RetryDelay > 0 {
		c.RetryDelay = cfg.RetryDelay
	}
	c.MaxRetries = max(cfg.MaxRetries, 0)

	return c
}

func (l *Loader) Name() string {
	return l.name
}

// Timeline is the merged list, newest first. Every emission is a fresh slice.
func (l *Loader) Timeline() *observable.PersistentSubject[[]*model.Event] {
	return l.timeline
}

// Complete turns true once every relay still taking part sent EOSE for the current page.
func (l *Loader) Complete() *observable.PersistentSubject[bool] {
	return l.complete
}

func (l *Loader) Events() []*model.Event {
	l.mx.Lock()
	defer l.mx.Unlock()

	return slices.Clone(l.events)
}

// Cursor is the oldest created_at merged so far.
func (l *Loader) Cursor() (model.Timestamp, bool) {
	l.mx.Lock()
	defer l.mx.Unlock()
	if l.cursor == nil {
		return 0, false
	}

	return *l.cursor, true
}

func (l *Loader) State() State {
	l.mx.Lock()
	defer l.mx.Unlock()

	return l.state
}

func (l *Loader) Relays() []string {
	l.mx.Lock()
	defer l.mx.Unlock()

	return slices.Clone(l.urls)
}

// Failed lists the relays excluded after running out of retries.
func (l *Loader) Failed() []string {
	l.mx.Lock()
	defer l.mx.Unlock()
	var failed []string
	for _, url := range l.urls {
		if l.relays[url].failed {
			failed = append(failed, url)
		}
	}

	return failed
}

// Open subscribes every relay to the first page.
func (l *Loader) Open() error {
	l.mx.Lock()
	switch l.state {
	case StateOpen:
		l.mx.Unlock()

		return nil
	case StateClosed:
		l.mx.Unlock()

		return errors.Wrapf(ErrClosed, "can't open %v", l.name)
	case StateInit:
	}
	if len(l.filters) == 0 {
		l.mx.Unlock()

		return errors.Wrapf(subscription.ErrNoQuery, "can't open %v", l.name)
	}
	l.state = StateOpen
	relays := l.relaysLocked()
	l.mx.Unlock()

	for _, rl := range relays {
		l.openRelay(rl)
	}
	l.publish()
	logger.Log.Debugw("timeline opened", "name", l.name, "relays", len(relays))

	return nil
}

// LoadMore asks every relay for the page older than the cursor. Without a cursor there is nothing older to ask for.
func (l *Loader) LoadMore() error {
	l.mx.Lock()
	switch l.state {
	case StateInit:
		l.mx.Unlock()

		return errors.Wrapf(ErrNotOpen, "can't page %v", l.name)
	case StateClosed:
		l.mx.Unlock()

		return errors.Wrapf(ErrClosed, "can't page %v", l.name)
	case StateOpen:
	}
	if l.cursor == nil || *l.cursor == 0 {
		l.mx.Unlock()

		return nil
	}
	until := *l.cursor - 1
	l.page = model.Paginate(l.filters, &until, l.cfg.PageSize)

	return l.requery()
}

// SetFilters replaces the query and starts over from an empty timeline.
func (l *Loader) SetFilters(filters model.Filters) error {
	if len(filters) == 0 {
		return errors.Wrapf(subscription.ErrNoQuery, "can't clear the query of %v", l.name)
	}
	l.mx.Lock()
	if l.state == StateClosed {
		l.mx.Unlock()

		return errors.Wrapf(ErrClosed, "can't query %v", l.name)
	}
	l.filters = filters
	l.page = model.Paginate(filters, l.until, l.cfg.PageSize)
	l.events, l.byUID, l.cursor = nil, make(map[string]*model.Event), nil
	l.query++

	return l.requery()
}

// requery must be called with l.mx held; it releases it.
func (l *Loader) requery() error {
	open := l.state == StateOpen
	page := l.page
	var subs []*subscription.Subscription
	for _, rl := range l.relaysLocked() {
		if rl.failed {
			continue
		}
		rl.eose = false
		subs = append(subs, rl.sub)
	}
	l.mx.Unlock()

	var err *multierror.Error
	for _, sub := range subs {
		// A lost relay picks the new page up when its retry reopens it.
		if sErr := sub.SetQuery(page); open && sErr != nil && !errors.Is(sErr, relay.ErrRelayClosed) {
			err = multierror.Append(err, sErr)
		}
	}
	l.publish()

	return errors.Wrapf(err.ErrorOrNil(), "can't query %v", l.name)
}

// SetRelays moves the loader to urls: new relays join with the current page, dropped ones are closed.
// Events already merged stay.
func (l *Loader) SetRelays(urls []string) error {
	l.mx.Lock()
	if l.state == StateClosed {
		l.mx.Unlock()

		return errors.Wrapf(ErrClosed, "can't move %v", l.name)
	}
	keep := make(map[string]bool, len(urls))
	next := make([]string, 0, len(urls))
	for _, raw := range urls {
		url, err := model.NormalizeRelayURL(raw)
		if err != nil || keep[url] {
			continue
		}
		keep[url] = true
		next = append(next, url)
	}
	var removed []*relayLoader
	for _, url := range l.urls {
		if !keep[url] {
			removed = append(removed, l.dropRelayLocked(url))
		}
	}
	added := l.addRelaysLocked(next)
	l.urls = next
	open := l.state == StateOpen
	var opening []*relayLoader
	if open {
		for _, url := range added {
			opening = append(opening, l.relays[url])
		}
	}
	l.mx.Unlock()

	err := closeRelays(removed)
	for _, rl := range opening {
		l.openRelay(rl)
	}
	l.publish()

	return errors.Wrapf(err, "can't move %v", l.name)
}

// Close ends every relay subscription. The last timeline stays readable.
func (l *Loader) Close() error {
	l.mx.Lock()
	if l.state == StateClosed {
		l.mx.Unlock()

		return nil
	}
	l.state = StateClosed
	relays := make([]*relayLoader, 0, len(l.urls))
	for _, url := range l.urls {
		relays = append(relays, l.dropRelayLocked(url))
	}
	l.mx.Unlock()
	logger.Log.Debugw("timeline closed", "name", l.name)

	return errors.Wrapf(closeRelays(relays), "can't close %v", l.name)
}

func closeRelays(relays []*relayLoader) error {
	var err *multierror.Error
	for _, rl := range relays {
		for _, disconnect := range rl.disconnect {
			disconnect()
		}
		if cErr := rl.sub.Close(); cErr != nil {
			err = multierror.Append(err, cErr)
		}
	}

	return err.ErrorOrNil()
}

// addRelaysLocked creates loaders for the urls not tracked yet and returns them, normalized.
func (l *Loader) addRelaysLocked(urls []string) []string {
	var added []string
	for _, raw := range urls {
		url, err := model.NormalizeRelayURL(raw)
		if err != nil {
			logger.Log.Warnw("timeline relay skipped", "name", l.name, "url", raw, "error", err)

			continue
		}
		if _, found := l.relays[url]; found {
			continue
		}
		rl := &relayLoader{url: url}
		rl.sub = subscription.New(l.pool, url, l.page, &subscription.Options{Label: "timeline " + l.name})
		rl.disconnect = []func(){
			rl.sub.OnEvent().Subscribe(func(ev *relay.IncomingEvent) { l.handleEvent(rl, ev.Event) }),
			rl.sub.OnEOSE().Subscribe(func(*relay.IncomingEOSE) { l.handleEOSE(rl) }),
			rl.sub.OnRelayClosed().Subscribe(func(err error) { l.handleLoss(rl, err) }),
		}
		l.relays[url] = rl
		added = append(added, url)
	}

	return added
}

func (l *Loader) dropRelayLocked(url string) *relayLoader {
	rl := l.relays[url]
	delete(l.relays, url)
	if rl.retry != nil {
		rl.retry.Stop()
		rl.retry = nil
	}

	return rl
}

func (l *Loader) relaysLocked() []*relayLoader {
	relays := make([]*relayLoader, 0, len(l.urls))
	for _, url := range l.urls {
		relays = append(relays, l.relays[url])
	}

	return relays
}

func (l *Loader) current(rl *relayLoader) bool {
	return l.state == StateOpen && l.relays[rl.url] == rl
}

// openRelay must be called unlocked: the subscription reports a lost relay right away.
func (l *Loader) openRelay(rl *relayLoader) {
	l.mx.Lock()
	rl.lost = false
	l.mx.Unlock()
	if err := rl.sub.Open(); err != nil {
		l.handleLoss(rl, err)

		return
	}
	l.mx.Lock()
	live := l.current(rl)
	l.mx.Unlock()
	if !live {
		// Closed or dropped meanwhile.
		if err := rl.sub.Close(); err != nil {
			logger.Log.Debugw("timeline relay close", "name", l.name, "url", rl.url, "error", err)
		}
	}
}

func (l *Loader) handleEvent(rl *relayLoader, ev *model.Event) {
	l.mx.Lock()
	if !l.current(rl) {
		l.mx.Unlock()

		return
	}
	filters, query := l.filters, l.query
	l.mx.Unlock()
	if l.tracker != nil {
		l.tracker.Add(ev.ID, rl.url)
	}
	if !model.Match(filters, ev) || (l.accept != nil && !l.accept(ev)) {
		return
	}

	l.mx.Lock()
	if !l.current(rl) || query != l.query {
		l.mx.Unlock()

		return
	}
	changed := l.mergeLocked(ev)
	l.mx.Unlock()
	if changed {
		l.publish()
	}
}

// mergeLocked inserts ev keeping the timeline newest first. Of two events with the same UID the newer one is kept.
func (l *Loader) mergeLocked(ev *model.Event) bool {
	uid := ev.UID()
	if stored, found := l.byUID[uid]; found {
		if stored.CreatedAt >= ev.CreatedAt {
			return false
		}
		if at, ok := slices.BinarySearchFunc(l.events, stored, compareEvents); ok {
			l.events = slices.Delete(l.events, at, at+1)
		}
	}
	l.byUID[uid] = ev
	at, _ := slices.BinarySearchFunc(l.events, ev, compareEvents)
	l.events = slices.Insert(l.events, at, ev)
	if l.cursor == nil || ev.CreatedAt < *l.cursor {
		cursor := ev.CreatedAt
		l.cursor = &cursor
	}

	return true
}

func compareEvents(a, b *model.Event) int {
	if a.CreatedAt != b.CreatedAt {
		if a.CreatedAt > b.CreatedAt {
			return -1
		}

		return 1
	}

	return strings.Compare(a.ID, b.ID)
}

func (l *Loader) handleEOSE(rl *relayLoader) {
	l.mx.Lock()
	if !l.current(rl) || rl.eose {
		l.mx.Unlock()

		return
	}
	rl.eose, rl.retries = true, 0
	l.mx.Unlock()
	l.publish()
}

// handleLoss retries a relay that stopped serving the page, and excludes it from completion once retries run out.
// Only the first loss of every attempt counts.
func (l *Loader) handleLoss(rl *relayLoader, cause error) {
	l.mx.Lock()
	if !l.current(rl) || rl.failed || rl.lost {
		l.mx.Unlock()

		return
	}
	rl.eose, rl.lost = false, true
	if rl.retries >= l.cfg.MaxRetries {
		rl.failed = true
		retries := rl.retries
		l.mx.Unlock()
		logger.Log.Warnw("timeline relay excluded", "name", l.name, "url", rl.url, "retries", retries, "error", cause)
		if err := rl.sub.Close(); err != nil {
			logger.Log.Debugw("timeline relay close", "name", l.name, "url", rl.url, "error", err)
		}
		l.publish()

		return
	}
	rl.retries++
	attempt := rl.retries
	if rl.retry != nil {
		rl.retry.Stop()
	}
	rl.retry = stdlibtime.AfterFunc(l.cfg.RetryDelay, func() { l.retryRelay(rl) })
	l.mx.Unlock()
	logger.Log.Infow("timeline relay lost", "name", l.name, "url", rl.url, "attempt", attempt, "error", cause)
	l.publish()
}

func (l *Loader) retryRelay(rl *relayLoader) {
	l.mx.Lock()
	if !l.current(rl) || rl.failed {
		l.mx.Unlock()

		return
	}
	rl.retry = nil
	l.mx.Unlock()
	if err := rl.sub.Close(); err != nil {
		logger.Log.Debugw("timeline relay close before retry", "name", l.name, "url", rl.url, "error", err)
	}
	l.openRelay(rl)
}

// publish emits the latest state. A goroutine finding another one publishing leaves the emission to it,
// so values go out in order and listeners may call back into the loader.
func (l *Loader) publish() {
	l.mx.Lock()
	l.dirty = true
	if l.emitting {
		l.mx.Unlock()

		return
	}
	l.emitting = true
	for l.dirty {
		l.dirty = false
		events := slices.Clone(l.events)
		complete := l.completeLocked()
		l.mx.Unlock()
		if !slices.Equal(events, l.timeline.Current()) {
			l.timeline.Next(events)
		}
		if complete != l.complete.Current() {
			l.complete.Next(complete)
		}
		l.mx.Lock()
	}
	l.emitting = false
	l.mx.Unlock()
}

func (l *Loader) completeLocked() bool {
	if l.state != StateOpen {
		return false
	}
	for _, rl := range l.relays {
		if !rl.failed && !rl.eose {
			return false
		}
	}

	return true
}
