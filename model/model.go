// SPDX-License-Identifier: ice License 1.0

package model

import (
	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
)

type (
	TagMap    = nostr.TagMap
	Tag       = nostr.Tag
	Tags      = nostr.Tags
	Timestamp = nostr.Timestamp
	Kind      = int
	Filter    = nostr.Filter
	Filters   = nostr.Filters
	// Coordinate addresses the current version of a replaceable event.
	Coordinate struct {
		PubKey string
		D      string
		Kind   Kind
	}
	EventReference interface {
		Filter() Filter
	}
	ReplaceableEventReference struct {
		Coordinate
	}
	PlainEventReference struct {
		EventIDs []string
	}
	// References is the thread position of an event: explicit root/reply markers, or the legacy positional fallback.
	References struct {
		RootID         string
		ReplyID        string
		Events         []string
		ContentTagRefs []int
	}
	RelayMode   string
	RelayConfig struct {
		URL  string
		Mode RelayMode
	}
)

var (
	ErrInvalidRelayURL = errors.New("invalid relay url")
	ErrUnknownMessage  = errors.New("unknown message")
	ErrParseMessage    = errors.New("parse message")
)

const (
	TagMarkerReply   = "reply"
	TagMarkerRoot    = "root"
	TagMarkerMention = "mention"

	RelayModeRead  RelayMode = "read"
	RelayModeWrite RelayMode = "write"
	RelayModeAll   RelayMode = "all"
)

const (
	replaceableKindMin      = 10_000
	replaceableKindMax      = 20_000
	addressableKindMin      = 30_000
	addressableKindMax      = 40_000
	truncatedIDDefaultWidth = 6
)
