// SPDX-License-Identifier: ice License 1.0

package model

import (
	"github.com/nbd-wtf/go-nostr"
)

// BuildRepost drafts an unsigned kind 6 repost of event, hinting relayHint as where it can be found.
func BuildRepost(event *Event, relayHint string) *Event {
	return &Event{Event: nostr.Event{
		Kind:      nostr.KindRepost,
		Tags:      Tags{{"e", event.ID, relayHint}},
		Content:   "",
		CreatedAt: nostr.Now(),
	}}
}

func BuildDeleteEvent(eventIDs []string, reason string) *Event {
	tags := make(Tags, 0, len(eventIDs))
	for _, id := range eventIDs {
		tags = append(tags, Tag{"e", id})
	}

	return &Event{Event: nostr.Event{
		Kind:      nostr.KindDeletion,
		Tags:      tags,
		Content:   reason,
		CreatedAt: nostr.Now(),
	}}
}

// ParseRTag reads a relay list entry; a missing or unknown marker means both directions.
func ParseRTag(tag Tag) RelayConfig {
	rc := RelayConfig{Mode: RelayModeAll}
	if len(tag) > 1 {
		rc.URL = tag[1]
	}
	if len(tag) > 2 {
		switch RelayMode(tag[2]) {
		case RelayModeRead, RelayModeWrite:
			rc.Mode = RelayMode(tag[2])
		}
	}

	return rc
}
