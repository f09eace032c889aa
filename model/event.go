// SPDX-License-Identifier: ice License 1.0

package model

import (
	"strconv"
	"strings"

	"github.com/nbd-wtf/go-nostr"
)

type Event struct {
	nostr.Event
}

func NewEvent(ev nostr.Event) *Event {
	return &Event{Event: ev}
}

// UID is the logical identity used for deduplication.
// Parameterized replaceable events collapse to their coordinate so newer versions land in the same slot.
func (e *Event) UID() string {
	if IsAddressableKind(e.Kind) {
		return e.Coordinate().String()
	}

	return e.ID
}

func (e *Event) Coordinate() Coordinate {
	c := Coordinate{Kind: e.Kind, PubKey: e.PubKey}
	for _, tag := range e.Tags {
		if tag.Key() == "d" && tag.Value() != "" {
			c.D = tag.Value()

			break
		}
	}

	return c
}

func (e *Event) IsReplaceable() bool {
	return e.Kind == nostr.KindProfileMetadata ||
		e.Kind == nostr.KindFollowList ||
		(replaceableKindMin <= e.Kind && e.Kind < replaceableKindMax) ||
		IsAddressableKind(e.Kind)
}

func IsAddressableKind(kind Kind) bool {
	return addressableKindMin <= kind && kind < addressableKindMax
}

func (e *Event) GetTag(tagName string) Tag {
	for _, tag := range e.Tags {
		if tag.Key() == tagName {
			return tag
		}
	}

	return nil
}

func (c Coordinate) String() string {
	return strconv.Itoa(c.Kind) + ":" + c.PubKey + ":" + c.D
}

// ParseCoordinate parses "<kind>:<pubkey>[:<d>]". Anything malformed yields nil.
func ParseCoordinate(a string) *Coordinate {
	parts := strings.Split(a, ":")
	kind, err := strconv.Atoi(parts[0])
	if err != nil || kind == 0 {
		return nil
	}
	if len(parts) < 2 || parts[1] == "" {
		return nil
	}
	c := &Coordinate{Kind: kind, PubKey: parts[1]}
	if len(parts) > 2 {
		c.D = parts[2]
	}

	return c
}

func TruncatedID(id string, keep ...int) string {
	width := truncatedIDDefaultWidth
	if len(keep) > 0 {
		width = keep[0]
	}
	if len(id) < width*2+3 {
		return id
	}

	return id[:width] + "..." + id[len(id)-width:]
}
