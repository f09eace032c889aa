// SPDX-License-Identifier: ice License 1.0

package model

import (
	"regexp"
	"slices"
	"strconv"

	"github.com/nbd-wtf/go-nostr"
	"github.com/nbd-wtf/go-nostr/nip19"
)

var (
	legacyMentionRegexp = regexp.MustCompile(`#\[(\d+)\]`)
	nostrLinkRegexp     = regexp.MustCompile(`(nostr:|@)?((?:npub|note|nprofile|nevent|naddr)1[023456789acdefghjklmnpqrstuvwxyz]{6,})`)
)

// ParseEventReference collects the events referenced by e and a tags. Malformed coordinates are skipped.
func ParseEventReference(tags Tags) []EventReference {
	plainEvents := make([]string, 0, len(tags))
	refs := []EventReference{}
	for _, tag := range tags {
		if len(tag) < 2 {
			continue
		}
		switch tag.Key() {
		case "e":
			plainEvents = append(plainEvents, tag.Value())
		case "a":
			if c := ParseCoordinate(tag.Value()); c != nil {
				refs = append(refs, &ReplaceableEventReference{Coordinate: *c})
			}
		}
	}
	if len(plainEvents) > 0 {
		refs = append(refs, &PlainEventReference{EventIDs: plainEvents})
	}

	return refs
}

func (e *PlainEventReference) Filter() Filter {
	return Filter{IDs: e.EventIDs}
}

func (e *ReplaceableEventReference) Filter() Filter {
	f := Filter{
		Kinds:   []int{e.Kind},
		Authors: []string{e.PubKey},
	}
	if e.D != "" {
		f.Tags = TagMap{"d": {e.D}}
	}

	return f
}

// ContentTagRefs returns the indexes of tags referenced from content, either by the legacy #[n] syntax or by nostr: links.
func ContentTagRefs(content string, tags Tags) []int {
	var indexes []int
	add := func(i int) {
		if !slices.Contains(indexes, i) {
			indexes = append(indexes, i)
		}
	}
	for _, m := range legacyMentionRegexp.FindAllStringSubmatch(content, -1) {
		if i, err := strconv.Atoi(m[1]); err == nil {
			add(i)
		}
	}
	for _, m := range nostrLinkRegexp.FindAllStringSubmatch(content, -1) {
		tagKey, id := decodeLinkTarget(m[2])
		if tagKey == "" {
			continue
		}
		for i, tag := range tags {
			if len(tag) >= 2 && tag[0] == tagKey && tag[1] == id {
				add(i)

				break
			}
		}
	}

	return indexes
}

func decodeLinkTarget(link string) (tagKey, id string) {
	prefix, data, err := nip19.Decode(link)
	if err != nil {
		return "", ""
	}
	switch prefix {
	case "npub":
		if pk, ok := data.(string); ok {
			return "p", pk
		}
	case "note":
		if noteID, ok := data.(string); ok {
			return "e", noteID
		}
	case "nprofile":
		switch p := data.(type) {
		case nostr.ProfilePointer:
			return "p", p.PublicKey
		case *nostr.ProfilePointer:
			return "p", p.PublicKey
		}
	case "nevent":
		switch p := data.(type) {
		case nostr.EventPointer:
			return "e", p.ID
		case *nostr.EventPointer:
			return "e", p.ID
		}
	}

	return "", ""
}

// FilterTagsByContentRefs keeps the tags that are (referenced=true) or are not (referenced=false) mentioned in content.
func FilterTagsByContentRefs(content string, tags Tags, referenced bool) Tags {
	refs := ContentTagRefs(content, tags)
	filtered := make(Tags, 0, len(tags))
	for i, tag := range tags {
		if slices.Contains(refs, i) == referenced {
			filtered = append(filtered, tag)
		}
	}

	return filtered
}

// GetReferences resolves root and reply ids.
// Marked e tags win; a lone root or reply marker fills both. Without markers the deprecated positional scheme applies:
// the first unmarked e tag not referenced from content is the root and the last one is the reply.
func GetReferences(event *Event) *References {
	refs := &References{ContentTagRefs: ContentTagRefs(event.Content, event.Tags)}
	var positional []Tag
	for i, tag := range event.Tags {
		if len(tag) < 2 || tag[0] != "e" {
			continue
		}
		refs.Events = append(refs.Events, tag[1])
		marker := ""
		if len(tag) > 3 {
			marker = tag[3]
		}
		switch {
		case marker == TagMarkerReply && refs.ReplyID == "":
			refs.ReplyID = tag[1]
		case marker == TagMarkerRoot && refs.RootID == "":
			refs.RootID = tag[1]
		case marker == "" && !slices.Contains(refs.ContentTagRefs, i):
			positional = append(positional, tag)
		}
	}
	if refs.RootID == "" || refs.ReplyID == "" {
		if refs.RootID == "" {
			refs.RootID = refs.ReplyID
		}
		refs.ReplyID = refs.RootID
	}
	if refs.RootID == "" && len(positional) > 0 {
		refs.RootID = positional[0][1]
		refs.ReplyID = positional[len(positional)-1][1]
	}

	return refs
}

func IsReply(event *Event) bool {
	return event.Kind == nostr.KindTextNote && GetReferences(event).ReplyID != ""
}

// IsRepost reports kind 6 events and notes whose whole content is a single nostr link.
func IsRepost(event *Event) bool {
	if event.Kind == nostr.KindRepost {
		return true
	}
	loc := nostrLinkRegexp.FindStringIndex(event.Content)

	return loc != nil && loc[0] == 0 && loc[1] == len(event.Content)
}
