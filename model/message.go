// SPDX-License-Identifier: ice License 1.0

package model

import (
	"github.com/cockroachdb/errors"
	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"
)

// ParseMessage decodes one relay frame into its envelope.
// Inbound EVENT frames must carry a subscription id and an event id.
func ParseMessage(message []byte) (e nostr.Envelope, err error) {
	if !gjson.ValidBytes(message) {
		return nil, errors.Wrap(ErrParseMessage, "invalid json")
	}
	label := gjson.GetBytes(message, "0")
	if label.Type != gjson.String {
		return nil, ErrUnknownMessage
	}

	switch EnvelopeType(label.Str) {
	case EnvelopeTypeEvent:
		var eventEnvelope nostr.EventEnvelope
		if err = eventEnvelope.UnmarshalJSON(message); err != nil {
			return nil, errors.Wrap(err, "unmarshal event envelope")
		}
		if eventEnvelope.SubscriptionID == nil || eventEnvelope.ID == "" {
			return nil, errors.Wrap(ErrParseMessage, "event envelope without subscription or event id")
		}
		e = &eventEnvelope
	case EnvelopeTypeReq:
		var reqEnvelope ReqEnvelope
		if err = reqEnvelope.UnmarshalJSON(message); err != nil {
			return nil, errors.Wrap(err, "unmarshal req envelope")
		}
		e = &reqEnvelope
	case EnvelopeTypeClosed:
		var closedEnvelope nostr.ClosedEnvelope
		if err = closedEnvelope.UnmarshalJSON(message); err != nil {
			return nil, errors.Wrap(err, "unmarshal closed envelope")
		}
		e = &closedEnvelope
	case EnvelopeTypeClose:
		var closeEnvelope nostr.CloseEnvelope
		if err = closeEnvelope.UnmarshalJSON(message); err != nil {
			return nil, errors.Wrap(err, "unmarshal close envelope")
		}
		e = &closeEnvelope
	case EnvelopeTypeEOSE, EnvelopeTypeOK, EnvelopeTypeNotice, EnvelopeTypeAuth:
		// Passthrough to the original implementation.
		e = nostr.ParseMessage(message)
	default:
		return nil, errors.Wrapf(ErrUnknownMessage, "label %q", label.Str)
	}

	if e == nil {
		err = ErrParseMessage
	}

	return e, err
}

// ParseClientMessage decodes one frame a client sends to a relay: EVENT (without subscription id), REQ or CLOSE.
func ParseClientMessage(message []byte) (nostr.Envelope, error) {
	if !gjson.ValidBytes(message) {
		return nil, errors.Wrap(ErrParseMessage, "invalid json")
	}
	label := gjson.GetBytes(message, "0")
	if label.Type != gjson.String {
		return nil, ErrUnknownMessage
	}

	switch EnvelopeType(label.Str) {
	case EnvelopeTypeEvent:
		if gjson.GetBytes(message, "#").Int() != 2 { //nolint:mnd // ["EVENT",event].
			return nil, errors.Wrap(ErrParseMessage, "client event envelope must hold exactly one event")
		}
		var eventEnvelope nostr.EventEnvelope
		if err := eventEnvelope.UnmarshalJSON(message); err != nil {
			return nil, errors.Wrap(err, "unmarshal event envelope")
		}
		if eventEnvelope.ID == "" {
			return nil, errors.Wrap(ErrParseMessage, "event envelope without event id")
		}

		return &eventEnvelope, nil
	case EnvelopeTypeReq, EnvelopeTypeClose:
		return ParseMessage(message)
	default:
		return nil, errors.Wrapf(ErrUnknownMessage, "label %q is not sent by clients", label.Str)
	}
}
