// SPDX-License-Identifier: ice License 1.0

package model

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/mailru/easyjson"
	"github.com/nbd-wtf/go-nostr"
	"github.com/tidwall/gjson"
)

type (
	EnvelopeType string

	Envelope interface {
		nostr.Envelope
	}

	ReqEnvelope struct {
		SubscriptionID string
		Filters
	}
)

const (
	EnvelopeTypeEvent  EnvelopeType = "EVENT"
	EnvelopeTypeReq    EnvelopeType = "REQ"
	EnvelopeTypeNotice EnvelopeType = "NOTICE"
	EnvelopeTypeEOSE   EnvelopeType = "EOSE"
	EnvelopeTypeOK     EnvelopeType = "OK"
	EnvelopeTypeAuth   EnvelopeType = "AUTH"
	EnvelopeTypeClosed EnvelopeType = "CLOSED"
	EnvelopeTypeClose  EnvelopeType = "CLOSE"
)

func NewEventEnvelope(event *Event) *nostr.EventEnvelope {
	return &nostr.EventEnvelope{Event: event.Event}
}

func NewReqEnvelope(subscriptionID string, filters Filters) *ReqEnvelope {
	return &ReqEnvelope{SubscriptionID: subscriptionID, Filters: filters}
}

func NewCloseEnvelope(subscriptionID string) *nostr.CloseEnvelope {
	e := nostr.CloseEnvelope(subscriptionID)

	return &e
}

func (*ReqEnvelope) Label() string {
	return string(EnvelopeTypeReq)
}

func (v *ReqEnvelope) UnmarshalJSON(data []byte) error {
	arr := gjson.ParseBytes(data).Array()
	if len(arr) < 3 {
		return errors.Wrap(ErrParseMessage, "failed to decode REQ envelope: missing filters")
	}
	v.SubscriptionID = arr[1].Str
	v.Filters = make(Filters, len(arr)-2)
	for i := 2; i < len(arr); i++ {
		if err := easyjson.Unmarshal([]byte(arr[i].Raw), &v.Filters[i-2]); err != nil {
			return errors.Wrapf(err, "on filter %d", i-2)
		}
	}

	return nil
}

func (v *ReqEnvelope) MarshalJSON() ([]byte, error) {
	data := make([]any, 0, 2+len(v.Filters))
	data = append(data, EnvelopeTypeReq, v.SubscriptionID)
	for i := range v.Filters {
		filterData, err := easyjson.Marshal(&v.Filters[i])
		if err != nil {
			return nil, errors.Wrapf(err, "failed to marshal filter %d", i)
		}
		data = append(data, json.RawMessage(filterData))
	}

	return json.Marshal(data)
}

func (v *ReqEnvelope) String() string {
	data, _ := v.MarshalJSON() //nolint:errcheck // Best effort for logging.

	return string(data)
}
