// SPDX-License-Identifier: ice License 1.0

package model

// Paginate copies filters bounding every clause by until and, when limit > 0, limit.
func Paginate(filters Filters, until *Timestamp, limit int) Filters {
	paged := make(Filters, len(filters))
	for i := range filters {
		paged[i] = filters[i]
		if until != nil {
			u := *until
			paged[i].Until = &u
		}
		if limit > 0 {
			paged[i].Limit = limit
		}
	}

	return paged
}

func Match(filters Filters, event *Event) bool {
	for i := range filters {
		if filters[i].Matches(&event.Event) {
			return true
		}
	}

	return false
}
