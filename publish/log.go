// SPDX-License-Identifier: ice License 1.0

package publish

import (
	"slices"

	"github.com/ice-blockchain/icicle/observable"
)

// NewLog returns an empty log of publish actions.
func NewLog() *Log {
	return &Log{actions: observable.NewPersistentSubjectWithValue([]*Action{})}
}

func (l *Log) Append(a *Action) {
	l.actions.Update(func(actions []*Action) ([]*Action, bool) {
		return append(slices.Clone(actions), a), true
	})
}

// Actions emits every action ever appended, oldest first, on each append.
func (l *Log) Actions() *observable.PersistentSubject[[]*Action] {
	return l.actions
}

func (l *Log) List() []*Action {
	return slices.Clone(l.actions.Current())
}
