// SPDX-License-Identifier: ice License 1.0

package observable

// Connect defines dst as a view of src: handler receives every src value and calls next for whatever dst should emit.
func Connect[S, T any](src Stream[S], dst *Subject[T], handler func(v S, next func(T))) (disconnect func()) {
	return src.Subscribe(func(v S) {
		handler(v, dst.Next)
	})
}
