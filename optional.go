package vouch

import "encoding/json"

// Optional holds a best-effort value. An absent Optional may carry the
// error that made the value unavailable.
type Optional[T any] struct {
	value T
	ok    bool
	err   error
}

// Some returns a present Optional.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, ok: true}
}

// None returns an absent Optional, recording why it is absent. err may be nil.
func None[T any](err error) Optional[T] {
	return Optional[T]{err: err}
}

// Get returns the value and whether it is present.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.ok
}

// Present reports whether the value is present.
func (o Optional[T]) Present() bool {
	return o.ok
}

// Err returns the reason the value is absent, if one was recorded.
func (o Optional[T]) Err() error {
	return o.err
}

// OrElse returns the value, or def when absent.
func (o Optional[T]) OrElse(def T) T {
	if !o.ok {
		return def
	}
	return o.value
}

// MarshalJSON encodes an absent value as null.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if !o.ok {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}
