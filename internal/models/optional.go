package models

import (
	"bytes"
	"encoding/json"
)

type optionalState uint8

const (
	stateUnset optionalState = iota
	stateClear
	stateSet
)

// Optional is a tri-state update field: Unset leaves the current value alone,
// Clear resets it, Set replaces it.
//
// In JSON an absent key decodes as Unset, an explicit null as Clear and any
// other value as Set.
type Optional[T any] struct {
	state optionalState
	value T
}

// Set returns an Optional holding v.
func Set[T any](v T) Optional[T] {
	return Optional[T]{state: stateSet, value: v}
}

// Clear returns an Optional requesting the field be reset.
func Clear[T any]() Optional[T] {
	return Optional[T]{state: stateClear}
}

func (o Optional[T]) IsSet() bool   { return o.state == stateSet }
func (o Optional[T]) IsClear() bool { return o.state == stateClear }
func (o Optional[T]) IsUnset() bool { return o.state == stateUnset }

// Value returns the held value and whether it is set.
func (o Optional[T]) Value() (T, bool) {
	return o.value, o.state == stateSet
}

// Apply resolves the field against the current value and its default.
func (o Optional[T]) Apply(current, def T) T {
	switch o.state {
	case stateSet:
		return o.value
	case stateClear:
		return def
	default:
		return current
	}
}

func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*o = Clear[T]()
		return nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Set(v)
	return nil
}

func (o Optional[T]) MarshalJSON() ([]byte, error) {
	if o.state != stateSet {
		return []byte("null"), nil
	}
	return json.Marshal(o.value)
}
