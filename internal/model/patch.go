package model

import "encoding/json"

// Field is a patch value that distinguishes "absent from the request body"
// from "present". A present field may still carry null when T is a pointer
// type, which is how a nullable column gets cleared. COALESCE-style partial
// updates cannot express that distinction; this type can.
type Field[T any] struct {
	value   T
	present bool
}

// UnmarshalJSON is only invoked for keys that appear in the body, so any
// call marks the field as present.
func (f *Field[T]) UnmarshalJSON(b []byte) error {
	f.present = true
	return json.Unmarshal(b, &f.value)
}

// Present reports whether the field appeared in the request body.
func (f Field[T]) Present() bool { return f.present }

// Value returns the decoded value. Only meaningful when Present is true.
func (f Field[T]) Value() T { return f.value }

// NewField builds a present Field, used by tests and internal callers.
func NewField[T any](v T) Field[T] {
	return Field[T]{value: v, present: true}
}
