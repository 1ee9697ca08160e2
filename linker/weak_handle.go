package linker

import "weak"

// ---------------------------------------------------------------------------
// WeakHandle: a reference that doesn't keep its target alive
// ---------------------------------------------------------------------------

// WeakHandle holds a non-owning reference to a managed object. Value
// returns nil once the target has been collected; a handle never creates
// ownership.
type WeakHandle[T any] struct {
	p weak.Pointer[T]
}

// MakeWeakHandle creates a handle to target. A nil target yields a handle
// whose Value is always nil.
func MakeWeakHandle[T any](target *T) WeakHandle[T] {
	if target == nil {
		return WeakHandle[T]{}
	}
	return WeakHandle[T]{p: weak.Make(target)}
}

// Value returns the target, or nil if it has been collected.
func (h WeakHandle[T]) Value() *T {
	return h.p.Value()
}

// IsAlive returns true if the target has not been collected.
func (h WeakHandle[T]) IsAlive() bool {
	return h.Value() != nil
}
