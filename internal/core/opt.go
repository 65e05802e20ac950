package core

// Opt is an explicit optional. The zero Opt is absent, which traversal filters
// read as "no constraint".
type Opt[T any] struct {
	val T
	ok  bool
}

// Some returns a present Opt holding v.
func Some[T any](v T) Opt[T] { return Opt[T]{val: v, ok: true} }

// None returns an absent Opt.
func None[T any]() Opt[T] { return Opt[T]{} }

// Get returns the value and whether it is present.
func (o Opt[T]) Get() (T, bool) { return o.val, o.ok }

// IsSet reports whether a value is present.
func (o Opt[T]) IsSet() bool { return o.ok }

// Or returns the value, or def when absent.
func (o Opt[T]) Or(def T) T {
	if o.ok {
		return o.val
	}
	return def
}

// NonEmpty turns an empty string into None.
func NonEmpty(s string) Opt[string] {
	if s == "" {
		return None[string]()
	}
	return Some(s)
}
