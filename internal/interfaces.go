// Package internal holds the conversion contracts shared by the renderers
// that turn a posted article into a platform payload.
package internal

// From fills the receiver from a T.
type From[T any] interface {
	From(T)
}

// Into converts the receiver to a T.
type Into[T any] interface {
	Into() T
}
