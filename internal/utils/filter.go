package utils

// Filter returns the elements of input that satisfy keep, in order.
// The result is never nil so callers can range or encode it directly.
func Filter[T any](input []T, keep func(T) bool) []T {
	out := make([]T, 0, len(input))
	for _, v := range input {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}
