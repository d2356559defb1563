// Package util contains small generic helpers shared by go-framer packages.
package util

// CloneSlice returns a copy of src backed by a fresh array, so the result
// never aliases a buffer that a reader goroutine will reuse.
//
// A nil or empty src yields a non-nil empty slice.
func CloneSlice[T any](src []T) []T {
	clone := make([]T, len(src))
	copy(clone, src)

	return clone
}
