package util

// Unpack copies the elements of a slice into the given variables, in order.
// Variables without a matching element are left alone, extra elements are ignored
func Unpack[T any](toUnpack []T, unpackInto ...*T) {
	for i := 0; i < len(toUnpack) && i < len(unpackInto); i++ {
		*unpackInto[i] = toUnpack[i]
	}
}
