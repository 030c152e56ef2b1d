//go:build debug_mem_utils

package memutils

// DebugValidate panics if the structure's Validate method reports an inconsistency. Without the
// debug_mem_utils build tag it does nothing.
func DebugValidate(validatable Validatable) {
	err := validatable.Validate()
	if err != nil {
		panic(err)
	}
}

// DebugCheckPow2 panics if an alignment is not a power of two. Without the debug_mem_utils build tag
// it does nothing.
func DebugCheckPow2[T Number](value T, name string) {
	err := CheckPow2[T](value, name)
	if err != nil {
		panic(err)
	}
}
