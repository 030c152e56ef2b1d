//go:build !debug_mem_utils

package memutils

// DebugValidate is a no-op without the debug_mem_utils build tag
func DebugValidate(validatable Validatable) {
}

// DebugCheckPow2 is a no-op without the debug_mem_utils build tag
func DebugCheckPow2[T Number](value T, name string) {
}
