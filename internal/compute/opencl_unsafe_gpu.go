//go:build gpu

package compute

import "unsafe"

func unsafePointerOf[T any](v *T) unsafe.Pointer {
	return unsafe.Pointer(v)
}

func unsafeSizeof[T any](v T) uintptr {
	return unsafe.Sizeof(v)
}
