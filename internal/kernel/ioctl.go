package kernel

import (
	"unsafe"

	"github.com/NeowayLabs/drm"
	"github.com/NeowayLabs/drm/ioctl"
	"golang.org/x/exp/constraints"
)

// CommandBase is the first driver-private DRM ioctl number. Vendor ioctls are numbered from here.
const CommandBase uint8 = 0x40

// IOWR builds a read/write DRM ioctl request code for a payload of the given type
func IOWR[P any](nr uint8) uint32 {
	var payload P
	return uint32(ioctl.NewCode(ioctl.Read|ioctl.Write, uint16(unsafe.Sizeof(payload)), drm.IOCTLBase, nr))
}

// IOW builds a write-only DRM ioctl request code for a payload of the given type
func IOW[P any](nr uint8) uint32 {
	var payload P
	return uint32(ioctl.NewCode(ioctl.Write, uint16(unsafe.Sizeof(payload)), drm.IOCTLBase, nr))
}

// Invoke issues an ioctl against the device with a typed payload
func Invoke[C constraints.Integer, P any](device Device, code C, payload *P) error {
	return device.Ioctl(uint32(code), unsafe.Pointer(payload))
}

var escapeSink struct {
	enabled bool
	value   any
}

// escape forces value onto the heap. Goroutine stacks move, so memory the kernel reaches through an
// integer address must not live on one.
func escape(value any) {
	if escapeSink.enabled {
		escapeSink.value = value
	}
}

// Pointer converts a pointer into the u64 form the kernel UAPI structs carry. The caller must keep
// the pointee alive until the ioctl returns.
func Pointer[T any](ptr *T) uint64 {
	escape(ptr)
	return uint64(uintptr(unsafe.Pointer(ptr)))
}
