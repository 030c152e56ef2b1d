package drv

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"github.com/vkngwrapper/gbm/memutils"
	"golang.org/x/exp/slices"
	"golang.org/x/sys/unix"
)

// BOFromFormat fills the plane layout of a linear buffer from its luma stride and aligned height.
// Chroma strides are derived with formats.SubsampleStride and planes are packed back to back.
func BOFromFormat(bo *BO, stride, alignedHeight uint32, format formats.FourCC) {
	numPlanes := formats.NumPlanes(format)
	if numPlanes == 0 {
		panic(errors.AssertionFailedf("format %s has no planes", format))
	}

	var offset uint32
	for plane := 0; plane < numPlanes; plane++ {
		bo.Meta.Strides[plane] = formats.SubsampleStride(stride, format, plane)
		bo.Meta.Sizes[plane] = formats.SizeFromFormat(format, bo.Meta.Strides[plane], alignedHeight, plane)
		bo.Meta.Offsets[plane] = offset
		offset += bo.Meta.Sizes[plane]
	}

	bo.Meta.TotalSize = uint64(offset)
}

// PickModifier returns the first modifier in order, a backend's preference list, that the caller also
// allows. An empty intersection fails with EINVAL.
func PickModifier(allowed []formats.Modifier, order []formats.Modifier) (formats.Modifier, error) {
	for _, preferred := range order {
		if slices.Contains(allowed, preferred) {
			return preferred, nil
		}
	}

	return formats.ModifierInvalid, errors.Wrapf(unix.EINVAL, "none of the modifiers %v are supported", allowed)
}

// PrimeImport converts every plane fd of the import into a GEM handle. Handles already opened are
// closed again if a later plane fails.
func PrimeImport(device kernel.Device, bo *BO, data *ImportData) error {
	for plane := 0; plane < bo.Meta.NumPlanes; plane++ {
		handle, err := device.PrimeFDToHandle(data.FDs[plane])
		if err != nil {
			bo.Meta.NumPlanes = plane
			for _, opened := range bo.DistinctHandles() {
				_ = device.GEMClose(opened)
			}
			return err
		}

		bo.Handles[plane] = handle
	}

	bo.Meta.Tiling = data.Tiling
	return nil
}

// GEMDestroy closes each distinct plane handle once. Every handle is attempted and the first
// failure is returned.
func GEMDestroy(device kernel.Device, bo *BO) error {
	var result error
	for _, handle := range bo.DistinctHandles() {
		err := device.GEMClose(handle)
		if err != nil && result == nil {
			result = err
		}
	}

	return result
}

// Munmap releases the CPU mapping behind a Vma
func Munmap(device kernel.Device, vma *Vma) error {
	return device.Munmap(vma.Addr, vma.Length)
}

// ProtFromMapFlags converts map flags into mmap protection bits
func ProtFromMapFlags(mapFlags MapFlags) int {
	prot := 0
	if mapFlags&MapRead != 0 {
		prot |= unix.PROT_READ
	}
	if mapFlags&MapWrite != 0 {
		prot |= unix.PROT_WRITE
	}

	return prot
}

// MmapHandleOffset maps total bytes of the device at a fake offset handed out by a driver's mmap-offset ioctl
func MmapHandleOffset(device kernel.Device, length uint64, mapFlags MapFlags, offset uint64) (unsafe.Pointer, error) {
	return device.Mmap(length, ProtFromMapFlags(mapFlags), unix.MAP_SHARED, offset)
}

// ResolveFormatAndUseFlags replaces the Android flexible formats with concrete formats. Backends
// without special requirements return this directly.
func ResolveFormatAndUseFlags(format formats.FourCC, useFlags UseFlags) (formats.FourCC, UseFlags) {
	switch format {
	case formats.FormatFlexImplementationDefined:
		if useFlags&(UseCameraRead|UseCameraWrite) != 0 {
			return formats.FormatNV12, useFlags
		}
		// XBGR8888 is not encodable
		return formats.FormatXBGR8888, useFlags &^ UseHWVideoEncoder
	case formats.FormatFlexYCbCr420888:
		return formats.FormatNV12, useFlags
	case formats.FormatBGR565:
		return formats.FormatRGB565, useFlags
	case formats.FormatYVU420Android:
		return format, useFlags &^ UseScanout
	}

	return format, useFlags
}

// DumbCreate allocates a linear buffer with DRM_IOCTL_MODE_CREATE_DUMB. The kernel only knows
// about single-plane buffers, so multi-planar formats are allocated as one tall plane.
func DumbCreate(device kernel.Device, bo *BO, width, height uint32, format formats.FourCC, useFlags UseFlags) error {
	alignedWidth := width
	alignedHeight := height

	switch format {
	case formats.FormatR16:
		// Y16 widths are 32 pixel aligned
		alignedWidth = memutils.AlignUp(width, 32)
	case formats.FormatYVU420Android:
		// YV12 keeps the unaligned height for the plane layout
		alignedWidth = memutils.AlignUp(width, 32)
		alignedHeight = 3 * memutils.DivRoundUp(height, 2)
	case formats.FormatYVU420, formats.FormatNV12, formats.FormatNV21, formats.FormatP010:
		// room for the chroma planes
		alignedHeight = 3 * memutils.DivRoundUp(height, 2)
	}

	dumb, err := device.CreateDumb(alignedWidth, alignedHeight, formats.BitsPerPixel(format))
	if err != nil {
		return err
	}

	bo.Meta.Width = width
	bo.Meta.Height = height
	bo.Meta.Format = format
	bo.Meta.UseFlags = useFlags
	bo.Meta.NumPlanes = formats.NumPlanes(format)
	bo.Meta.FormatModifier = formats.ModifierLinear

	BOFromFormat(bo, dumb.Pitch, height, format)
	for plane := 0; plane < bo.Meta.NumPlanes; plane++ {
		bo.Handles[plane] = dumb.Handle
	}

	bo.Meta.TotalSize = dumb.Size
	return nil
}

// DumbDestroy releases a dumb buffer
func DumbDestroy(device kernel.Device, bo *BO) error {
	return device.DestroyDumb(bo.Handles[0])
}

// DumbMap maps every plane of a dumb buffer that shares the mapped handle
func DumbMap(device kernel.Device, bo *BO, vma *Vma, plane int, mapFlags MapFlags) (unsafe.Pointer, error) {
	offset, err := device.MapDumb(bo.Handles[plane])
	if err != nil {
		return nil, err
	}

	var length uint64
	for i := 0; i < bo.Meta.NumPlanes; i++ {
		if bo.Handles[i] == bo.Handles[plane] {
			length += uint64(bo.Meta.Sizes[i])
		}
	}
	vma.Length = length

	return MmapHandleOffset(device, length, mapFlags, offset)
}
