package formats

import (
	"fmt"

	"github.com/vkngwrapper/gbm/memutils"
)

// MaxPlanes is the largest number of planes a buffer can carry, including modifier-added auxiliary planes
const MaxPlanes = 4

type planeLayout struct {
	numPlanes           int
	horizontalSubsample [MaxPlanes]uint32
	verticalSubsample   [MaxPlanes]uint32
	bytesPerPixel       [MaxPlanes]uint32
}

func packedLayout(bytesPerPixel uint32) planeLayout {
	return planeLayout{
		numPlanes:           1,
		horizontalSubsample: [MaxPlanes]uint32{1},
		verticalSubsample:   [MaxPlanes]uint32{1},
		bytesPerPixel:       [MaxPlanes]uint32{bytesPerPixel},
	}
}

var (
	layout1x1 = packedLayout(1)
	layout1x2 = packedLayout(2)
	layout1x3 = packedLayout(3)
	layout1x4 = packedLayout(4)
	layout1x8 = packedLayout(8)

	layoutNV12 = planeLayout{
		numPlanes:           2,
		horizontalSubsample: [MaxPlanes]uint32{1, 2},
		verticalSubsample:   [MaxPlanes]uint32{1, 2},
		bytesPerPixel:       [MaxPlanes]uint32{1, 2},
	}
	layoutP010 = planeLayout{
		numPlanes:           2,
		horizontalSubsample: [MaxPlanes]uint32{1, 2},
		verticalSubsample:   [MaxPlanes]uint32{1, 2},
		bytesPerPixel:       [MaxPlanes]uint32{2, 4},
	}
	layoutYUV420 = planeLayout{
		numPlanes:           3,
		horizontalSubsample: [MaxPlanes]uint32{1, 2, 2},
		verticalSubsample:   [MaxPlanes]uint32{1, 2, 2},
		bytesPerPixel:       [MaxPlanes]uint32{1, 1, 1},
	}
)

var layouts = map[FourCC]*planeLayout{
	FormatR8: &layout1x1,

	FormatRGB565: &layout1x2,
	FormatBGR565: &layout1x2,
	FormatGR88:   &layout1x2,
	FormatRG88:   &layout1x2,
	FormatR16:    &layout1x2,
	FormatYUYV:   &layout1x2,
	FormatUYVY:   &layout1x2,

	FormatBGR888: &layout1x3,
	FormatRGB888: &layout1x3,

	FormatXRGB8888:    &layout1x4,
	FormatXBGR8888:    &layout1x4,
	FormatARGB8888:    &layout1x4,
	FormatABGR8888:    &layout1x4,
	FormatRGBX8888:    &layout1x4,
	FormatBGRX8888:    &layout1x4,
	FormatRGBA8888:    &layout1x4,
	FormatBGRA8888:    &layout1x4,
	FormatXRGB2101010: &layout1x4,
	FormatXBGR2101010: &layout1x4,
	FormatARGB2101010: &layout1x4,
	FormatABGR2101010: &layout1x4,

	FormatABGR16161616F: &layout1x8,

	FormatNV12: &layoutNV12,
	FormatNV21: &layoutNV12,
	FormatP010: &layoutP010,

	FormatYUV420:        &layoutYUV420,
	FormatYVU420:        &layoutYUV420,
	FormatYVU420Android: &layoutYUV420,
}

func layoutFor(format FourCC) *planeLayout {
	layout, ok := layouts[format]
	if !ok {
		panic(fmt.Sprintf("no plane layout for format %s", format))
	}
	return layout
}

// IsKnown reports whether the format has a plane layout. Flexible Android formats do not.
func IsKnown(format FourCC) bool {
	_, ok := layouts[format]
	return ok
}

// NumPlanes returns the intrinsic plane count of the format, or 0 if the format is unknown
func NumPlanes(format FourCC) int {
	layout, ok := layouts[format]
	if !ok {
		return 0
	}
	return layout.numPlanes
}

// IsYUV reports whether the format carries chroma planes or packed YCbCr samples
func IsYUV(format FourCC) bool {
	switch format {
	case FormatNV12, FormatNV21, FormatP010, FormatYUV420, FormatYVU420, FormatYVU420Android,
		FormatYUYV, FormatUYVY:
		return true
	}
	return false
}

// BytesPerPixel returns the number of bytes one horizontal sample occupies in the given plane
func BytesPerPixel(format FourCC, plane int) uint32 {
	return layoutFor(format).bytesPerPixel[plane]
}

// StrideFromFormat returns the minimum byte stride of one plane for a buffer width pixels wide
func StrideFromFormat(format FourCC, width uint32, plane int) uint32 {
	layout := layoutFor(format)
	stride := memutils.DivRoundUp(width, layout.horizontalSubsample[plane]) * layout.bytesPerPixel[plane]

	// Android YV12 requires 16-byte aligned chroma strides
	if format == FormatYVU420Android && plane > 0 {
		stride = memutils.AlignUp(stride, 16)
	}

	return stride
}

// HeightFromFormat returns the number of rows in one plane of a buffer height pixels tall
func HeightFromFormat(format FourCC, height uint32, plane int) uint32 {
	layout := layoutFor(format)
	return memutils.DivRoundUp(height, layout.verticalSubsample[plane])
}

// VerticalSubsampling returns the divisor applied to the buffer height for the given plane
func VerticalSubsampling(format FourCC, plane int) uint32 {
	return layoutFor(format).verticalSubsample[plane]
}

// SizeFromFormat returns the byte size of one plane given its stride and the buffer height
func SizeFromFormat(format FourCC, stride, height uint32, plane int) uint32 {
	return stride * HeightFromFormat(format, height, plane)
}

// SubsampleStride derives the stride of a chroma plane from the luma stride
func SubsampleStride(stride uint32, format FourCC, plane int) uint32 {
	if plane == 0 {
		return stride
	}

	switch format {
	case FormatYVU420, FormatYUV420:
		return memutils.DivRoundUp(stride, 2)
	case FormatYVU420Android:
		return memutils.AlignUp(stride/2, 16)
	}

	return stride
}

// BitsPerPixel returns the bits per pixel of plane 0, as used by dumb buffer creation
func BitsPerPixel(format FourCC) uint32 {
	return layoutFor(format).bytesPerPixel[0] * 8
}
