package formats_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gbm/formats"
)

func TestFourCCString(t *testing.T) {
	require.Equal(t, "NV12", formats.FormatNV12.String())
	require.Equal(t, "AR24", formats.FormatARGB8888.String())
	require.Equal(t, "R8  ", formats.FormatR8.String())
	require.Equal(t, "NONE", formats.FormatNone.String())
	require.Equal(t, "0x00000001", formats.FourCC(1).String())
}

func TestModifierString(t *testing.T) {
	require.Equal(t, "LINEAR", formats.ModifierLinear.String())
	require.Equal(t, "I915_Y_TILED_CCS", formats.ModifierI915YTiledCCS.String())
	require.Equal(t, uint8(1), formats.ModifierI915XTiled.Vendor())
	require.False(t, formats.ModifierI915XTiled.IsAMD())
	require.Equal(t, "0x0200000000000001", formats.Modifier(0x0200000000000001).String())
	require.True(t, formats.Modifier(0x0200000000000001).IsAMD())
}

func TestNumPlanes(t *testing.T) {
	testCases := map[string]struct {
		Format    formats.FourCC
		NumPlanes int
	}{
		"R8":            {Format: formats.FormatR8, NumPlanes: 1},
		"XRGB8888":      {Format: formats.FormatXRGB8888, NumPlanes: 1},
		"NV12":          {Format: formats.FormatNV12, NumPlanes: 2},
		"P010":          {Format: formats.FormatP010, NumPlanes: 2},
		"YVU420":        {Format: formats.FormatYVU420, NumPlanes: 3},
		"YVU420Android": {Format: formats.FormatYVU420Android, NumPlanes: 3},
		"Flexible":      {Format: formats.FormatFlexYCbCr420888, NumPlanes: 0},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, testCase.NumPlanes, formats.NumPlanes(testCase.Format))
		})
	}
}

func TestStrideFromFormat(t *testing.T) {
	require.Equal(t, uint32(7680), formats.StrideFromFormat(formats.FormatXRGB8888, 1920, 0))
	require.Equal(t, uint32(1920), formats.StrideFromFormat(formats.FormatNV12, 1920, 0))
	require.Equal(t, uint32(1920), formats.StrideFromFormat(formats.FormatNV12, 1920, 1))
	require.Equal(t, uint32(3844), formats.StrideFromFormat(formats.FormatP010, 1921, 1))
	require.Equal(t, uint32(961), formats.StrideFromFormat(formats.FormatYVU420, 1921, 1))
	require.Equal(t, uint32(976), formats.StrideFromFormat(formats.FormatYVU420Android, 1921, 2))
	require.Equal(t, uint32(24), formats.StrideFromFormat(formats.FormatABGR16161616F, 3, 0))
}

func TestHeightFromFormat(t *testing.T) {
	require.Equal(t, uint32(1080), formats.HeightFromFormat(formats.FormatNV12, 1080, 0))
	require.Equal(t, uint32(540), formats.HeightFromFormat(formats.FormatNV12, 1080, 1))
	require.Equal(t, uint32(541), formats.HeightFromFormat(formats.FormatYVU420, 1081, 2))
	require.Equal(t, uint32(2), formats.VerticalSubsampling(formats.FormatP010, 1))
}

func TestSubsampleStride(t *testing.T) {
	require.Equal(t, uint32(1920), formats.SubsampleStride(1920, formats.FormatNV12, 1))
	require.Equal(t, uint32(961), formats.SubsampleStride(1921, formats.FormatYVU420, 1))
	require.Equal(t, uint32(976), formats.SubsampleStride(1940, formats.FormatYVU420Android, 2))
	require.Equal(t, uint32(1940), formats.SubsampleStride(1940, formats.FormatYVU420Android, 0))
}

func TestSizeAndBits(t *testing.T) {
	require.Equal(t, uint32(1920*540), formats.SizeFromFormat(formats.FormatNV12, 1920, 1080, 1))
	require.Equal(t, uint32(32), formats.BitsPerPixel(formats.FormatARGB8888))
	require.Equal(t, uint32(8), formats.BitsPerPixel(formats.FormatNV12))
	require.True(t, formats.IsYUV(formats.FormatP010))
	require.False(t, formats.IsYUV(formats.FormatR8))
}

func TestUnknownFormatPanics(t *testing.T) {
	require.False(t, formats.IsKnown(formats.FormatFlexImplementationDefined))
	require.Panics(t, func() {
		formats.StrideFromFormat(formats.FormatFlexImplementationDefined, 64, 0)
	})
}
