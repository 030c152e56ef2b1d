package formats

import "fmt"

// FourCC is a DRM pixel format code: four ASCII characters packed little-endian into a uint32
type FourCC uint32

const (
	FormatNone FourCC = 0

	FormatR8   FourCC = 'R' | '8'<<8 | ' '<<16 | ' '<<24
	FormatR16  FourCC = 'R' | '1'<<8 | '6'<<16 | ' '<<24
	FormatGR88 FourCC = 'G' | 'R'<<8 | '8'<<16 | '8'<<24
	FormatRG88 FourCC = 'R' | 'G'<<8 | '8'<<16 | '8'<<24

	FormatRGB565 FourCC = 'R' | 'G'<<8 | '1'<<16 | '6'<<24
	FormatBGR565 FourCC = 'B' | 'G'<<8 | '1'<<16 | '6'<<24

	FormatBGR888 FourCC = 'B' | 'G'<<8 | '2'<<16 | '4'<<24
	FormatRGB888 FourCC = 'R' | 'G'<<8 | '2'<<16 | '4'<<24

	FormatXRGB8888 FourCC = 'X' | 'R'<<8 | '2'<<16 | '4'<<24
	FormatXBGR8888 FourCC = 'X' | 'B'<<8 | '2'<<16 | '4'<<24
	FormatRGBX8888 FourCC = 'R' | 'X'<<8 | '2'<<16 | '4'<<24
	FormatBGRX8888 FourCC = 'B' | 'X'<<8 | '2'<<16 | '4'<<24
	FormatARGB8888 FourCC = 'A' | 'R'<<8 | '2'<<16 | '4'<<24
	FormatABGR8888 FourCC = 'A' | 'B'<<8 | '2'<<16 | '4'<<24
	FormatRGBA8888 FourCC = 'R' | 'A'<<8 | '2'<<16 | '4'<<24
	FormatBGRA8888 FourCC = 'B' | 'A'<<8 | '2'<<16 | '4'<<24

	FormatXRGB2101010 FourCC = 'X' | 'R'<<8 | '3'<<16 | '0'<<24
	FormatXBGR2101010 FourCC = 'X' | 'B'<<8 | '3'<<16 | '0'<<24
	FormatARGB2101010 FourCC = 'A' | 'R'<<8 | '3'<<16 | '0'<<24
	FormatABGR2101010 FourCC = 'A' | 'B'<<8 | '3'<<16 | '0'<<24

	FormatABGR16161616F FourCC = 'A' | 'B'<<8 | '4'<<16 | 'H'<<24

	FormatYUYV FourCC = 'Y' | 'U'<<8 | 'Y'<<16 | 'V'<<24
	FormatUYVY FourCC = 'U' | 'Y'<<8 | 'V'<<16 | 'Y'<<24

	FormatNV12   FourCC = 'N' | 'V'<<8 | '1'<<16 | '2'<<24
	FormatNV21   FourCC = 'N' | 'V'<<8 | '2'<<16 | '1'<<24
	FormatP010   FourCC = 'P' | '0'<<8 | '1'<<16 | '0'<<24
	FormatYUV420 FourCC = 'Y' | 'U'<<8 | '1'<<16 | '2'<<24
	FormatYVU420 FourCC = 'Y' | 'V'<<8 | '1'<<16 | '2'<<24

	// FormatYVU420Android is YVU420 with the Android YV12 stride rules: the luma stride is
	// 32-byte aligned and each chroma stride is ALIGN(luma/2, 16)
	FormatYVU420Android FourCC = '9' | '9'<<8 | '9'<<16 | '7'<<24
	// FormatFlexImplementationDefined is the Android IMPLEMENTATION_DEFINED placeholder. It
	// never reaches a backend: ResolveFormatAndUseFlags replaces it with a concrete format.
	FormatFlexImplementationDefined FourCC = '9' | '9'<<8 | '9'<<16 | '8'<<24
	// FormatFlexYCbCr420888 is the Android flexible YUV 4:2:0 placeholder.
	FormatFlexYCbCr420888 FourCC = '9' | '9'<<8 | '9'<<16 | '9'<<24
)

func (f FourCC) String() string {
	if f == FormatNone {
		return "NONE"
	}

	b := []byte{byte(f), byte(f >> 8), byte(f >> 16), byte(f >> 24)}
	for _, c := range b {
		if c < 0x20 || c > 0x7e {
			return fmt.Sprintf("0x%08x", uint32(f))
		}
	}
	return string(b)
}
