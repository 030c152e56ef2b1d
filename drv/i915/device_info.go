package i915

import (
	"github.com/vkngwrapper/gbm/formats"
	"golang.org/x/exp/slices"
)

var (
	gen3IDs = []uint16{0x2582, 0x2592, 0x2772, 0x27A2, 0x27AE, 0x29C2, 0x29B2, 0x29D2, 0xA001, 0xA011}
	gen4IDs = []uint16{0x29A2, 0x2992, 0x2982, 0x2972, 0x2A02, 0x2A12, 0x2A42, 0x2E02, 0x2E12, 0x2E22,
		0x2E32, 0x2E42, 0x2E92}
	gen5IDs = []uint16{0x0042, 0x0046}
	gen6IDs = []uint16{0x0102, 0x0112, 0x0122, 0x0106, 0x0116, 0x0126, 0x010A}
	gen7IDs = []uint16{
		0x0152, 0x0162, 0x0156, 0x0166, 0x015a, 0x016a, 0x0402, 0x0412, 0x0422,
		0x0406, 0x0416, 0x0426, 0x040A, 0x041A, 0x042A, 0x040B, 0x041B, 0x042B,
		0x040E, 0x041E, 0x042E, 0x0C02, 0x0C12, 0x0C22, 0x0C06, 0x0C16, 0x0C26,
		0x0C0A, 0x0C1A, 0x0C2A, 0x0C0B, 0x0C1B, 0x0C2B, 0x0C0E, 0x0C1E, 0x0C2E,
		0x0A02, 0x0A12, 0x0A22, 0x0A06, 0x0A16, 0x0A26, 0x0A0A, 0x0A1A, 0x0A2A,
		0x0A0B, 0x0A1B, 0x0A2B, 0x0A0E, 0x0A1E, 0x0A2E, 0x0D02, 0x0D12, 0x0D22,
		0x0D06, 0x0D16, 0x0D26, 0x0D0A, 0x0D1A, 0x0D2A, 0x0D0B, 0x0D1B, 0x0D2B,
		0x0D0E, 0x0D1E, 0x0D2E, 0x0F31, 0x0F32, 0x0F33, 0x0157, 0x0155,
	}
	gen8IDs = []uint16{0x22B0, 0x22B1, 0x22B2, 0x22B3, 0x1602, 0x1606, 0x160A, 0x160B, 0x160D, 0x160E,
		0x1612, 0x1616, 0x161A, 0x161B, 0x161D, 0x161E, 0x1622, 0x1626, 0x162A, 0x162B, 0x162D, 0x162E}
	gen9IDs = []uint16{
		0x1902, 0x1906, 0x190A, 0x190B, 0x190E, 0x1912, 0x1913, 0x1915, 0x1916, 0x1917,
		0x191A, 0x191B, 0x191D, 0x191E, 0x1921, 0x1923, 0x1926, 0x1927, 0x192A, 0x192B,
		0x192D, 0x1932, 0x193A, 0x193B, 0x193D, 0x0A84, 0x1A84, 0x1A85, 0x5A84, 0x5A85,
		0x3184, 0x3185, 0x5902, 0x5906, 0x590A, 0x5908, 0x590B, 0x590E, 0x5913, 0x5915,
		0x5917, 0x5912, 0x5916, 0x591A, 0x591B, 0x591D, 0x591E, 0x5921, 0x5923, 0x5926,
		0x5927, 0x593B, 0x591C, 0x87C0, 0x87CA, 0x3E90, 0x3E93, 0x3E99, 0x3E9C, 0x3E91,
		0x3E92, 0x3E96, 0x3E98, 0x3E9A, 0x3E9B, 0x3E94, 0x3EA9, 0x3EA5, 0x3EA6, 0x3EA7,
		0x3EA8, 0x3EA1, 0x3EA4, 0x3EA0, 0x3EA3, 0x3EA2, 0x9B21, 0x9BA0, 0x9BA2, 0x9BA4,
		0x9BA5, 0x9BA8, 0x9BAA, 0x9BAB, 0x9BAC, 0x9B41, 0x9BC0, 0x9BC2, 0x9BC4, 0x9BC5,
		0x9BC6, 0x9BC8, 0x9BCA, 0x9BCB, 0x9BCC, 0x9BE6, 0x9BF6,
	}
	gen11IDs = []uint16{0x8A50, 0x8A51, 0x8A52, 0x8A53, 0x8A54, 0x8A56, 0x8A57, 0x8A58, 0x8A59, 0x8A5A,
		0x8A5B, 0x8A5C, 0x8A5D, 0x8A71, 0x4500, 0x4541, 0x4551, 0x4555, 0x4557, 0x4571, 0x4E51, 0x4E55,
		0x4E57, 0x4E61, 0x4E71}
	gen12IDs = []uint16{
		0x4c8a, 0x4c8b, 0x4c8c, 0x4c90, 0x4c9a, 0x4680, 0x4681, 0x4682, 0x4683, 0x4688,
		0x4689, 0x4690, 0x4691, 0x4692, 0x4693, 0x4698, 0x4699, 0x4626, 0x4628, 0x462a,
		0x46a0, 0x46a1, 0x46a2, 0x46a3, 0x46a6, 0x46a8, 0x46aa, 0x46b0, 0x46b1, 0x46b2,
		0x46b3, 0x46c0, 0x46c1, 0x46c2, 0x46c3, 0x9A40, 0x9A49, 0x9A59, 0x9A60, 0x9A68,
		0x9A70, 0x9A78, 0x9AC0, 0x9AC9, 0x9AD9, 0x9AF8, 0x4905, 0x4906, 0x4907, 0x4908,
	}
	adlpIDs = []uint16{0x46A0, 0x46A1, 0x46A2, 0x46A3, 0x46A6, 0x46A8, 0x46AA, 0x462A, 0x4626, 0x4628,
		0x46B0, 0x46B1, 0x46B2, 0x46B3, 0x46C0, 0x46C1, 0x46C2, 0x46C3, 0x46D0, 0x46D1, 0x46D2}
	rplpIDs = []uint16{0xA720, 0xA721, 0xA7A0, 0xA7A1, 0xA7A8, 0xA7A9}
	mtlIDs  = []uint16{0x7D40, 0x7D60, 0x7D45, 0x7D55, 0x7DD5}
)

var generationIDs = []struct {
	version int
	ids     []uint16
}{
	{version: 3, ids: gen3IDs},
	{version: 4, ids: gen4IDs},
	{version: 5, ids: gen5IDs},
	{version: 6, ids: gen6IDs},
	{version: 7, ids: gen7IDs},
	{version: 8, ids: gen8IDs},
	{version: 9, ids: gen9IDs},
	{version: 11, ids: gen11IDs},
	{version: 12, ids: gen12IDs},
}

var (
	genModifierOrder = []formats.Modifier{
		formats.ModifierI915YTiledCCS,
		formats.ModifierI915YTiled,
		formats.ModifierI915XTiled,
		formats.ModifierLinear,
	}
	gen11ModifierOrder = []formats.Modifier{
		formats.ModifierI915YTiled,
		formats.ModifierI915XTiled,
		formats.ModifierLinear,
	}
	gen12ModifierOrder = []formats.Modifier{
		formats.ModifierI915YTiledGen12RCCCS,
		formats.ModifierI915YTiled,
		formats.ModifierI915XTiled,
		formats.ModifierLinear,
	}
	xeLPDPModifierOrder = []formats.Modifier{
		formats.Modifier4Tiled,
		formats.ModifierI915XTiled,
		formats.ModifierLinear,
	}
)

func isCompressed(modifier formats.Modifier) bool {
	return modifier == formats.ModifierI915YTiledCCS || modifier == formats.ModifierI915YTiledGen12RCCCS
}

// withoutCompression returns a copy of order that skips the render-compressed modifiers
func withoutCompression(order []formats.Modifier) []formats.Modifier {
	filtered := make([]formats.Modifier, 0, len(order))
	for _, modifier := range order {
		if !isCompressed(modifier) {
			filtered = append(filtered, modifier)
		}
	}
	return filtered
}

// deviceInfo is what the backend knows about the GPU behind the device file
type deviceInfo struct {
	deviceID        uint16
	graphicsVersion int
	isXeLPD         bool
	isMTL           bool
	hasLLC          bool
	hasHWProtection bool
	numFencesAvail  int32
	modifierOrder   []formats.Modifier
}

// infoFromDeviceID classifies a PCI device id. Unknown ids are treated as gen 4.
func infoFromDeviceID(deviceID uint16) deviceInfo {
	info := deviceInfo{
		deviceID:        deviceID,
		graphicsVersion: 4,
	}

	for _, generation := range generationIDs {
		if slices.Contains(generation.ids, deviceID) {
			info.graphicsVersion = generation.version
		}
	}

	if slices.Contains(adlpIDs, deviceID) || slices.Contains(rplpIDs, deviceID) {
		info.isXeLPD = true
		info.graphicsVersion = 12
	}

	if slices.Contains(mtlIDs, deviceID) {
		info.isMTL = true
		info.graphicsVersion = 12
	}

	switch {
	case info.isMTL:
		info.modifierOrder = xeLPDPModifierOrder
	case info.graphicsVersion == 12:
		info.modifierOrder = gen12ModifierOrder
	case info.graphicsVersion == 11:
		info.modifierOrder = gen11ModifierOrder
	default:
		info.modifierOrder = genModifierOrder
	}

	info.hasHWProtection = info.graphicsVersion >= 12

	return info
}
