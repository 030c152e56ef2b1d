package formats

import "fmt"

// Modifier is a 64-bit DRM format modifier. The top byte names the vendor and the rest is a
// vendor-defined layout tag.
type Modifier uint64

const (
	vendorNone  uint64 = 0x00
	vendorIntel uint64 = 0x01
	vendorAMD   uint64 = 0x02

	reservedModifier uint64 = 0x00ffffffffffffff
)

func modifierCode(vendor, value uint64) Modifier {
	return Modifier((vendor << 56) | (value & reservedModifier))
}

var (
	ModifierLinear  = modifierCode(vendorNone, 0)
	ModifierInvalid = modifierCode(vendorNone, reservedModifier)

	ModifierI915XTiled           = modifierCode(vendorIntel, 1)
	ModifierI915YTiled           = modifierCode(vendorIntel, 2)
	ModifierI915YfTiled          = modifierCode(vendorIntel, 3)
	ModifierI915YTiledCCS        = modifierCode(vendorIntel, 4)
	ModifierI915YfTiledCCS       = modifierCode(vendorIntel, 5)
	ModifierI915YTiledGen12RCCCS = modifierCode(vendorIntel, 6)
	ModifierI915YTiledGen12MCCCS = modifierCode(vendorIntel, 7)
	Modifier4Tiled               = modifierCode(vendorIntel, 9)
)

var modifierNames = map[Modifier]string{}

func init() {
	modifierNames[ModifierLinear] = "LINEAR"
	modifierNames[ModifierInvalid] = "INVALID"
	modifierNames[ModifierI915XTiled] = "I915_X_TILED"
	modifierNames[ModifierI915YTiled] = "I915_Y_TILED"
	modifierNames[ModifierI915YfTiled] = "I915_Yf_TILED"
	modifierNames[ModifierI915YTiledCCS] = "I915_Y_TILED_CCS"
	modifierNames[ModifierI915YfTiledCCS] = "I915_Yf_TILED_CCS"
	modifierNames[ModifierI915YTiledGen12RCCCS] = "I915_Y_TILED_GEN12_RC_CCS"
	modifierNames[ModifierI915YTiledGen12MCCCS] = "I915_Y_TILED_GEN12_MC_CCS"
	modifierNames[Modifier4Tiled] = "I915_4_TILED"
}

// Vendor returns the vendor byte of the modifier
func (m Modifier) Vendor() uint8 {
	return uint8(uint64(m) >> 56)
}

// IsAMD reports whether the modifier belongs to the AMD vendor namespace
func (m Modifier) IsAMD() bool {
	return uint64(m.Vendor()) == vendorAMD
}

func (m Modifier) String() string {
	name, ok := modifierNames[m]
	if ok {
		return name
	}

	return fmt.Sprintf("0x%016x", uint64(m))
}
