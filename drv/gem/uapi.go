package gem

import "github.com/vkngwrapper/gbm/internal/kernel"

// gemCreate is the payload of DRM_MTK_GEM_CREATE, DRM_ROCKCHIP_GEM_CREATE and DRM_MSM_GEM_NEW,
// which share one layout
type gemCreate struct {
	Size   uint64
	Flags  uint32
	Handle uint32
}

// gemMapOffset is the payload of DRM_MTK_GEM_MAP_OFFSET and DRM_ROCKCHIP_GEM_MAP_OFFSET
type gemMapOffset struct {
	Handle uint32
	_      uint32
	Offset uint64
}

type msmGEMInfo struct {
	Handle uint32
	Info   uint32
	Value  uint64
	Len    uint32
	_      uint32
}

const (
	msmBOScanout uint32 = 0x00000001
	msmBOWC      uint32 = 0x00040000

	msmInfoGetOffset uint32 = 0x00
)

var (
	ioctlMediatekGEMCreate    = kernel.IOWR[gemCreate](kernel.CommandBase + 0x00)
	ioctlMediatekGEMMapOffset = kernel.IOWR[gemMapOffset](kernel.CommandBase + 0x01)

	ioctlRockchipGEMCreate    = kernel.IOWR[gemCreate](kernel.CommandBase + 0x00)
	ioctlRockchipGEMMapOffset = kernel.IOWR[gemMapOffset](kernel.CommandBase + 0x01)

	ioctlMSMGEMNew  = kernel.IOWR[gemCreate](kernel.CommandBase + 0x02)
	ioctlMSMGEMInfo = kernel.IOWR[msmGEMInfo](kernel.CommandBase + 0x03)
)
