package i915

import "github.com/vkngwrapper/gbm/internal/kernel"

const (
	paramChipsetID      int32 = 4
	paramNumFencesAvail int32 = 6
	paramHasLLC         int32 = 17
)

const (
	TilingNone uint32 = 0
	TilingX    uint32 = 1
	TilingY    uint32 = 2
	Tiling4    uint32 = 9
)

const (
	domainCPU uint32 = 0x01
	domainGTT uint32 = 0x40

	mmapWC uint64 = 0x1

	createExtProtectedContent uint32 = 1
)

type getParam struct {
	Param int32
	_     uint32
	Value uint64
}

type gemCreate struct {
	Size   uint64
	Handle uint32
	_      uint32
}

type userExtension struct {
	NextExtension uint64
	Name          uint32
	Flags         uint32
	_             [4]uint32
}

type createExtProtected struct {
	Base  userExtension
	Flags uint32
	_     uint32
}

type gemCreateExt struct {
	Size       uint64
	Handle     uint32
	Flags      uint32
	Extensions uint64
}

type gemSetTiling struct {
	Handle      uint32
	TilingMode  uint32
	Stride      uint32
	SwizzleMode uint32
}

type gemGetTiling struct {
	Handle          uint32
	TilingMode      uint32
	SwizzleMode     uint32
	PhysSwizzleMode uint32
}

type gemMmap struct {
	Handle  uint32
	_       uint32
	Offset  uint64
	Size    uint64
	AddrPtr uint64
	Flags   uint64
}

type gemMmapGTT struct {
	Handle uint32
	_      uint32
	Offset uint64
}

type gemSetDomain struct {
	Handle      uint32
	ReadDomains uint32
	WriteDomain uint32
}

var (
	ioctlGetParam     = kernel.IOWR[getParam](kernel.CommandBase + 0x06)
	ioctlGEMCreate    = kernel.IOWR[gemCreate](kernel.CommandBase + 0x1b)
	ioctlGEMCreateExt = kernel.IOWR[gemCreateExt](kernel.CommandBase + 0x1b)
	ioctlGEMMmap      = kernel.IOWR[gemMmap](kernel.CommandBase + 0x1e)
	ioctlGEMSetDomain = kernel.IOW[gemSetDomain](kernel.CommandBase + 0x1f)
	ioctlGEMSetTiling = kernel.IOWR[gemSetTiling](kernel.CommandBase + 0x21)
	ioctlGEMGetTiling = kernel.IOWR[gemGetTiling](kernel.CommandBase + 0x22)
	ioctlGEMMmapGTT   = kernel.IOWR[gemMmapGTT](kernel.CommandBase + 0x24)
)
