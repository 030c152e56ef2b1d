package virtgpu

import "github.com/vkngwrapper/gbm/internal/kernel"

// VIRTGPU_PARAM ids accepted by DRM_IOCTL_VIRTGPU_GETPARAM
const (
	param3DFeatures         uint64 = 1
	paramCapsetQueryFix     uint64 = 2
	paramResourceBlob       uint64 = 3
	paramHostVisible        uint64 = 4
	paramCrossDevice        uint64 = 5
	paramContextInit        uint64 = 6
	paramSupportedCapsetIDs uint64 = 7
	paramCreateGuestHandle  uint64 = 8
)

const capsetCrossDomain uint32 = 5

const (
	contextParamCapsetID uint64 = 0x0001
	contextParamNumRings uint64 = 0x0002

	execbufRingIdx uint32 = 0x04

	blobMemGuest  uint32 = 0x0001
	blobMemHost3D uint32 = 0x0002

	blobFlagUseMappable       uint32 = 0x0001
	blobFlagUseShareable      uint32 = 0x0002
	blobFlagUseCrossDevice    uint32 = 0x0004
	blobFlagCreateGuestHandle uint32 = 0x0008
)

// pipe texture target for 2D resources
const pipeTexture2D uint32 = 2

type getParam struct {
	Param uint64
	// Value is the address of an int the kernel writes the parameter to
	Value uint64
}

type mapRequest struct {
	Offset uint64
	Handle uint32
	_      uint32
}

type execbuffer struct {
	Flags        uint32
	Size         uint32
	Command      uint64
	BOHandles    uint64
	NumBOHandles uint32
	FenceFD      int32
	RingIdx      uint32
	_            uint32
}

type resourceCreate struct {
	Target    uint32
	Format    uint32
	Bind      uint32
	Width     uint32
	Height    uint32
	Depth     uint32
	ArraySize uint32
	LastLevel uint32
	NRSamples uint32
	Flags     uint32
	BOHandle  uint32
	ResHandle uint32
	Size      uint32
	Stride    uint32
}

type box struct {
	X uint32
	Y uint32
	Z uint32
	W uint32
	H uint32
	D uint32
}

// transfer is the payload of both TRANSFER_FROM_HOST and TRANSFER_TO_HOST
type transfer struct {
	BOHandle    uint32
	Box         box
	Level       uint32
	Offset      uint32
	Stride      uint32
	LayerStride uint32
}

type wait struct {
	Handle uint32
	Flags  uint32
}

type getCaps struct {
	CapSetID  uint32
	CapSetVer uint32
	Addr      uint64
	Size      uint32
	_         uint32
}

type resourceCreateBlob struct {
	BlobMem   uint32
	BlobFlags uint32
	BOHandle  uint32
	ResHandle uint32
	Size      uint64
	_         uint32
	CmdSize   uint32
	Cmd       uint64
	BlobID    uint64
}

type contextSetParam struct {
	Param uint64
	Value uint64
}

type contextInit struct {
	NumParams    uint32
	_            uint32
	CtxSetParams uint64
}

var (
	ioctlMap                = kernel.IOWR[mapRequest](kernel.CommandBase + 0x01)
	ioctlExecbuffer         = kernel.IOWR[execbuffer](kernel.CommandBase + 0x02)
	ioctlGetParam           = kernel.IOWR[getParam](kernel.CommandBase + 0x03)
	ioctlResourceCreate     = kernel.IOWR[resourceCreate](kernel.CommandBase + 0x04)
	ioctlTransferFromHost   = kernel.IOWR[transfer](kernel.CommandBase + 0x06)
	ioctlTransferToHost     = kernel.IOWR[transfer](kernel.CommandBase + 0x07)
	ioctlWait               = kernel.IOWR[wait](kernel.CommandBase + 0x08)
	ioctlGetCaps            = kernel.IOWR[getCaps](kernel.CommandBase + 0x09)
	ioctlResourceCreateBlob = kernel.IOWR[resourceCreateBlob](kernel.CommandBase + 0x0a)
	ioctlContextInit        = kernel.IOWR[contextInit](kernel.CommandBase + 0x0b)
)
