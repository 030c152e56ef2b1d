package amdgpu

import "github.com/vkngwrapper/gbm/internal/kernel"

const (
	domainGTT  uint64 = 0x2
	domainVRAM uint64 = 0x4

	createCPUAccessRequired uint64 = 1 << 0
	createCPUGTTUSWC        uint64 = 1 << 2
	createEncrypted         uint64 = 1 << 10
)

const (
	ctxOpAllocCtx uint32 = 1
	ctxOpFreeCtx  uint32 = 2

	vaOpMap   uint32 = 1
	vaOpUnmap uint32 = 2

	vmDelayUpdate    uint32 = 1 << 0
	vmPageReadable   uint32 = 1 << 1
	vmPageWriteable  uint32 = 1 << 2
	vmPageExecutable uint32 = 1 << 3

	infoDevInfo uint32 = 0x16

	gemOpGetGEMCreateInfo uint32 = 0

	hwIPDMA uint32 = 2

	chunkIDIB        uint32 = 0x01
	chunkIDBOHandles uint32 = 0x06

	timeoutInfinite uint64 = ^uint64(0)
)

// GPU families, from amdgpu_drm.h
const (
	FamilySI uint32 = 110
	FamilyCI uint32 = 120
	FamilyKV uint32 = 125
	FamilyVI uint32 = 130
	FamilyCZ uint32 = 135
	FamilyAI uint32 = 141
	FamilyRV uint32 = 142
	FamilyNV uint32 = 143
)

// gemCreateIn is both the input of GEM_CREATE and the payload of GEM_OP_GET_GEM_CREATE_INFO
type gemCreateIn struct {
	BOSize      uint64
	Alignment   uint64
	Domains     uint64
	DomainFlags uint64
}

// union drm_amdgpu_gem_create. The kernel writes the handle over the start of the input.
type gemCreate struct {
	In gemCreateIn
}

func (c *gemCreate) handle() uint32 {
	return uint32(c.In.BOSize)
}

// union drm_amdgpu_gem_mmap
type gemMmap struct {
	// Handle on input, the fake mmap offset on output
	Value uint64
}

// union drm_amdgpu_ctx
type ctx struct {
	Op       uint32
	Flags    uint32
	CtxID    uint32
	Priority int32
}

// allocatedID reads the context id that ALLOC_CTX writes over the start of the payload
func (c *ctx) allocatedID() uint32 {
	return c.Op
}

type gemVA struct {
	Handle     uint32
	_          uint32
	Operation  uint32
	Flags      uint32
	VAAddress  uint64
	OffsetInBO uint64
	MapSize    uint64
}

// union drm_amdgpu_gem_wait_idle. Status overlays Handle on output.
type gemWaitIdle struct {
	Handle  uint32
	Flags   uint32
	Timeout uint64
}

type gemOp struct {
	Handle uint32
	Op     uint32
	Value  uint64
}

type info struct {
	ReturnPointer uint64
	ReturnSize    uint32
	Query         uint32
	_             [4]uint32
}

// deviceInfo is the leading part of struct drm_amdgpu_info_device. The kernel copies at most
// ReturnSize bytes, so the trailing fields can be left out.
type deviceInfo struct {
	DeviceID                 uint32
	ChipRev                  uint32
	ExternalRev              uint32
	PCIRev                   uint32
	Family                   uint32
	NumShaderEngines         uint32
	NumShaderArraysPerEngine uint32
	GPUCounterFreq           uint32
	MaxEngineClock           uint64
	MaxMemoryClock           uint64
	CUActiveNumber           uint32
	CUAOMask                 uint32
	CUBitmap                 [4][4]uint32
	EnabledRBPipesMask       uint32
	NumRBPipes               uint32
	NumHWGfxContexts         uint32
	_                        uint32
	IDsFlags                 uint64
	VirtualAddressOffset     uint64
	VirtualAddressMax        uint64
	VirtualAddressAlignment  uint32
	PTEFragmentSize          uint32
	GartPageSize             uint32
	CERAMSize                uint32
	VRAMType                 uint32
	VRAMBitWidth             uint32
	VCEHarvestConfig         uint32
	GCDoubleOffchipLDSBuf    uint32
}

type csChunk struct {
	ChunkID   uint32
	LengthDW  uint32
	ChunkData uint64
}

type csChunkIB struct {
	_          uint32
	Flags      uint32
	VAStart    uint64
	IBBytes    uint32
	IPType     uint32
	IPInstance uint32
	Ring       uint32
}

type boListIn struct {
	Operation  uint32
	ListHandle uint32
	BONumber   uint32
	BOInfoSize uint32
	BOInfoPtr  uint64
}

type boListEntry struct {
	BOHandle   uint32
	BOPriority uint32
}

// union drm_amdgpu_cs. The kernel writes the submission handle over CtxID and BOListHandle.
type cs struct {
	CtxID        uint32
	BOListHandle uint32
	NumChunks    uint32
	Flags        uint32
	Chunks       uint64
}

func (c *cs) handle() uint64 {
	return uint64(c.CtxID) | uint64(c.BOListHandle)<<32
}

// union drm_amdgpu_wait_cs. The kernel writes the status over Handle.
type waitCS struct {
	Handle     uint64
	Timeout    uint64
	IPType     uint32
	IPInstance uint32
	Ring       uint32
	CtxID      uint32
}

var (
	ioctlGEMCreate   = kernel.IOWR[gemCreate](kernel.CommandBase + 0x00)
	ioctlGEMMmap     = kernel.IOWR[gemMmap](kernel.CommandBase + 0x01)
	ioctlCtx         = kernel.IOWR[ctx](kernel.CommandBase + 0x02)
	ioctlCS          = kernel.IOWR[cs](kernel.CommandBase + 0x04)
	ioctlInfo        = kernel.IOW[info](kernel.CommandBase + 0x05)
	ioctlGEMWaitIdle = kernel.IOWR[gemWaitIdle](kernel.CommandBase + 0x07)
	ioctlGEMVA       = kernel.IOW[gemVA](kernel.CommandBase + 0x08)
	ioctlWaitCS      = kernel.IOWR[waitCS](kernel.CommandBase + 0x09)
	ioctlGEMOp       = kernel.IOWR[gemOp](kernel.CommandBase + 0x10)
)
