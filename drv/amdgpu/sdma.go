package amdgpu

import (
	"math"
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"github.com/vkngwrapper/gbm/memutils"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

const (
	maxCopyPerCommand uint64 = 0x3fff00
	copyCommandDwords uint64 = 7
	// boListPriority is the middle of the kernel's priority range
	boListPriority uint32 = 8
)

// sdma copies buffers with the system DMA engine. Uncached and VRAM buffers are slow to read from
// the CPU, so they are mapped through a cached shadow copy instead. An sdma without a command buffer
// is disabled.
type sdma struct {
	device kernel.Device
	logger *slog.Logger
	family uint32

	ctxID      uint32
	cmdbufBO   uint32
	cmdbufAddr uint64
	cmdbufSize uint64
	cmdbuf     []uint32
}

func (s *sdma) enabled() bool {
	return s.cmdbuf != nil
}

func (s *sdma) init(drmMinor int32, info *deviceInfo) (err error) {
	// submissions without a BO list handle need DRM 3.27
	if drmMinor < 27 {
		return nil
	}

	// the linear copy packet is only encoded this way from CI through NV
	if info.Family < FamilyCI || info.Family > FamilyNV {
		return nil
	}

	s.family = info.Family

	allocRequest := ctx{Op: ctxOpAllocCtx}
	err = kernel.Invoke(s.device, ioctlCtx, &allocRequest)
	if err != nil {
		return errors.Wrap(err, "failed to allocate an SDMA context")
	}
	s.ctxID = allocRequest.allocatedID()
	defer func() {
		if err != nil {
			s.freeContext()
		}
	}()

	s.cmdbufSize = memutils.AlignUp(uint64(4096), uint64(info.VirtualAddressAlignment))
	create := gemCreate{In: gemCreateIn{
		BOSize:    s.cmdbufSize,
		Alignment: 4096,
		Domains:   domainGTT,
	}}
	err = kernel.Invoke(s.device, ioctlGEMCreate, &create)
	if err != nil {
		return errors.Wrap(err, "failed to create the SDMA command buffer")
	}
	s.cmdbufBO = create.handle()
	defer func() {
		if err != nil {
			_ = s.device.GEMClose(s.cmdbufBO)
		}
	}()

	s.cmdbufAddr = memutils.AlignUp(info.VirtualAddressOffset, uint64(info.VirtualAddressAlignment))
	err = s.mapVA(s.cmdbufBO, s.cmdbufAddr, s.cmdbufSize, vmPageReadable|vmPageExecutable)
	if err != nil {
		return errors.Wrap(err, "failed to map the SDMA command buffer into the GPU address space")
	}
	defer func() {
		if err != nil {
			s.unmapVA(s.cmdbufBO, s.cmdbufAddr, s.cmdbufSize)
		}
	}()

	mmapRequest := gemMmap{Value: uint64(s.cmdbufBO)}
	err = kernel.Invoke(s.device, ioctlGEMMmap, &mmapRequest)
	if err != nil {
		return errors.Wrap(err, "DRM_IOCTL_AMDGPU_GEM_MMAP failed for the SDMA command buffer")
	}

	addr, err := s.device.Mmap(s.cmdbufSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED, mmapRequest.Value)
	if err != nil {
		s.logger.Error("failed to map the SDMA command buffer", slog.Any("error", err))
		return errors.Wrap(unix.ENOMEM, "failed to map the SDMA command buffer")
	}

	s.cmdbuf = unsafe.Slice((*uint32)(addr), s.cmdbufSize/4)
	return nil
}

func (s *sdma) freeContext() {
	request := ctx{
		Op:    ctxOpFreeCtx,
		CtxID: s.ctxID,
	}
	err := kernel.Invoke(s.device, ioctlCtx, &request)
	if err != nil {
		s.logger.Error("failed to free the SDMA context", slog.Any("error", err))
	}
}

func (s *sdma) mapVA(handle uint32, address, size uint64, flags uint32) error {
	request := gemVA{
		Handle:    handle,
		Operation: vaOpMap,
		Flags:     flags,
		VAAddress: address,
		MapSize:   size,
	}
	return kernel.Invoke(s.device, ioctlGEMVA, &request)
}

func (s *sdma) unmapVA(handle uint32, address, size uint64) {
	request := gemVA{
		Handle:    handle,
		Operation: vaOpUnmap,
		Flags:     vmDelayUpdate,
		VAAddress: address,
		MapSize:   size,
	}
	err := kernel.Invoke(s.device, ioctlGEMVA, &request)
	if err != nil {
		s.logger.Error("DRM_AMDGPU_GEM_VA unmap failed", slog.Int("Handle", int(handle)), slog.Any("error", err))
	}
}

func (s *sdma) finish() {
	if !s.enabled() {
		return
	}

	err := s.device.Munmap(unsafe.Pointer(&s.cmdbuf[0]), s.cmdbufSize)
	if err != nil {
		s.logger.Error("failed to unmap the SDMA command buffer", slog.Any("error", err))
	}
	s.cmdbuf = nil

	request := gemVA{
		Handle:    s.cmdbufBO,
		Operation: vaOpUnmap,
		VAAddress: s.cmdbufAddr,
		MapSize:   s.cmdbufSize,
	}
	err = kernel.Invoke(s.device, ioctlGEMVA, &request)
	if err != nil {
		s.logger.Error("DRM_AMDGPU_GEM_VA unmap failed", slog.Any("error", err))
	}

	err = s.device.GEMClose(s.cmdbufBO)
	if err != nil {
		s.logger.Error("failed to close the SDMA command buffer", slog.Any("error", err))
	}

	s.freeContext()
}

// copy moves size bytes from src to dst and waits for the engine to finish
func (s *sdma) copy(src, dst uint32, size uint64) error {
	maxCommands := s.cmdbufSize / (copyCommandDwords * 4)
	if size > math.MaxUint64-maxCopyPerCommand || memutils.DivRoundUp(size, maxCopyPerCommand) > maxCommands {
		return errors.Wrapf(unix.ENOMEM, "a %d byte copy does not fit in one SDMA submission", size)
	}

	// both buffers go directly after the command buffer in the GPU address space
	srcAddr := s.cmdbufAddr + s.cmdbufSize
	dstAddr := srcAddr + size

	err := s.mapVA(src, srcAddr, size, vmPageReadable|vmDelayUpdate)
	if err != nil {
		return err
	}
	defer s.unmapVA(src, srcAddr, size)

	err = s.mapVA(dst, dstAddr, size, vmPageReadable|vmPageWriteable|vmDelayUpdate)
	if err != nil {
		return err
	}
	defer s.unmapVA(dst, dstAddr, size)

	cmd := 0
	remaining := size
	currentSrc, currentDst := srcAddr, dstAddr
	for remaining > 0 {
		chunkSize := remaining
		if chunkSize > maxCopyPerCommand {
			chunkSize = maxCopyPerCommand
		}

		count := chunkSize
		// GFX9 and later encode the byte count minus one
		if s.family >= FamilyAI {
			count--
		}

		s.cmdbuf[cmd] = 0x01 // linear copy
		s.cmdbuf[cmd+1] = uint32(count)
		s.cmdbuf[cmd+2] = 0
		s.cmdbuf[cmd+3] = uint32(currentSrc)
		s.cmdbuf[cmd+4] = uint32(currentSrc >> 32)
		s.cmdbuf[cmd+5] = uint32(currentDst)
		s.cmdbuf[cmd+6] = uint32(currentDst >> 32)
		cmd += int(copyCommandDwords)

		remaining -= chunkSize
		currentSrc += chunkSize
		currentDst += chunkSize
	}

	ib := &csChunkIB{
		VAStart: s.cmdbufAddr,
		IBBytes: uint32(cmd * 4),
		IPType:  hwIPDMA,
	}
	entries := &[3]boListEntry{
		{BOHandle: s.cmdbufBO, BOPriority: boListPriority},
		{BOHandle: src, BOPriority: boListPriority},
		{BOHandle: dst, BOPriority: boListPriority},
	}
	boList := &boListIn{
		BONumber:   uint32(len(entries)),
		BOInfoSize: uint32(unsafe.Sizeof(boListEntry{})),
		BOInfoPtr:  kernel.Pointer(entries),
	}
	chunks := &[2]csChunk{
		{
			ChunkID:   chunkIDBOHandles,
			LengthDW:  uint32(unsafe.Sizeof(boListIn{}) / 4),
			ChunkData: kernel.Pointer(boList),
		},
		{
			ChunkID:   chunkIDIB,
			LengthDW:  uint32(unsafe.Sizeof(csChunkIB{}) / 4),
			ChunkData: kernel.Pointer(ib),
		},
	}
	chunkPointers := &[2]uint64{kernel.Pointer(&chunks[0]), kernel.Pointer(&chunks[1])}

	submit := cs{
		CtxID:     s.ctxID,
		NumChunks: uint32(len(chunks)),
		Chunks:    kernel.Pointer(chunkPointers),
	}
	err = kernel.Invoke(s.device, ioctlCS, &submit)
	runtime.KeepAlive(entries)
	runtime.KeepAlive(boList)
	runtime.KeepAlive(ib)
	runtime.KeepAlive(chunks)
	runtime.KeepAlive(chunkPointers)
	if err != nil {
		s.logger.Error("SDMA copy command buffer submission failed", slog.Any("error", err))
		return err
	}

	wait := waitCS{
		Handle:  submit.handle(),
		Timeout: math.MaxInt64,
		IPType:  hwIPDMA,
		CtxID:   s.ctxID,
	}
	err = kernel.Invoke(s.device, ioctlWaitCS, &wait)
	if err != nil {
		s.logger.Error("could not wait for the SDMA copy to finish", slog.Any("error", err))
		return err
	}

	if wait.Handle != 0 {
		s.logger.Error("infinite wait timed out, likely GPU hang")
		return errors.Wrap(unix.ENODEV, "SDMA copy did not finish")
	}

	return nil
}
