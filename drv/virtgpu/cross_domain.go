package virtgpu

import (
	"runtime"
	"sync"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// Cross-domain protocol, shared with the host
const (
	crossDomainCmdInit                 uint8 = 1
	crossDomainCmdGetImageRequirements uint8 = 2

	crossDomainQueryRing uint32 = 0
	crossDomainNumRings  uint64 = 2
)

type crossDomainCapabilities struct {
	Version                   uint32
	SupportedChannels         uint32
	SupportsDmabuf            uint32
	SupportsExternalGPUMemory uint32
}

type crossDomainHeader struct {
	Cmd         uint8
	FenceCtxIdx uint8
	CmdSize     uint16
	_           uint32
}

type crossDomainInit struct {
	Header        crossDomainHeader
	QueryRingID   uint32
	ChannelRingID uint32
	ChannelType   uint32
}

type crossDomainGetImageRequirements struct {
	Header    crossDomainHeader
	Width     uint32
	Height    uint32
	DRMFormat uint32
	Flags     uint32
}

// crossDomainImageRequirements is what the host writes to the query ring in reply
type crossDomainImageRequirements struct {
	Strides           [formats.MaxPlanes]uint32
	Offsets           [formats.MaxPlanes]uint32
	Modifier          uint64
	Size              uint64
	BlobID            uint32
	MapInfo           uint32
	MemoryIdx         int32
	PhysicalDeviceIdx int32
}

var crossDomainRenderFormats = []formats.FourCC{
	formats.FormatABGR2101010, formats.FormatABGR8888, formats.FormatARGB2101010, formats.FormatARGB8888,
	formats.FormatRGB565, formats.FormatXBGR2101010, formats.FormatXBGR8888, formats.FormatXRGB2101010,
	formats.FormatXRGB8888,
}

var crossDomainTextureFormats = []formats.FourCC{
	formats.FormatR8, formats.FormatNV12, formats.FormatNV21, formats.FormatP010, formats.FormatYVU420,
	formats.FormatYVU420Android,
}

type requirementsKey struct {
	Width    uint32
	Height   uint32
	Format   formats.FourCC
	UseFlags drv.UseFlags
}

type cachedRequirements struct {
	key  requirementsKey
	meta drv.Metadata
}

// crossDomain asks the host compositor for buffer layouts and allocates host memory blobs that the guest
// maps directly
type crossDomain struct {
	device kernel.Device
	logger *slog.Logger
	params *params

	ringHandle uint32
	ringAddr   unsafe.Pointer

	// ringMutex serializes use of the query ring and guards metadataCache. It is never held together
	// with the driver's own locks.
	ringMutex     sync.Mutex
	metadataCache []cachedRequirements
}

func (c *crossDomain) name() string {
	return "cross-domain"
}

func (c *crossDomain) init(ctx drv.InitContext, params *params) (err error) {
	c.device = ctx.Device
	c.logger = ctx.Logger
	c.params = params

	if params[paramContextInit] == 0 || params[paramResourceBlob] == 0 {
		return errors.Wrap(unix.ENOTSUP, "cross-domain needs context init and blob resources")
	}

	if params[paramHostVisible] == 0 && params[paramCreateGuestHandle] == 0 {
		return errors.Wrap(unix.ENOTSUP, "cross-domain needs host visible memory or guest handles")
	}

	if params[paramSupportedCapsetIDs]&(1<<capsetCrossDomain) == 0 {
		return errors.Wrap(unix.ENOTSUP, "the host does not offer the cross-domain capset")
	}

	caps := &crossDomainCapabilities{}
	capsRequest := getCaps{
		CapSetID: capsetCrossDomain,
		Addr:     kernel.Pointer(caps),
		Size:     uint32(unsafe.Sizeof(*caps)),
	}
	err = kernel.Invoke(c.device, ioctlGetCaps, &capsRequest)
	runtime.KeepAlive(caps)
	if err != nil {
		return errors.Wrap(err, "DRM_IOCTL_VIRTGPU_GET_CAPS failed")
	}

	if caps.SupportsDmabuf == 0 {
		return errors.Wrap(unix.ENOTSUP, "the host cannot share dma-bufs")
	}

	if caps.SupportsExternalGPUMemory == 0 {
		return errors.Wrap(unix.ENOTSUP, "the host cannot export GPU memory")
	}

	setParams := &[2]contextSetParam{
		{Param: contextParamCapsetID, Value: uint64(capsetCrossDomain)},
		{Param: contextParamNumRings, Value: crossDomainNumRings},
	}
	initRequest := contextInit{
		NumParams:    uint32(len(setParams)),
		CtxSetParams: kernel.Pointer(setParams),
	}
	err = kernel.Invoke(c.device, ioctlContextInit, &initRequest)
	runtime.KeepAlive(setParams)
	if err != nil {
		return errors.Wrap(err, "DRM_IOCTL_VIRTGPU_CONTEXT_INIT failed")
	}

	// a shared page the host writes query replies to
	ringRequest := resourceCreateBlob{
		BlobMem:   blobMemGuest,
		BlobFlags: blobFlagUseMappable,
		Size:      pageSize,
	}
	err = kernel.Invoke(c.device, ioctlResourceCreateBlob, &ringRequest)
	if err != nil {
		return errors.Wrap(err, "failed to create the query ring")
	}
	c.ringHandle = ringRequest.BOHandle
	defer func() {
		if err != nil {
			_ = c.device.GEMClose(c.ringHandle)
		}
	}()

	ringMap := mapRequest{Handle: c.ringHandle}
	err = kernel.Invoke(c.device, ioctlMap, &ringMap)
	if err != nil {
		return errors.Wrap(err, "DRM_IOCTL_VIRTGPU_MAP failed for the query ring")
	}

	c.ringAddr, err = c.device.Mmap(pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED, ringMap.Offset)
	if err != nil {
		return errors.Wrap(err, "failed to map the query ring")
	}
	defer func() {
		if err != nil {
			_ = c.device.Munmap(c.ringAddr, pageSize)
			c.ringAddr = nil
		}
	}()

	initCmd := crossDomainInit{
		Header: crossDomainHeader{
			Cmd:     crossDomainCmdInit,
			CmdSize: uint16(unsafe.Sizeof(crossDomainInit{})),
		},
		QueryRingID: ringRequest.ResHandle,
	}
	err = submitCommand(c, &initCmd, false)
	if err != nil {
		return err
	}

	c.addCombinations(ctx.Combinations)
	return nil
}

func (c *crossDomain) addCombinations(combos *drv.Combinations) {
	combos.AddAll(crossDomainRenderFormats, drv.LinearMetadata, drv.UseRenderMask|drv.UseScanout)
	combos.AddAll(crossDomainTextureFormats, drv.LinearMetadata, drv.UseTextureMask)

	// Android CTS
	combos.Add(formats.FormatBGR888, drv.LinearMetadata, drv.UseSWMask)

	combos.Modify(formats.FormatYVU420, drv.LinearMetadata, drv.UseHWVideoEncoder)
	combos.Modify(formats.FormatNV12, drv.LinearMetadata,
		drv.UseCameraRead|drv.UseCameraWrite|drv.UseHWVideoDecoder|drv.UseHWVideoEncoder)

	// R8 backs Android BLOB buffers
	combos.Modify(formats.FormatR8, drv.LinearMetadata,
		drv.UseCameraRead|drv.UseCameraWrite|drv.UseHWVideoDecoder|drv.UseHWVideoEncoder|
			drv.UseSensorDirectData|drv.UseGPUDataBuffer)
}

func (c *crossDomain) close() {
	if c.ringAddr != nil {
		err := c.device.Munmap(c.ringAddr, pageSize)
		if err != nil {
			c.logger.Error("failed to unmap the query ring", slog.Any("error", err))
		}
		c.ringAddr = nil
	}

	err := c.device.GEMClose(c.ringHandle)
	if err != nil {
		c.logger.Error("failed to close the query ring", slog.Any("error", err))
	}
}

// submitCommand sends one cross-domain command on the query ring. With waitForHost set it returns only
// once the host has written its reply.
func submitCommand[C any](c *crossDomain, command *C, waitForHost bool) error {
	handles := &[1]uint32{c.ringHandle}
	request := execbuffer{
		Flags:        execbufRingIdx,
		Size:         uint32(unsafe.Sizeof(*command)),
		Command:      kernel.Pointer(command),
		BOHandles:    kernel.Pointer(handles),
		NumBOHandles: uint32(len(handles)),
		RingIdx:      crossDomainQueryRing,
	}
	err := kernel.Invoke(c.device, ioctlExecbuffer, &request)
	runtime.KeepAlive(command)
	runtime.KeepAlive(handles)
	if err != nil {
		c.logger.Error("DRM_IOCTL_VIRTGPU_EXECBUFFER failed", slog.Any("error", err))
		return err
	}

	if !waitForHost {
		return nil
	}

	return waitForHandle(c.device, c.ringHandle)
}

// waitForHandle blocks until the host is done with a resource, retrying while the kernel reports the
// resource busy
func waitForHandle(device kernel.Device, handle uint32) error {
	request := wait{Handle: handle}
	for {
		err := kernel.Invoke(device, ioctlWait, &request)
		if errors.Is(err, unix.EBUSY) || errors.Is(err, unix.EAGAIN) {
			continue
		}

		return err
	}
}

// imageRequirements fills the layout of bo from the host, or from an earlier identical query
func (c *crossDomain) imageRequirements(bo *drv.BO) error {
	key := requirementsKey{
		Width:    bo.Meta.Width,
		Height:   bo.Meta.Height,
		Format:   bo.Meta.Format,
		UseFlags: bo.Meta.UseFlags,
	}

	c.ringMutex.Lock()
	defer c.ringMutex.Unlock()

	for _, cached := range c.metadataCache {
		if cached.key == key {
			bo.Meta = cached.meta
			return nil
		}
	}

	// the host only knows the standard YV12 layout
	format := key.Format
	if format == formats.FormatYVU420Android {
		format = formats.FormatYVU420
	}

	request := crossDomainGetImageRequirements{
		Header: crossDomainHeader{
			Cmd:     crossDomainCmdGetImageRequirements,
			CmdSize: uint16(unsafe.Sizeof(crossDomainGetImageRequirements{})),
		},
		Width:     key.Width,
		Height:    key.Height,
		DRMFormat: uint32(format),
		Flags:     uint32(key.UseFlags),
	}
	err := submitCommand(c, &request, true)
	if err != nil {
		return err
	}

	reply := *(*crossDomainImageRequirements)(c.ringAddr)
	if reply.Size == 0 {
		return errors.Wrapf(unix.EINVAL, "the host cannot allocate format %s with usage %s", key.Format, key.UseFlags)
	}

	bo.Meta.TotalSize = reply.Size
	bo.Meta.FormatModifier = formats.Modifier(reply.Modifier)
	bo.Meta.BlobID = reply.BlobID
	bo.Meta.MapInfo = reply.MapInfo
	for plane := 0; plane < bo.Meta.NumPlanes; plane++ {
		bo.Meta.Strides[plane] = reply.Strides[plane]
		bo.Meta.Offsets[plane] = reply.Offsets[plane]

		if plane+1 < bo.Meta.NumPlanes {
			bo.Meta.Sizes[plane] = reply.Offsets[plane+1] - reply.Offsets[plane]
		} else {
			bo.Meta.Sizes[plane] = uint32(reply.Size) - reply.Offsets[plane]
		}
	}

	c.metadataCache = append(c.metadataCache, cachedRequirements{
		key:  key,
		meta: bo.Meta,
	})
	return nil
}

func (c *crossDomain) BOCreate(bo *drv.BO, width, height uint32, format formats.FourCC, useFlags drv.UseFlags) error {
	err := c.imageRequirements(bo)
	if err != nil {
		return err
	}

	request := resourceCreateBlob{
		BlobFlags: blobFlagUseShareable,
		Size:      bo.Meta.TotalSize,
		BlobID:    uint64(bo.Meta.BlobID),
	}

	if useFlags&(drv.UseSWMask|drv.UseGPUDataBuffer) != 0 {
		request.BlobFlags |= blobFlagUseMappable
	}

	if c.params[paramCrossDevice] != 0 {
		request.BlobFlags |= blobFlagUseCrossDevice
	}

	// guest memory wins when both kinds are available
	if c.params[paramCreateGuestHandle] != 0 {
		request.BlobMem = blobMemGuest
		request.BlobFlags |= blobFlagCreateGuestHandle
	} else if c.params[paramHostVisible] != 0 {
		request.BlobMem = blobMemHost3D
	}

	err = kernel.Invoke(c.device, ioctlResourceCreateBlob, &request)
	if err != nil {
		c.logger.Error("DRM_VIRTGPU_RESOURCE_CREATE_BLOB failed", slog.Any("error", err))
		return err
	}

	for plane := 0; plane < bo.Meta.NumPlanes; plane++ {
		bo.Handles[plane] = request.BOHandle
	}

	return nil
}

func (c *crossDomain) BOImport(bo *drv.BO, data *drv.ImportData) error {
	return drv.PrimeImport(c.device, bo, data)
}

func (c *crossDomain) BODestroy(bo *drv.BO) error {
	return drv.GEMDestroy(c.device, bo)
}

func (c *crossDomain) BOMap(bo *drv.BO, vma *drv.Vma, plane int, mapFlags drv.MapFlags) (unsafe.Pointer, error) {
	return mapBlob(c.device, c.logger, bo, vma, mapFlags)
}

func (c *crossDomain) BOUnmap(bo *drv.BO, vma *drv.Vma) error {
	return drv.Munmap(c.device, vma)
}

// BOInvalidate does nothing: guest and host share the memory of a blob
func (c *crossDomain) BOInvalidate(bo *drv.BO, mapping *drv.Mapping) error {
	return nil
}

func (c *crossDomain) BOFlush(bo *drv.BO, mapping *drv.Mapping) error {
	return nil
}
