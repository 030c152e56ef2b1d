// Package amdgpu allocates linear buffers on AMD GPUs through the amdgpu kernel driver
package amdgpu

import (
	"runtime"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"github.com/vkngwrapper/gbm/memutils"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// videoHeightAlignment is the height alignment Chrome's allocator applies to encoder and decoder buffers
const videoHeightAlignment uint32 = 16

var (
	renderTargetFormats = []formats.FourCC{
		formats.FormatABGR8888, formats.FormatARGB8888, formats.FormatRGB565, formats.FormatXBGR8888,
		formats.FormatXRGB8888, formats.FormatABGR2101010, formats.FormatARGB2101010,
		formats.FormatXBGR2101010, formats.FormatXRGB2101010, formats.FormatABGR16161616F,
	}
	textureSourceFormats = []formats.FourCC{
		formats.FormatGR88, formats.FormatR8, formats.FormatNV21, formats.FormatNV12,
		formats.FormatYVU420Android, formats.FormatYVU420, formats.FormatP010,
	}
	scanoutOnlyFormats = []formats.FourCC{
		formats.FormatABGR8888, formats.FormatXBGR8888, formats.FormatRGB565,
		formats.FormatABGR2101010, formats.FormatARGB2101010, formats.FormatXBGR2101010,
		formats.FormatXRGB2101010, formats.FormatNV21,
	}
)

// boPrivate caches the creation parameters GEM_OP reports for a buffer
type boPrivate struct {
	drv.PrivateBase
	createInfo gemCreateIn
}

// shadowVma is a cached GTT copy of a buffer that is mapped in its place
type shadowVma struct {
	drv.PrivateBase
	handle   uint32
	mapFlags drv.MapFlags
}

type Backend struct {
	drv.BackendBase

	device kernel.Device
	logger *slog.Logger
	combos *drv.Combinations

	drmMinor int32
	info     deviceInfo
	sdma     sdma
}

var _ drv.Creator = &Backend{}
var _ drv.ModifierCreator = &Backend{}
var _ drv.Releaser = &Backend{}
var _ drv.Invalidator = &Backend{}

func New() drv.Backend {
	return &Backend{}
}

func (b *Backend) Name() string {
	return "amdgpu"
}

func (b *Backend) queryDeviceInfo() error {
	request := info{
		ReturnPointer: kernel.Pointer(&b.info),
		ReturnSize:    uint32(unsafe.Sizeof(b.info)),
		Query:         infoDevInfo,
	}
	return kernel.Invoke(b.device, ioctlInfo, &request)
}

func (b *Backend) Init(ctx drv.InitContext) error {
	b.device = ctx.Device
	b.logger = ctx.Logger
	b.combos = ctx.Combinations

	version, err := b.device.Version()
	if err != nil {
		b.logger.Error("failed to read the DRM version", slog.Any("error", err))
		return errors.Wrap(unix.ENODEV, "failed to read the DRM version")
	}
	b.drmMinor = version.Minor

	err = b.queryDeviceInfo()
	if err != nil {
		b.logger.Error("AMDGPU_INFO_DEV_INFO failed", slog.Any("error", err))
		return errors.Wrap(unix.ENODEV, "failed to query amdgpu device info")
	}

	err = memutils.CheckPow2(b.info.VirtualAddressAlignment, "VirtualAddressAlignment")
	if err != nil {
		return errors.Wrap(err, "amdgpu reported an unusable GPU virtual address alignment")
	}

	b.logger.Debug("amdgpu::Init",
		slog.Int("DeviceID", int(b.info.DeviceID)),
		slog.Int("Family", int(b.info.Family)),
		slog.Int("DRMMinor", int(b.drmMinor)))

	b.sdma = sdma{
		device: b.device,
		logger: b.logger,
	}
	// mapping still works without SDMA, only more slowly
	err = b.sdma.init(b.drmMinor, &b.info)
	if err != nil {
		b.logger.Warn("SDMA init failed", slog.Any("error", err))
		b.sdma = sdma{}
	}

	b.addCombinations()
	return nil
}

func (b *Backend) addCombinations() {
	b.combos.AddAll(renderTargetFormats, drv.LinearMetadata, drv.UseRenderMask)
	b.combos.AddAll(textureSourceFormats, drv.LinearMetadata, drv.UseTextureMask)

	// NV12 serves camera, display, decode and encode
	b.combos.Modify(formats.FormatNV12, drv.LinearMetadata,
		drv.UseCameraRead|drv.UseCameraWrite|drv.UseScanout|drv.UseHWVideoDecoder|drv.UseHWVideoEncoder|
			drv.UseProtected)
	b.combos.Modify(formats.FormatP010, drv.LinearMetadata,
		drv.UseScanout|drv.UseHWVideoDecoder|drv.UseHWVideoEncoder|drv.UseProtected)

	// Android CTS
	b.combos.Add(formats.FormatBGR888, drv.LinearMetadata, drv.UseSWMask)

	b.combos.ModifyLinear()
	for _, format := range scanoutOnlyFormats {
		b.combos.Modify(format, drv.LinearMetadata, drv.UseScanout)
	}

	// R8 backs Android BLOB buffers: JPEG snapshots and codec bitstreams
	b.combos.Modify(formats.FormatR8, drv.LinearMetadata,
		drv.UseCameraRead|drv.UseCameraWrite|drv.UseHWVideoDecoder|drv.UseHWVideoEncoder|
			drv.UseGPUDataBuffer|drv.UseSensorDirectData)
}

func (b *Backend) Close() error {
	b.sdma.finish()
	b.info = deviceInfo{}
	return nil
}

func (b *Backend) createLinear(bo *drv.BO, width, height uint32, format formats.FourCC, useFlags drv.UseFlags) error {
	stride := formats.StrideFromFormat(format, width, 0)

	// Raven and Stoney need 256 byte aligned chroma strides, which a 512 byte luma stride guarantees
	if format == formats.FormatYVU420Android && (b.info.Family == FamilyRV || b.info.Family == FamilyCZ) {
		stride = memutils.AlignUp(stride, 512)
	} else {
		stride = memutils.AlignUp(stride, 256)
	}

	if useFlags&(drv.UseHWVideoDecoder|drv.UseHWVideoEncoder) != 0 {
		height = memutils.AlignUp(height, videoHeightAlignment)
	}

	drv.BOFromFormat(bo, stride, height, format)

	request := gemCreate{In: gemCreateIn{
		BOSize:    memutils.AlignUp(bo.Meta.TotalSize, uint64(b.info.VirtualAddressAlignment)),
		Alignment: 256,
		Domains:   domainGTT,
	}}

	if useFlags&(drv.UseLinear|drv.UseSWMask) != 0 {
		request.In.DomainFlags |= createCPUAccessRequired
	}

	// scanout from GTT requires USWC. Otherwise buffers read often by the CPU stay cached, since
	// uncached reads are very slow.
	if useFlags&drv.UseScanout != 0 || useFlags&drv.UseSWReadOften == 0 {
		request.In.DomainFlags |= createCPUGTTUSWC
	}

	// protected content is allocated from TMZ
	if useFlags&drv.UseProtected != 0 {
		request.In.DomainFlags |= createEncrypted
	}

	size := request.In.BOSize
	err := kernel.Invoke(b.device, ioctlGEMCreate, &request)
	if err != nil {
		b.logger.Error("DRM_AMDGPU_GEM_CREATE failed",
			slog.Uint64("Size", size),
			slog.Any("error", err))
		return err
	}

	handle := request.handle()
	for plane := 0; plane < bo.Meta.NumPlanes; plane++ {
		bo.Handles[plane] = handle
	}
	bo.Meta.FormatModifier = formats.ModifierLinear

	return nil
}

func (b *Backend) BOCreate(bo *drv.BO, width, height uint32, format formats.FourCC, useFlags drv.UseFlags) error {
	combo := b.combos.Get(format, useFlags)
	if combo == nil {
		return errors.Wrapf(unix.EINVAL, "no combination for format %s with usage %s", format, useFlags)
	}

	return b.createLinear(bo, width, height, format, useFlags)
}

// BOCreateWithModifiers allocates linear buffers only. Tiled AMD layouts are chosen by the userspace
// GL driver, which this package does not load.
func (b *Backend) BOCreateWithModifiers(bo *drv.BO, width, height uint32, format formats.FourCC, modifiers []formats.Modifier) error {
	for _, modifier := range modifiers {
		if modifier != formats.ModifierLinear {
			return errors.Wrapf(unix.EINVAL, "modifier %s needs a tiled allocation", modifier)
		}
	}

	return b.createLinear(bo, width, height, format, drv.UseScanout)
}

func (b *Backend) BOImport(bo *drv.BO, data *drv.ImportData) error {
	modifier := data.FormatModifier
	if modifier == formats.ModifierInvalid {
		combo := b.combos.Get(data.Format, data.UseFlags)
		if combo == nil {
			return errors.Wrapf(unix.EINVAL, "no combination for format %s with usage %s", data.Format, data.UseFlags)
		}
		modifier = combo.Metadata.Modifier
	}

	if modifier != formats.ModifierLinear {
		return errors.Wrapf(unix.EINVAL, "cannot import a buffer with modifier %s", modifier)
	}

	return drv.PrimeImport(b.device, bo, data)
}

// BORelease drops the cached creation parameters. A process that imports the buffer again queries
// them afresh.
func (b *Backend) BORelease(bo *drv.BO) error {
	bo.Priv = nil
	return nil
}

func (b *Backend) BODestroy(bo *drv.BO) error {
	bo.Priv = nil
	return drv.GEMDestroy(b.device, bo)
}

func (b *Backend) createInfo(bo *drv.BO, handle uint32) (gemCreateIn, error) {
	priv, ok := bo.Priv.(*boPrivate)
	if ok {
		return priv.createInfo, nil
	}

	createInfo := &gemCreateIn{}
	request := gemOp{
		Handle: handle,
		Op:     gemOpGetGEMCreateInfo,
		Value:  kernel.Pointer(createInfo),
	}
	err := kernel.Invoke(b.device, ioctlGEMOp, &request)
	runtime.KeepAlive(createInfo)
	if err != nil {
		b.logger.Error("AMDGPU_GEM_OP_GET_GEM_CREATE_INFO failed", slog.Any("error", err))
		return gemCreateIn{}, err
	}

	bo.Priv = &boPrivate{createInfo: *createInfo}
	return *createInfo, nil
}

// createShadow allocates a cached GTT buffer and copies the contents of src into it
func (b *Backend) createShadow(src uint32, size uint64) (uint32, error) {
	request := gemCreate{In: gemCreateIn{
		BOSize:    size,
		Alignment: 4096,
		Domains:   domainGTT,
	}}
	err := kernel.Invoke(b.device, ioctlGEMCreate, &request)
	if err != nil {
		b.logger.Error("DRM_AMDGPU_GEM_CREATE failed for the shadow buffer", slog.Any("error", err))
		return 0, err
	}
	shadow := request.handle()

	err = b.sdma.copy(src, shadow, size)
	if err != nil {
		b.logger.Error("SDMA copy for read failed", slog.Any("error", err))
		_ = b.device.GEMClose(shadow)
		return 0, err
	}

	return shadow, nil
}

func (b *Backend) BOMap(bo *drv.BO, vma *drv.Vma, plane int, mapFlags drv.MapFlags) (unsafe.Pointer, error) {
	handle := bo.Handles[plane]

	createInfo, err := b.createInfo(bo, handle)
	if err != nil {
		return nil, err
	}
	vma.Length = createInfo.BOSize

	var shadow *shadowVma
	slowRead := createInfo.Domains&domainVRAM != 0 || createInfo.DomainFlags&createCPUGTTUSWC != 0
	if slowRead && b.sdma.enabled() {
		shadowHandle, err := b.createShadow(bo.Handles[0], createInfo.BOSize)
		if err != nil {
			return nil, err
		}

		shadow = &shadowVma{
			handle:   shadowHandle,
			mapFlags: mapFlags,
		}
		handle = shadowHandle
	}

	addr, err := b.mmapHandle(handle, vma.Length, mapFlags)
	if err != nil {
		if shadow != nil {
			_ = b.device.GEMClose(shadow.handle)
		}
		return nil, err
	}

	if shadow != nil {
		vma.Priv = shadow
	}
	return addr, nil
}

func (b *Backend) mmapHandle(handle uint32, length uint64, mapFlags drv.MapFlags) (unsafe.Pointer, error) {
	request := gemMmap{Value: uint64(handle)}
	err := kernel.Invoke(b.device, ioctlGEMMmap, &request)
	if err != nil {
		b.logger.Error("DRM_IOCTL_AMDGPU_GEM_MMAP failed", slog.Any("error", err))
		return nil, err
	}

	return drv.MmapHandleOffset(b.device, length, mapFlags, request.Value)
}

func (b *Backend) BOUnmap(bo *drv.BO, vma *drv.Vma) error {
	err := drv.Munmap(b.device, vma)
	if err != nil {
		return err
	}

	shadow, ok := vma.Priv.(*shadowVma)
	if !ok {
		return nil
	}
	vma.Priv = nil

	var copyErr error
	if shadow.mapFlags&drv.MapWrite != 0 {
		copyErr = b.sdma.copy(shadow.handle, bo.Handles[0], vma.Length)
		if copyErr != nil {
			b.logger.Error("SDMA copy for write failed", slog.Any("error", copyErr))
		}
	}

	err = b.device.GEMClose(shadow.handle)
	if err != nil {
		b.logger.Error("failed to close the shadow buffer", slog.Any("error", err))
	}

	return copyErr
}

func (b *Backend) BOInvalidate(bo *drv.BO, mapping *drv.Mapping) error {
	request := gemWaitIdle{
		Handle:  bo.Handles[0],
		Timeout: timeoutInfinite,
	}
	err := kernel.Invoke(b.device, ioctlGEMWaitIdle, &request)
	if err != nil {
		b.logger.Error("DRM_AMDGPU_GEM_WAIT_IDLE failed", slog.Any("error", err))
		return err
	}

	// the status overlays the handle on return
	if request.Handle != 0 {
		b.logger.Warn("DRM_AMDGPU_GEM_WAIT_IDLE BO is busy", slog.Int("Handle", int(bo.Handles[0])))
	}

	return nil
}

func (b *Backend) ResolveFormatAndUseFlags(format formats.FourCC, useFlags drv.UseFlags) (formats.FourCC, drv.UseFlags) {
	return drv.ResolveFormatAndUseFlags(format, useFlags)
}
