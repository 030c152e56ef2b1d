// Package i915 allocates buffers on Intel integrated and discrete GPUs through the i915 kernel driver.
//
// Layouts are chosen in two phases. BOComputeMetadata picks a modifier from the combination table or
// from the caller's modifier list, in the generation's preference order, and lays out the planes for
// it. BOCreateFromMetadata then allocates one GEM object large enough for every plane and programs
// its fence tiling when the GPU has fences.
package i915

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

var (
	scanoutRenderFormats = []formats.FourCC{
		formats.FormatABGR2101010, formats.FormatABGR8888, formats.FormatARGB2101010,
		formats.FormatARGB8888, formats.FormatRGB565, formats.FormatXBGR2101010,
		formats.FormatXBGR8888, formats.FormatXRGB2101010, formats.FormatXRGB8888,
	}
	renderFormats      = []formats.FourCC{formats.FormatABGR16161616F}
	textureOnlyFormats = []formats.FourCC{
		formats.FormatR8, formats.FormatNV12, formats.FormatP010, formats.FormatYVU420,
		formats.FormatYVU420Android,
	}
)

var (
	linearMetadata = drv.CombinationMetadata{
		Tiling:   TilingNone,
		Priority: 1,
		Modifier: formats.ModifierLinear,
	}
	xTiledMetadata = drv.CombinationMetadata{
		Tiling:   TilingX,
		Priority: 2,
		Modifier: formats.ModifierI915XTiled,
	}
	yTiledMetadata = drv.CombinationMetadata{
		Tiling:   TilingY,
		Priority: 3,
		Modifier: formats.ModifierI915YTiled,
	}
	tile4Metadata = drv.CombinationMetadata{
		Tiling:   Tiling4,
		Priority: 3,
		Modifier: formats.Modifier4Tiled,
	}
)

const linearOnlyUse = drv.UseRenderscript | drv.UseLinear | drv.UseSWRead | drv.UseSWWrite

type Backend struct {
	drv.BackendBase

	device      kernel.Device
	logger      *slog.Logger
	combos      *drv.Combinations
	compression bool
	pageSize    uint32

	info deviceInfo
	// modifierOrder is the device preference with compressed modifiers removed when compression is off
	modifierOrder []formats.Modifier
}

var _ drv.MetadataComputer = &Backend{}
var _ drv.Invalidator = &Backend{}
var _ drv.Flusher = &Backend{}
var _ drv.ModifierPlaneCounter = &Backend{}

func New() drv.Backend {
	return &Backend{
		pageSize: uint32(unix.Getpagesize()),
	}
}

func (b *Backend) Name() string {
	return "i915"
}

func (b *Backend) getParam(param int32, value *int32) error {
	request := getParam{
		Param: param,
		Value: kernel.Pointer(value),
	}
	return kernel.Invoke(b.device, ioctlGetParam, &request)
}

func (b *Backend) Init(ctx drv.InitContext) error {
	b.device = ctx.Device
	b.logger = ctx.Logger
	b.combos = ctx.Combinations
	b.compression = ctx.Config.Compression

	var deviceID int32
	err := b.getParam(paramChipsetID, &deviceID)
	if err != nil {
		b.logger.Error("failed to get I915_PARAM_CHIPSET_ID", slog.Any("error", err))
		return errors.Wrap(unix.EINVAL, "failed to get I915_PARAM_CHIPSET_ID")
	}
	b.info = infoFromDeviceID(uint16(deviceID))
	b.modifierOrder = b.info.modifierOrder
	if !b.compression {
		b.modifierOrder = withoutCompression(b.modifierOrder)
	}

	var hasLLC int32
	err = b.getParam(paramHasLLC, &hasLLC)
	if err != nil {
		b.logger.Error("failed to get I915_PARAM_HAS_LLC", slog.Any("error", err))
		return errors.Wrap(unix.EINVAL, "failed to get I915_PARAM_HAS_LLC")
	}
	b.info.hasLLC = hasLLC != 0

	err = b.getParam(paramNumFencesAvail, &b.info.numFencesAvail)
	if err != nil {
		b.logger.Error("failed to get I915_PARAM_NUM_FENCES_AVAIL", slog.Any("error", err))
		return errors.Wrap(unix.EINVAL, "failed to get I915_PARAM_NUM_FENCES_AVAIL")
	}

	b.logger.Debug("i915::Init",
		slog.Int("DeviceID", int(b.info.deviceID)),
		slog.Int("GraphicsVersion", b.info.graphicsVersion),
		slog.Bool("HasLLC", b.info.hasLLC),
		slog.Int("NumFencesAvail", int(b.info.numFencesAvail)))

	b.addCombinations()
	return nil
}

func (b *Backend) addCombinations() {
	var hwProtected drv.UseFlags
	if b.info.hasHWProtection {
		// protected buffers must also be scanned out
		hwProtected = drv.UseProtected | drv.UseScanout
	}

	scanoutAndRender := drv.UseRenderMask | drv.UseScanout

	b.combos.AddAll(scanoutRenderFormats, linearMetadata, scanoutAndRender)
	b.combos.AddAll(renderFormats, linearMetadata, drv.UseRenderMask)
	b.combos.AddAll(textureOnlyFormats, linearMetadata, drv.UseTextureMask)

	b.combos.ModifyLinear()

	// the IPU3 camera ISP only produces NV12
	b.combos.Modify(formats.FormatNV12, linearMetadata,
		drv.UseCameraRead|drv.UseCameraWrite|drv.UseScanout|drv.UseHWVideoDecoder|drv.UseHWVideoEncoder|hwProtected)

	b.combos.Add(formats.FormatBGR888, linearMetadata, drv.UseSWMask)

	// R8 backs Android BLOB buffers: JPEG snapshots and codec bitstreams
	b.combos.Modify(formats.FormatR8, linearMetadata,
		drv.UseCameraRead|drv.UseCameraWrite|drv.UseHWVideoDecoder|drv.UseHWVideoEncoder|
			drv.UseGPUDataBuffer|drv.UseSensorDirectData)

	renderNotLinear := drv.UseRenderMask &^ linearOnlyUse
	scanoutAndRenderNotLinear := renderNotLinear | drv.UseScanout

	b.combos.AddAll(renderFormats, xTiledMetadata, renderNotLinear)
	b.combos.AddAll(scanoutRenderFormats, xTiledMetadata, scanoutAndRenderNotLinear)

	tiledMetadata := yTiledMetadata
	if b.info.isMTL {
		tiledMetadata = tile4Metadata
	}

	videoUse := drv.UseTexture | drv.UseHWVideoDecoder
	b.combos.Add(formats.FormatNV12, tiledMetadata, videoUse)
	b.combos.Add(formats.FormatP010, tiledMetadata, videoUse)
	b.combos.AddAll(renderFormats, tiledMetadata, renderNotLinear)
	// tiled scanout is not available everywhere, so these formats are registered without it
	b.combos.AddAll(scanoutRenderFormats, tiledMetadata, renderNotLinear)
}

func (b *Backend) Close() error {
	b.info = deviceInfo{}
	b.modifierOrder = nil
	return nil
}

func (b *Backend) NumPlanesFromModifier(format formats.FourCC, modifier formats.Modifier) int {
	numPlanes := formats.NumPlanes(format)
	if isCompressed(modifier) {
		// the color control surface is an extra plane after a single-plane main surface
		if numPlanes != 1 {
			return 0
		}
		return 2
	}

	return numPlanes
}

func (b *Backend) BOImport(bo *drv.BO, data *drv.ImportData) error {
	err := drv.PrimeImport(b.device, bo, data)
	if err != nil {
		return err
	}

	// kernels without fences do not support GET_TILING
	if b.info.numFencesAvail == 0 {
		return nil
	}

	request := gemGetTiling{
		Handle: bo.Handles[0],
	}
	err = kernel.Invoke(b.device, ioctlGEMGetTiling, &request)
	if err != nil {
		destroyErr := drv.GEMDestroy(b.device, bo)
		if destroyErr != nil {
			b.logger.Error("failed to close imported handles", slog.Any("error", destroyErr))
		}
		b.logger.Error("DRM_IOCTL_I915_GEM_GET_TILING failed", slog.Any("error", err))
		return err
	}

	bo.Meta.Tiling = request.TilingMode
	return nil
}

func (b *Backend) BODestroy(bo *drv.BO) error {
	return drv.GEMDestroy(b.device, bo)
}

func (b *Backend) BOMap(bo *drv.BO, vma *drv.Vma, plane int, mapFlags drv.MapFlags) (unsafe.Pointer, error) {
	switch bo.Meta.FormatModifier {
	case formats.ModifierI915YTiledCCS, formats.ModifierI915YTiledGen12RCCCS, formats.Modifier4Tiled:
		return nil, errors.Wrapf(unix.EINVAL, "buffers with modifier %s cannot be mapped", bo.Meta.FormatModifier)
	}

	var addr unsafe.Pointer
	if bo.Meta.Tiling == TilingNone {
		request := gemMmap{
			Handle: bo.Handles[0],
			Size:   bo.Meta.TotalSize,
		}
		// renderscript and camera buffers are read back by the CPU often enough that WC hurts
		if bo.Meta.UseFlags&drv.UseScanout != 0 &&
			bo.Meta.UseFlags&(drv.UseRenderscript|drv.UseCameraRead|drv.UseCameraWrite) == 0 {
			request.Flags = mmapWC
		}

		// GEM_MMAP fails with ENXIO on dma-bufs without a shmem file, and MMAP_GTT still works for those
		err := kernel.Invoke(b.device, ioctlGEMMmap, &request)
		if err == nil {
			addr = unsafe.Pointer(uintptr(request.AddrPtr))
		}
	}

	if addr == nil {
		request := gemMmapGTT{
			Handle: bo.Handles[0],
		}
		err := kernel.Invoke(b.device, ioctlGEMMmapGTT, &request)
		if err != nil {
			b.logger.Error("DRM_IOCTL_I915_GEM_MMAP_GTT failed", slog.Any("error", err))
			return nil, err
		}

		addr, err = drv.MmapHandleOffset(b.device, bo.Meta.TotalSize, mapFlags, request.Offset)
		if err != nil {
			b.logger.Error("i915 GEM mmap failed", slog.Any("error", err))
			return nil, err
		}
	}

	vma.Length = bo.Meta.TotalSize
	return addr, nil
}

func (b *Backend) BOUnmap(bo *drv.BO, vma *drv.Vma) error {
	return drv.Munmap(b.device, vma)
}

func (b *Backend) BOInvalidate(bo *drv.BO, mapping *drv.Mapping) error {
	domain := domainGTT
	if bo.Meta.Tiling == TilingNone {
		domain = domainCPU
	}

	request := gemSetDomain{
		Handle:      bo.Handles[0],
		ReadDomains: domain,
	}
	if mapping.Vma.MapFlags&drv.MapWrite != 0 {
		request.WriteDomain = domain
	}

	err := kernel.Invoke(b.device, ioctlGEMSetDomain, &request)
	if err != nil {
		b.logger.Error("DRM_IOCTL_I915_GEM_SET_DOMAIN failed", slog.Any("error", err))
		return err
	}

	return nil
}

// BOFlush writes CPU caches back for linear buffers on GPUs that do not share the last-level cache.
// Moving the object out of the CPU write domain makes the kernel clflush it.
func (b *Backend) BOFlush(bo *drv.BO, mapping *drv.Mapping) error {
	if b.info.hasLLC || bo.Meta.Tiling != TilingNone {
		return nil
	}

	request := gemSetDomain{
		Handle:      bo.Handles[0],
		ReadDomains: domainGTT,
	}
	if mapping.Vma.MapFlags&drv.MapWrite != 0 {
		request.WriteDomain = domainGTT
	}

	err := kernel.Invoke(b.device, ioctlGEMSetDomain, &request)
	if err != nil {
		b.logger.Error("DRM_IOCTL_I915_GEM_SET_DOMAIN failed", slog.Any("error", err))
		return err
	}

	return nil
}

func (b *Backend) ResolveFormatAndUseFlags(format formats.FourCC, useFlags drv.UseFlags) (formats.FourCC, drv.UseFlags) {
	return drv.ResolveFormatAndUseFlags(format, useFlags)
}
