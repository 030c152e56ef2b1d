package virtgpu

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"github.com/vkngwrapper/gbm/memutils"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// virgl formats, from virgl_hw.h
const (
	virglFormatB8G8R8A8Unorm     uint32 = 1
	virglFormatB8G8R8X8Unorm     uint32 = 2
	virglFormatB5G6R5Unorm       uint32 = 7
	virglFormatR10G10B10A2Unorm  uint32 = 8
	virglFormatR16Unorm          uint32 = 48
	virglFormatR8Unorm           uint32 = 64
	virglFormatR8G8Unorm         uint32 = 65
	virglFormatR8G8B8Unorm       uint32 = 66
	virglFormatR8G8B8A8Unorm     uint32 = 67
	virglFormatR16G16B16A16Float uint32 = 94
	virglFormatR8G8B8X8Unorm     uint32 = 134
	virglFormatYV12              uint32 = 163
	virglFormatNV12              uint32 = 166
	virglFormatNV21              uint32 = 173
	virglFormatP010              uint32 = 314
)

const (
	virglBindRenderTarget = 1 << 1
	virglBindSamplerView  = 1 << 3
	virglBindCursor       = 1 << 16
	virglBindScanout      = 1 << 18
	virglBindShared       = 1 << 20
	virglBindLinear       = 1 << 22

	virglBindMinigbmCameraWrite    = 1 << 24
	virglBindMinigbmCameraRead     = 1 << 25
	virglBindMinigbmHWVideoDecoder = 1 << 26
	virglBindMinigbmHWVideoEncoder = 1 << 27
	virglBindMinigbmSWReadOften    = 1 << 28
	virglBindMinigbmSWReadRarely   = 1 << 29
	virglBindMinigbmSWWriteOften   = 1 << 30
	virglBindMinigbmSWWriteRarely  = 1 << 31
	// virglBindMinigbmProtected overlaps the software flags, which protected buffers never carry
	virglBindMinigbmProtected = 0xf << 28
)

var virglRenderTargetFormats = []formats.FourCC{
	formats.FormatABGR8888, formats.FormatARGB8888, formats.FormatRGB565, formats.FormatXBGR8888,
	formats.FormatXRGB8888,
}

var virglTextureSourceFormats = []formats.FourCC{
	formats.FormatNV21, formats.FormatR8, formats.FormatR16, formats.FormatGR88, formats.FormatYVU420,
	formats.FormatYVU420Android, formats.FormatABGR2101010, formats.FormatABGR16161616F,
}

var virglDumbTextureSourceFormats = []formats.FourCC{
	formats.FormatR8, formats.FormatR16, formats.FormatYVU420, formats.FormatNV12, formats.FormatNV21,
	formats.FormatYVU420Android, formats.FormatABGR2101010, formats.FormatABGR16161616F,
}

func translateFormat(format formats.FourCC) (uint32, bool) {
	switch format {
	case formats.FormatR8:
		return virglFormatR8Unorm, true
	case formats.FormatR16:
		return virglFormatR16Unorm, true
	case formats.FormatGR88:
		return virglFormatR8G8Unorm, true
	case formats.FormatRGB565:
		return virglFormatB5G6R5Unorm, true
	case formats.FormatRGB888:
		return virglFormatR8G8B8Unorm, true
	case formats.FormatARGB8888:
		return virglFormatB8G8R8A8Unorm, true
	case formats.FormatXRGB8888:
		return virglFormatB8G8R8X8Unorm, true
	case formats.FormatABGR8888:
		return virglFormatR8G8B8A8Unorm, true
	case formats.FormatXBGR8888:
		return virglFormatR8G8B8X8Unorm, true
	case formats.FormatABGR2101010:
		return virglFormatR10G10B10A2Unorm, true
	case formats.FormatABGR16161616F:
		return virglFormatR16G16B16A16Float, true
	case formats.FormatNV12:
		return virglFormatNV12, true
	case formats.FormatNV21:
		return virglFormatNV21, true
	case formats.FormatP010:
		return virglFormatP010, true
	case formats.FormatYVU420, formats.FormatYVU420Android:
		return virglFormatYV12, true
	}

	return 0, false
}

type bindMapping struct {
	useFlags drv.UseFlags
	bind     uint32
}

var bindMappings = []bindMapping{
	{useFlags: drv.UseTexture, bind: virglBindSamplerView},
	{useFlags: drv.UseRendering, bind: virglBindRenderTarget},
	{useFlags: drv.UseScanout, bind: virglBindScanout},
	{useFlags: drv.UseCursor, bind: virglBindCursor},
	{useFlags: drv.UseLinear, bind: virglBindLinear},
	{useFlags: drv.UseSensorDirectData, bind: virglBindLinear},
	{useFlags: drv.UseGPUDataBuffer, bind: virglBindLinear},
	{useFlags: drv.UseFrontRendering, bind: virglBindLinear},
	{useFlags: drv.UseCameraWrite, bind: virglBindMinigbmCameraWrite},
	{useFlags: drv.UseCameraRead, bind: virglBindMinigbmCameraRead},
	{useFlags: drv.UseHWVideoDecoder, bind: virglBindMinigbmHWVideoDecoder},
	{useFlags: drv.UseHWVideoEncoder, bind: virglBindMinigbmHWVideoEncoder},
}

var swBindMappings = []bindMapping{
	{useFlags: drv.UseSWReadOften, bind: virglBindMinigbmSWReadOften},
	{useFlags: drv.UseSWReadRarely, bind: virglBindMinigbmSWReadRarely},
	{useFlags: drv.UseSWWriteOften, bind: virglBindMinigbmSWWriteOften},
	{useFlags: drv.UseSWWriteRarely, bind: virglBindMinigbmSWWriteRarely},
}

// virgl backs guest buffers with host virglrenderer resources. Without 3D support it degrades to dumb
// buffers that only the display can consume.
type virgl struct {
	device kernel.Device
	logger *slog.Logger
	params *params
	is3D   bool
}

func (v *virgl) name() string {
	if v.is3D {
		return "virgl"
	}
	return "virgl-2d"
}

func (v *virgl) init(ctx drv.InitContext, params *params) error {
	v.device = ctx.Device
	v.logger = ctx.Logger
	v.params = params
	v.is3D = params[param3DFeatures] != 0

	v.addCombinations(ctx.Combinations)
	return nil
}

// addCombination skips formats the host has no virgl format for when resources are created through 3D
func (v *virgl) addCombination(combos *drv.Combinations, format formats.FourCC, useFlags drv.UseFlags) {
	if v.is3D {
		_, ok := translateFormat(format)
		if !ok {
			v.logger.Debug("virgl has no format", slog.String("Format", format.String()))
			return
		}
	}

	combos.Add(format, drv.LinearMetadata, useFlags)
}

func (v *virgl) addCombinations(combos *drv.Combinations) {
	if v.is3D {
		for _, format := range virglRenderTargetFormats {
			v.addCombination(combos, format, drv.UseRenderMask|drv.UseScanout)
		}
		for _, format := range virglTextureSourceFormats {
			v.addCombination(combos, format, drv.UseTextureMask)
		}
		v.addCombination(combos, formats.FormatNV12, drv.UseTextureMask|drv.UseCameraRead|drv.UseCameraWrite|
			drv.UseHWVideoDecoder|drv.UseHWVideoEncoder|drv.UseScanout)
	} else {
		// the virtio primary plane only takes XRGB8888 and the cursor plane only ARGB8888
		v.addCombination(combos, formats.FormatXRGB8888, drv.UseRenderMask|drv.UseScanout)
		v.addCombination(combos, formats.FormatARGB8888, drv.UseRenderMask|drv.UseCursor)

		for _, format := range virglRenderTargetFormats {
			v.addCombination(combos, format, drv.UseRenderMask)
		}
		for _, format := range virglDumbTextureSourceFormats {
			v.addCombination(combos, format, drv.UseTextureMask)
		}
		combos.Modify(formats.FormatNV12, drv.LinearMetadata, drv.UseSWMask|drv.UseLinear)
		combos.Modify(formats.FormatNV21, drv.LinearMetadata, drv.UseSWMask|drv.UseLinear)
	}

	// Android CTS
	v.addCombination(combos, formats.FormatRGB888, drv.UseSWMask)
	v.addCombination(combos, formats.FormatBGR888, drv.UseSWMask)

	// camera preview
	v.addCombination(combos, formats.FormatP010, drv.UseScanout|drv.UseTexture|drv.UseSWMask|
		drv.UseCameraRead|drv.UseCameraWrite)

	// R8 backs Android BLOB buffers and sensor data
	combos.Modify(formats.FormatR8, drv.LinearMetadata, drv.UseCameraRead|drv.UseCameraWrite|
		drv.UseHWVideoDecoder|drv.UseHWVideoEncoder|drv.UseSensorDirectData|drv.UseGPUDataBuffer)

	combos.Modify(formats.FormatABGR8888, drv.LinearMetadata, drv.UseCameraRead|drv.UseCameraWrite|
		drv.UseHWVideoDecoder|drv.UseHWVideoEncoder)
	combos.Modify(formats.FormatXBGR8888, drv.LinearMetadata, drv.UseCameraRead|drv.UseCameraWrite|
		drv.UseHWVideoDecoder|drv.UseHWVideoEncoder)
}

func (v *virgl) close() {}

// bindFlags translates usage into virgl bind flags. Every resource is created shareable.
func (v *virgl) bindFlags(useFlags drv.UseFlags) uint32 {
	var bind uint32 = virglBindShared

	remaining := useFlags
	for _, mapping := range bindMappings {
		if remaining&mapping.useFlags != 0 {
			bind |= mapping.bind
			remaining &^= mapping.useFlags
		}
	}

	if useFlags&drv.UseProtected != 0 {
		bind |= virglBindMinigbmProtected
		remaining &^= drv.UseProtected
	} else {
		for _, mapping := range swBindMappings {
			if remaining&mapping.useFlags != 0 {
				bind |= mapping.bind
				remaining &^= mapping.useFlags
			}
		}
	}

	if remaining != 0 {
		v.logger.Debug("unhandled use flags", slog.String("UseFlags", remaining.String()))
	}

	return bind
}

func (v *virgl) BOCreate(bo *drv.BO, width, height uint32, format formats.FourCC, useFlags drv.UseFlags) error {
	if !v.is3D {
		return drv.DumbCreate(v.device, bo, width, height, format, useFlags)
	}

	virglFormat, ok := translateFormat(format)
	if !ok {
		return errors.Wrapf(unix.EINVAL, "virgl has no format for %s", format)
	}

	stride := formats.StrideFromFormat(format, width, 0)
	drv.BOFromFormat(bo, stride, height, format)
	bo.Meta.FormatModifier = formats.ModifierLinear

	request := resourceCreate{
		Target:    pipeTexture2D,
		Format:    virglFormat,
		Bind:      v.bindFlags(useFlags),
		Width:     width,
		Height:    height,
		Depth:     1,
		ArraySize: 1,
		Size:      uint32(memutils.AlignUp(bo.Meta.TotalSize, pageSize)),
		Stride:    stride,
	}
	err := kernel.Invoke(v.device, ioctlResourceCreate, &request)
	if err != nil {
		v.logger.Error("DRM_IOCTL_VIRTGPU_RESOURCE_CREATE failed", slog.Any("error", err))
		return err
	}

	for plane := 0; plane < bo.Meta.NumPlanes; plane++ {
		bo.Handles[plane] = request.BOHandle
	}

	return nil
}

func (v *virgl) BOImport(bo *drv.BO, data *drv.ImportData) error {
	return drv.PrimeImport(v.device, bo, data)
}

func (v *virgl) BODestroy(bo *drv.BO) error {
	if !v.is3D {
		return drv.DumbDestroy(v.device, bo)
	}

	return drv.GEMDestroy(v.device, bo)
}

func (v *virgl) BOMap(bo *drv.BO, vma *drv.Vma, plane int, mapFlags drv.MapFlags) (unsafe.Pointer, error) {
	if !v.is3D {
		return drv.DumbMap(v.device, bo, vma, plane, mapFlags)
	}

	return mapBlob(v.device, v.logger, bo, vma, mapFlags)
}

func (v *virgl) BOUnmap(bo *drv.BO, vma *drv.Vma) error {
	return drv.Munmap(v.device, vma)
}

// transferBox is the region of a mapping that moves between guest and host. Multi-planar buffers
// always transfer whole.
func transferBox(bo *drv.BO, mapping *drv.Mapping) box {
	if bo.Meta.NumPlanes > 1 {
		return box{
			W: bo.Meta.Width,
			H: bo.Meta.Height,
			D: 1,
		}
	}

	return box{
		X: mapping.Rect.X,
		Y: mapping.Rect.Y,
		W: mapping.Rect.Width,
		H: mapping.Rect.Height,
		D: 1,
	}
}

// BOInvalidate pulls host writes into guest memory. It is only needed when something on the host
// writes the buffer.
func (v *virgl) BOInvalidate(bo *drv.BO, mapping *drv.Mapping) error {
	if !v.is3D {
		return nil
	}

	if bo.Meta.UseFlags&(drv.UseRendering|drv.UseCameraWrite|drv.UseHWVideoDecoder) == 0 {
		return nil
	}

	request := transfer{
		BOHandle: mapping.Vma.Handle,
		Box:      transferBox(bo, mapping),
	}
	err := kernel.Invoke(v.device, ioctlTransferFromHost, &request)
	if err != nil {
		v.logger.Error("DRM_IOCTL_VIRTGPU_TRANSFER_FROM_HOST failed", slog.Any("error", err))
		return err
	}

	// the transfer must land before the CPU reads, and before the host could overwrite later guest writes
	err = waitForHandle(v.device, mapping.Vma.Handle)
	if err != nil {
		v.logger.Error("DRM_IOCTL_VIRTGPU_WAIT failed", slog.Any("error", err))
		return err
	}

	return nil
}

// BOFlush pushes CPU writes to the host resource
func (v *virgl) BOFlush(bo *drv.BO, mapping *drv.Mapping) error {
	if mapping.Vma.MapFlags&drv.MapWrite == 0 {
		return nil
	}

	if !v.is3D {
		return nil
	}

	request := transfer{
		BOHandle: mapping.Vma.Handle,
		Box:      transferBox(bo, mapping),
	}
	err := kernel.Invoke(v.device, ioctlTransferToHost, &request)
	if err != nil {
		v.logger.Error("DRM_IOCTL_VIRTGPU_TRANSFER_TO_HOST failed", slog.Any("error", err))
		return err
	}

	// host GPU commands are ordered after the transfer, other host hardware is not
	if bo.Meta.UseFlags&drv.UseNonGPUHW == 0 {
		return nil
	}

	err = waitForHandle(v.device, mapping.Vma.Handle)
	if err != nil {
		v.logger.Error("DRM_IOCTL_VIRTGPU_WAIT failed", slog.Any("error", err))
		return err
	}

	return nil
}
