// Package dumb serves display-only kernel drivers that have no allocation ioctls of their own.
// Buffers are linear and come from DRM_IOCTL_MODE_CREATE_DUMB.
package dumb

import (
	"unsafe"

	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"golang.org/x/exp/slog"
)

// Names lists the kernel drivers served by this backend
var Names = []string{
	"evdi",
	"komeda",
	"marvell",
	"meson",
	"nouveau",
	"radeon",
	"sun4i-drm",
	"synaptics",
	"udl",
	"vc4",
	"vkms",
	"hibmc-drm",
	"hx8357d",
	"ili9341",
	"mxsfb-drm",
	"simpledrm",
}

var scanoutRenderFormats = []formats.FourCC{
	formats.FormatARGB8888,
	formats.FormatXRGB8888,
	formats.FormatABGR8888,
	formats.FormatXBGR8888,
	formats.FormatBGR888,
	formats.FormatBGR565,
}

var textureOnlyFormats = []formats.FourCC{
	formats.FormatNV12,
	formats.FormatNV21,
	formats.FormatYVU420,
	formats.FormatYVU420Android,
}

type Backend struct {
	drv.BackendBase

	name   string
	device kernel.Device
	logger *slog.Logger
}

var _ drv.Creator = &Backend{}

// New returns a dumb-buffer backend that reports the given kernel driver name
func New(name string) drv.Backend {
	return &Backend{name: name}
}

func (b *Backend) Name() string {
	return b.name
}

func (b *Backend) Init(ctx drv.InitContext) error {
	b.device = ctx.Device
	b.logger = ctx.Logger

	combos := ctx.Combinations
	combos.AddAll(scanoutRenderFormats, drv.LinearMetadata, drv.UseRenderMask|drv.UseScanout)
	combos.AddAll(textureOnlyFormats, drv.LinearMetadata, drv.UseTextureMask)

	combos.Modify(formats.FormatNV12, drv.LinearMetadata,
		drv.UseHWVideoEncoder|drv.UseHWVideoDecoder|drv.UseCameraRead|drv.UseCameraWrite)
	combos.Modify(formats.FormatNV21, drv.LinearMetadata, drv.UseHWVideoEncoder)
	combos.ModifyLinear()

	b.logger.Debug("dumb::Init", slog.String("Name", b.name), slog.Int("Combinations", combos.Len()))
	return nil
}

func (b *Backend) Close() error {
	return nil
}

func (b *Backend) BOCreate(bo *drv.BO, width, height uint32, format formats.FourCC, useFlags drv.UseFlags) error {
	err := drv.DumbCreate(b.device, bo, width, height, format, useFlags)
	if err != nil {
		b.logger.Error("DRM_IOCTL_MODE_CREATE_DUMB failed",
			slog.String("Format", format.String()),
			slog.Any("error", err))
	}
	return err
}

func (b *Backend) BOImport(bo *drv.BO, data *drv.ImportData) error {
	return drv.PrimeImport(b.device, bo, data)
}

func (b *Backend) BODestroy(bo *drv.BO) error {
	return drv.DumbDestroy(b.device, bo)
}

func (b *Backend) BOMap(bo *drv.BO, vma *drv.Vma, plane int, mapFlags drv.MapFlags) (unsafe.Pointer, error) {
	return drv.DumbMap(b.device, bo, vma, plane, mapFlags)
}

func (b *Backend) BOUnmap(bo *drv.BO, vma *drv.Vma) error {
	return drv.Munmap(b.device, vma)
}

func (b *Backend) ResolveFormatAndUseFlags(format formats.FourCC, useFlags drv.UseFlags) (formats.FourCC, drv.UseFlags) {
	return drv.ResolveFormatAndUseFlags(format, useFlags)
}
