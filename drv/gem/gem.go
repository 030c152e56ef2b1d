// Package gem implements the ARM SoC backends. Each vendor driver allocates linear buffers with its
// own create and map-offset ioctls, so one Backend is parameterized by a vendor table.
package gem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// cacheLineAlignment is the ARM L1 cache line size. Strides are aligned to it.
const cacheLineAlignment uint32 = 64

// vendor describes how one kernel driver lays out, allocates and maps buffers
type vendor struct {
	name string

	addCombinations func(combos *drv.Combinations)
	// layout fills the plane layout and total size of a linear buffer
	layout func(bo *drv.BO, width, height uint32, format formats.FourCC, useFlags drv.UseFlags)
	// create allocates size bytes and returns the new GEM handle
	create func(device kernel.Device, size uint64) (uint32, error)
	// mapOffset returns the fake offset that maps a handle through the device file
	mapOffset func(device kernel.Device, handle uint32) (uint64, error)
}

type Backend struct {
	drv.BackendBase

	vendor *vendor
	device kernel.Device
	logger *slog.Logger
	combos *drv.Combinations
}

var _ drv.Creator = &Backend{}
var _ drv.ModifierCreator = &Backend{}

func newBackend(vendor *vendor) drv.Backend {
	return &Backend{vendor: vendor}
}

func (b *Backend) Name() string {
	return b.vendor.name
}

func (b *Backend) Init(ctx drv.InitContext) error {
	b.device = ctx.Device
	b.logger = ctx.Logger
	b.combos = ctx.Combinations

	b.vendor.addCombinations(b.combos)
	b.logger.Debug(b.vendor.name+"::Init", slog.Int("Combinations", b.combos.Len()))
	return nil
}

func (b *Backend) Close() error {
	return nil
}

func (b *Backend) createLinear(bo *drv.BO, width, height uint32, format formats.FourCC, useFlags drv.UseFlags) error {
	b.vendor.layout(bo, width, height, format, useFlags)

	handle, err := b.vendor.create(b.device, bo.Meta.TotalSize)
	if err != nil {
		b.logger.Error(b.vendor.name+" GEM create failed",
			slog.Uint64("Size", bo.Meta.TotalSize),
			slog.Any("error", err))
		return err
	}

	for plane := 0; plane < bo.Meta.NumPlanes; plane++ {
		bo.Handles[plane] = handle
	}
	bo.Meta.FormatModifier = formats.ModifierLinear

	return nil
}

func (b *Backend) BOCreate(bo *drv.BO, width, height uint32, format formats.FourCC, useFlags drv.UseFlags) error {
	return b.createLinear(bo, width, height, format, useFlags)
}

// BOCreateWithModifiers succeeds only when the caller accepts a linear layout
func (b *Backend) BOCreateWithModifiers(bo *drv.BO, width, height uint32, format formats.FourCC, modifiers []formats.Modifier) error {
	_, err := drv.PickModifier(modifiers, []formats.Modifier{formats.ModifierLinear})
	if err != nil {
		return err
	}

	return b.createLinear(bo, width, height, format, drv.UseScanout)
}

func (b *Backend) BOImport(bo *drv.BO, data *drv.ImportData) error {
	if data.FormatModifier != formats.ModifierInvalid && data.FormatModifier != formats.ModifierLinear {
		return errors.Wrapf(unix.EINVAL, "%s cannot import modifier %s", b.vendor.name, data.FormatModifier)
	}

	return drv.PrimeImport(b.device, bo, data)
}

func (b *Backend) BODestroy(bo *drv.BO) error {
	return drv.GEMDestroy(b.device, bo)
}

func (b *Backend) BOMap(bo *drv.BO, vma *drv.Vma, plane int, mapFlags drv.MapFlags) (unsafe.Pointer, error) {
	offset, err := b.vendor.mapOffset(b.device, bo.Handles[0])
	if err != nil {
		b.logger.Error(b.vendor.name+" GEM map offset failed", slog.Any("error", err))
		return nil, err
	}

	vma.Length = bo.Meta.TotalSize
	return drv.MmapHandleOffset(b.device, vma.Length, mapFlags, offset)
}

func (b *Backend) BOUnmap(bo *drv.BO, vma *drv.Vma) error {
	return drv.Munmap(b.device, vma)
}

func (b *Backend) ResolveFormatAndUseFlags(format formats.FourCC, useFlags drv.UseFlags) (formats.FourCC, drv.UseFlags) {
	return drv.ResolveFormatAndUseFlags(format, useFlags)
}

// createGEM allocates through the create layout the vendor drivers share
func createGEM(device kernel.Device, code uint32, size uint64, flags uint32) (uint32, error) {
	request := gemCreate{
		Size:  size,
		Flags: flags,
	}
	err := kernel.Invoke(device, code, &request)
	if err != nil {
		return 0, err
	}

	return request.Handle, nil
}

func mapOffsetGEM(device kernel.Device, code uint32, handle uint32) (uint64, error) {
	request := gemMapOffset{Handle: handle}
	err := kernel.Invoke(device, code, &request)
	if err != nil {
		return 0, err
	}

	return request.Offset, nil
}
