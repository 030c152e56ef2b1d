package gbm

import (
	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/memutils"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

// BO is one allocated or imported buffer object. The BO holds kernel handle values, not ownership:
// the driver's handle table decides when the kernel objects behind them are closed.
type BO struct {
	driver       *Driver
	bo           drv.BO
	isTestBuffer bool
	dead         bool
}

func (d *Driver) newBO(width, height uint32, format formats.FourCC, useFlags drv.UseFlags, isTestBuffer bool) (*BO, error) {
	numPlanes := formats.NumPlanes(format)
	if numPlanes == 0 {
		return nil, errors.Wrapf(unix.EINVAL, "format %s has no plane layout", format)
	}

	return &BO{
		driver: d,
		bo: drv.BO{
			Meta: drv.Metadata{
				Width:     width,
				Height:    height,
				Format:    format,
				UseFlags:  useFlags,
				NumPlanes: numPlanes,
			},
		},
		isTestBuffer: isTestBuffer,
	}, nil
}

// Create allocates a buffer. With drv.UseTestAlloc set, only the layout is computed: the returned BO
// has metadata but no kernel object and cannot be mapped.
func (d *Driver) Create(width, height uint32, format formats.FourCC, useFlags drv.UseFlags) (*BO, error) {
	d.logger.Debug("Driver::Create",
		slog.Int("Width", int(width)),
		slog.Int("Height", int(height)),
		slog.String("Format", format.String()),
		slog.String("UseFlags", useFlags.String()))

	isTestBuffer := useFlags&drv.UseTestAlloc != 0
	useFlags &^= drv.UseTestAlloc

	if d.combos.Get(format, useFlags) == nil {
		return nil, errors.Wrapf(unix.EINVAL, "%s does not support format %s with usage %s", d.Name(), format, useFlags)
	}

	bo, err := d.newBO(width, height, format, useFlags, isTestBuffer)
	if err != nil {
		return nil, err
	}

	if d.metadataComputer != nil {
		err = d.metadataComputer.BOComputeMetadata(&bo.bo, width, height, format, useFlags, nil)
		if err == nil && !isTestBuffer {
			err = d.metadataComputer.BOCreateFromMetadata(&bo.bo)
		}
	} else if !isTestBuffer {
		err = d.creator.BOCreate(&bo.bo, width, height, format, useFlags)
	} else {
		err = errors.Wrapf(unix.EINVAL, "%s cannot compute a layout without allocating", d.Name())
	}
	if err != nil {
		return nil, err
	}

	if !isTestBuffer {
		d.acquire(&bo.bo)
	}
	memutils.DebugValidate(d)

	return bo, nil
}

// CreateWithModifiers allocates a buffer whose layout is one of the listed modifiers. It fails with
// ENOENT when the backend cannot choose among modifiers and EINVAL when it supports none of them.
func (d *Driver) CreateWithModifiers(width, height uint32, format formats.FourCC, modifiers []formats.Modifier) (*BO, error) {
	d.logger.Debug("Driver::CreateWithModifiers",
		slog.Int("Width", int(width)),
		slog.Int("Height", int(height)),
		slog.String("Format", format.String()),
		slog.Int("ModifierCount", len(modifiers)))

	if d.metadataComputer == nil && d.modifierCreator == nil {
		return nil, errors.Wrapf(unix.ENOENT, "%s cannot allocate from a modifier list", d.Name())
	}

	bo, err := d.newBO(width, height, format, drv.UseNone, false)
	if err != nil {
		return nil, err
	}

	if d.metadataComputer != nil {
		err = d.metadataComputer.BOComputeMetadata(&bo.bo, width, height, format, drv.UseNone, modifiers)
		if err == nil {
			err = d.metadataComputer.BOCreateFromMetadata(&bo.bo)
		}
	} else {
		err = d.modifierCreator.BOCreateWithModifiers(&bo.bo, width, height, format, modifiers)
	}
	if err != nil {
		return nil, err
	}

	d.acquire(&bo.bo)
	memutils.DebugValidate(d)

	return bo, nil
}

// Import wraps dma-buf fds exported elsewhere. Plane sizes are derived from the fd sizes and the
// offsets, and the import fails if any plane would extend past the end of its fd.
func (d *Driver) Import(data *drv.ImportData) (*BO, error) {
	d.logger.Debug("Driver::Import",
		slog.Int("Width", int(data.Width)),
		slog.Int("Height", int(data.Height)),
		slog.String("Format", data.Format.String()),
		slog.String("Modifier", data.FormatModifier.String()))

	bo, err := d.newBO(data.Width, data.Height, data.Format, data.UseFlags, false)
	if err != nil {
		return nil, err
	}
	bo.bo.Meta.NumPlanes = d.NumPlanesFromModifier(data.Format, data.FormatModifier)
	if bo.bo.Meta.NumPlanes == 0 {
		return nil, errors.Wrapf(unix.EINVAL, "modifier %s does not apply to format %s", data.FormatModifier, data.Format)
	}

	err = d.backend.BOImport(&bo.bo, data)
	if err != nil {
		return nil, err
	}

	bo.bo.Meta.FormatModifier = data.FormatModifier
	err = d.computeImportSizes(bo, data)

	// the handle table must hold the import before Destroy can close it
	d.acquire(&bo.bo)
	if err != nil {
		destroyErr := bo.Destroy()
		if destroyErr != nil {
			d.logger.Error("error attempting to destroy buffer after import failure", slog.Any("error", destroyErr))
		}
		return nil, err
	}

	memutils.DebugValidate(d)
	return bo, nil
}

func (d *Driver) computeImportSizes(bo *BO, data *drv.ImportData) error {
	meta := &bo.bo.Meta
	meta.TotalSize = 0

	for plane := 0; plane < meta.NumPlanes; plane++ {
		meta.Strides[plane] = data.Strides[plane]
		meta.Offsets[plane] = data.Offsets[plane]

		fileSize, err := d.device.FileSize(data.FDs[plane])
		if err != nil {
			return err
		}

		offset := int64(data.Offsets[plane])
		var size int64
		if plane == meta.NumPlanes-1 || data.Offsets[plane+1] == 0 {
			size = int64(fileSize) - offset
		} else {
			size = int64(data.Offsets[plane+1]) - offset
		}

		if size < 0 || offset+size > int64(fileSize) {
			return errors.Wrapf(unix.EINVAL, "plane %d at offset %d extends past the end of its %d byte buffer", plane, offset, fileSize)
		}

		meta.Sizes[plane] = uint32(size)
		meta.TotalSize += uint64(size)
	}

	return nil
}

// Destroy drops this BO's references to its kernel handles. When no plane handle has any reference
// left, every mapping of those handles is torn down and the kernel objects are closed.
func (b *BO) Destroy() error {
	d := b.driver
	d.logger.Debug("Driver::DestroyBO", slog.Int("Handle", int(b.bo.Handles[0])))

	if b.dead {
		panic(errors.AssertionFailedf("buffer object destroyed twice"))
	}
	b.dead = true

	if b.isTestBuffer || !d.release(&b.bo) {
		return nil
	}

	err := d.unmapHandles(&b.bo)
	if err != nil {
		d.logger.Error("error attempting to unmap buffer during destroy", slog.Any("error", err))
	}

	err = d.backend.BODestroy(&b.bo)
	memutils.DebugValidate(d)
	return err
}

// Release drops this BO's references without ever closing the kernel objects, for buffers that are
// only being unregistered from this process while the dma-buf lives on elsewhere
func (b *BO) Release() {
	d := b.driver
	d.logger.Debug("Driver::ReleaseBO", slog.Int("Handle", int(b.bo.Handles[0])))

	if b.dead {
		panic(errors.AssertionFailedf("buffer object released after destroy"))
	}
	b.dead = true

	if !b.isTestBuffer {
		d.release(&b.bo)
	}
	memutils.DebugValidate(d)
}

// PlaneFD exports one plane as a dma-buf fd owned by the caller
func (b *BO) PlaneFD(plane int) (int, error) {
	handle := b.bo.Handles[plane]
	fd, err := b.driver.device.PrimeHandleToFD(handle, unix.O_CLOEXEC|unix.O_RDWR)
	if err != nil {
		// older kernels reject O_RDWR but still export a writable buffer
		fd, err = b.driver.device.PrimeHandleToFD(handle, unix.O_CLOEXEC)
	}
	if err != nil {
		b.driver.logger.Error("failed to get plane fd", slog.Int("Plane", plane), slog.Any("error", err))
		return -1, err
	}

	return fd, nil
}

// ResourceInfo describes the buffer's layout for another process
func (b *BO) ResourceInfo() (drv.ResourceInfo, error) {
	var info drv.ResourceInfo
	for plane := 0; plane < b.bo.Meta.NumPlanes; plane++ {
		info.Strides[plane] = b.bo.Meta.Strides[plane]
		info.Offsets[plane] = b.bo.Meta.Offsets[plane]
	}
	info.FormatModifier = b.bo.Meta.FormatModifier

	if b.driver.resourceInfoer != nil {
		err := b.driver.resourceInfoer.BOGetResourceInfo(&b.bo, &info)
		if err != nil {
			return drv.ResourceInfo{}, err
		}
	}

	return info, nil
}

// NumBuffers returns the number of distinct kernel objects behind the BO's planes
func (b *BO) NumBuffers() int {
	return len(b.bo.DistinctHandles())
}

func (b *BO) Driver() *Driver {
	return b.driver
}

func (b *BO) Width() uint32 {
	return b.bo.Meta.Width
}

func (b *BO) Height() uint32 {
	return b.bo.Meta.Height
}

func (b *BO) Format() formats.FourCC {
	return b.bo.Meta.Format
}

func (b *BO) FormatModifier() formats.Modifier {
	return b.bo.Meta.FormatModifier
}

func (b *BO) UseFlags() drv.UseFlags {
	return b.bo.Meta.UseFlags
}

func (b *BO) Tiling() uint32 {
	return b.bo.Meta.Tiling
}

func (b *BO) NumPlanes() int {
	return b.bo.Meta.NumPlanes
}

func (b *BO) TotalSize() uint64 {
	return b.bo.Meta.TotalSize
}

func (b *BO) Handle(plane int) uint32 {
	return b.bo.Handles[plane]
}

func (b *BO) Stride(plane int) uint32 {
	return b.bo.Meta.Strides[plane]
}

func (b *BO) Size(plane int) uint32 {
	return b.bo.Meta.Sizes[plane]
}

func (b *BO) Offset(plane int) uint32 {
	return b.bo.Meta.Offsets[plane]
}

func (b *BO) IsTestBuffer() bool {
	return b.isTestBuffer
}

// Metadata returns a copy of the full layout description
func (b *BO) Metadata() drv.Metadata {
	return b.bo.Meta
}
