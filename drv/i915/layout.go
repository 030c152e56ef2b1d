package i915

import (
	"runtime"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"github.com/vkngwrapper/gbm/memutils"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

const (
	// hugeWidth is the widest surface gen9 and gen10 can tile in Y
	hugeWidth uint32 = 4096
	// gen3MaxStride is the largest stride a gen3 fence can describe
	gen3MaxStride uint32 = 8192
	// lcuAlignment is the height alignment of the chroma plane of video formats on gen11 and gen12
	lcuAlignment uint32 = 64
)

// alignDimensions applies the stride and height alignment the tiling mode requires
func (b *Backend) alignDimensions(format formats.FourCC, tiling uint32, stride, alignedHeight uint32) (uint32, uint32, error) {
	var horizontalAlignment, verticalAlignment uint32

	switch tiling {
	case TilingX:
		horizontalAlignment = 512
		verticalAlignment = 8
	case TilingY, Tiling4:
		if b.info.graphicsVersion == 3 {
			horizontalAlignment = 512
			verticalAlignment = 8
		} else {
			horizontalAlignment = 128
			verticalAlignment = 32
		}
	default:
		// the GPU needs no alignment for linear surfaces, but libva wants 16 byte strides and 4 row
		// heights, and rows should start on a 64 byte cache line
		horizontalAlignment = 64
		verticalAlignment = 4

		// a 1-row R8 surface is a linear blob such as a VkBuffer
		if format == formats.FormatR8 && alignedHeight == 1 {
			verticalAlignment = 1
		}
	}

	memutils.DebugCheckPow2(horizontalAlignment, "horizontalAlignment")
	alignedHeight = memutils.AlignUp(alignedHeight, verticalAlignment)
	if b.info.graphicsVersion > 3 {
		stride = memutils.AlignUp(stride, horizontalAlignment)
	} else {
		for stride > horizontalAlignment {
			horizontalAlignment <<= 1
		}
		stride = horizontalAlignment
	}

	if b.info.graphicsVersion <= 3 && stride > gen3MaxStride {
		return 0, 0, errors.Wrapf(unix.EINVAL, "stride %d exceeds the gen3 maximum", stride)
	}

	return stride, alignedHeight, nil
}

func (b *Backend) needsLCUAlignment(format formats.FourCC, plane int) bool {
	switch format {
	case formats.FormatNV12, formats.FormatP010:
		return (b.info.graphicsVersion == 11 || b.info.graphicsVersion == 12) && plane == 1
	}
	return false
}

// boFromFormat lays out every plane with the tiling alignment applied per plane
func (b *Backend) boFromFormat(bo *drv.BO, width, height uint32, format formats.FourCC) error {
	var offset uint32

	for plane := 0; plane < formats.NumPlanes(format); plane++ {
		stride := formats.StrideFromFormat(format, width, plane)
		planeHeight := formats.HeightFromFormat(format, height, plane)

		if bo.Meta.Tiling != TilingNone && offset%b.pageSize != 0 {
			panic(errors.AssertionFailedf("tiled plane %d starts at unaligned offset %d", plane, offset))
		}

		var err error
		stride, planeHeight, err = b.alignDimensions(format, bo.Meta.Tiling, stride, planeHeight)
		if err != nil {
			return err
		}

		if b.needsLCUAlignment(format, plane) {
			planeHeight = memutils.AlignUp(planeHeight, lcuAlignment)
		}

		bo.Meta.Strides[plane] = stride
		bo.Meta.Sizes[plane] = stride * planeHeight
		bo.Meta.Offsets[plane] = offset
		offset += bo.Meta.Sizes[plane]
	}

	bo.Meta.TotalSize = uint64(memutils.AlignUp(offset, b.pageSize))
	return nil
}

// fallbackModifier returns preferred if the caller listed it and linear otherwise
func fallbackModifier(modifiers []formats.Modifier, preferred formats.Modifier) formats.Modifier {
	if slices.Contains(modifiers, preferred) {
		return preferred
	}
	return formats.ModifierLinear
}

func (b *Backend) chooseModifier(width uint32, format formats.FourCC, useFlags drv.UseFlags, modifiers []formats.Modifier) (formats.Modifier, error) {
	var modifier formats.Modifier
	if len(modifiers) > 0 {
		var err error
		modifier, err = drv.PickModifier(modifiers, b.modifierOrder)
		if err != nil {
			return formats.ModifierInvalid, err
		}
	} else {
		combo := b.combos.Get(format, useFlags)
		if combo == nil {
			return formats.ModifierInvalid, errors.Wrapf(unix.EINVAL, "no combination for format %s with usage %s", format, useFlags)
		}
		modifier = combo.Metadata.Modifier
	}

	// gen9 and gen10 only tile linear or X above 4096 pixels wide. VAAPI decodes NV12 and P010 Y-tiled
	// regardless.
	hugeBO := b.info.graphicsVersion < 11 && width > hugeWidth
	if hugeBO && format != formats.FormatNV12 && format != formats.FormatP010 &&
		modifier != formats.ModifierI915XTiled && modifier != formats.ModifierLinear {
		modifier = fallbackModifier(modifiers, formats.ModifierI915XTiled)
	}

	if b.info.graphicsVersion <= 8 && format == formats.FormatARGB8888 {
		modifier = formats.ModifierLinear
	}

	if b.NumPlanesFromModifier(format, modifier) == 0 {
		return formats.ModifierInvalid, errors.Wrapf(unix.EINVAL, "modifier %s does not apply to format %s", modifier, format)
	}

	return modifier, nil
}

func tilingForModifier(modifier formats.Modifier) uint32 {
	switch modifier {
	case formats.ModifierI915XTiled:
		return TilingX
	case formats.ModifierI915YTiled, formats.ModifierI915YTiledCCS, formats.ModifierI915YTiledGen12RCCCS:
		// Y tiling works with every IP block: render, media, and display
		return TilingY
	case formats.Modifier4Tiled:
		return Tiling4
	}
	return TilingNone
}

func (b *Backend) BOComputeMetadata(bo *drv.BO, width, height uint32, format formats.FourCC, useFlags drv.UseFlags, modifiers []formats.Modifier) error {
	modifier, err := b.chooseModifier(width, format, useFlags, modifiers)
	if err != nil {
		return err
	}

	bo.Meta.Tiling = tilingForModifier(modifier)
	bo.Meta.FormatModifier = modifier

	switch {
	case format == formats.FormatYVU420Android:
		// only ever used as a linear texture. Android needs chroma strides of ALIGN(luma/2, 16),
		// which a 32 byte luma stride guarantees.
		drv.BOFromFormat(bo, memutils.AlignUp(width, 32), height, format)
		return nil
	case modifier == formats.ModifierI915YTiledCCS:
		b.ccsLayout(bo, width, height, format)
		return nil
	case modifier == formats.ModifierI915YTiledGen12RCCCS:
		b.gen12RCCCSLayout(bo, width, height, format)
		return nil
	}

	return b.boFromFormat(bo, width, height, format)
}

// ccsLayout places a Y-tiled main surface followed by its color control surface. Each 32x16 block of
// Y tiles in the main surface needs one CCS tile.
func (b *Backend) ccsLayout(bo *drv.BO, width, height uint32, format formats.FourCC) {
	const (
		tileWidth  uint32 = 128
		tileHeight uint32 = 32
		tileSize   uint32 = 4096
	)

	stride := formats.StrideFromFormat(format, width, 0)
	widthInTiles := memutils.DivRoundUp(stride, tileWidth)
	heightInTiles := memutils.DivRoundUp(height, tileHeight)
	size := widthInTiles * heightInTiles * tileSize

	bo.Meta.Strides[0] = widthInTiles * tileWidth
	bo.Meta.Sizes[0] = size
	bo.Meta.Offsets[0] = 0

	// the main surface is a whole number of tiles, so the CCS offset is already 4096 aligned
	ccsWidthInTiles := memutils.DivRoundUp(widthInTiles, 32)
	ccsHeightInTiles := memutils.DivRoundUp(heightInTiles, 16)
	ccsSize := ccsWidthInTiles * ccsHeightInTiles * tileSize

	bo.Meta.Strides[1] = ccsWidthInTiles * tileWidth
	bo.Meta.Sizes[1] = ccsSize
	bo.Meta.Offsets[1] = size

	bo.Meta.NumPlanes = b.NumPlanesFromModifier(format, formats.ModifierI915YTiledCCS)
	bo.Meta.TotalSize = uint64(size + ccsSize)
}

// gen12RCCCSLayout places a render-compressed main surface followed by its linear aux surface. One
// 64 byte cache line of aux data covers four 128 byte by 32 line Y tiles.
func (b *Backend) gen12RCCCSLayout(bo *drv.BO, width, height uint32, format formats.FourCC) {
	stride := memutils.AlignUp(formats.StrideFromFormat(format, width, 0), 512)
	height = memutils.AlignUp(formats.HeightFromFormat(format, height, 0), 32)

	if b.info.isXeLPD && stride > 1 {
		stride = memutils.NextPow2(stride)
		height = memutils.AlignUp(formats.HeightFromFormat(format, height, 0), 128)
	}

	bo.Meta.Strides[0] = stride
	bo.Meta.Sizes[0] = memutils.AlignUp(stride*height, 65536)
	bo.Meta.Offsets[0] = 0

	bo.Meta.Strides[1] = bo.Meta.Strides[0] / 8
	bo.Meta.Sizes[1] = memutils.AlignUp(bo.Meta.Sizes[0]/256, b.pageSize)
	bo.Meta.Offsets[1] = bo.Meta.Sizes[0]

	bo.Meta.NumPlanes = b.NumPlanesFromModifier(format, formats.ModifierI915YTiledGen12RCCCS)
	bo.Meta.TotalSize = uint64(bo.Meta.Sizes[0] + bo.Meta.Sizes[1])
}

func (b *Backend) createHandle(bo *drv.BO) (uint32, error) {
	if b.info.hasHWProtection && bo.Meta.UseFlags&drv.UseProtected != 0 {
		protectedContent := &createExtProtected{
			Base: userExtension{
				Name: createExtProtectedContent,
			},
		}
		request := gemCreateExt{
			Size:       bo.Meta.TotalSize,
			Extensions: kernel.Pointer(protectedContent),
		}

		err := kernel.Invoke(b.device, ioctlGEMCreateExt, &request)
		runtime.KeepAlive(protectedContent)
		if err != nil {
			b.logger.Error("DRM_IOCTL_I915_GEM_CREATE_EXT failed",
				slog.Uint64("Size", request.Size),
				slog.Any("error", err))
			return 0, err
		}

		return request.Handle, nil
	}

	request := gemCreate{
		Size: bo.Meta.TotalSize,
	}
	err := kernel.Invoke(b.device, ioctlGEMCreate, &request)
	if err != nil {
		b.logger.Error("DRM_IOCTL_I915_GEM_CREATE failed",
			slog.Uint64("Size", request.Size),
			slog.Any("error", err))
		return 0, err
	}

	return request.Handle, nil
}

func (b *Backend) BOCreateFromMetadata(bo *drv.BO) error {
	handle, err := b.createHandle(bo)
	if err != nil {
		return err
	}

	for plane := 0; plane < bo.Meta.NumPlanes; plane++ {
		bo.Handles[plane] = handle
	}

	// kernels without fences do not support SET_TILING
	if b.info.numFencesAvail == 0 {
		return nil
	}

	request := gemSetTiling{
		Handle:     handle,
		TilingMode: bo.Meta.Tiling,
		Stride:     bo.Meta.Strides[0],
	}
	err = kernel.Invoke(b.device, ioctlGEMSetTiling, &request)
	if err != nil {
		closeErr := b.device.GEMClose(handle)
		if closeErr != nil {
			b.logger.Error("failed to close handle after tiling failure", slog.Any("error", closeErr))
		}
		b.logger.Error("DRM_IOCTL_I915_GEM_SET_TILING failed", slog.Any("error", err))
		return err
	}

	return nil
}
