package gem

import (
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"github.com/vkngwrapper/gbm/memutils"
)

const (
	rockchipMacroblockSize uint32 = 16
	// the video decoder stores motion vectors after the NV12 planes
	rockchipMotionVectorBytes uint32 = 128
	// the Mali cmem allocator wants 64-byte chroma strides for YV12
	rockchipYV12StrideAlignment uint32 = 128
)

var rockchipRenderFormats = []formats.FourCC{
	formats.FormatABGR8888,
	formats.FormatARGB8888,
	formats.FormatBGR888,
	formats.FormatRGB565,
	formats.FormatXBGR8888,
	formats.FormatXRGB8888,
}

var rockchipTextureFormats = []formats.FourCC{
	formats.FormatNV12,
	formats.FormatNV21,
	formats.FormatP010,
	formats.FormatYVU420,
	formats.FormatYVU420Android,
}

func rockchipLayout(bo *drv.BO, width, height uint32, format formats.FourCC, useFlags drv.UseFlags) {
	switch format {
	case formats.FormatNV12:
		widthMacroblocks := memutils.DivRoundUp(width, rockchipMacroblockSize)
		heightMacroblocks := memutils.DivRoundUp(height, rockchipMacroblockSize)

		drv.BOFromFormat(bo, widthMacroblocks*rockchipMacroblockSize, heightMacroblocks*rockchipMacroblockSize, format)
		bo.Meta.TotalSize += uint64(widthMacroblocks * heightMacroblocks * rockchipMotionVectorBytes)
	case formats.FormatYVU420, formats.FormatYVU420Android:
		stride := memutils.AlignUp(formats.StrideFromFormat(format, width, 0), rockchipYV12StrideAlignment)
		drv.BOFromFormat(bo, stride, height, format)
	default:
		stride := memutils.AlignUp(formats.StrideFromFormat(format, width, 0), cacheLineAlignment)
		drv.BOFromFormat(bo, stride, height, format)
	}
}

var rockchip = vendor{
	name: "rockchip",

	addCombinations: func(combos *drv.Combinations) {
		combos.AddAll(rockchipRenderFormats, drv.LinearMetadata, drv.UseRenderMask|drv.UseScanout)
		combos.AddAll(rockchipTextureFormats, drv.LinearMetadata, drv.UseTextureMask)

		// YV12 is written through dma-buf mmap and read by the encoder
		combos.Modify(formats.FormatYVU420, drv.LinearMetadata, drv.UseHWVideoEncoder)
		// the camera ISP only outputs NV12
		combos.Modify(formats.FormatNV12, drv.LinearMetadata,
			drv.UseCameraRead|drv.UseCameraWrite|drv.UseHWVideoDecoder|drv.UseHWVideoEncoder|drv.UseScanout)
		combos.ModifyLinear()

		combos.Add(formats.FormatR8, drv.LinearMetadata,
			drv.UseCameraRead|drv.UseCameraWrite|drv.UseSWMask|drv.UseLinear|drv.UseHWVideoDecoder|
				drv.UseHWVideoEncoder|drv.UseGPUDataBuffer|drv.UseSensorDirectData)
	},

	layout: rockchipLayout,

	create: func(device kernel.Device, size uint64) (uint32, error) {
		return createGEM(device, ioctlRockchipGEMCreate, size, 0)
	},

	mapOffset: func(device kernel.Device, handle uint32) (uint64, error) {
		return mapOffsetGEM(device, ioctlRockchipGEMMapOffset, handle)
	},
}

func NewRockchip() drv.Backend {
	return newBackend(&rockchip)
}
