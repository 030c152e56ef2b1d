package gem

import (
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"github.com/vkngwrapper/gbm/memutils"
)

// Video codec engines read macroblock rows past the visible height
const mediatekVideoHeightAlignment uint32 = 32

var mediatekRenderFormats = []formats.FourCC{
	formats.FormatABGR8888,
	formats.FormatARGB8888,
	formats.FormatRGB565,
	formats.FormatXBGR8888,
	formats.FormatXRGB8888,
	formats.FormatABGR2101010,
	formats.FormatABGR16161616F,
}

var mediatekTextureFormats = []formats.FourCC{
	formats.FormatNV21,
	formats.FormatNV12,
	formats.FormatYUYV,
	formats.FormatYVU420,
	formats.FormatYVU420Android,
}

var mediatek = vendor{
	name: "mediatek",

	addCombinations: func(combos *drv.Combinations) {
		combos.AddAll(mediatekRenderFormats, drv.LinearMetadata, drv.UseRenderMask|drv.UseScanout)
		combos.AddAll(mediatekTextureFormats, drv.LinearMetadata, drv.UseTextureMask)

		combos.Add(formats.FormatR8, drv.LinearMetadata, drv.UseSWMask|drv.UseLinear)
		combos.Add(formats.FormatBGR888, drv.LinearMetadata, drv.UseSWMask)

		combos.Modify(formats.FormatYVU420, drv.LinearMetadata, drv.UseHWVideoDecoder)
		combos.Modify(formats.FormatYVU420Android, drv.LinearMetadata, drv.UseHWVideoDecoder)
		combos.Modify(formats.FormatNV12, drv.LinearMetadata,
			drv.UseCameraRead|drv.UseCameraWrite|drv.UseHWVideoDecoder|drv.UseHWVideoEncoder)
		combos.Modify(formats.FormatR8, drv.LinearMetadata,
			drv.UseCameraRead|drv.UseCameraWrite|drv.UseHWVideoDecoder|drv.UseHWVideoEncoder|
				drv.UseSensorDirectData|drv.UseGPUDataBuffer)

		combos.ModifyLinear()
	},

	layout: func(bo *drv.BO, width, height uint32, format formats.FourCC, useFlags drv.UseFlags) {
		stride := memutils.AlignUp(formats.StrideFromFormat(format, width, 0), cacheLineAlignment)
		if useFlags&(drv.UseHWVideoDecoder|drv.UseHWVideoEncoder) != 0 {
			height = memutils.AlignUp(height, mediatekVideoHeightAlignment)
		}

		drv.BOFromFormat(bo, stride, height, format)
	},

	create: func(device kernel.Device, size uint64) (uint32, error) {
		return createGEM(device, ioctlMediatekGEMCreate, size, 0)
	},

	mapOffset: func(device kernel.Device, handle uint32) (uint64, error) {
		return mapOffsetGEM(device, ioctlMediatekGEMMapOffset, handle)
	},
}

func NewMediatek() drv.Backend {
	return newBackend(&mediatek)
}
