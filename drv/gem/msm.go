package gem

import (
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"github.com/vkngwrapper/gbm/memutils"
)

const (
	msmDefaultAlignment  uint32 = 64
	msmBufferSizeAlign   uint32 = 4096
	venusStrideAlign     uint32 = 128
	venusScanlineAlign   uint32 = 16
	msmNV12LinearPadding uint32 = 12 * 1024
)

var msmRenderFormats = []formats.FourCC{
	formats.FormatABGR8888,
	formats.FormatARGB8888,
	formats.FormatRGB565,
	formats.FormatXBGR8888,
	formats.FormatXRGB8888,
	formats.FormatABGR2101010,
	formats.FormatABGR16161616F,
}

var msmTextureFormats = []formats.FourCC{
	formats.FormatNV12,
	formats.FormatR8,
	formats.FormatYVU420,
	formats.FormatYVU420Android,
	formats.FormatP010,
}

// msmVenusLayout lays out NV12 and P010 the way the venus video firmware expects, with padded scanlines
// and trailing slack
func msmVenusLayout(bo *drv.BO, width, height uint32, format formats.FourCC) {
	// P010 samples take two bytes
	if format == formats.FormatP010 {
		width *= 2
	}

	stride := memutils.AlignUp(width, venusStrideAlign)
	yScanlines := memutils.AlignUp(height, venusScanlineAlign*2)
	uvScanlines := memutils.AlignUp(memutils.DivRoundUp(height, 2), venusScanlineAlign)

	yPlane := stride * yScanlines
	uvPlane := stride * uvScanlines

	bo.Meta.Strides[0] = stride
	bo.Meta.Strides[1] = stride
	bo.Meta.Sizes[0] = yPlane
	bo.Meta.Offsets[0] = 0
	bo.Meta.Offsets[1] = yPlane

	totalSize := memutils.AlignUp(yPlane+uvPlane+msmNV12LinearPadding, msmBufferSizeAlign)
	bo.Meta.TotalSize = uint64(totalSize)
	bo.Meta.Sizes[1] = totalSize - yPlane
}

func msmLayout(bo *drv.BO, width, height uint32, format formats.FourCC, useFlags drv.UseFlags) {
	if format == formats.FormatNV12 || format == formats.FormatP010 {
		msmVenusLayout(bo, width, height, format)
		return
	}

	alignedWidth := memutils.AlignUp(width, msmDefaultAlignment)
	alignedHeight := memutils.AlignUp(height, msmDefaultAlignment)
	// YV12 height must stay exact, as must single-row R8 JPEG blobs
	if format == formats.FormatYVU420 || format == formats.FormatYVU420Android ||
		(format == formats.FormatR8 && height == 1) {
		alignedHeight = height
	}

	stride := formats.StrideFromFormat(format, alignedWidth, 0)
	drv.BOFromFormat(bo, stride, alignedHeight, format)
}

var msm = vendor{
	name: "msm",

	addCombinations: func(combos *drv.Combinations) {
		combos.AddAll(msmRenderFormats, drv.LinearMetadata, drv.UseRenderMask|drv.UseScanout)
		combos.AddAll(msmTextureFormats, drv.LinearMetadata, drv.UseTextureMask)

		combos.Modify(formats.FormatNV12, drv.LinearMetadata,
			drv.UseCameraRead|drv.UseCameraWrite|drv.UseScanout|drv.UseHWVideoDecoder|drv.UseHWVideoEncoder|
				drv.UseSensorDirectData)
		// R8 backs Android BLOB buffers
		combos.Modify(formats.FormatR8, drv.LinearMetadata,
			drv.UseCameraRead|drv.UseCameraWrite|drv.UseHWVideoDecoder|drv.UseHWVideoEncoder|
				drv.UseGPUDataBuffer|drv.UseSensorDirectData)
		combos.Add(formats.FormatBGR888, drv.LinearMetadata, drv.UseSWMask)

		combos.ModifyLinear()
	},

	layout: msmLayout,

	create: func(device kernel.Device, size uint64) (uint32, error) {
		return createGEM(device, ioctlMSMGEMNew, size, msmBOWC|msmBOScanout)
	},

	mapOffset: func(device kernel.Device, handle uint32) (uint64, error) {
		request := msmGEMInfo{
			Handle: handle,
			Info:   msmInfoGetOffset,
		}
		err := kernel.Invoke(device, ioctlMSMGEMInfo, &request)
		if err != nil {
			return 0, err
		}

		return request.Value, nil
	},
}

func NewMSM() drv.Backend {
	return newBackend(&msm)
}
