package gem

import (
	"io"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/mocks"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

func readyBackend(t *testing.T, ctrl *gomock.Controller, newFunc func() drv.Backend) (*mocks.MockDevice, *Backend, *drv.Combinations) {
	device := mocks.NewMockDevice(ctrl)
	combos := &drv.Combinations{}

	backend := newFunc().(*Backend)
	err := backend.Init(drv.InitContext{
		Device:       device,
		Combinations: combos,
		Config:       drv.DefaultConfig(),
		Logger:       slog.New(slog.NewTextHandler(io.Discard)),
	})
	require.NoError(t, err)

	return device, backend, combos
}

func TestIoctlCodes(t *testing.T) {
	require.Equal(t, uint32(0xc0106440), ioctlMediatekGEMCreate)
	require.Equal(t, uint32(0xc0106441), ioctlMediatekGEMMapOffset)
	require.Equal(t, uint32(0xc0106440), ioctlRockchipGEMCreate)
	require.Equal(t, uint32(0xc0106441), ioctlRockchipGEMMapOffset)
	require.Equal(t, uint32(0xc0106442), ioctlMSMGEMNew)
	require.Equal(t, uint32(0xc0186443), ioctlMSMGEMInfo)
}

func TestNames(t *testing.T) {
	require.Equal(t, "mediatek", NewMediatek().Name())
	require.Equal(t, "msm", NewMSM().Name())
	require.Equal(t, "rockchip", NewRockchip().Name())
}

func TestCombinations(t *testing.T) {
	testCases := map[string]struct {
		New      func() drv.Backend
		Format   formats.FourCC
		UseFlags drv.UseFlags
		Missing  bool
	}{
		"MediatekScanout": {
			New:      NewMediatek,
			Format:   formats.FormatXRGB8888,
			UseFlags: drv.UseScanout | drv.UseRendering,
		},
		"MediatekCursor": {
			New:      NewMediatek,
			Format:   formats.FormatARGB8888,
			UseFlags: drv.UseCursor,
		},
		"MediatekYV12Decoder": {
			New:      NewMediatek,
			Format:   formats.FormatYVU420Android,
			UseFlags: drv.UseHWVideoDecoder | drv.UseTexture,
		},
		"MediatekBlob": {
			New:      NewMediatek,
			Format:   formats.FormatR8,
			UseFlags: drv.UseCameraWrite | drv.UseSWReadOften,
		},
		"MediatekNoP010": {
			New:      NewMediatek,
			Format:   formats.FormatP010,
			UseFlags: drv.UseTexture,
			Missing:  true,
		},
		"RockchipCameraNV12": {
			New:      NewRockchip,
			Format:   formats.FormatNV12,
			UseFlags: drv.UseCameraRead | drv.UseCameraWrite | drv.UseScanout,
		},
		"RockchipYV12Encoder": {
			New:      NewRockchip,
			Format:   formats.FormatYVU420,
			UseFlags: drv.UseHWVideoEncoder | drv.UseSWWriteOften,
		},
		"RockchipNoYV12Decoder": {
			New:      NewRockchip,
			Format:   formats.FormatYVU420,
			UseFlags: drv.UseHWVideoDecoder,
			Missing:  true,
		},
		"MSMSensorNV12": {
			New:      NewMSM,
			Format:   formats.FormatNV12,
			UseFlags: drv.UseSensorDirectData | drv.UseHWVideoEncoder,
		},
		"MSMSoftwareBGR": {
			New:      NewMSM,
			Format:   formats.FormatBGR888,
			UseFlags: drv.UseSWReadRarely,
		},
		"MSMNoRenderingBGR": {
			New:      NewMSM,
			Format:   formats.FormatBGR888,
			UseFlags: drv.UseRendering,
			Missing:  true,
		},
	}

	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			_, _, combos := readyBackend(t, ctrl, testCase.New)

			combo := combos.Get(testCase.Format, testCase.UseFlags)
			if testCase.Missing {
				require.Nil(t, combo)
			} else {
				require.NotNil(t, combo)
				require.Equal(t, formats.ModifierLinear, combo.Metadata.Modifier)
			}
		})
	}
}

func TestCreate(t *testing.T) {
	testCases := map[string]struct {
		New        func() drv.Backend
		CreateCode uint32
		Flags      uint32
		Width      uint32
		Height     uint32
		Format     formats.FourCC
		UseFlags   drv.UseFlags

		Strides   [formats.MaxPlanes]uint32
		Sizes     [formats.MaxPlanes]uint32
		Offsets   [formats.MaxPlanes]uint32
		TotalSize uint64
	}{
		"MediatekCacheLineStride": {
			New:        NewMediatek,
			CreateCode: ioctlMediatekGEMCreate,
			Width:      100,
			Height:     30,
			Format:     formats.FormatXRGB8888,
			UseFlags:   drv.UseScanout,
			Strides:    [formats.MaxPlanes]uint32{448},
			Sizes:      [formats.MaxPlanes]uint32{13440},
			TotalSize:  13440,
		},
		"MediatekVideoHeight": {
			New:        NewMediatek,
			CreateCode: ioctlMediatekGEMCreate,
			Width:      100,
			Height:     30,
			Format:     formats.FormatNV12,
			UseFlags:   drv.UseHWVideoDecoder,
			Strides:    [formats.MaxPlanes]uint32{128, 128},
			Sizes:      [formats.MaxPlanes]uint32{4096, 2048},
			Offsets:    [formats.MaxPlanes]uint32{0, 4096},
			TotalSize:  6144,
		},
		"RockchipMacroblocks": {
			New:        NewRockchip,
			CreateCode: ioctlRockchipGEMCreate,
			Width:      100,
			Height:     30,
			Format:     formats.FormatNV12,
			UseFlags:   drv.UseCameraWrite,
			Strides:    [formats.MaxPlanes]uint32{112, 112},
			Sizes:      [formats.MaxPlanes]uint32{3584, 1792},
			Offsets:    [formats.MaxPlanes]uint32{0, 3584},
			TotalSize:  7168,
		},
		"RockchipYV12": {
			New:        NewRockchip,
			CreateCode: ioctlRockchipGEMCreate,
			Width:      100,
			Height:     30,
			Format:     formats.FormatYVU420,
			UseFlags:   drv.UseHWVideoEncoder,
			Strides:    [formats.MaxPlanes]uint32{128, 64, 64},
			Sizes:      [formats.MaxPlanes]uint32{3840, 960, 960},
			Offsets:    [formats.MaxPlanes]uint32{0, 3840, 4800},
			TotalSize:  5760,
		},
		"MSMVenusNV12": {
			New:        NewMSM,
			CreateCode: ioctlMSMGEMNew,
			Flags:      msmBOWC | msmBOScanout,
			Width:      100,
			Height:     30,
			Format:     formats.FormatNV12,
			UseFlags:   drv.UseHWVideoDecoder,
			Strides:    [formats.MaxPlanes]uint32{128, 128},
			Sizes:      [formats.MaxPlanes]uint32{4096, 16384},
			Offsets:    [formats.MaxPlanes]uint32{0, 4096},
			TotalSize:  20480,
		},
		"MSMVenusP010": {
			New:        NewMSM,
			CreateCode: ioctlMSMGEMNew,
			Flags:      msmBOWC | msmBOScanout,
			Width:      100,
			Height:     30,
			Format:     formats.FormatP010,
			UseFlags:   drv.UseTexture,
			Strides:    [formats.MaxPlanes]uint32{256, 256},
			Sizes:      [formats.MaxPlanes]uint32{8192, 16384},
			Offsets:    [formats.MaxPlanes]uint32{0, 8192},
			TotalSize:  24576,
		},
		"MSMAlignedRGB": {
			New:        NewMSM,
			CreateCode: ioctlMSMGEMNew,
			Flags:      msmBOWC | msmBOScanout,
			Width:      100,
			Height:     30,
			Format:     formats.FormatXRGB8888,
			UseFlags:   drv.UseScanout,
			Strides:    [formats.MaxPlanes]uint32{512},
			Sizes:      [formats.MaxPlanes]uint32{32768},
			TotalSize:  32768,
		},
		"MSMExactYV12Height": {
			New:        NewMSM,
			CreateCode: ioctlMSMGEMNew,
			Flags:      msmBOWC | msmBOScanout,
			Width:      100,
			Height:     30,
			Format:     formats.FormatYVU420,
			UseFlags:   drv.UseTexture,
			Strides:    [formats.MaxPlanes]uint32{128, 64, 64},
			Sizes:      [formats.MaxPlanes]uint32{3840, 960, 960},
			Offsets:    [formats.MaxPlanes]uint32{0, 3840, 4800},
			TotalSize:  5760,
		},
		"MSMJpegBlob": {
			New:        NewMSM,
			CreateCode: ioctlMSMGEMNew,
			Flags:      msmBOWC | msmBOScanout,
			Width:      100,
			Height:     1,
			Format:     formats.FormatR8,
			UseFlags:   drv.UseCameraWrite,
			Strides:    [formats.MaxPlanes]uint32{128},
			Sizes:      [formats.MaxPlanes]uint32{128},
			TotalSize:  128,
		},
	}

	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			device, backend, _ := readyBackend(t, ctrl, testCase.New)

			device.EXPECT().Ioctl(testCase.CreateCode, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
				request := (*gemCreate)(arg)
				require.Equal(t, testCase.TotalSize, request.Size)
				require.Equal(t, testCase.Flags, request.Flags)
				request.Handle = 9
				return nil
			})

			numPlanes := formats.NumPlanes(testCase.Format)
			bo := drv.BO{Meta: drv.Metadata{NumPlanes: numPlanes}}
			err := backend.BOCreate(&bo, testCase.Width, testCase.Height, testCase.Format, testCase.UseFlags)
			require.NoError(t, err)

			require.Equal(t, testCase.Strides, bo.Meta.Strides)
			require.Equal(t, testCase.Sizes, bo.Meta.Sizes)
			require.Equal(t, testCase.Offsets, bo.Meta.Offsets)
			require.Equal(t, testCase.TotalSize, bo.Meta.TotalSize)
			require.Equal(t, formats.ModifierLinear, bo.Meta.FormatModifier)
			for plane := 0; plane < numPlanes; plane++ {
				require.Equal(t, uint32(9), bo.Handles[plane])
			}
		})
	}
}

func TestCreateFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, backend, _ := readyBackend(t, ctrl, NewMediatek)

	device.EXPECT().Ioctl(ioctlMediatekGEMCreate, gomock.Any()).Return(unix.ENOMEM)

	bo := drv.BO{Meta: drv.Metadata{NumPlanes: 1}}
	err := backend.BOCreate(&bo, 64, 64, formats.FormatXRGB8888, drv.UseScanout)
	require.ErrorIs(t, err, unix.ENOMEM)
	require.Equal(t, uint32(0), bo.Handles[0])
}

func TestCreateWithModifiers(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, backend, _ := readyBackend(t, ctrl, NewRockchip)

	bo := drv.BO{Meta: drv.Metadata{NumPlanes: 1}}
	err := backend.BOCreateWithModifiers(&bo, 64, 64, formats.FormatXRGB8888, []formats.Modifier{formats.ModifierI915YTiled})
	require.ErrorIs(t, err, unix.EINVAL)

	device.EXPECT().Ioctl(ioctlRockchipGEMCreate, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
		request := (*gemCreate)(arg)
		require.Equal(t, uint64(256*64), request.Size)
		request.Handle = 4
		return nil
	})

	err = backend.BOCreateWithModifiers(&bo, 64, 64, formats.FormatXRGB8888,
		[]formats.Modifier{formats.ModifierI915YTiled, formats.ModifierLinear})
	require.NoError(t, err)
	require.Equal(t, uint32(4), bo.Handles[0])
	require.Equal(t, formats.ModifierLinear, bo.Meta.FormatModifier)
}

func TestImport(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, backend, _ := readyBackend(t, ctrl, NewMSM)

	bo := drv.BO{Meta: drv.Metadata{NumPlanes: 2}}
	data := drv.ImportData{
		FDs:            [formats.MaxPlanes]int{10, 11},
		Format:         formats.FormatNV12,
		FormatModifier: formats.ModifierI915XTiled,
	}
	err := backend.BOImport(&bo, &data)
	require.ErrorIs(t, err, unix.EINVAL)

	data.FormatModifier = formats.ModifierLinear
	device.EXPECT().PrimeFDToHandle(10).Return(uint32(20), nil)
	device.EXPECT().PrimeFDToHandle(11).Return(uint32(20), nil)

	err = backend.BOImport(&bo, &data)
	require.NoError(t, err)
	require.Equal(t, [formats.MaxPlanes]uint32{20, 20}, bo.Handles)

	// shared handles are closed once
	device.EXPECT().GEMClose(uint32(20)).Return(nil)
	require.NoError(t, backend.BODestroy(&bo))
}

func TestMap(t *testing.T) {
	testCases := map[string]struct {
		New      func() drv.Backend
		Code     uint32
		MapFlags drv.MapFlags
		Prot     int
	}{
		"Mediatek": {
			New:      NewMediatek,
			Code:     ioctlMediatekGEMMapOffset,
			MapFlags: drv.MapRead,
			Prot:     unix.PROT_READ,
		},
		"Rockchip": {
			New:      NewRockchip,
			Code:     ioctlRockchipGEMMapOffset,
			MapFlags: drv.MapReadWrite,
			Prot:     unix.PROT_READ | unix.PROT_WRITE,
		},
	}

	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			device, backend, _ := readyBackend(t, ctrl, testCase.New)

			memory := make([]byte, 4096)
			device.EXPECT().Ioctl(testCase.Code, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
				request := (*gemMapOffset)(arg)
				require.Equal(t, uint32(6), request.Handle)
				request.Offset = 0x7000
				return nil
			})
			device.EXPECT().Mmap(uint64(4096), testCase.Prot, unix.MAP_SHARED, uint64(0x7000)).
				Return(unsafe.Pointer(&memory[0]), nil)

			bo := drv.BO{
				Meta:    drv.Metadata{NumPlanes: 1, TotalSize: 4096},
				Handles: [formats.MaxPlanes]uint32{6},
			}
			vma := drv.Vma{Handle: 6, MapFlags: testCase.MapFlags}
			addr, err := backend.BOMap(&bo, &vma, 0, testCase.MapFlags)
			require.NoError(t, err)
			require.Equal(t, unsafe.Pointer(&memory[0]), addr)
			require.Equal(t, uint64(4096), vma.Length)
			vma.Addr = addr

			device.EXPECT().Munmap(unsafe.Pointer(&memory[0]), uint64(4096)).Return(nil)
			require.NoError(t, backend.BOUnmap(&bo, &vma))
		})
	}
}

func TestMapMSM(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, backend, _ := readyBackend(t, ctrl, NewMSM)

	memory := make([]byte, 8192)
	device.EXPECT().Ioctl(ioctlMSMGEMInfo, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
		request := (*msmGEMInfo)(arg)
		require.Equal(t, uint32(3), request.Handle)
		require.Equal(t, msmInfoGetOffset, request.Info)
		request.Value = 0x9000
		return nil
	})
	device.EXPECT().Mmap(uint64(8192), unix.PROT_WRITE, unix.MAP_SHARED, uint64(0x9000)).
		Return(unsafe.Pointer(&memory[0]), nil)

	bo := drv.BO{
		Meta:    drv.Metadata{NumPlanes: 1, TotalSize: 8192},
		Handles: [formats.MaxPlanes]uint32{3},
	}
	vma := drv.Vma{Handle: 3, MapFlags: drv.MapWrite}
	_, err := backend.BOMap(&bo, &vma, 0, drv.MapWrite)
	require.NoError(t, err)
}

func TestMapOffsetFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, backend, _ := readyBackend(t, ctrl, NewMSM)

	device.EXPECT().Ioctl(ioctlMSMGEMInfo, gomock.Any()).Return(unix.ENOENT)

	bo := drv.BO{Meta: drv.Metadata{NumPlanes: 1, TotalSize: 8192}}
	vma := drv.Vma{}
	addr, err := backend.BOMap(&bo, &vma, 0, drv.MapRead)
	require.ErrorIs(t, err, unix.ENOENT)
	require.Nil(t, addr)
}
