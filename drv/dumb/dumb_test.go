package dumb

import (
	"io"
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"github.com/vkngwrapper/gbm/internal/mocks"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

func readyBackend(t *testing.T, ctrl *gomock.Controller) (*mocks.MockDevice, drv.Backend, *drv.Combinations) {
	device := mocks.NewMockDevice(ctrl)
	combos := &drv.Combinations{}

	backend := New("udl")
	err := backend.Init(drv.InitContext{
		Device:       device,
		Combinations: combos,
		Config:       drv.DefaultConfig(),
		Logger:       slog.New(slog.NewTextHandler(io.Discard)),
	})
	require.NoError(t, err)

	return device, backend, combos
}

func TestNames(t *testing.T) {
	for _, name := range Names {
		require.Equal(t, name, New(name).Name())
	}
	require.Contains(t, Names, "sun4i-drm")
	require.Contains(t, Names, "vkms")
}

func TestCombinations(t *testing.T) {
	testCases := map[string]struct {
		Format   formats.FourCC
		UseFlags drv.UseFlags
		Missing  bool
	}{
		"ScanoutXRGB": {
			Format:   formats.FormatXRGB8888,
			UseFlags: drv.UseScanout | drv.UseRendering,
		},
		"CursorARGB": {
			Format:   formats.FormatARGB8888,
			UseFlags: drv.UseCursor,
		},
		"CameraNV12": {
			Format:   formats.FormatNV12,
			UseFlags: drv.UseCameraWrite | drv.UseHWVideoDecoder,
		},
		"EncoderNV21": {
			Format:   formats.FormatNV21,
			UseFlags: drv.UseHWVideoEncoder | drv.UseTexture,
		},
		"NoNV21Decoder": {
			Format:   formats.FormatNV21,
			UseFlags: drv.UseHWVideoDecoder,
			Missing:  true,
		},
		"NoYV12Scanout": {
			Format:   formats.FormatYVU420,
			UseFlags: drv.UseScanout,
			Missing:  true,
		},
		"NoCursorXBGR": {
			Format:   formats.FormatXBGR8888,
			UseFlags: drv.UseCursor,
			Missing:  true,
		},
	}

	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			_, _, combos := readyBackend(t, ctrl)

			combo := combos.Get(testCase.Format, testCase.UseFlags)
			if testCase.Missing {
				require.Nil(t, combo)
			} else {
				require.NotNil(t, combo)
			}
		})
	}
}

func TestCreate(t *testing.T) {
	testCases := map[string]struct {
		Width        uint32
		Height       uint32
		Format       formats.FourCC
		DumbWidth    uint32
		DumbHeight   uint32
		BitsPerPixel uint32
		Pitch        uint32
		DumbSize     uint64

		Strides [formats.MaxPlanes]uint32
		Sizes   [formats.MaxPlanes]uint32
		Offsets [formats.MaxPlanes]uint32
	}{
		"XRGB": {
			Width:        64,
			Height:       32,
			Format:       formats.FormatXRGB8888,
			DumbWidth:    64,
			DumbHeight:   32,
			BitsPerPixel: 32,
			Pitch:        256,
			DumbSize:     8192,
			Strides:      [formats.MaxPlanes]uint32{256},
			Sizes:        [formats.MaxPlanes]uint32{8192},
		},
		"R16WidthAligned": {
			Width:        100,
			Height:       10,
			Format:       formats.FormatR16,
			DumbWidth:    128,
			DumbHeight:   10,
			BitsPerPixel: 16,
			Pitch:        256,
			DumbSize:     2560,
			Strides:      [formats.MaxPlanes]uint32{256},
			Sizes:        [formats.MaxPlanes]uint32{2560},
		},
		"NV12ChromaRows": {
			Width:        64,
			Height:       64,
			Format:       formats.FormatNV12,
			DumbWidth:    64,
			DumbHeight:   96,
			BitsPerPixel: 8,
			Pitch:        64,
			DumbSize:     6144,
			Strides:      [formats.MaxPlanes]uint32{64, 64},
			Sizes:        [formats.MaxPlanes]uint32{4096, 2048},
			Offsets:      [formats.MaxPlanes]uint32{0, 4096},
		},
		"AndroidYV12": {
			Width:        100,
			Height:       30,
			Format:       formats.FormatYVU420Android,
			DumbWidth:    128,
			DumbHeight:   45,
			BitsPerPixel: 8,
			Pitch:        128,
			DumbSize:     5760,
			Strides:      [formats.MaxPlanes]uint32{128, 64, 64},
			Sizes:        [formats.MaxPlanes]uint32{3840, 960, 960},
			Offsets:      [formats.MaxPlanes]uint32{0, 3840, 4800},
		},
	}

	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			device, backend, _ := readyBackend(t, ctrl)
			creator := backend.(drv.Creator)

			device.EXPECT().CreateDumb(testCase.DumbWidth, testCase.DumbHeight, testCase.BitsPerPixel).
				Return(kernel.DumbBuffer{Handle: 12, Pitch: testCase.Pitch, Size: testCase.DumbSize}, nil)

			bo := drv.BO{}
			err := creator.BOCreate(&bo, testCase.Width, testCase.Height, testCase.Format, drv.UseTexture)
			require.NoError(t, err)

			require.Equal(t, formats.NumPlanes(testCase.Format), bo.Meta.NumPlanes)
			require.Equal(t, testCase.Strides, bo.Meta.Strides)
			require.Equal(t, testCase.Sizes, bo.Meta.Sizes)
			require.Equal(t, testCase.Offsets, bo.Meta.Offsets)
			require.Equal(t, testCase.DumbSize, bo.Meta.TotalSize)
			require.Equal(t, formats.ModifierLinear, bo.Meta.FormatModifier)
			for plane := 0; plane < bo.Meta.NumPlanes; plane++ {
				require.Equal(t, uint32(12), bo.Handles[plane])
			}
		})
	}
}

func TestCreateFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, backend, _ := readyBackend(t, ctrl)

	device.EXPECT().CreateDumb(uint32(64), uint32(64), uint32(32)).Return(kernel.DumbBuffer{}, unix.ENOMEM)

	bo := drv.BO{}
	err := backend.(drv.Creator).BOCreate(&bo, 64, 64, formats.FormatXRGB8888, drv.UseScanout)
	require.ErrorIs(t, err, unix.ENOMEM)
}

func TestMapCoversSharedPlanes(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, backend, _ := readyBackend(t, ctrl)

	memory := make([]byte, 6144)
	bo := drv.BO{
		Meta: drv.Metadata{
			NumPlanes: 2,
			Sizes:     [formats.MaxPlanes]uint32{4096, 2048},
		},
		Handles: [formats.MaxPlanes]uint32{12, 12},
	}

	device.EXPECT().MapDumb(uint32(12)).Return(uint64(0x4000), nil)
	device.EXPECT().Mmap(uint64(6144), unix.PROT_READ, unix.MAP_SHARED, uint64(0x4000)).
		Return(unsafe.Pointer(&memory[0]), nil)

	vma := drv.Vma{Handle: 12, MapFlags: drv.MapRead}
	addr, err := backend.BOMap(&bo, &vma, 0, drv.MapRead)
	require.NoError(t, err)
	require.Equal(t, uint64(6144), vma.Length)
	vma.Addr = addr

	device.EXPECT().Munmap(unsafe.Pointer(&memory[0]), uint64(6144)).Return(nil)
	require.NoError(t, backend.BOUnmap(&bo, &vma))

	device.EXPECT().DestroyDumb(uint32(12)).Return(nil)
	require.NoError(t, backend.BODestroy(&bo))
}

func TestImport(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, backend, _ := readyBackend(t, ctrl)

	device.EXPECT().PrimeFDToHandle(7).Return(uint32(30), nil)
	device.EXPECT().PrimeFDToHandle(8).Return(uint32(0), unix.EBADF)
	device.EXPECT().GEMClose(uint32(30)).Return(nil)

	bo := drv.BO{Meta: drv.Metadata{NumPlanes: 2}}
	err := backend.BOImport(&bo, &drv.ImportData{FDs: [formats.MaxPlanes]int{7, 8}})
	require.ErrorIs(t, err, unix.EBADF)
}
