package virtgpu

import (
	"io"
	"testing"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/mocks"
	"go.uber.org/mock/gomock"
	"golang.org/x/exp/slog"
	"golang.org/x/sys/unix"
)

const (
	ringHandle    uint32 = 1
	ringResHandle uint32 = 2
	ringOffset    uint64 = 0x10000
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard))
}

// expectParams answers every GETPARAM probe. Parameters missing from values are rejected the way
// older kernels reject unknown parameters.
func expectParams(device *mocks.MockDevice, values map[uint64]int32) {
	device.EXPECT().Ioctl(ioctlGetParam, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
		request := (*getParam)(arg)
		value, ok := values[request.Param]
		if !ok {
			return unix.EINVAL
		}

		*(*int32)(unsafe.Pointer(uintptr(request.Value))) = value
		return nil
	}).Times(len(paramInfos))
}

func crossDomainParams() map[uint64]int32 {
	return map[uint64]int32{
		param3DFeatures:         1,
		paramResourceBlob:       1,
		paramHostVisible:        1,
		paramContextInit:        1,
		paramSupportedCapsetIDs: 1 << capsetCrossDomain,
	}
}

func expectCaps(device *mocks.MockDevice, dmabuf uint32) {
	device.EXPECT().Ioctl(ioctlGetCaps, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
		request := (*getCaps)(arg)
		if request.CapSetID != capsetCrossDomain {
			return unix.EINVAL
		}

		caps := (*crossDomainCapabilities)(unsafe.Pointer(uintptr(request.Addr)))
		caps.Version = 1
		caps.SupportsDmabuf = dmabuf
		caps.SupportsExternalGPUMemory = 1
		return nil
	})
}

func newBackend(device *mocks.MockDevice) (*Backend, *drv.Combinations) {
	combos := &drv.Combinations{}
	backend := New().(*Backend)
	backend.device = device
	backend.logger = testLogger()
	return backend, combos
}

func initContext(device *mocks.MockDevice, combos *drv.Combinations) drv.InitContext {
	return drv.InitContext{
		Device:       device,
		Combinations: combos,
		Logger:       testLogger(),
	}
}

// readyCrossDomain runs a successful cross-domain Init and returns the memory standing in for the
// query ring
func readyCrossDomain(t *testing.T, ctrl *gomock.Controller, values map[uint64]int32) (*mocks.MockDevice, *Backend, *drv.Combinations, []uint64) {
	device := mocks.NewMockDevice(ctrl)
	ring := make([]uint64, pageSize/8)

	expectParams(device, values)
	gomock.InOrder(
		device.EXPECT().Ioctl(ioctlGetCaps, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
			caps := (*crossDomainCapabilities)(unsafe.Pointer(uintptr((*getCaps)(arg).Addr)))
			caps.SupportsDmabuf = 1
			caps.SupportsExternalGPUMemory = 1
			return nil
		}),
		device.EXPECT().Ioctl(ioctlContextInit, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
			request := (*contextInit)(arg)
			require.Equal(t, uint32(2), request.NumParams)

			setParams := (*[2]contextSetParam)(unsafe.Pointer(uintptr(request.CtxSetParams)))
			require.Equal(t, contextSetParam{Param: contextParamCapsetID, Value: uint64(capsetCrossDomain)}, setParams[0])
			require.Equal(t, contextSetParam{Param: contextParamNumRings, Value: 2}, setParams[1])
			return nil
		}),
		device.EXPECT().Ioctl(ioctlResourceCreateBlob, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
			request := (*resourceCreateBlob)(arg)
			require.Equal(t, blobMemGuest, request.BlobMem)
			require.Equal(t, blobFlagUseMappable, request.BlobFlags)
			require.Equal(t, pageSize, request.Size)
			request.BOHandle = ringHandle
			request.ResHandle = ringResHandle
			return nil
		}),
		device.EXPECT().Ioctl(ioctlMap, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
			request := (*mapRequest)(arg)
			require.Equal(t, ringHandle, request.Handle)
			request.Offset = ringOffset
			return nil
		}),
		device.EXPECT().Mmap(pageSize, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED, ringOffset).
			Return(unsafe.Pointer(&ring[0]), nil),
		device.EXPECT().Ioctl(ioctlExecbuffer, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
			request := (*execbuffer)(arg)
			require.Equal(t, execbufRingIdx, request.Flags)
			require.Equal(t, crossDomainQueryRing, request.RingIdx)
			require.Equal(t, uint32(1), request.NumBOHandles)
			require.Equal(t, ringHandle, *(*uint32)(unsafe.Pointer(uintptr(request.BOHandles))))

			command := (*crossDomainInit)(unsafe.Pointer(uintptr(request.Command)))
			require.Equal(t, crossDomainCmdInit, command.Header.Cmd)
			require.Equal(t, uint16(20), command.Header.CmdSize)
			require.Equal(t, ringResHandle, command.QueryRingID)
			return nil
		}),
	)

	backend, combos := newBackend(device)
	err := backend.Init(initContext(device, combos))
	require.NoError(t, err)
	require.IsType(t, &crossDomain{}, backend.impl)

	return device, backend, combos, ring
}

// expectRequirements answers one image requirements query by writing reply into the ring
func expectRequirements(t *testing.T, device *mocks.MockDevice, ring []uint64, format formats.FourCC, reply crossDomainImageRequirements) {
	device.EXPECT().Ioctl(ioctlExecbuffer, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
		request := (*execbuffer)(arg)
		command := (*crossDomainGetImageRequirements)(unsafe.Pointer(uintptr(request.Command)))
		require.Equal(t, crossDomainCmdGetImageRequirements, command.Header.Cmd)
		require.Equal(t, uint32(format), command.DRMFormat)

		*(*crossDomainImageRequirements)(unsafe.Pointer(&ring[0])) = reply
		return nil
	})
	device.EXPECT().Ioctl(ioctlWait, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
		require.Equal(t, ringHandle, (*wait)(arg).Handle)
		return nil
	})
}

func TestIoctlCodes(t *testing.T) {
	testCases := map[string]struct {
		Code     uint32
		Expected uint32
	}{
		"Map":                {Code: ioctlMap, Expected: 0xc0106441},
		"Execbuffer":         {Code: ioctlExecbuffer, Expected: 0xc0286442},
		"GetParam":           {Code: ioctlGetParam, Expected: 0xc0106443},
		"ResourceCreate":     {Code: ioctlResourceCreate, Expected: 0xc0386444},
		"TransferFromHost":   {Code: ioctlTransferFromHost, Expected: 0xc02c6446},
		"TransferToHost":     {Code: ioctlTransferToHost, Expected: 0xc02c6447},
		"Wait":               {Code: ioctlWait, Expected: 0xc0086448},
		"GetCaps":            {Code: ioctlGetCaps, Expected: 0xc0186449},
		"ResourceCreateBlob": {Code: ioctlResourceCreateBlob, Expected: 0xc030644a},
		"ContextInit":        {Code: ioctlContextInit, Expected: 0xc010644b},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, testCase.Expected, testCase.Code)
		})
	}
}

func TestProbeParams(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)
	expectParams(device, map[uint64]int32{
		param3DFeatures:         1,
		paramSupportedCapsetIDs: 0x26,
	})

	backend, _ := newBackend(device)
	backend.probeParams()

	require.Equal(t, uint64(1), backend.params[param3DFeatures])
	require.Equal(t, uint64(0x26), backend.params[paramSupportedCapsetIDs])
	require.Zero(t, backend.params[paramResourceBlob])
	require.Zero(t, backend.params[paramCreateGuestHandle])
}

func TestInitFallsBackToVirgl(t *testing.T) {
	testCases := map[string]struct {
		Values     map[uint64]int32
		ExpectCaps bool
		Is3D       bool
	}{
		"NoBlobs": {
			Values: map[uint64]int32{param3DFeatures: 1, paramContextInit: 1},
			Is3D:   true,
		},
		"NoCapset": {
			Values: map[uint64]int32{
				param3DFeatures:   1,
				paramContextInit:  1,
				paramResourceBlob: 1,
				paramHostVisible:  1,
			},
			Is3D: true,
		},
		"NoDmabuf": {
			Values:     crossDomainParams(),
			ExpectCaps: true,
			Is3D:       true,
		},
		"TwoD": {
			Values: map[uint64]int32{},
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			device := mocks.NewMockDevice(ctrl)
			expectParams(device, testCase.Values)
			if testCase.ExpectCaps {
				expectCaps(device, 0)
			}

			backend, combos := newBackend(device)
			err := backend.Init(initContext(device, combos))
			require.NoError(t, err)

			impl, ok := backend.impl.(*virgl)
			require.True(t, ok)
			require.Equal(t, testCase.Is3D, impl.is3D)
			require.NotZero(t, combos.Len())
			require.NotNil(t, combos.Get(formats.FormatXRGB8888, drv.UseScanout))

			require.NoError(t, backend.Close())
		})
	}
}

func TestCrossDomainInitUnwinds(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)
	ring := make([]uint64, pageSize/8)

	expectParams(device, crossDomainParams())
	expectCaps(device, 1)
	device.EXPECT().Ioctl(ioctlContextInit, gomock.Any()).Return(nil)
	device.EXPECT().Ioctl(ioctlResourceCreateBlob, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
		(*resourceCreateBlob)(arg).BOHandle = ringHandle
		return nil
	})
	device.EXPECT().Ioctl(ioctlMap, gomock.Any()).Return(nil)
	device.EXPECT().Mmap(pageSize, gomock.Any(), gomock.Any(), gomock.Any()).Return(unsafe.Pointer(&ring[0]), nil)
	device.EXPECT().Ioctl(ioctlExecbuffer, gomock.Any()).Return(unix.ENOMEM)
	gomock.InOrder(
		device.EXPECT().Munmap(unsafe.Pointer(&ring[0]), pageSize).Return(nil),
		device.EXPECT().GEMClose(ringHandle).Return(nil),
	)

	backend, combos := newBackend(device)
	err := backend.Init(initContext(device, combos))
	require.NoError(t, err)
	require.IsType(t, &virgl{}, backend.impl)
}

func TestCrossDomainCombinations(t *testing.T) {
	ctrl := gomock.NewController(t)
	_, _, combos, _ := readyCrossDomain(t, ctrl, crossDomainParams())

	testCases := map[string]struct {
		Format   formats.FourCC
		UseFlags drv.UseFlags
		Missing  bool
	}{
		"ScanoutXRGB":       {Format: formats.FormatXRGB8888, UseFlags: drv.UseScanout | drv.UseRendering},
		"NoCursor":          {Format: formats.FormatARGB8888, UseFlags: drv.UseCursor, Missing: true},
		"Scanout1010102":    {Format: formats.FormatXRGB2101010, UseFlags: drv.UseScanout},
		"NV12Camera":        {Format: formats.FormatNV12, UseFlags: drv.UseCameraWrite | drv.UseHWVideoEncoder},
		"YV12Encoder":       {Format: formats.FormatYVU420, UseFlags: drv.UseHWVideoEncoder},
		"R8Blob":            {Format: formats.FormatR8, UseFlags: drv.UseGPUDataBuffer},
		"BGR888":            {Format: formats.FormatBGR888, UseFlags: drv.UseSWReadOften},
		"NV21NoEncoder":     {Format: formats.FormatNV21, UseFlags: drv.UseHWVideoEncoder, Missing: true},
		"HalfFloatNotThere": {Format: formats.FormatABGR16161616F, UseFlags: drv.UseTexture, Missing: true},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			combo := combos.Get(testCase.Format, testCase.UseFlags)
			if testCase.Missing {
				require.Nil(t, combo)
			} else {
				require.NotNil(t, combo)
			}
		})
	}
}

func TestCrossDomainCreate(t *testing.T) {
	testCases := map[string]struct {
		ExtraParams map[uint64]int32
		UseFlags    drv.UseFlags
		BlobMem     uint32
		BlobFlags   uint32
	}{
		"HostVisible": {
			UseFlags:  drv.UseScanout | drv.UseRendering,
			BlobMem:   blobMemHost3D,
			BlobFlags: blobFlagUseShareable,
		},
		"Mappable": {
			UseFlags:  drv.UseSWReadOften | drv.UseTexture,
			BlobMem:   blobMemHost3D,
			BlobFlags: blobFlagUseShareable | blobFlagUseMappable,
		},
		"GuestHandle": {
			ExtraParams: map[uint64]int32{paramCreateGuestHandle: 1, paramCrossDevice: 1},
			UseFlags:    drv.UseScanout,
			BlobMem:     blobMemGuest,
			BlobFlags:   blobFlagUseShareable | blobFlagUseCrossDevice | blobFlagCreateGuestHandle,
		},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			values := crossDomainParams()
			for param, value := range testCase.ExtraParams {
				values[param] = value
			}

			ctrl := gomock.NewController(t)
			device, backend, _, ring := readyCrossDomain(t, ctrl, values)

			expectRequirements(t, device, ring, formats.FormatXRGB8888, crossDomainImageRequirements{
				Strides:  [formats.MaxPlanes]uint32{1024},
				Modifier: uint64(formats.ModifierLinear),
				Size:     65536,
				BlobID:   77,
				MapInfo:  3,
			})
			device.EXPECT().Ioctl(ioctlResourceCreateBlob, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
				request := (*resourceCreateBlob)(arg)
				require.Equal(t, testCase.BlobMem, request.BlobMem)
				require.Equal(t, testCase.BlobFlags, request.BlobFlags)
				require.Equal(t, uint64(65536), request.Size)
				require.Equal(t, uint64(77), request.BlobID)
				request.BOHandle = 9
				return nil
			})

			bo := drv.BO{Meta: drv.Metadata{
				Width:     256,
				Height:    64,
				Format:    formats.FormatXRGB8888,
				UseFlags:  testCase.UseFlags,
				NumPlanes: 1,
			}}
			err := backend.BOCreate(&bo, 256, 64, formats.FormatXRGB8888, testCase.UseFlags)
			require.NoError(t, err)

			require.Equal(t, uint32(9), bo.Handles[0])
			require.Equal(t, uint32(1024), bo.Meta.Strides[0])
			require.Equal(t, uint32(65536), bo.Meta.Sizes[0])
			require.Equal(t, uint64(65536), bo.Meta.TotalSize)
			require.Equal(t, uint32(77), bo.Meta.BlobID)
			require.Equal(t, uint32(3), bo.Meta.MapInfo)
		})
	}
}

func TestCrossDomainRequirementsCache(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, backend, _, ring := readyCrossDomain(t, ctrl, crossDomainParams())

	// the host is asked for YV12 and answers once for both buffers
	expectRequirements(t, device, ring, formats.FormatYVU420, crossDomainImageRequirements{
		Strides: [formats.MaxPlanes]uint32{128, 64, 64},
		Offsets: [formats.MaxPlanes]uint32{0, 8192, 10240},
		Size:    12288,
	})
	device.EXPECT().Ioctl(ioctlResourceCreateBlob, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
		(*resourceCreateBlob)(arg).BOHandle = 9
		return nil
	}).Times(2)

	for i := 0; i < 2; i++ {
		bo := drv.BO{Meta: drv.Metadata{
			Width:     128,
			Height:    64,
			Format:    formats.FormatYVU420Android,
			UseFlags:  drv.UseTexture,
			NumPlanes: 3,
		}}
		err := backend.BOCreate(&bo, 128, 64, formats.FormatYVU420Android, drv.UseTexture)
		require.NoError(t, err)

		require.Equal(t, [formats.MaxPlanes]uint32{128, 64, 64}, bo.Meta.Strides)
		require.Equal(t, [formats.MaxPlanes]uint32{8192, 2048, 2048}, bo.Meta.Sizes)
		require.Equal(t, formats.FormatYVU420Android, bo.Meta.Format)
		require.Equal(t, uint32(9), bo.Handles[2])
	}

	require.Len(t, backend.impl.(*crossDomain).metadataCache, 1)
}

func TestCrossDomainHostRejects(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, backend, _, ring := readyCrossDomain(t, ctrl, crossDomainParams())

	expectRequirements(t, device, ring, formats.FormatNV12, crossDomainImageRequirements{})

	bo := drv.BO{Meta: drv.Metadata{
		Width:     64,
		Height:    64,
		Format:    formats.FormatNV12,
		UseFlags:  drv.UseHWVideoDecoder,
		NumPlanes: 2,
	}}
	err := backend.BOCreate(&bo, 64, 64, formats.FormatNV12, drv.UseHWVideoDecoder)
	require.True(t, errors.Is(err, unix.EINVAL))
	require.Empty(t, backend.impl.(*crossDomain).metadataCache)
}

func TestCrossDomainMapAndClose(t *testing.T) {
	ctrl := gomock.NewController(t)
	device, backend, _, ring := readyCrossDomain(t, ctrl, crossDomainParams())

	memory := make([]byte, 8192)
	bo := drv.BO{Meta: drv.Metadata{NumPlanes: 1, TotalSize: 8192}}
	bo.Handles[0] = 9

	device.EXPECT().Ioctl(ioctlMap, gomock.Any()).DoAndReturn(func(code uint32, arg unsafe.Pointer) error {
		request := (*mapRequest)(arg)
		require.Equal(t, uint32(9), request.Handle)
		request.Offset = 0x20000
		return nil
	})
	device.EXPECT().Mmap(uint64(8192), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED, uint64(0x20000)).
		Return(unsafe.Pointer(&memory[0]), nil)

	var vma drv.Vma
	addr, err := backend.BOMap(&bo, &vma, 0, drv.MapReadWrite)
	require.NoError(t, err)
	require.Equal(t, uint64(8192), vma.Length)
	vma.Addr = addr

	require.NoError(t, backend.BOInvalidate(&bo, &drv.Mapping{Vma: &vma}))
	require.NoError(t, backend.BOFlush(&bo, &drv.Mapping{Vma: &vma}))

	device.EXPECT().Munmap(unsafe.Pointer(&memory[0]), uint64(8192)).Return(nil)
	require.NoError(t, backend.BOUnmap(&bo, &vma))

	gomock.InOrder(
		device.EXPECT().Munmap(unsafe.Pointer(&ring[0]), pageSize).Return(nil),
		device.EXPECT().GEMClose(ringHandle).Return(nil),
	)
	require.NoError(t, backend.Close())
}

func TestWaitRetriesBusy(t *testing.T) {
	ctrl := gomock.NewController(t)
	device := mocks.NewMockDevice(ctrl)

	gomock.InOrder(
		device.EXPECT().Ioctl(ioctlWait, gomock.Any()).Return(unix.EBUSY),
		device.EXPECT().Ioctl(ioctlWait, gomock.Any()).Return(unix.EBUSY),
		device.EXPECT().Ioctl(ioctlWait, gomock.Any()).Return(nil),
	)
	require.NoError(t, waitForHandle(device, 4))

	device.EXPECT().Ioctl(ioctlWait, gomock.Any()).Return(unix.EIO)
	require.True(t, errors.Is(waitForHandle(device, 4), unix.EIO))
}
