// Package virtgpu allocates buffers on virtio-gpu. The host either shares its own allocations with the
// guest through a cross-domain context, or backs guest buffers with virgl resources.
package virtgpu

import (
	"runtime"
	"unsafe"

	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"golang.org/x/exp/slog"
)

const pageSize uint64 = 4096

type paramInfo struct {
	id   uint64
	name string
}

var paramInfos = []paramInfo{
	{id: param3DFeatures, name: "3D_FEATURES"},
	{id: paramCapsetQueryFix, name: "CAPSET_QUERY_FIX"},
	{id: paramResourceBlob, name: "RESOURCE_BLOB"},
	{id: paramHostVisible, name: "HOST_VISIBLE"},
	{id: paramCrossDevice, name: "CROSS_DEVICE"},
	{id: paramContextInit, name: "CONTEXT_INIT"},
	{id: paramSupportedCapsetIDs, name: "SUPPORTED_CAPSET_IDs"},
	{id: paramCreateGuestHandle, name: "CREATE_GUEST_HANDLE"},
}

// params holds the probed value of every VIRTGPU_PARAM, indexed by id. Parameters the kernel does not
// know read as zero.
type params [paramCreateGuestHandle + 1]uint64

// implementation is one of the two ways the host can provide buffers
type implementation interface {
	drv.Creator
	drv.Invalidator
	drv.Flusher

	name() string
	init(ctx drv.InitContext, params *params) error
	close()

	BOImport(bo *drv.BO, data *drv.ImportData) error
	BODestroy(bo *drv.BO) error
	BOMap(bo *drv.BO, vma *drv.Vma, plane int, mapFlags drv.MapFlags) (unsafe.Pointer, error)
	BOUnmap(bo *drv.BO, vma *drv.Vma) error
}

type Backend struct {
	drv.BackendBase

	device kernel.Device
	logger *slog.Logger
	params params
	impl   implementation
}

var _ drv.Creator = &Backend{}
var _ drv.Invalidator = &Backend{}
var _ drv.Flusher = &Backend{}

func New() drv.Backend {
	return &Backend{}
}

func (b *Backend) Name() string {
	return "virtio_gpu"
}

func (b *Backend) probeParams() {
	for _, info := range paramInfos {
		var value int32
		request := getParam{
			Param: info.id,
			Value: kernel.Pointer(&value),
		}
		err := kernel.Invoke(b.device, ioctlGetParam, &request)
		runtime.KeepAlive(&value)
		if err != nil {
			b.logger.Info("DRM_IOCTL_VIRTGPU_GET_PARAM failed",
				slog.String("Param", info.name),
				slog.Any("error", err))
			b.params[info.id] = 0
			continue
		}

		b.params[info.id] = uint64(uint32(value))
	}
}

// Init prefers the cross-domain context and falls back to virgl when the host does not offer one
func (b *Backend) Init(ctx drv.InitContext) error {
	b.device = ctx.Device
	b.logger = ctx.Logger

	b.probeParams()

	crossDomain := &crossDomain{}
	err := crossDomain.init(ctx, &b.params)
	if err == nil {
		b.impl = crossDomain
		b.logger.Debug("virtgpu::Init", slog.String("Implementation", crossDomain.name()))
		return nil
	}
	b.logger.Info("cross-domain context unavailable", slog.Any("error", err))

	virgl := &virgl{}
	err = virgl.init(ctx, &b.params)
	if err != nil {
		return err
	}

	b.impl = virgl
	b.logger.Debug("virtgpu::Init", slog.String("Implementation", virgl.name()))
	return nil
}

func (b *Backend) Close() error {
	if b.impl != nil {
		b.impl.close()
		b.impl = nil
	}
	return nil
}

func (b *Backend) BOCreate(bo *drv.BO, width, height uint32, format formats.FourCC, useFlags drv.UseFlags) error {
	return b.impl.BOCreate(bo, width, height, format, useFlags)
}

func (b *Backend) BOImport(bo *drv.BO, data *drv.ImportData) error {
	return b.impl.BOImport(bo, data)
}

func (b *Backend) BODestroy(bo *drv.BO) error {
	return b.impl.BODestroy(bo)
}

func (b *Backend) BOMap(bo *drv.BO, vma *drv.Vma, plane int, mapFlags drv.MapFlags) (unsafe.Pointer, error) {
	return b.impl.BOMap(bo, vma, plane, mapFlags)
}

func (b *Backend) BOUnmap(bo *drv.BO, vma *drv.Vma) error {
	return b.impl.BOUnmap(bo, vma)
}

func (b *Backend) BOInvalidate(bo *drv.BO, mapping *drv.Mapping) error {
	return b.impl.BOInvalidate(bo, mapping)
}

func (b *Backend) BOFlush(bo *drv.BO, mapping *drv.Mapping) error {
	return b.impl.BOFlush(bo, mapping)
}

func (b *Backend) ResolveFormatAndUseFlags(format formats.FourCC, useFlags drv.UseFlags) (formats.FourCC, drv.UseFlags) {
	return drv.ResolveFormatAndUseFlags(format, useFlags)
}

// mapBlob maps a virtio-gpu resource through the fake offset VIRTGPU_MAP hands out
func mapBlob(device kernel.Device, logger *slog.Logger, bo *drv.BO, vma *drv.Vma, mapFlags drv.MapFlags) (unsafe.Pointer, error) {
	request := mapRequest{Handle: bo.Handles[0]}
	err := kernel.Invoke(device, ioctlMap, &request)
	if err != nil {
		logger.Error("DRM_IOCTL_VIRTGPU_MAP failed", slog.Any("error", err))
		return nil, err
	}

	vma.Length = bo.Meta.TotalSize
	return drv.MmapHandleOffset(device, vma.Length, mapFlags, request.Offset)
}
