package drv

import (
	"unsafe"

	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"golang.org/x/exp/slog"
)

// InitContext is everything a backend receives when the driver selects it
type InitContext struct {
	Device       kernel.Device
	Combinations *Combinations
	Config       Config
	Logger       *slog.Logger
}

// Backend is the contract every kernel driver family implements. The set of backends is closed:
// implementations embed BackendBase, which carries the unexported marker method.
//
// Creation is provided by exactly one of Creator or MetadataComputer. Everything else beyond this
// interface is optional and discovered through the capability interfaces below.
type Backend interface {
	Name() string
	// Init populates the combination table and opens any backend-owned kernel context
	Init(ctx InitContext) error
	// Close releases everything Init acquired
	Close() error

	BOImport(bo *BO, data *ImportData) error
	// BODestroy closes the kernel objects behind the BO. It runs only once every plane handle of the BO
	// has lost its last reference.
	BODestroy(bo *BO) error
	BOMap(bo *BO, vma *Vma, plane int, mapFlags MapFlags) (unsafe.Pointer, error)
	BOUnmap(bo *BO, vma *Vma) error

	ResolveFormatAndUseFlags(format formats.FourCC, useFlags UseFlags) (formats.FourCC, UseFlags)

	sealed()
}

// BackendBase is embedded by every Backend implementation
type BackendBase struct{}

func (BackendBase) sealed() {}

// Creator is implemented by backends that allocate in a single step
type Creator interface {
	BOCreate(bo *BO, width, height uint32, format formats.FourCC, useFlags UseFlags) error
}

// MetadataComputer is implemented by backends that choose a layout before allocating. An empty
// modifier list means the backend picks from the combination table.
type MetadataComputer interface {
	BOComputeMetadata(bo *BO, width, height uint32, format formats.FourCC, useFlags UseFlags, modifiers []formats.Modifier) error
	BOCreateFromMetadata(bo *BO) error
}

// ModifierCreator is implemented by single-step backends that can allocate from a modifier list
type ModifierCreator interface {
	BOCreateWithModifiers(bo *BO, width, height uint32, format formats.FourCC, modifiers []formats.Modifier) error
}

// Releaser is implemented by backends that keep per-BO state independent of the kernel handles.
// BORelease runs once per BO teardown whether or not the kernel objects are destroyed.
type Releaser interface {
	BORelease(bo *BO) error
}

// Invalidator is implemented by backends that need a GPU to CPU ownership transfer before CPU reads
type Invalidator interface {
	BOInvalidate(bo *BO, mapping *Mapping) error
}

// Flusher is implemented by backends that need a CPU to GPU ownership transfer after CPU writes.
// Backends without it make CPU writes visible by unmapping.
type Flusher interface {
	BOFlush(bo *BO, mapping *Mapping) error
}

// ModifierPlaneCounter is implemented by backends with modifiers that add auxiliary planes
type ModifierPlaneCounter interface {
	NumPlanesFromModifier(format formats.FourCC, modifier formats.Modifier) int
}

// ResourceInfo re-describes a buffer to another process
type ResourceInfo struct {
	Strides        [formats.MaxPlanes]uint32
	Offsets        [formats.MaxPlanes]uint32
	FormatModifier formats.Modifier
}

// ResourceInfoer is implemented by backends whose host knows a buffer's layout better than the guest.
// info arrives filled from the BO metadata and the backend overwrites what it knows better.
type ResourceInfoer interface {
	BOGetResourceInfo(bo *BO, info *ResourceInfo) error
}

// TextureSizer is implemented by backends that can report a maximum 2D texture dimension
type TextureSizer interface {
	MaxTexture2DSize() uint32
}
