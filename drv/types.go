package drv

import (
	"unsafe"

	"github.com/vkngwrapper/gbm/formats"
)

// Rect is a region of a buffer in pixels
type Rect struct {
	X      uint32
	Y      uint32
	Width  uint32
	Height uint32
}

// Metadata is the complete layout description of a buffer
type Metadata struct {
	Width     uint32
	Height    uint32
	Format    formats.FourCC
	Tiling    uint32
	NumPlanes int

	Strides [formats.MaxPlanes]uint32
	Sizes   [formats.MaxPlanes]uint32
	Offsets [formats.MaxPlanes]uint32

	FormatModifier formats.Modifier
	UseFlags       UseFlags
	TotalSize      uint64

	// BlobID and MapInfo are host-side identifiers reported by the virtio-gpu cross-domain context
	BlobID  uint32
	MapInfo uint32
}

// BOPrivate is backend-owned state attached to a BO. Each backend stores its own unexported type,
// which embeds PrivateBase, so only the backend that created the value can assert it back.
type BOPrivate interface {
	boPrivate()
}

// VmaPrivate is backend-owned state attached to a Vma
type VmaPrivate interface {
	vmaPrivate()
}

// PrivateBase satisfies BOPrivate and VmaPrivate
type PrivateBase struct{}

func (PrivateBase) boPrivate()  {}
func (PrivateBase) vmaPrivate() {}

// BO is the backend's view of one buffer object. Planes may alias the same kernel handle.
type BO struct {
	Meta    Metadata
	Handles [formats.MaxPlanes]uint32
	Priv    BOPrivate
}

// DistinctHandles returns the plane handles of the BO with duplicates removed, in plane order
func (b *BO) DistinctHandles() []uint32 {
	handles := make([]uint32, 0, b.Meta.NumPlanes)
	for plane := 0; plane < b.Meta.NumPlanes; plane++ {
		duplicate := false
		for _, seen := range handles {
			if seen == b.Handles[plane] {
				duplicate = true
				break
			}
		}

		if !duplicate {
			handles = append(handles, b.Handles[plane])
		}
	}

	return handles
}

// Vma is one live CPU mapping of a kernel handle. At most one exists per (handle, map flags) pair.
type Vma struct {
	Addr     unsafe.Pointer
	Length   uint64
	Handle   uint32
	MapFlags MapFlags
	Refcount int

	// MapStrides records the plane strides at the time of mapping
	MapStrides [formats.MaxPlanes]uint32
	Priv       VmaPrivate
}

// Mapping is a lease on a Vma for one region of a buffer
type Mapping struct {
	Vma      *Vma
	Rect     Rect
	Refcount int
}

// ImportData describes a buffer exported by another process or device as a set of dma-buf fds
type ImportData struct {
	FDs     [formats.MaxPlanes]int
	Strides [formats.MaxPlanes]uint32
	Offsets [formats.MaxPlanes]uint32

	Width          uint32
	Height         uint32
	Format         formats.FourCC
	FormatModifier formats.Modifier
	UseFlags       UseFlags
	Tiling         uint32
}
