package gbm

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/memutils"
	"golang.org/x/exp/slices"
	"golang.org/x/exp/slog"
)

// Map gives the CPU access to one plane of the buffer and returns the address of the plane along with
// the mapping lease. Mapping the same region with the same flags again shares the lease, and mapping a
// different region with the same flags shares the underlying vma. Every Map must be matched by an Unmap.
//
// Map panics when rect leaves the buffer or plane is out of range. It also panics on a protected buffer
// and on map flags that grant no access.
func (b *BO) Map(rect drv.Rect, mapFlags drv.MapFlags, plane int) (unsafe.Pointer, *drv.Mapping, error) {
	d := b.driver

	if uint64(rect.X)+uint64(rect.Width) > uint64(b.bo.Meta.Width) ||
		uint64(rect.Y)+uint64(rect.Height) > uint64(b.bo.Meta.Height) {
		panic(errors.AssertionFailedf("map rect %+v lies outside the %dx%d buffer", rect, b.bo.Meta.Width, b.bo.Meta.Height))
	}
	if mapFlags&drv.MapReadWrite == 0 {
		panic(errors.AssertionFailedf("map flags grant no access"))
	}
	if b.bo.Meta.UseFlags&drv.UseProtected != 0 {
		panic(errors.AssertionFailedf("protected buffers cannot be mapped"))
	}
	if plane < 0 || plane >= b.bo.Meta.NumPlanes {
		panic(errors.AssertionFailedf("plane %d out of range for a %d plane buffer", plane, b.bo.Meta.NumPlanes))
	}

	handle := b.bo.Handles[plane]
	d.logger.Debug("Driver::Map",
		slog.Int("Handle", int(handle)),
		slog.String("MapFlags", mapFlags.String()),
		slog.Int("Plane", plane))

	if b.isTestBuffer {
		return nil, nil, errors.New("test buffers have no memory to map")
	}

	d.mappingsMutex.Lock()
	defer d.mappingsMutex.Unlock()

	mapping, err := d.findOrCreateMapping(b, rect, mapFlags, plane, handle)
	if err != nil {
		return nil, nil, err
	}

	if d.invalidator != nil {
		err = d.invalidator.BOInvalidate(&b.bo, mapping)
		if err != nil {
			rollbackErr := d.dropMapping(b, mapping)
			if rollbackErr != nil {
				d.logger.Error("error attempting to unmap after invalidate failure", slog.Any("error", rollbackErr))
			}
			return nil, nil, err
		}
	}

	memutils.DebugValidate(mappingValidator{d})
	return unsafe.Add(mapping.Vma.Addr, b.bo.Meta.Offsets[plane]), mapping, nil
}

func (d *Driver) findOrCreateMapping(b *BO, rect drv.Rect, mapFlags drv.MapFlags, plane int, handle uint32) (*drv.Mapping, error) {
	for _, prior := range d.mappings {
		if prior.Vma.Handle == handle && prior.Vma.MapFlags == mapFlags && prior.Rect == rect {
			prior.Refcount++
			return prior, nil
		}
	}

	for _, prior := range d.mappings {
		if prior.Vma.Handle == handle && prior.Vma.MapFlags == mapFlags {
			prior.Vma.Refcount++
			mapping := &drv.Mapping{
				Vma:      prior.Vma,
				Rect:     rect,
				Refcount: 1,
			}
			d.mappings = append(d.mappings, mapping)
			return mapping, nil
		}
	}

	vma := &drv.Vma{
		MapStrides: b.bo.Meta.Strides,
	}
	addr, err := d.backend.BOMap(&b.bo, vma, plane, mapFlags)
	if err != nil {
		return nil, err
	}

	vma.Refcount = 1
	vma.Addr = addr
	vma.Handle = handle
	vma.MapFlags = mapFlags

	mapping := &drv.Mapping{
		Vma:      vma,
		Rect:     rect,
		Refcount: 1,
	}
	d.mappings = append(d.mappings, mapping)
	return mapping, nil
}

// dropMapping releases one lease on mapping. The caller holds mappingsMutex.
func (d *Driver) dropMapping(b *BO, mapping *drv.Mapping) error {
	mapping.Refcount--
	if mapping.Refcount > 0 {
		return nil
	}

	var err error
	mapping.Vma.Refcount--
	if mapping.Vma.Refcount == 0 {
		err = d.backend.BOUnmap(&b.bo, mapping.Vma)
	}

	index := slices.Index(d.mappings, mapping)
	if index >= 0 {
		d.mappings = slices.Delete(d.mappings, index, index+1)
	}

	return err
}

// Unmap releases one lease returned by Map. The vma is unmapped when its last lease goes away.
func (b *BO) Unmap(mapping *drv.Mapping) error {
	d := b.driver
	d.logger.Debug("Driver::Unmap", slog.Int("Handle", int(mapping.Vma.Handle)))

	d.mappingsMutex.Lock()
	defer d.mappingsMutex.Unlock()

	if mapping.Refcount <= 0 {
		panic(errors.AssertionFailedf("unmap of a mapping with no leases"))
	}

	err := d.dropMapping(b, mapping)
	memutils.DebugValidate(mappingValidator{d})
	return err
}

func (d *Driver) assertLiveMapping(mapping *drv.Mapping) {
	d.mappingsMutex.Lock()
	defer d.mappingsMutex.Unlock()

	if mapping == nil || mapping.Vma == nil || mapping.Refcount <= 0 || mapping.Vma.Refcount <= 0 {
		panic(errors.AssertionFailedf("mapping is not live"))
	}
}

// Invalidate makes GPU writes visible to the CPU through mapping
func (b *BO) Invalidate(mapping *drv.Mapping) error {
	d := b.driver
	d.assertLiveMapping(mapping)

	if d.invalidator == nil {
		return nil
	}

	return d.invalidator.BOInvalidate(&b.bo, mapping)
}

// Flush makes CPU writes through mapping visible to the GPU. Backends without a flush step make
// writes visible on Unmap, and Flush does nothing for them.
func (b *BO) Flush(mapping *drv.Mapping) error {
	d := b.driver
	if b.bo.Meta.UseFlags&drv.UseProtected != 0 {
		panic(errors.AssertionFailedf("protected buffers cannot be flushed"))
	}
	d.assertLiveMapping(mapping)

	if d.flusher == nil {
		return nil
	}

	return d.flusher.BOFlush(&b.bo, mapping)
}

// FlushOrUnmap flushes mapping if the backend supports flushing and otherwise releases the lease
func (b *BO) FlushOrUnmap(mapping *drv.Mapping) error {
	d := b.driver
	if b.bo.Meta.UseFlags&drv.UseProtected != 0 {
		panic(errors.AssertionFailedf("protected buffers cannot be flushed"))
	}
	d.assertLiveMapping(mapping)

	if d.flusher != nil {
		return d.flusher.BOFlush(&b.bo, mapping)
	}

	return b.Unmap(mapping)
}

// unmapHandles tears down every mapping of the BO's handles, for a BO whose kernel objects are
// about to be destroyed
func (d *Driver) unmapHandles(bo *drv.BO) error {
	d.mappingsMutex.Lock()
	defer d.mappingsMutex.Unlock()

	handles := bo.DistinctHandles()

	var result error
	remaining := d.mappings[:0]
	for _, mapping := range d.mappings {
		if !slices.Contains(handles, mapping.Vma.Handle) {
			remaining = append(remaining, mapping)
			continue
		}

		mapping.Refcount = 0
		mapping.Vma.Refcount--
		if mapping.Vma.Refcount == 0 {
			err := d.backend.BOUnmap(bo, mapping.Vma)
			if err != nil && result == nil {
				result = err
			}
		}
	}

	for i := len(remaining); i < len(d.mappings); i++ {
		d.mappings[i] = nil
	}
	d.mappings = remaining

	return result
}

// mappingValidator restricts DebugValidate to the mapping table, for callers already holding mappingsMutex
type mappingValidator struct {
	driver *Driver
}

func (v mappingValidator) Validate() error {
	return v.driver.validateMappings()
}
