package gbm

import (
	"math"
	"os"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/formats"
	"github.com/vkngwrapper/gbm/internal/kernel"
	"github.com/vkngwrapper/gbm/internal/utils"
	"github.com/vkngwrapper/gbm/memutils"
	"golang.org/x/exp/slog"
)

// Driver owns one open DRM device, the backend selected for it, and the process-local tables that
// track which kernel handles and CPU mappings are alive
type Driver struct {
	logger      *slog.Logger
	device      kernel.Device
	ownedFile   *os.File
	createFlags CreateFlags
	config      drv.Config

	backend          drv.Backend
	creator          drv.Creator
	metadataComputer drv.MetadataComputer
	modifierCreator  drv.ModifierCreator
	releaser         drv.Releaser
	invalidator      drv.Invalidator
	flusher          drv.Flusher
	planeCounter     drv.ModifierPlaneCounter
	resourceInfoer   drv.ResourceInfoer
	textureSizer     drv.TextureSizer

	// read-only once the backend has initialized
	combos drv.Combinations

	bufferTableMutex utils.OptionalMutex
	bufferTable      *swiss.Map[uint32, int]
	liveBuffers      int
	liveBufferBytes  uint64

	mappingsMutex utils.OptionalMutex
	mappings      []*drv.Mapping
}

// Name returns the name of the active backend
func (d *Driver) Name() string {
	return d.backend.Name()
}

// Fd returns the DRM device file descriptor the driver allocates from
func (d *Driver) Fd() int {
	return d.device.Fd()
}

// GetCombination returns the highest-priority combination supporting the format for every requested
// usage, or nil if the backend cannot satisfy the request
func (d *Driver) GetCombination(format formats.FourCC, useFlags drv.UseFlags) *drv.Combination {
	return d.combos.Get(format, useFlags)
}

// IsFormatSupported reports whether any combination supports the format for every requested usage
func (d *Driver) IsFormatSupported(format formats.FourCC, useFlags drv.UseFlags) bool {
	return d.combos.Get(format, useFlags) != nil
}

// Combinations returns a copy of the backend's combination table
func (d *Driver) Combinations() []drv.Combination {
	return d.combos.All()
}

// ResolveFormatAndUseFlags replaces flexible Android formats with the concrete format the backend
// allocates, dropping usages the resolved format cannot serve
func (d *Driver) ResolveFormatAndUseFlags(format formats.FourCC, useFlags drv.UseFlags) (formats.FourCC, drv.UseFlags) {
	return d.backend.ResolveFormatAndUseFlags(format, useFlags)
}

// NumPlanesFromModifier returns the number of planes a buffer of the format has under the modifier,
// including auxiliary planes the modifier adds. Unknown formats have 0 planes.
func (d *Driver) NumPlanesFromModifier(format formats.FourCC, modifier formats.Modifier) int {
	if format == formats.FormatNone {
		return 0
	}

	planes := formats.NumPlanes(format)
	if planes == 0 {
		return 0
	}

	if d.planeCounter != nil && modifier != formats.ModifierInvalid && modifier != formats.ModifierLinear {
		return d.planeCounter.NumPlanesFromModifier(format, modifier)
	}

	return planes
}

// MaxTexture2DSize returns the largest 2D texture dimension the backend reports, or math.MaxUint32
func (d *Driver) MaxTexture2DSize() uint32 {
	if d.textureSizer != nil {
		return d.textureSizer.MaxTexture2DSize()
	}

	return math.MaxUint32
}

// Destroy closes the backend. Every BO created from the driver must be destroyed first.
func (d *Driver) Destroy() error {
	d.logger.Debug("Driver::Destroy")

	d.bufferTableMutex.Lock()
	liveHandles := d.bufferTable.Count()
	d.bufferTableMutex.Unlock()

	d.mappingsMutex.Lock()
	liveMappings := len(d.mappings)
	d.mappingsMutex.Unlock()

	if liveHandles > 0 || liveMappings > 0 {
		return errors.Newf("cannot destroy driver with %d live handles and %d live mappings", liveHandles, liveMappings)
	}

	err := d.backend.Close()
	if d.ownedFile != nil {
		closeErr := d.ownedFile.Close()
		if err == nil {
			err = closeErr
		}
		d.ownedFile = nil
	}

	return err
}

// Validate checks the handle and mapping tables for internal consistency
func (d *Driver) Validate() error {
	d.bufferTableMutex.Lock()
	var tableErr error
	d.bufferTable.Iter(func(handle uint32, count int) bool {
		if count <= 0 {
			tableErr = errors.Wrapf(memutils.ValidationError, "handle %d has reference count %d", handle, count)
			return true
		}
		return false
	})
	d.bufferTableMutex.Unlock()

	if tableErr != nil {
		return tableErr
	}

	d.mappingsMutex.Lock()
	defer d.mappingsMutex.Unlock()

	return d.validateMappings()
}

// validateMappings checks that every lease and vma reference count matches the mapping table. The
// caller holds mappingsMutex.
func (d *Driver) validateMappings() error {
	vmaLeases := make(map[*drv.Vma]int)
	for _, mapping := range d.mappings {
		if mapping.Refcount <= 0 {
			return errors.Wrapf(memutils.ValidationError, "mapping of handle %d has reference count %d", mapping.Vma.Handle, mapping.Refcount)
		}
		vmaLeases[mapping.Vma]++
	}

	type vmaKey struct {
		handle   uint32
		mapFlags drv.MapFlags
	}
	seen := make(map[vmaKey]struct{})
	for vma, leases := range vmaLeases {
		if vma.Refcount != leases {
			return errors.Wrapf(memutils.ValidationError, "vma of handle %d has reference count %d but %d mappings", vma.Handle, vma.Refcount, leases)
		}

		key := vmaKey{handle: vma.Handle, mapFlags: vma.MapFlags}
		if _, duplicate := seen[key]; duplicate {
			return errors.Wrapf(memutils.ValidationError, "handle %d has two vmas with map flags %s", vma.Handle, vma.MapFlags)
		}
		seen[key] = struct{}{}
	}

	return nil
}
