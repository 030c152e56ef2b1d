package gbm

import (
	"github.com/vkngwrapper/gbm/drv"
	"golang.org/x/exp/slog"
)

// acquire takes one reference per plane. Planes that alias a handle each take a reference.
func (d *Driver) acquire(bo *drv.BO) {
	d.bufferTableMutex.Lock()
	defer d.bufferTableMutex.Unlock()

	for plane := 0; plane < bo.Meta.NumPlanes; plane++ {
		handle := bo.Handles[plane]
		count, _ := d.bufferTable.Get(handle)
		d.bufferTable.Put(handle, count+1)
	}

	d.liveBuffers++
	d.liveBufferBytes += bo.Meta.TotalSize
}

// release runs the backend release hook and drops one reference per plane. A handle with no references
// stays absent. It reports whether every plane handle of the BO is now unreferenced.
func (d *Driver) release(bo *drv.BO) bool {
	if d.releaser != nil {
		err := d.releaser.BORelease(bo)
		if err != nil {
			d.logger.Error("backend release hook failed", slog.Any("error", err))
		}
	}

	d.bufferTableMutex.Lock()
	defer d.bufferTableMutex.Unlock()

	d.liveBuffers--
	d.liveBufferBytes -= bo.Meta.TotalSize

	for plane := 0; plane < bo.Meta.NumPlanes; plane++ {
		handle := bo.Handles[plane]
		count, ok := d.bufferTable.Get(handle)
		if !ok {
			continue
		}

		if count > 1 {
			d.bufferTable.Put(handle, count-1)
		} else {
			d.bufferTable.Delete(handle)
		}
	}

	for plane := 0; plane < bo.Meta.NumPlanes; plane++ {
		if d.bufferTable.Has(bo.Handles[plane]) {
			return false
		}
	}

	return true
}

// handleCount returns the number of live references to a kernel handle
func (d *Driver) handleCount(handle uint32) int {
	d.bufferTableMutex.Lock()
	defer d.bufferTableMutex.Unlock()

	count, _ := d.bufferTable.Get(handle)
	return count
}
