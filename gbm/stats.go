package gbm

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/gbm/drv"
	"github.com/vkngwrapper/gbm/memutils"
	"golang.org/x/exp/slices"
)

// CalculateStatistics fills stats with the driver's live buffers, handles, and CPU mappings
func (d *Driver) CalculateStatistics(stats *memutils.DetailedStatistics) {
	stats.Clear()

	d.bufferTableMutex.Lock()
	stats.BufferCount = d.liveBuffers
	stats.BufferBytes = int(d.liveBufferBytes)
	stats.HandleCount = d.bufferTable.Count()
	d.bufferTableMutex.Unlock()

	d.mappingsMutex.Lock()
	defer d.mappingsMutex.Unlock()

	stats.MappingCount = len(d.mappings)
	for _, vma := range d.distinctVmas() {
		stats.AddVma(int(vma.Length))
	}
}

// distinctVmas lists each vma in the mapping table once, in mapping order. The caller holds mappingsMutex.
func (d *Driver) distinctVmas() []*drv.Vma {
	var vmas []*drv.Vma
	for _, mapping := range d.mappings {
		if !slices.Contains(vmas, mapping.Vma) {
			vmas = append(vmas, mapping.Vma)
		}
	}
	return vmas
}

// BuildStatsString renders the driver's state as JSON. A detailed string also lists the combination
// table, every live handle, and every mapping.
func (d *Driver) BuildStatsString(detailed bool) string {
	var stats memutils.DetailedStatistics
	d.CalculateStatistics(&stats)

	writer := jwriter.NewWriter()
	root := writer.Object()

	root.Name("Backend").String(d.Name())

	totals := root.Name("Total").Object()
	totals.Name("BufferCount").Int(stats.BufferCount)
	totals.Name("BufferBytes").Int(stats.BufferBytes)
	totals.Name("HandleCount").Int(stats.HandleCount)
	totals.Name("MappingCount").Int(stats.MappingCount)
	totals.Name("VmaCount").Int(stats.VmaCount)
	totals.Name("MappedBytes").Int(stats.MappedBytes)
	if stats.VmaCount > 0 {
		totals.Name("VmaSizeMin").Int(stats.VmaSizeMin)
		totals.Name("VmaSizeMax").Int(stats.VmaSizeMax)
	}
	totals.End()

	if detailed {
		d.printCombinations(&root)
		d.printHandles(&root)
		d.printMappings(&root)
	}

	root.End()
	return string(writer.Bytes())
}

func (d *Driver) printCombinations(json *jwriter.ObjectState) {
	arrayState := json.Name("Combinations").Array()
	defer arrayState.End()

	for _, combo := range d.combos.All() {
		obj := arrayState.Object()
		obj.Name("Format").String(combo.Format.String())
		obj.Name("Modifier").String(combo.Metadata.Modifier.String())
		obj.Name("Tiling").Int(int(combo.Metadata.Tiling))
		obj.Name("Priority").Int(int(combo.Metadata.Priority))
		obj.Name("UseFlags").String(combo.UseFlags.String())
		obj.End()
	}
}

func (d *Driver) printHandles(json *jwriter.ObjectState) {
	d.bufferTableMutex.Lock()
	handles := make([]uint32, 0, d.bufferTable.Count())
	counts := make(map[uint32]int, d.bufferTable.Count())
	d.bufferTable.Iter(func(handle uint32, count int) bool {
		handles = append(handles, handle)
		counts[handle] = count
		return false
	})
	d.bufferTableMutex.Unlock()

	slices.Sort(handles)

	arrayState := json.Name("Handles").Array()
	defer arrayState.End()

	for _, handle := range handles {
		obj := arrayState.Object()
		obj.Name("Handle").Int(int(handle))
		obj.Name("References").Int(counts[handle])
		obj.End()
	}
}

func (d *Driver) printMappings(json *jwriter.ObjectState) {
	d.mappingsMutex.Lock()
	defer d.mappingsMutex.Unlock()

	arrayState := json.Name("Mappings").Array()
	defer arrayState.End()

	for _, mapping := range d.mappings {
		obj := arrayState.Object()
		obj.Name("Handle").Int(int(mapping.Vma.Handle))
		obj.Name("MapFlags").String(mapping.Vma.MapFlags.String())
		obj.Name("X").Int(int(mapping.Rect.X))
		obj.Name("Y").Int(int(mapping.Rect.Y))
		obj.Name("Width").Int(int(mapping.Rect.Width))
		obj.Name("Height").Int(int(mapping.Rect.Height))
		obj.Name("References").Int(mapping.Refcount)
		obj.Name("VmaReferences").Int(mapping.Vma.Refcount)
		obj.Name("VmaLength").Int(int(mapping.Vma.Length))
		obj.End()
	}
}
