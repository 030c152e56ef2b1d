package drv

import (
	"github.com/vkngwrapper/gbm/formats"
)

// CombinationMetadata is the layout a backend applies when a Combination is selected
type CombinationMetadata struct {
	Tiling   uint32
	Priority uint32
	Modifier formats.Modifier
}

// LinearMetadata is the lowest-priority layout every backend offers
var LinearMetadata = CombinationMetadata{
	Tiling:   0,
	Priority: 1,
	Modifier: formats.ModifierLinear,
}

// Combination is one (format, layout, usage) tuple a backend can satisfy
type Combination struct {
	Format   formats.FourCC
	Metadata CombinationMetadata
	UseFlags UseFlags
}

// Combinations is the table of formats and usages a backend supports. Backends fill it during Init,
// after which it is only read.
type Combinations struct {
	entries []Combination
}

// Add registers one format with the given layout and usage
func (c *Combinations) Add(format formats.FourCC, metadata CombinationMetadata, useFlags UseFlags) {
	c.entries = append(c.entries, Combination{
		Format:   format,
		Metadata: metadata,
		UseFlags: useFlags,
	})
}

// AddAll registers every format in the list with the same layout and usage
func (c *Combinations) AddAll(formatList []formats.FourCC, metadata CombinationMetadata, useFlags UseFlags) {
	for _, format := range formatList {
		c.Add(format, metadata, useFlags)
	}
}

// Modify widens the usage of every entry matching the format and the layout's tiling and modifier
func (c *Combinations) Modify(format formats.FourCC, metadata CombinationMetadata, useFlags UseFlags) {
	for i := range c.entries {
		entry := &c.entries[i]
		if entry.Format == format &&
			entry.Metadata.Tiling == metadata.Tiling &&
			entry.Metadata.Modifier == metadata.Modifier {
			entry.UseFlags |= useFlags
		}
	}
}

// ModifyLinear marks linear XRGB8888 and ARGB8888 as scanout and cursor capable, which every supported
// display controller can do
func (c *Combinations) ModifyLinear() {
	c.Modify(formats.FormatXRGB8888, LinearMetadata, UseCursor|UseScanout)
	c.Modify(formats.FormatARGB8888, LinearMetadata, UseCursor|UseScanout)
}

// Get returns the highest-priority entry whose usage is a superset of useFlags, or nil when no entry
// matches. UseNone matches every entry of the format. Ties go to the entry registered first.
func (c *Combinations) Get(format formats.FourCC, useFlags UseFlags) *Combination {
	if format == formats.FormatNone {
		return nil
	}

	var best *Combination
	for i := range c.entries {
		candidate := &c.entries[i]
		if candidate.Format != format || candidate.UseFlags&useFlags != useFlags {
			continue
		}

		if best == nil || best.Metadata.Priority < candidate.Metadata.Priority {
			best = candidate
		}
	}

	if best == nil {
		return nil
	}

	result := *best
	return &result
}

// All returns a copy of the table in registration order
func (c *Combinations) All() []Combination {
	result := make([]Combination, len(c.entries))
	copy(result, c.entries)
	return result
}

func (c *Combinations) Len() int {
	return len(c.entries)
}
