package memutils

import "math"

// Statistics is a running tally of the buffers and CPU mappings owned by one driver
type Statistics struct {
	BufferCount  int
	HandleCount  int
	BufferBytes  int
	MappingCount int
	MappedBytes  int
}

func (s *Statistics) Clear() {
	s.BufferCount = 0
	s.HandleCount = 0
	s.BufferBytes = 0
	s.MappingCount = 0
	s.MappedBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.BufferCount += other.BufferCount
	s.HandleCount += other.HandleCount
	s.BufferBytes += other.BufferBytes
	s.MappingCount += other.MappingCount
	s.MappedBytes += other.MappedBytes
}

// DetailedStatistics adds per-vma detail to Statistics
type DetailedStatistics struct {
	Statistics
	VmaCount   int
	VmaSizeMin int
	VmaSizeMax int
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.VmaCount = 0
	s.VmaSizeMin = math.MaxInt
	s.VmaSizeMax = 0
}

func (s *DetailedStatistics) AddVma(size int) {
	s.VmaCount++
	s.MappedBytes += size

	if size < s.VmaSizeMin {
		s.VmaSizeMin = size
	}

	if size > s.VmaSizeMax {
		s.VmaSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.VmaCount += other.VmaCount

	if other.VmaSizeMin < s.VmaSizeMin {
		s.VmaSizeMin = other.VmaSizeMin
	}

	if other.VmaSizeMax > s.VmaSizeMax {
		s.VmaSizeMax = other.VmaSizeMax
	}
}
