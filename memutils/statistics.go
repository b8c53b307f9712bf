package memutils

import (
	"math"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
)

// Statistics summarizes the pages owned by an allocator or a single pool category
type Statistics struct {
	PageCount       int `yaml:"pageCount"`
	AllocationCount int `yaml:"allocationCount"`
	PageBytes       int `yaml:"pageBytes"`
	AllocationBytes int `yaml:"allocationBytes"`
}

func (s *Statistics) Clear() {
	s.PageCount = 0
	s.AllocationCount = 0
	s.PageBytes = 0
	s.AllocationBytes = 0
}

func (s *Statistics) AddStatistics(other *Statistics) {
	s.PageCount += other.PageCount
	s.AllocationCount += other.AllocationCount
	s.PageBytes += other.PageBytes
	s.AllocationBytes += other.AllocationBytes
}

// PrintJson writes the statistics fields into an open json object
func (s *Statistics) PrintJson(json *jwriter.ObjectState) {
	json.Name("PageCount").Int(s.PageCount)
	json.Name("PageBytes").Int(s.PageBytes)
	json.Name("AllocationCount").Int(s.AllocationCount)
	json.Name("AllocationBytes").Int(s.AllocationBytes)
}

// DetailedStatistics extends Statistics with the size range of allocations and of the unused
// tail left at the end of each page
type DetailedStatistics struct {
	Statistics         `yaml:",inline"`
	UnusedRangeCount   int `yaml:"unusedRangeCount"`
	AllocationSizeMin  int `yaml:"allocationSizeMin"`
	AllocationSizeMax  int `yaml:"allocationSizeMax"`
	UnusedRangeSizeMin int `yaml:"unusedRangeSizeMin"`
	UnusedRangeSizeMax int `yaml:"unusedRangeSizeMax"`
}

func (s *DetailedStatistics) Clear() {
	s.Statistics.Clear()
	s.UnusedRangeCount = 0
	s.AllocationSizeMin = math.MaxInt
	s.AllocationSizeMax = 0
	s.UnusedRangeSizeMin = math.MaxInt
	s.UnusedRangeSizeMax = 0
}

func (s *DetailedStatistics) AddUnusedRange(size int) {
	s.UnusedRangeCount++

	if size < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = size
	}

	if size > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = size
	}
}

func (s *DetailedStatistics) AddAllocation(size int) {
	s.AllocationCount++
	s.AllocationBytes += size

	if size < s.AllocationSizeMin {
		s.AllocationSizeMin = size
	}

	if size > s.AllocationSizeMax {
		s.AllocationSizeMax = size
	}
}

func (s *DetailedStatistics) AddDetailedStatistics(other *DetailedStatistics) {
	s.Statistics.AddStatistics(&other.Statistics)
	s.UnusedRangeCount += other.UnusedRangeCount

	if other.UnusedRangeSizeMin < s.UnusedRangeSizeMin {
		s.UnusedRangeSizeMin = other.UnusedRangeSizeMin
	}

	if other.UnusedRangeSizeMax > s.UnusedRangeSizeMax {
		s.UnusedRangeSizeMax = other.UnusedRangeSizeMax
	}

	if other.AllocationSizeMin < s.AllocationSizeMin {
		s.AllocationSizeMin = other.AllocationSizeMin
	}

	if other.AllocationSizeMax > s.AllocationSizeMax {
		s.AllocationSizeMax = other.AllocationSizeMax
	}
}

// PrintJson writes the detailed statistics into an open json object. Min fields are omitted
// while nothing has been counted.
func (s *DetailedStatistics) PrintJson(json *jwriter.ObjectState) {
	s.Statistics.PrintJson(json)
	json.Name("UnusedRangeCount").Int(s.UnusedRangeCount)

	if s.AllocationCount > 1 {
		json.Name("AllocationSizeMin").Int(s.AllocationSizeMin)
		json.Name("AllocationSizeMax").Int(s.AllocationSizeMax)
	}
	if s.UnusedRangeCount > 1 {
		json.Name("UnusedRangeSizeMin").Int(s.UnusedRangeSizeMin)
		json.Name("UnusedRangeSizeMax").Int(s.UnusedRangeSizeMax)
	}
}
