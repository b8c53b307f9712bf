package metadata

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/kiln/memutils"
)

// PageMetadata tracks the suballocations carved out of a single page of GPU memory or descriptor
// slots. Offsets and sizes are expressed in the page's own unit: bytes for buffer pages,
// descriptor slots for descriptor pages.
type PageMetadata interface {
	// Init must be called before the PageMetadata is used. It informs the implementation of the
	// capacity of the page it will be managing, via the size parameter.
	Init(size int)
	// Size retrieves the capacity that the page was initialized with
	Size() int

	// Validate performs internal consistency checks on the metadata. When the implementation is functioning
	// correctly, it should not be possible for this method to return an error, but this may assist in
	// diagnosing issues with the implementation.
	Validate() error
	// AllocationCount returns the number of suballocations made since the last Reset
	AllocationCount() int
	// SumFreeSize returns the number of units that have not been handed out, including alignment padding
	SumFreeSize() int
	// IsEmpty will return true if this page has no live suballocations
	IsEmpty() bool

	// HasSpace returns true if Allocate would succeed with the same parameters
	HasSpace(size int, alignment int) bool
	// Allocate reserves size units at the next offset aligned to alignment and returns that offset.
	// If the request does not fit, ErrOutOfSpace is returned and the metadata is not modified.
	Allocate(size int, alignment int, userData any) (int, error)
	// Reset forgets every suballocation, returning the cursor to zero
	Reset()

	// VisitAllRegions will call the provided callback once for each allocation and free region in
	// the page, in offset order.
	VisitAllRegions(handleRegion func(offset int, size int, userData any, free bool) error) error

	// AddDetailedStatistics sums this page's allocation statistics into the provided
	// memutils.DetailedStatistics object.
	AddDetailedStatistics(stats *memutils.DetailedStatistics)
	// AddStatistics sums this page's allocation statistics into the provided memutils.Statistics object.
	AddStatistics(stats *memutils.Statistics)
	// PageJsonData populates a json object with information about this page
	PageJsonData(json *jwriter.ObjectState)

	// CheckCorruption accepts the CPU-visible contents of the page and returns nil if the
	// anti-corruption markers written after every suballocation are intact. Markers are only written
	// when built with the `debug_mem_utils` build tag, and it is the responsibility of the consumer
	// to write them with memutils.WriteMagicValue after each allocation.
	CheckCorruption(pageData []byte) error
}

// PageMetadataBase provides a few shared utilities for PageMetadata implementations
type PageMetadataBase struct {
	size int
}

// Init sizes the page based on the parameter size.
func (m *PageMetadataBase) Init(size int) {
	m.size = size
}

// Size returns the capacity of the page
func (m *PageMetadataBase) Size() int { return m.size }

// WritePageJson populates a json object with summary information about this page
func (m *PageMetadataBase) WritePageJson(json *jwriter.ObjectState, unusedSize, allocationCount, unusedRangeCount int) {
	json.Name("Capacity").Int(m.Size())
	json.Name("Unused").Int(unusedSize)
	json.Name("Allocations").Int(allocationCount)
	json.Name("UnusedRanges").Int(unusedRangeCount)
}
