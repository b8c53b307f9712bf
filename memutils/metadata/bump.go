package metadata

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/kiln/memutils"
)

// ErrOutOfSpace is returned from Allocate when the aligned request does not fit in the
// remainder of the page
var ErrOutOfSpace = errors.New("page does not have enough space for the requested allocation")

// Bump is a PageMetadata implementation for linear bump allocation. Each allocation is placed at
// the first offset past the previous allocation that satisfies the requested alignment. Nothing is
// freed individually: the cursor only moves forward until Reset.
type Bump struct {
	PageMetadataBase

	// margin is left free after every allocation for corruption markers
	margin         int
	offset         int
	sumUsedSize    int
	suballocations []Suballocation
}

var _ PageMetadata = &Bump{}

func NewBumpMetadata() *Bump {
	return &Bump{}
}

// Init prepares the metadata to hand out size units of space
func (m *Bump) Init(size int) {
	m.PageMetadataBase.Init(size)
	m.Reset()
}

// SetMargin sets the number of units left free after every allocation. Pages whose contents are
// CPU-visible bytes use memutils.DebugMargin; other pages leave it at zero.
func (m *Bump) SetMargin(margin int) { m.margin = margin }

func (m *Bump) Margin() int { return m.margin }

// Offset returns the current position of the cursor
func (m *Bump) Offset() int { return m.offset }

func (m *Bump) AllocationCount() int { return len(m.suballocations) }

func (m *Bump) SumFreeSize() int { return m.Size() - m.sumUsedSize }

func (m *Bump) IsEmpty() bool { return len(m.suballocations) == 0 }

// fit is the single source of truth for both HasSpace and Allocate. The boundary is
// inclusive: an allocation ending exactly at the end of the page fits.
func (m *Bump) fit(size int, alignment int) (int, bool) {
	if size <= 0 || alignment <= 0 {
		return 0, false
	}

	alignedOffset := memutils.AlignUp(m.offset, alignment)
	return alignedOffset, alignedOffset+size+m.margin <= m.Size()
}

// HasSpace returns true if Allocate would succeed with the same parameters
func (m *Bump) HasSpace(size int, alignment int) bool {
	_, ok := m.fit(size, alignment)
	return ok
}

// Allocate reserves size units at the next offset aligned to alignment
func (m *Bump) Allocate(size int, alignment int, userData any) (int, error) {
	if size <= 0 {
		return 0, errors.Newf("allocation size must be positive, but was %d", size)
	}
	if err := memutils.CheckPow2(alignment, "alignment"); err != nil {
		return 0, err
	}

	alignedOffset, ok := m.fit(size, alignment)
	if !ok {
		return 0, errors.Wrapf(ErrOutOfSpace, "requested %d at alignment %d, cursor is %d of %d", size, alignment, m.offset, m.Size())
	}

	m.suballocations = append(m.suballocations, Suballocation{
		Offset:   alignedOffset,
		Size:     size,
		UserData: userData,
	})
	m.offset = alignedOffset + size + m.margin
	m.sumUsedSize += size

	memutils.DebugValidate(m)
	return alignedOffset, nil
}

// Reset returns the cursor to zero and forgets all suballocations
func (m *Bump) Reset() {
	m.offset = 0
	m.sumUsedSize = 0
	m.suballocations = m.suballocations[:0]
}

// Validate performs internal consistency checks on the metadata
func (m *Bump) Validate() error {
	if m.offset < 0 || m.offset > m.Size() {
		return errors.Errorf("cursor %d is outside of the page, which has a size of %d", m.offset, m.Size())
	}

	var prevEnd, sumUsed int
	for i, suballoc := range m.suballocations {
		if suballoc.Size <= 0 {
			return errors.Errorf("suballocation %d has a non-positive size %d", i, suballoc.Size)
		}
		if suballoc.Offset < prevEnd {
			return errors.Errorf("suballocation %d at offset %d overlaps the previous suballocation, which ends at %d", i, suballoc.Offset, prevEnd)
		}

		prevEnd = suballoc.Offset + suballoc.Size + m.margin
		sumUsed += suballoc.Size
	}

	if prevEnd != m.offset {
		return errors.Errorf("the last suballocation ends at %d, but the cursor is at %d", prevEnd, m.offset)
	}

	if sumUsed != m.sumUsedSize {
		return errors.Errorf("suballocations add up to %d, but the metadata has recorded %d", sumUsed, m.sumUsedSize)
	}

	return nil
}

// VisitAllRegions calls handleRegion for every suballocation and every gap, including the unused
// tail of the page
func (m *Bump) VisitAllRegions(handleRegion func(offset int, size int, userData any, free bool) error) error {
	var prevEnd int
	for _, suballoc := range m.suballocations {
		if suballoc.Offset > prevEnd {
			err := handleRegion(prevEnd, suballoc.Offset-prevEnd, nil, true)
			if err != nil {
				return err
			}
		}

		err := handleRegion(suballoc.Offset, suballoc.Size, suballoc.UserData, false)
		if err != nil {
			return err
		}

		prevEnd = suballoc.Offset + suballoc.Size
	}

	if prevEnd < m.Size() {
		return handleRegion(prevEnd, m.Size()-prevEnd, nil, true)
	}

	return nil
}

func (m *Bump) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.PageCount++
	stats.PageBytes += m.Size()

	_ = m.VisitAllRegions(
		func(offset int, size int, userData any, free bool) error {
			if free {
				stats.AddUnusedRange(size)
			} else {
				stats.AddAllocation(size)
			}

			return nil
		})
}

func (m *Bump) AddStatistics(stats *memutils.Statistics) {
	stats.PageCount++
	stats.PageBytes += m.Size()
	stats.AllocationCount += len(m.suballocations)
	stats.AllocationBytes += m.sumUsedSize
}

// PageJsonData populates a json object with information about this page
func (m *Bump) PageJsonData(json *jwriter.ObjectState) {
	var unusedRangeCount int
	_ = m.VisitAllRegions(
		func(offset int, size int, userData any, free bool) error {
			if free {
				unusedRangeCount++
			}
			return nil
		})

	m.WritePageJson(json, m.SumFreeSize(), len(m.suballocations), unusedRangeCount)
	json.Name("Cursor").Int(m.offset)
}

func (m *Bump) CheckCorruption(pageData []byte) error {
	if m.margin == 0 {
		return nil
	}

	for _, suballoc := range m.suballocations {
		if !memutils.ValidateMagicValue(pageData, suballoc.Offset+suballoc.Size) {
			return errors.Wrapf(memutils.CorruptionError, "after suballocation at offset %d", suballoc.Offset)
		}
	}

	return nil
}
