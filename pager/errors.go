package pager

import "github.com/cockroachdb/errors"

var (
	// ErrOutOfPageSpace is returned by a page's Allocate when the aligned request does not fit
	ErrOutOfPageSpace = errors.New("page does not have enough space for the requested allocation")
	// ErrExceedsPageCapacity is returned when a request could not fit even in an empty page of its category
	ErrExceedsPageCapacity = errors.New("requested allocation is larger than a page")
	// ErrStaleAllocation is returned when an allocation's page has been recycled or released
	ErrStaleAllocation = errors.New("allocation refers to a page that has been recycled or released")
	// ErrPageInFlight is returned when releasing pages that the GPU may still be reading
	ErrPageInFlight = errors.New("page is still in use by the GPU")
	// ErrUnknownCategory is returned for categories an allocator cannot create pages for
	ErrUnknownCategory = errors.New("unknown allocation category")
)
