package resource

import "github.com/cockroachdb/errors"

var (
	// ErrNilResource is returned when an allocation resolves to no backing resource
	ErrNilResource = errors.New("allocation has no backing resource")
	// ErrWrongCategory is returned when an ID is used with an accessor of a different category
	ErrWrongCategory = errors.New("resource id has the wrong category")
	// ErrUnknownID is returned for IDs that this manager never created
	ErrUnknownID = errors.New("resource id was not created by this manager")
	// ErrDataTooLarge is returned when updating a resource with more data than it holds
	ErrDataTooLarge = errors.New("data is larger than the resource")
	// ErrUnsupportedFormat is returned for texture and index formats the manager cannot upload
	ErrUnsupportedFormat = errors.New("unsupported format")
)
