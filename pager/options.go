package pager

import (
	"fmt"
	"strings"

	"github.com/vkngwrapper/kiln/gpu"
)

// CreateFlags indicate specific allocator behaviors to activate or deactivate
type CreateFlags int32

const (
	// CreateExternallySynchronized disables the allocator's internal mutex. The consumer must
	// guarantee the allocator is used from one goroutine at a time.
	CreateExternallySynchronized CreateFlags = 1 << iota
)

var createFlagsMapping = map[CreateFlags]string{
	CreateExternallySynchronized: "CreateExternallySynchronized",
}

func (f CreateFlags) String() string {
	if f == 0 {
		return "None"
	}

	var names []string
	for flag := CreateFlags(1); flag != 0 && flag <= f; flag <<= 1 {
		if f&flag == 0 {
			continue
		}
		name, ok := createFlagsMapping[flag]
		if !ok {
			name = fmt.Sprintf("CreateFlags(%d)", int32(flag))
		}
		names = append(names, name)
	}
	return strings.Join(names, "|")
}

const (
	// DefaultBufferPageSize is the capacity of a shared buffer page, equal to 2Mb
	DefaultBufferPageSize int = 2 * 1024 * 1024
)

// DefaultDescriptorHeapSizes is the number of slots in a descriptor page of each heap type
var DefaultDescriptorHeapSizes = map[gpu.DescriptorHeapType]int{
	gpu.DescriptorHeapTypeCBVSRVUAV: 1024,
	gpu.DescriptorHeapTypeSampler:   256,
	gpu.DescriptorHeapTypeRTV:       64,
	gpu.DescriptorHeapTypeDSV:       64,
}

// CreateOptions contains optional settings shared by every allocator
type CreateOptions struct {
	// Flags indicates specific allocator behaviors to activate or deactivate
	Flags CreateFlags
	// BufferPageSize is the capacity of shared buffer pages. If zero, DefaultBufferPageSize is used.
	BufferPageSize int
	// DescriptorHeapSizes overrides the slot count of descriptor pages per heap type. Heap types
	// that are missing use DefaultDescriptorHeapSizes.
	DescriptorHeapSizes map[gpu.DescriptorHeapType]int
}

func (o CreateOptions) bufferPageSize() int {
	if o.BufferPageSize > 0 {
		return o.BufferPageSize
	}
	return DefaultBufferPageSize
}

func (o CreateOptions) descriptorHeapSize(heapType gpu.DescriptorHeapType) (int, bool) {
	if size, ok := o.DescriptorHeapSizes[heapType]; ok && size > 0 {
		return size, true
	}
	size, ok := DefaultDescriptorHeapSizes[heapType]
	return size, ok
}
