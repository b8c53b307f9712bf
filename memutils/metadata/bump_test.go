package metadata_test

import (
	"math"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/kiln/memutils"
	"github.com/vkngwrapper/kiln/memutils/metadata"
)

func TestBumpAlloc(t *testing.T) {
	bump := metadata.NewBumpMetadata()
	bump.Init(1000)

	var stats memutils.DetailedStatistics
	stats.Clear()
	bump.AddDetailedStatistics(&stats)

	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			PageCount:       1,
			PageBytes:       1000,
			AllocationCount: 0,
			AllocationBytes: 0,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  math.MaxInt,
		AllocationSizeMax:  0,
		UnusedRangeSizeMin: 1000,
		UnusedRangeSizeMax: 1000,
	}, stats)

	offset, err := bump.Allocate(100, 1, nil)
	require.NoError(t, err)
	require.Equal(t, 0, offset)

	offset, err = bump.Allocate(50, 64, nil)
	require.NoError(t, err)
	require.Equal(t, 128, offset)
	require.NoError(t, bump.Validate())

	stats.Clear()
	bump.AddDetailedStatistics(&stats)
	require.Equal(t, memutils.DetailedStatistics{
		Statistics: memutils.Statistics{
			PageCount:       1,
			PageBytes:       1000,
			AllocationCount: 2,
			AllocationBytes: 150,
		},
		UnusedRangeCount:   2,
		AllocationSizeMin:  50,
		AllocationSizeMax:  100,
		UnusedRangeSizeMin: 28,
		UnusedRangeSizeMax: 822,
	}, stats)
}

func TestBumpMonotonic(t *testing.T) {
	requests := []struct {
		Size      int
		Alignment int
	}{
		{Size: 3, Alignment: 1},
		{Size: 17, Alignment: 16},
		{Size: 256, Alignment: 256},
		{Size: 1, Alignment: 4},
		{Size: 700, Alignment: 512},
		{Size: 2048, Alignment: 1},
		{Size: 9, Alignment: 8},
	}

	bump := metadata.NewBumpMetadata()
	bump.Init(4096)

	lastOffset := -1
	for _, request := range requests {
		hasSpace := bump.HasSpace(request.Size, request.Alignment)
		cursorBefore := bump.Offset()

		offset, err := bump.Allocate(request.Size, request.Alignment, nil)
		if !hasSpace {
			require.Error(t, err)
			require.True(t, errors.Is(err, metadata.ErrOutOfSpace))
			require.Equal(t, cursorBefore, bump.Offset())
			continue
		}

		require.NoError(t, err)
		require.Greater(t, offset, lastOffset)
		require.Zero(t, offset%request.Alignment)
		require.LessOrEqual(t, offset+request.Size, bump.Size())
		lastOffset = offset
	}

	require.NoError(t, bump.Validate())
}

func TestBumpInclusiveBoundary(t *testing.T) {
	bump := metadata.NewBumpMetadata()
	bump.Init(64)

	require.True(t, bump.HasSpace(64, 1))
	require.False(t, bump.HasSpace(65, 1))

	_, err := bump.Allocate(32, 1, nil)
	require.NoError(t, err)

	require.True(t, bump.HasSpace(32, 32))
	require.False(t, bump.HasSpace(1, 64))

	offset, err := bump.Allocate(32, 32, nil)
	require.NoError(t, err)
	require.Equal(t, 32, offset)
	require.Equal(t, 0, bump.SumFreeSize())

	require.False(t, bump.HasSpace(1, 1))
	_, err = bump.Allocate(1, 1, nil)
	require.True(t, errors.Is(err, metadata.ErrOutOfSpace))
}

func TestBumpRejectsBadParameters(t *testing.T) {
	bump := metadata.NewBumpMetadata()
	bump.Init(64)

	_, err := bump.Allocate(0, 1, nil)
	require.Error(t, err)

	_, err = bump.Allocate(4, 3, nil)
	require.True(t, errors.Is(err, memutils.PowerOfTwoError))

	require.False(t, bump.HasSpace(0, 1))
	require.True(t, bump.IsEmpty())
}

func TestBumpReset(t *testing.T) {
	bump := metadata.NewBumpMetadata()
	bump.Init(128)

	_, err := bump.Allocate(100, 1, "first")
	require.NoError(t, err)
	require.False(t, bump.HasSpace(100, 1))

	bump.Reset()
	require.Equal(t, 0, bump.Offset())
	require.True(t, bump.IsEmpty())
	require.Equal(t, 128, bump.SumFreeSize())

	offset, err := bump.Allocate(100, 1, "second")
	require.NoError(t, err)
	require.Equal(t, 0, offset)
}

func TestBumpVisitRegions(t *testing.T) {
	bump := metadata.NewBumpMetadata()
	bump.Init(100)

	_, err := bump.Allocate(10, 1, "a")
	require.NoError(t, err)
	_, err = bump.Allocate(10, 32, "b")
	require.NoError(t, err)

	type region struct {
		Offset   int
		Size     int
		UserData any
		Free     bool
	}
	var regions []region
	err = bump.VisitAllRegions(func(offset int, size int, userData any, free bool) error {
		regions = append(regions, region{offset, size, userData, free})
		return nil
	})
	require.NoError(t, err)

	require.Equal(t, []region{
		{Offset: 0, Size: 10, UserData: "a"},
		{Offset: 10, Size: 22, Free: true},
		{Offset: 32, Size: 10, UserData: "b"},
		{Offset: 42, Size: 58, Free: true},
	}, regions)
}

func TestBumpJson(t *testing.T) {
	bump := metadata.NewBumpMetadata()
	bump.Init(100)
	_, err := bump.Allocate(40, 1, nil)
	require.NoError(t, err)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	bump.PageJsonData(&obj)
	obj.End()

	require.JSONEq(t, `{"Capacity":100,"Unused":60,"Allocations":1,"UnusedRanges":1,"Cursor":40}`, string(writer.Bytes()))
}

func TestBumpMargin(t *testing.T) {
	testCases := map[string]struct {
		Margin         int
		FirstSize      int
		ExpectedCursor int
		SecondFits     bool
	}{
		"NoMarginFillsThePage": {
			Margin:         0,
			FirstSize:      84,
			ExpectedCursor: 84,
			SecondFits:     true,
		},
		"MarginCountsAgainstCapacity": {
			Margin:         16,
			FirstSize:      84,
			ExpectedCursor: 100,
			SecondFits:     false,
		},
	}

	for testName, testCase := range testCases {
		t.Run(testName, func(t *testing.T) {
			bump := metadata.NewBumpMetadata()
			bump.Init(100)
			bump.SetMargin(testCase.Margin)

			require.True(t, bump.HasSpace(testCase.FirstSize, 1))
			require.False(t, bump.HasSpace(101-testCase.Margin, 1))

			offset, err := bump.Allocate(testCase.FirstSize, 1, nil)
			require.NoError(t, err)
			require.Equal(t, 0, offset)
			require.Equal(t, testCase.ExpectedCursor, bump.Offset())
			require.NoError(t, bump.Validate())

			require.Equal(t, testCase.SecondFits, bump.HasSpace(16, 1))
			_, err = bump.Allocate(16, 1, nil)
			if testCase.SecondFits {
				require.NoError(t, err)
			} else {
				require.True(t, errors.Is(err, metadata.ErrOutOfSpace))
			}
		})
	}
}
