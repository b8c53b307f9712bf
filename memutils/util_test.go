package memutils

import (
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/stretchr/testify/require"
)

func TestAlignUp(t *testing.T) {
	testCases := map[string]struct {
		Value     int
		Alignment int
		Expected  int
	}{
		"Zero":            {Value: 0, Alignment: 256, Expected: 0},
		"AlreadyAligned":  {Value: 512, Alignment: 256, Expected: 512},
		"OneOver":         {Value: 257, Alignment: 256, Expected: 512},
		"OneUnder":        {Value: 255, Alignment: 256, Expected: 256},
		"AlignmentOne":    {Value: 13, Alignment: 1, Expected: 13},
		"LargeAlignment":  {Value: 819200, Alignment: 65536, Expected: 851968},
		"SmallConstant":   {Value: 4, Alignment: 256, Expected: 256},
		"ExactPageBorder": {Value: 2097152, Alignment: 65536, Expected: 2097152},
	}

	for name, testCase := range testCases {
		t.Run(name, func(t *testing.T) {
			require.Equal(t, testCase.Expected, AlignUp(testCase.Value, testCase.Alignment))
			require.Zero(t, AlignUp(testCase.Value, testCase.Alignment)%testCase.Alignment)
		})
	}
}

func TestAlignUpMatchesMaskFormula(t *testing.T) {
	for shift := 0; shift < 20; shift++ {
		alignment := uint64(1) << shift
		for _, value := range []uint64{0, 1, 2, 3, 7, 255, 256, 1000, 65535, 65537, 1 << 21} {
			expected := (value + alignment - 1) & ^(alignment - 1)
			require.Equal(t, expected, AlignUp(value, alignment))
			require.Zero(t, AlignUp(value, alignment)%alignment)
			require.GreaterOrEqual(t, AlignUp(value, alignment), value)
		}
	}
}

func TestCheckPow2(t *testing.T) {
	require.NoError(t, CheckPow2(1, "one"))
	require.NoError(t, CheckPow2(uint64(65536), "alignment"))

	err := CheckPow2(0, "zero")
	require.Error(t, err)
	require.True(t, errors.Is(err, PowerOfTwoError))

	err = CheckPow2(uint(96), "alignment")
	require.Error(t, err)
	require.True(t, errors.Is(err, PowerOfTwoError))
	require.Contains(t, err.Error(), "alignment is 96")
}

func TestDivideRoundingUp(t *testing.T) {
	require.Equal(t, 3, DivideRoundingUp(9, 4))
	require.Equal(t, 2, DivideRoundingUp(8, 4))
	require.Equal(t, 1, DivideRoundingUp(1, 4))
}

func TestDetailedStatistics(t *testing.T) {
	var stats DetailedStatistics
	stats.Clear()
	stats.PageCount = 1
	stats.PageBytes = 1024
	stats.AddAllocation(100)
	stats.AddAllocation(300)
	stats.AddUnusedRange(624)

	var other DetailedStatistics
	other.Clear()
	other.PageCount = 1
	other.PageBytes = 1024
	other.AddAllocation(1024)

	stats.AddDetailedStatistics(&other)

	require.Equal(t, DetailedStatistics{
		Statistics: Statistics{
			PageCount:       2,
			AllocationCount: 3,
			PageBytes:       2048,
			AllocationBytes: 1424,
		},
		UnusedRangeCount:   1,
		AllocationSizeMin:  100,
		AllocationSizeMax:  1024,
		UnusedRangeSizeMin: 624,
		UnusedRangeSizeMax: 624,
	}, stats)
}

func TestDetailedStatisticsJson(t *testing.T) {
	var stats DetailedStatistics
	stats.Clear()
	stats.PageCount = 1
	stats.PageBytes = 1024
	stats.AddAllocation(1024)

	writer := jwriter.NewWriter()
	obj := writer.Object()
	obj.Name("Kind").String("buffer")
	total := obj.Name("Total").Object()
	stats.PrintJson(&total)
	total.Name("Trailing").Bool(true)
	total.End()
	obj.Name("After").Int(1)
	obj.End()

	require.JSONEq(t, `{
		"Kind": "buffer",
		"Total": {
			"PageCount": 1,
			"PageBytes": 1024,
			"AllocationCount": 1,
			"AllocationBytes": 1024,
			"UnusedRangeCount": 0,
			"Trailing": true
		},
		"After": 1
	}`, string(writer.Bytes()))
}
