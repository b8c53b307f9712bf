package pager

import (
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/kiln/memutils"
)

// CategoryStatistics summarizes the pages of one category. Empty pages count as a single unused
// range spanning their capacity.
type CategoryStatistics struct {
	Category                    string `yaml:"category"`
	UsedPages                   int    `yaml:"usedPages"`
	EmptyPages                  int    `yaml:"emptyPages"`
	memutils.DetailedStatistics `yaml:",inline"`
}

func (s *CategoryStatistics) PrintJson(json *jwriter.ObjectState) {
	s.DetailedStatistics.PrintJson(json)
}

// AllocatorStatistics summarizes every page owned by an allocator
type AllocatorStatistics struct {
	Kind       string                      `yaml:"kind"`
	Total      memutils.DetailedStatistics `yaml:"total"`
	Categories []CategoryStatistics        `yaml:"categories"`
	Temporary  memutils.Statistics         `yaml:"temporary"`
}
