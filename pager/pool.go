package pager

import (
	"github.com/dolthub/swiss"
)

// pageList holds the pages of a single category. used and empty are FIFO: pages are appended at
// the back and empty pages are reused from the front, so the page that has been idle the longest
// is reused first.
type pageList struct {
	current *page
	used    []*page
	empty   []*page
}

// Pool maps each allocation category to its pages. Categories are created on first use and
// remembered in creation order so that statistics are reported deterministically.
type Pool[K comparable] struct {
	lists *swiss.Map[K, *pageList]
	keys  []K
}

func NewPool[K comparable]() *Pool[K] {
	return &Pool[K]{
		lists: swiss.NewMap[K, *pageList](8),
	}
}

func (p *Pool[K]) list(key K) *pageList {
	list, ok := p.lists.Get(key)
	if !ok {
		list = &pageList{}
		p.lists.Put(key, list)
		p.keys = append(p.keys, key)
	}
	return list
}

func (p *Pool[K]) lookup(key K) (*pageList, bool) {
	return p.lists.Get(key)
}

// Categories returns every category that has been allocated from, in first-use order
func (p *Pool[K]) Categories() []K {
	return append([]K(nil), p.keys...)
}

// UsedCount returns the number of pages of a category that are in use, including the current page
func (p *Pool[K]) UsedCount(key K) int {
	list, ok := p.lists.Get(key)
	if !ok {
		return 0
	}
	return len(list.used)
}

// EmptyCount returns the number of retired pages of a category waiting to be reused
func (p *Pool[K]) EmptyCount(key K) int {
	list, ok := p.lists.Get(key)
	if !ok {
		return 0
	}
	return len(list.empty)
}

// HasCurrent returns true if the category has a page accepting allocations
func (p *Pool[K]) HasCurrent(key K) bool {
	list, ok := p.lists.Get(key)
	return ok && list.current != nil
}

func (p *Pool[K]) visit(handle func(key K, list *pageList)) {
	for _, key := range p.keys {
		list, _ := p.lists.Get(key)
		handle(key, list)
	}
}

func (p *Pool[K]) clear() {
	p.lists = swiss.NewMap[K, *pageList](8)
	p.keys = nil
}
