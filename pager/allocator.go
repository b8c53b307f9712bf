package pager

import (
	"context"
	"log/slog"

	"github.com/cockroachdb/errors"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/kiln/gpu"
	"github.com/vkngwrapper/kiln/internal/utils"
	"github.com/vkngwrapper/kiln/memutils"
)

// Category is the key of a Pool: every category owns its own current, used and empty pages
type Category interface {
	comparable
	String() string
}

type pageSource[K Category] interface {
	// defaultCapacity returns the capacity of a shared page of the category
	defaultCapacity(category K) (int, error)
	// dedicated returns true for categories whose allocations each get their own page
	dedicated(category K) bool
	// margin returns the space left free after every allocation in pages of the category
	margin(category K) int
	createPage(category K, capacity int) (*page, error)
}

// pageAllocator is the category-keyed page machinery shared by the buffer, descriptor and
// texture allocators
type pageAllocator[K Category] struct {
	logger   *slog.Logger
	kind     string
	timeline *Timeline
	source   pageSource[K]

	mutex     utils.OptionalRWMutex
	arena     pageArena
	pool      *Pool[K]
	temporary []*page
	destroyed bool
}

func (a *pageAllocator[K]) initialize(logger *slog.Logger, kind string, timeline *Timeline, source pageSource[K], flags CreateFlags) {
	if a.pool != nil {
		panic("attempting to initialize an allocator that is already in use")
	}
	if timeline == nil {
		panic("attempting to initialize an allocator without a timeline")
	}

	a.logger = logger
	a.kind = kind
	a.timeline = timeline
	a.source = source
	a.mutex.UseMutex = flags&CreateExternallySynchronized == 0
	a.pool = NewPool[K]()
}

func (a *pageAllocator[K]) checkLive() {
	if a.destroyed {
		panic("attempting to use an allocator that has been destroyed")
	}
}

// allocate returns the page an allocation was placed in, the handle of the page at the time of
// allocation and the offset of the allocation in the page
func (a *pageAllocator[K]) allocate(category K, size int, alignment int, userData any) (*page, PageHandle, int, error) {
	if size <= 0 {
		return nil, PageHandle{}, 0, errors.Newf("allocation size must be positive, but was %d", size)
	}
	if err := memutils.CheckPow2(alignment, "alignment"); err != nil {
		return nil, PageHandle{}, 0, err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.checkLive()

	capacity, err := a.source.defaultCapacity(category)
	if err != nil {
		return nil, PageHandle{}, 0, err
	}

	dedicated := a.source.dedicated(category)
	if !dedicated && size+a.source.margin(category) > capacity {
		return nil, PageHandle{}, 0, errors.Wrapf(ErrExceedsPageCapacity, "%s category %s: requested %d, pages hold %d", a.kind, category, size, capacity)
	}

	list := a.pool.list(category)
	if dedicated || list.current == nil || !list.current.hasSpace(size, alignment) {
		err = a.setNewPageAsCurrent(category, list, size)
		if err != nil {
			return nil, PageHandle{}, 0, err
		}
	}

	offset, err := list.current.allocate(size, alignment, userData)
	if err != nil {
		return nil, PageHandle{}, 0, err
	}

	return list.current, a.arena.handle(list.current), offset, nil
}

// setNewPageAsCurrent makes the front empty page current if the GPU is done with it, or creates
// a new page otherwise. minSize is the size of the request that triggered the change, or 0.
func (a *pageAllocator[K]) setNewPageAsCurrent(category K, list *pageList, minSize int) error {
	capacity, err := a.source.defaultCapacity(category)
	if err != nil {
		return err
	}
	margin := a.source.margin(category)
	if minSize > 0 && a.source.dedicated(category) {
		capacity = minSize + margin
	}

	if len(list.empty) > 0 {
		front := list.empty[0]

		if front.Capacity() >= max(minSize+margin, 1) && a.timeline.Completed(front.retireValue) {
			list.empty[0] = nil
			list.empty = list.empty[1:]

			a.arena.renew(front)
			front.metadata.Reset()
			front.readState = gpu.ResourceStateCommon
			front.state = pageStateUsed
			front.retireValue = 0

			list.used = append(list.used, front)
			list.current = front

			a.logger.LogAttrs(context.Background(), slog.LevelDebug, "reused retired page",
				slog.String("allocator", a.kind),
				slog.String("category", category.String()),
				slog.Int("index", front.index),
				slog.Int("capacity", front.Capacity()))
			recordPageReused(a.kind, category.String())
			return nil
		}
	}

	newPage, err := a.source.createPage(category, capacity)
	if err != nil {
		return errors.Wrapf(err, "failed to create a %s page of category %s", a.kind, category)
	}

	a.arena.insert(newPage)
	newPage.state = pageStateUsed
	list.used = append(list.used, newPage)
	list.current = newPage

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "created page",
		slog.String("allocator", a.kind),
		slog.String("category", category.String()),
		slog.Int("index", newPage.index),
		slog.Int("capacity", newPage.Capacity()))
	recordPageCreated(a.kind, category.String())
	return nil
}

func (a *pageAllocator[K]) SetNewPageAsCurrent(category K) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.checkLive()

	return a.setNewPageAsCurrent(category, a.pool.list(category), 0)
}

// Recycle retires every in-use page of the category, including the current page. Each retired
// page is stamped with the timeline's pending fence value and moved to the back of the empty
// list, where SetNewPageAsCurrent will find it once the GPU has reached that value.
func (a *pageAllocator[K]) Recycle(category K) {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.checkLive()

	list, ok := a.pool.lookup(category)
	if !ok || len(list.used) == 0 {
		return
	}

	pending := a.timeline.Pending()
	for _, p := range list.used {
		p.state = pageStateEmpty
		p.retireValue = pending
	}

	count := len(list.used)
	list.empty = append(list.empty, list.used...)
	list.used = nil
	list.current = nil

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "retired pages",
		slog.String("allocator", a.kind),
		slog.String("category", category.String()),
		slog.Int("count", count),
		slog.Uint64("fenceValue", pending))
	recordPagesRetired(a.kind, category.String(), count)
}

func (a *pageAllocator[K]) allocateTemporary(category K, size int, alignment int, userData any) (*page, PageHandle, int, error) {
	if size <= 0 {
		return nil, PageHandle{}, 0, errors.Newf("allocation size must be positive, but was %d", size)
	}
	if err := memutils.CheckPow2(alignment, "alignment"); err != nil {
		return nil, PageHandle{}, 0, err
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.checkLive()

	tempPage, err := a.source.createPage(category, size+a.source.margin(category))
	if err != nil {
		return nil, PageHandle{}, 0, errors.Wrapf(err, "failed to create a temporary %s page", a.kind)
	}

	a.arena.insert(tempPage)
	tempPage.state = pageStateTemporary
	tempPage.retireValue = a.timeline.Pending()
	a.temporary = append(a.temporary, tempPage)

	offset, err := tempPage.allocate(size, alignment, userData)
	if err != nil {
		return nil, PageHandle{}, 0, err
	}

	return tempPage, a.arena.handle(tempPage), offset, nil
}

// ReleaseTemporary releases every temporary page at once. If the GPU has not reached the fence
// value of any of them, or no fence is attached yet, nothing is released and ErrPageInFlight is
// returned.
func (a *pageAllocator[K]) ReleaseTemporary() error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.checkLive()

	if len(a.temporary) > 0 && !a.timeline.Attached() {
		return errors.Wrapf(ErrPageInFlight, "%d temporary pages cannot be released while no fence is attached", len(a.temporary))
	}

	completed := a.timeline.CompletedValue()
	for _, p := range a.temporary {
		if p.retireValue > completed {
			return errors.Wrapf(ErrPageInFlight, "temporary page %d waits for fence value %d, but the GPU has reached %d",
				p.index, p.retireValue, completed)
		}
	}

	count := len(a.temporary)
	for _, p := range a.temporary {
		a.arena.remove(p)
		p.release()
	}
	a.temporary = nil

	if count > 0 {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "released temporary pages",
			slog.String("allocator", a.kind),
			slog.Int("count", count))
		recordTemporaryReleased(a.kind, count)
	}
	return nil
}

// TemporaryCount returns the number of temporary pages that have not been released
func (a *pageAllocator[K]) TemporaryCount() int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return len(a.temporary)
}

// transition records a barrier moving the resource of a page to state after, unless every
// barrier already recorded leaves it there
func (a *pageAllocator[K]) transition(cl gpu.CommandList, handle PageHandle, after gpu.ResourceState) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.checkLive()

	p, err := a.arena.resolve(handle)
	if err != nil {
		return err
	}

	return p.transition(cl, after)
}

func (a *pageAllocator[K]) resolve(handle PageHandle) (*page, error) {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	a.checkLive()

	return a.arena.resolve(handle)
}

// UsedCount returns the number of in-use pages of a category, including the current page
func (a *pageAllocator[K]) UsedCount(category K) int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.pool.UsedCount(category)
}

// EmptyCount returns the number of retired pages of a category
func (a *pageAllocator[K]) EmptyCount(category K) int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.pool.EmptyCount(category)
}

// HasCurrent returns true if the category has a page accepting allocations
func (a *pageAllocator[K]) HasCurrent(category K) bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.pool.HasCurrent(category)
}

// Categories returns every category allocated from so far
func (a *pageAllocator[K]) Categories() []K {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.pool.Categories()
}

// CurrentOffset returns the cursor of a category's current page, or -1 if it has none
func (a *pageAllocator[K]) CurrentOffset(category K) int {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	list, ok := a.pool.lookup(category)
	if !ok || list.current == nil {
		return -1
	}
	return list.current.metadata.Offset()
}

// Validate checks that every live page is in exactly one list, that the lists agree with each
// page's state and that every page's metadata is consistent
func (a *pageAllocator[K]) Validate() error {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	seen := mapset.NewThreadUnsafeSet[*page]()
	checkPage := func(p *page, expected pageState) error {
		if !seen.Add(p) {
			return errors.Newf("page %d appears more than once", p.index)
		}
		if p.state != expected {
			return errors.Newf("page %d is in state %s, but is listed as %s", p.index, p.state, expected)
		}
		if p.index >= len(a.arena.slots) || a.arena.slots[p.index].page != p {
			return errors.Newf("page %d is not registered in its arena slot", p.index)
		}
		return errors.Wrapf(p.Validate(), "page %d failed validation", p.index)
	}

	var err error
	a.pool.visit(func(category K, list *pageList) {
		if err != nil {
			return
		}

		for _, p := range list.used {
			if err = checkPage(p, pageStateUsed); err != nil {
				err = errors.Wrapf(err, "category %s", category)
				return
			}
		}
		for _, p := range list.empty {
			if err = checkPage(p, pageStateEmpty); err != nil {
				err = errors.Wrapf(err, "category %s", category)
				return
			}
		}

		if list.current != nil && (list.current.state != pageStateUsed || !seen.Contains(list.current)) {
			err = errors.Newf("category %s has a current page that is not in use", category)
		}
	})
	if err != nil {
		return err
	}

	for _, p := range a.temporary {
		if err = checkPage(p, pageStateTemporary); err != nil {
			return errors.Wrap(err, "temporary pool")
		}
	}

	if seen.Cardinality() != a.arena.liveCount() {
		return errors.Newf("the arena holds %d pages, but %d are listed", a.arena.liveCount(), seen.Cardinality())
	}

	return nil
}

func addPageStatistics(p *page, stats *memutils.DetailedStatistics) {
	if p.state == pageStateEmpty {
		stats.PageCount++
		stats.PageBytes += p.Capacity()
		stats.AddUnusedRange(p.Capacity())
		return
	}

	p.metadata.AddDetailedStatistics(stats)
}

// CalculateStatistics summarizes every page of the allocator
func (a *pageAllocator[K]) CalculateStatistics() *AllocatorStatistics {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	return a.calculateStatistics()
}

func (a *pageAllocator[K]) calculateStatistics() *AllocatorStatistics {
	stats := &AllocatorStatistics{Kind: a.kind}
	stats.Total.Clear()

	a.pool.visit(func(category K, list *pageList) {
		categoryStats := CategoryStatistics{
			Category:   category.String(),
			UsedPages:  len(list.used),
			EmptyPages: len(list.empty),
		}
		categoryStats.Clear()

		for _, p := range list.used {
			addPageStatistics(p, &categoryStats.DetailedStatistics)
		}
		for _, p := range list.empty {
			addPageStatistics(p, &categoryStats.DetailedStatistics)
		}

		stats.Total.AddDetailedStatistics(&categoryStats.DetailedStatistics)
		stats.Categories = append(stats.Categories, categoryStats)
	})

	for _, p := range a.temporary {
		p.metadata.AddStatistics(&stats.Temporary)
	}

	return stats
}

// BuildStatsString returns the allocator's statistics as JSON. When detailed is true, every page
// and its suballocations are listed as well.
func (a *pageAllocator[K]) BuildStatsString(detailed bool) string {
	a.mutex.RLock()
	defer a.mutex.RUnlock()

	stats := a.calculateStatistics()

	writer := jwriter.NewWriter()
	objState := writer.Object()

	objState.Name("Kind").String(a.kind)

	totalObj := objState.Name("Total").Object()
	stats.Total.PrintJson(&totalObj)
	totalObj.End()

	categoriesObj := objState.Name("Categories").Object()
	for i, category := range a.pool.keys {
		list, _ := a.pool.lookup(category)

		categoryObj := categoriesObj.Name(category.String()).Object()
		categoryObj.Name("UsedPages").Int(len(list.used))
		categoryObj.Name("EmptyPages").Int(len(list.empty))
		categoryObj.Name("HasCurrent").Bool(list.current != nil)
		stats.Categories[i].PrintJson(&categoryObj)

		if detailed {
			a.printDetailedPages(list, &categoryObj)
		}

		categoryObj.End()
	}
	categoriesObj.End()

	temporaryObj := objState.Name("Temporary").Object()
	stats.Temporary.PrintJson(&temporaryObj)
	temporaryObj.End()

	objState.End()
	return string(writer.Bytes())
}

func (a *pageAllocator[K]) printDetailedPages(list *pageList, json *jwriter.ObjectState) {
	arrayState := json.Name("Pages").Array()
	defer arrayState.End()

	printPage := func(p *page) {
		obj := arrayState.Object()
		defer obj.End()

		obj.Name("Index").Int(p.index)
		obj.Name("Generation").Int(int(a.arena.slots[p.index].generation))
		obj.Name("State").String(p.state.String())
		obj.Name("Current").Bool(p == list.current)
		obj.Name("RetireValue").Int(int(p.retireValue))
		p.metadata.PageJsonData(&obj)

		suballocations := obj.Name("Suballocations").Array()
		defer suballocations.End()

		_ = p.metadata.VisitAllRegions(func(offset int, size int, userData any, free bool) error {
			if free {
				return nil
			}

			suballoc := suballocations.Object()
			defer suballoc.End()

			suballoc.Name("Offset").Int(offset)
			suballoc.Name("Size").Int(size)
			return nil
		})
	}

	for _, p := range list.used {
		printPage(p)
	}
	for _, p := range list.empty {
		printPage(p)
	}
}

// Destroy releases every page. The caller must have waited for the GPU to go idle.
func (a *pageAllocator[K]) Destroy() {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.destroyed {
		panic("attempting to destroy an allocator that has already been destroyed")
	}

	var released int
	a.pool.visit(func(category K, list *pageList) {
		for _, p := range list.used {
			p.release()
			released++
		}
		for _, p := range list.empty {
			p.release()
			released++
		}
	})
	for _, p := range a.temporary {
		p.release()
		released++
	}

	a.pool.clear()
	a.temporary = nil
	a.arena = pageArena{}
	a.destroyed = true

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "destroyed allocator",
		slog.String("allocator", a.kind),
		slog.Int("pages", released))
}
