package pager

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPoolTracksCategoriesInFirstUseOrder(t *testing.T) {
	pool := NewPool[string]()

	upload := pool.list("upload")
	upload.used = append(upload.used, &page{})
	upload.current = upload.used[0]
	pool.list("default").empty = append(pool.list("default").empty, &page{})
	require.Same(t, upload, pool.list("upload"))

	require.Equal(t, []string{"upload", "default"}, pool.Categories())
	require.Equal(t, 1, pool.UsedCount("upload"))
	require.Equal(t, 1, pool.EmptyCount("default"))
	require.True(t, pool.HasCurrent("upload"))
	require.False(t, pool.HasCurrent("default"))
	require.Zero(t, pool.UsedCount("missing"))

	var visited []string
	pool.visit(func(key string, list *pageList) {
		visited = append(visited, key)
	})
	require.Equal(t, []string{"upload", "default"}, visited)
}

func TestPoolClear(t *testing.T) {
	pool := NewPool[string]()
	pool.list("upload").used = append(pool.list("upload").used, &page{})

	pool.clear()

	require.Empty(t, pool.Categories())
	require.Zero(t, pool.UsedCount("upload"))
	_, ok := pool.lookup("upload")
	require.False(t, ok)

	require.Empty(t, pool.list("upload").used)
	require.Equal(t, []string{"upload"}, pool.Categories())
}
