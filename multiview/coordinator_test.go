package multiview

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	annotate "github.com/getcharzp/go-annotate"
	"github.com/getcharzp/go-annotate/store"
)

func rect(x1, y1, x2, y2 float32) []annotate.Point {
	return []annotate.Point{{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2}}
}

func newLinkedPair(t *testing.T) (*Coordinator, *store.Store, *store.Store) {
	t.Helper()
	c := New(nil)
	left := store.New("left", store.DefaultConfig(64, 64), nil)
	right := store.New("right", store.DefaultConfig(64, 64), nil)
	c.Register("left", left)
	c.Register("right", right)
	require.NoError(t, c.Link("left"))
	require.NoError(t, c.Link("right"))
	return c, left, right
}

func TestMirrorAddShape(t *testing.T) {
	c, left, right := newLinkedPair(t)

	id, err := c.AddShape("left", rect(4, 4, 20, 20), store.OriginPolygon, 1)
	require.NoError(t, err)

	require.Equal(t, 1, left.Len())
	require.Equal(t, 1, right.Len())

	lSeg, _ := left.Get(id)
	rID, ok := right.AtOrdinal(0)
	require.True(t, ok)
	rSeg, _ := right.Get(rID)

	// 几何与类别一致，id 各自独立
	assert.True(t, lSeg.Mask(64, 64).Equal(rSeg.Mask(64, 64)))
	assert.Equal(t, lSeg.ClassID, rSeg.ClassID)
}

func TestMirrorEraseAndDelete(t *testing.T) {
	c, left, right := newLinkedPair(t)

	id1, err := c.AddShape("left", rect(4, 4, 20, 20), store.OriginPolygon, 1)
	require.NoError(t, err)
	_, err = c.AddShape("right", rect(30, 30, 50, 50), store.OriginPolygon, 2)
	require.NoError(t, err)

	// 序数对应：删除源槽片段时删除对端同序数片段
	require.NoError(t, c.Delete("left", []int{id1}))
	assert.Equal(t, 1, left.Len())
	assert.Equal(t, 1, right.Len())

	affected, err := c.Erase("right", rect(0, 0, 64, 64))
	require.NoError(t, err)
	assert.NotEmpty(t, affected)
	assert.Equal(t, 0, left.Len())
	assert.Equal(t, 0, right.Len())
}

func TestMirrorAssignClass(t *testing.T) {
	c, _, right := newLinkedPair(t)

	id, err := c.AddShape("left", rect(4, 4, 20, 20), store.OriginPolygon, 5)
	require.NoError(t, err)

	assigned, err := c.AssignClass("left", []int{id}, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, assigned)

	rID, _ := right.AtOrdinal(0)
	rSeg, _ := right.Get(rID)
	assert.Equal(t, 7, rSeg.ClassID)
}

func TestUnlinkFreezes(t *testing.T) {
	c, left, right := newLinkedPair(t)

	_, err := c.AddShape("left", rect(4, 4, 20, 20), store.OriginPolygon, 1)
	require.NoError(t, err)

	c.Unlink("right")
	_, err = c.AddShape("left", rect(30, 30, 50, 50), store.OriginPolygon, 2)
	require.NoError(t, err)

	// 解联后右槽保持解联时刻的状态
	assert.Equal(t, 2, left.Len())
	assert.Equal(t, 1, right.Len())
	assert.False(t, c.IsLinked("right"))
}

func TestSelectionNotMirrored(t *testing.T) {
	c, left, right := newLinkedPair(t)

	id, err := c.AddShape("left", rect(4, 4, 20, 20), store.OriginPolygon, 1)
	require.NoError(t, err)

	left.Select(id)
	assert.NotEmpty(t, left.Selected())
	assert.Empty(t, right.Selected(), "选择状态不镜像")
}

func TestConcurrentMirrorOrder(t *testing.T) {
	c, left, right := newLinkedPair(t)

	// 两端并发提交，两槽必须观察到同一提交顺序
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			x := float32(1 + i)
			_, err := c.AddShape("left", rect(x, 1, x+4, 5), store.OriginPolygon, 1)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 20; i++ {
			y := float32(10 + i)
			_, err := c.AddShape("right", rect(1, y, 5, y+4), store.OriginPolygon, 2)
			assert.NoError(t, err)
		}
	}()
	wg.Wait()

	require.Equal(t, 40, left.Len())
	require.Equal(t, 40, right.Len())
	for ord := 0; ord < 40; ord++ {
		lID, ok := left.AtOrdinal(ord)
		require.True(t, ok)
		rID, ok := right.AtOrdinal(ord)
		require.True(t, ok)
		lSeg, _ := left.Get(lID)
		rSeg, _ := right.Get(rID)
		require.True(t, lSeg.Mask(64, 64).Equal(rSeg.Mask(64, 64)), "序数 %d 几何不一致", ord)
		require.Equal(t, lSeg.ClassID, rSeg.ClassID, "序数 %d 类别不一致", ord)
	}
}

func TestUnknownSlot(t *testing.T) {
	c := New(nil)
	_, err := c.AddShape("nope", rect(0, 0, 8, 8), store.OriginPolygon, 1)
	require.ErrorIs(t, err, annotate.ErrNotFound)
	require.ErrorIs(t, c.Link("nope"), annotate.ErrNotFound)
}
