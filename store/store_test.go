package store

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	annotate "github.com/getcharzp/go-annotate"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return New("img-1", DefaultConfig(64, 64), nil)
}

func rect(x1, y1, x2, y2 float32) []annotate.Point {
	return []annotate.Point{{X: x1, Y: y1}, {X: x2, Y: y1}, {X: x2, Y: y2}, {X: x1, Y: y2}}
}

func rectMask(w, h, x1, y1, x2, y2 int) *annotate.Mask {
	m := annotate.NewMask(w, h)
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			m.Pix[y*w+x] = 255
		}
	}
	return m
}

func TestAddShape(t *testing.T) {
	s := newTestStore(t)

	id, err := s.AddShape(rect(4, 4, 20, 20), OriginPolygon, ClassUnassigned)
	require.NoError(t, err)

	seg, ok := s.Get(id)
	require.True(t, ok)
	assert.Equal(t, KindVector, seg.Kind)
	assert.Equal(t, ClassUnassigned, seg.ClassID)
	assert.False(t, seg.Mask(64, 64).Empty())

	// 空形状整体拒绝，状态不变
	_, err = s.AddShape(rect(4, 4, 4, 4), OriginPolygon, ClassUnassigned)
	require.ErrorIs(t, err, annotate.ErrEmptyResult)
	assert.Equal(t, 1, s.Len())
}

func TestAddMaskSizeMismatch(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddMask(rectMask(32, 32, 0, 0, 8, 8), OriginPointPrompt, ClassUnassigned)
	require.Error(t, err)
	assert.Equal(t, 0, s.Len())
}

func TestDeleteAtomic(t *testing.T) {
	s := newTestStore(t)
	id, err := s.AddShape(rect(4, 4, 20, 20), OriginPolygon, ClassUnassigned)
	require.NoError(t, err)

	// 任一 id 未知时整体拒绝
	err = s.Delete([]int{id, 999})
	require.ErrorIs(t, err, annotate.ErrNotFound)
	assert.Equal(t, 1, s.Len())

	require.NoError(t, s.Delete([]int{id}))
	assert.Equal(t, 0, s.Len())
}

func TestEraseFullCover(t *testing.T) {
	s := newTestStore(t)
	id, err := s.AddShape(rect(10, 10, 20, 20), OriginPolygon, 2)
	require.NoError(t, err)

	affected, err := s.Erase(rect(0, 0, 40, 40))
	require.NoError(t, err)
	assert.Equal(t, []int{id}, affected)
	assert.Equal(t, 0, s.Len())
}

func TestErasePartialSplits(t *testing.T) {
	s := newTestStore(t)
	// 横条，中间被竖条擦断成两段
	_, err := s.AddMask(rectMask(64, 64, 4, 10, 40, 14), OriginPointPrompt, 3)
	require.NoError(t, err)

	eraser := rectMask(64, 64, 18, 0, 24, 64)
	affected, err := s.EraseMask(eraser)
	require.NoError(t, err)
	require.Len(t, affected, 1)

	segs := s.Segments()
	require.Len(t, segs, 2)
	for _, seg := range segs {
		assert.Equal(t, KindRasterized, seg.Kind)
		assert.Equal(t, 3, seg.ClassID, "碎片应继承原类别")
		assert.Equal(t, OriginPointPrompt, seg.Origin, "碎片应继承原来源")
	}

	// 碎片并集 == 原掩码减去擦除掩码
	want, err := annotate.Subtract(rectMask(64, 64, 4, 10, 40, 14), eraser)
	require.NoError(t, err)
	got := annotate.NewMask(64, 64)
	for _, seg := range segs {
		got, err = annotate.Union(got, seg.Mask(64, 64))
		require.NoError(t, err)
	}
	assert.True(t, got.Equal(want))
}

func TestEraseNoOverlap(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddShape(rect(4, 4, 10, 10), OriginPolygon, ClassUnassigned)
	require.NoError(t, err)

	affected, err := s.Erase(rect(40, 40, 50, 50))
	require.NoError(t, err)
	assert.Empty(t, affected)
	assert.Equal(t, 1, s.Len())
}

func TestEraseUndoRestoresExactly(t *testing.T) {
	s := newTestStore(t)
	idA, err := s.AddMask(rectMask(64, 64, 4, 10, 40, 14), OriginPointPrompt, 1)
	require.NoError(t, err)
	idB, err := s.AddShape(rect(50, 50, 60, 60), OriginPolygon, 2)
	require.NoError(t, err)

	before := make(map[int]*annotate.Mask)
	for _, seg := range s.Segments() {
		before[seg.ID] = seg.Mask(64, 64).Clone()
	}

	_, err = s.EraseMask(rectMask(64, 64, 18, 0, 24, 64))
	require.NoError(t, err)
	require.NotEqual(t, 2, s.Len())

	// 一次撤销恢复整次擦除
	require.True(t, s.Undo())
	segs := s.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, idA, segs[0].ID, "应按提交顺序恢复")
	assert.Equal(t, idB, segs[1].ID)
	for _, seg := range segs {
		assert.True(t, seg.Mask(64, 64).Equal(before[seg.ID]), "片段 %d 几何未还原", seg.ID)
	}

	// 重做回到擦除后的状态
	require.True(t, s.Redo())
	assert.NotEqual(t, 2, s.Len())
}

func TestAssignClass(t *testing.T) {
	s := newTestStore(t)
	idA, err := s.AddShape(rect(4, 4, 10, 10), OriginPolygon, 5)
	require.NoError(t, err)
	idB, err := s.AddShape(rect(20, 20, 30, 30), OriginPolygon, 3)
	require.NoError(t, err)
	idC, err := s.AddShape(rect(40, 40, 50, 50), OriginPolygon, ClassUnassigned)
	require.NoError(t, err)

	s.Select(idA, idB, idC)

	// 未指定类别时取已分配类别的最小值
	assigned, err := s.AssignClass([]int{idA, idB, idC}, ClassUnassigned)
	require.NoError(t, err)
	assert.Equal(t, 3, assigned)
	for _, id := range []int{idA, idB, idC} {
		seg, _ := s.Get(id)
		assert.Equal(t, 3, seg.ClassID)
	}

	// 完成后清空选择，且不可撤销
	assert.Empty(t, s.Selected())
	prevA, _ := s.Get(idA)
	require.True(t, s.Undo()) // 撤销的是最后一次新增而非类别指定
	got, ok := s.Get(idA)
	if ok {
		assert.Equal(t, prevA.ClassID, got.ClassID)
	}
}

func TestAssignClassAllUnassigned(t *testing.T) {
	s := newTestStore(t)
	s.Registry().Ensure(0)
	s.Registry().Ensure(1)

	id, err := s.AddShape(rect(4, 4, 10, 10), OriginPolygon, ClassUnassigned)
	require.NoError(t, err)

	// 全部未分配时取下一个未使用的类别 id
	assigned, err := s.AssignClass([]int{id}, ClassUnassigned)
	require.NoError(t, err)
	assert.Equal(t, 2, assigned)
}

func TestUndoCapacity(t *testing.T) {
	cfg := DefaultConfig(64, 64)
	cfg.UndoCapacity = 3
	s := New("img-1", cfg, nil)

	var ids []int
	for i := 0; i < 5; i++ {
		id, err := s.AddShape(rect(float32(i*10), 0, float32(i*10+8), 8), OriginPolygon, ClassUnassigned)
		require.NoError(t, err)
		ids = append(ids, id)
	}

	// 容量 3：只能撤销最近 3 次
	undone := 0
	for s.Undo() {
		undone++
	}
	assert.Equal(t, 3, undone)
	assert.Equal(t, 2, s.Len())
	_, ok := s.Get(ids[0])
	assert.True(t, ok, "最早的片段应超出撤销范围而保留")
}

func TestRedoClearedByNewCommit(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddShape(rect(4, 4, 10, 10), OriginPolygon, ClassUnassigned)
	require.NoError(t, err)

	require.True(t, s.Undo())
	require.True(t, s.CanRedo())

	_, err = s.AddShape(rect(20, 20, 30, 30), OriginPolygon, ClassUnassigned)
	require.NoError(t, err)
	assert.False(t, s.CanRedo(), "新提交应清空重做栈")
}

func TestLoadedSegmentNotUndoable(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddMask(rectMask(64, 64, 4, 4, 20, 20), OriginLoaded, 1)
	require.NoError(t, err)

	assert.False(t, s.CanUndo(), "Loaded 片段的提交不应进入历史")

	// 涉及 Loaded 片段的擦除同样不进入历史
	_, err = s.EraseMask(rectMask(64, 64, 0, 0, 10, 10))
	require.NoError(t, err)
	assert.False(t, s.CanUndo())
}

func TestMoveVertex(t *testing.T) {
	s := newTestStore(t)
	id, err := s.AddShape(rect(4, 4, 20, 20), OriginPolygon, ClassUnassigned)
	require.NoError(t, err)

	seg, _ := s.Get(id)
	v0 := seg.Version()

	require.NoError(t, s.MoveVertex(id, 2, annotate.Point{X: 30, Y: 30}))
	assert.Greater(t, seg.Version(), v0, "几何版本应递增")
	assert.Equal(t, annotate.Point{X: 30, Y: 30}, seg.Vertices[2])

	require.True(t, s.Undo())
	assert.Equal(t, annotate.Point{X: 20, Y: 20}, seg.Vertices[2])

	// Rasterized 片段不可拖拽顶点
	rid, err := s.AddMask(rectMask(64, 64, 40, 40, 50, 50), OriginPointPrompt, ClassUnassigned)
	require.NoError(t, err)
	err = s.MoveVertex(rid, 0, annotate.Point{X: 1, Y: 1})
	require.ErrorIs(t, err, annotate.ErrInvalidTransition)
}

func TestReset(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddShape(rect(4, 4, 20, 20), OriginPolygon, 1)
	require.NoError(t, err)

	s.Reset("img-2", 128, 128)
	assert.Equal(t, "img-2", s.ImageID())
	assert.Equal(t, 0, s.Len())
	assert.False(t, s.CanUndo())

	w, h := s.ImageSize()
	assert.Equal(t, 128, w)
	assert.Equal(t, 128, h)
}

func TestEvents(t *testing.T) {
	s := newTestStore(t)
	var kinds []EventKind
	s.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	id, err := s.AddShape(rect(4, 4, 20, 20), OriginPolygon, ClassUnassigned)
	require.NoError(t, err)
	require.NoError(t, s.Delete([]int{id}))
	require.True(t, s.Undo())

	assert.Equal(t, []EventKind{EventAdd, EventDelete, EventUndo}, kinds)
}

func TestMergeByClass(t *testing.T) {
	s := newTestStore(t)
	_, err := s.AddMask(rectMask(64, 64, 0, 0, 8, 8), OriginPointPrompt, 1)
	require.NoError(t, err)
	_, err = s.AddMask(rectMask(64, 64, 20, 20, 28, 28), OriginPointPrompt, 1)
	require.NoError(t, err)
	_, err = s.AddMask(rectMask(64, 64, 40, 40, 48, 48), OriginPointPrompt, 2)
	require.NoError(t, err)

	require.NoError(t, s.MergeByClass())
	segs := s.Segments()
	require.Len(t, segs, 2)
	assert.Equal(t, 1, segs[0].ClassID)
	assert.Equal(t, 64+64, segs[0].Mask(64, 64).Area())
	assert.Equal(t, 2, segs[1].ClassID)
	assert.False(t, s.CanUndo(), "合并后历史应清空")
}

func TestConcurrentRenderAndEdit(t *testing.T) {
	s := newTestStore(t)
	id, err := s.AddShape(rect(4, 4, 40, 40), OriginPolygon, 1)
	require.NoError(t, err)
	seg, _ := s.Get(id)

	// 渲染端与编辑端并发读写掩码缓存，-race 下必须干净
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			_ = seg.Mask(64, 64)
			_ = seg.Version()
			_ = seg.Polygon()
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 200; i++ {
			p := annotate.Point{X: float32(30 + i%10), Y: float32(30 + i%10)}
			assert.NoError(t, s.MoveVertex(id, 2, p))
		}
	}()
	wg.Wait()

	// 最终掩码与顶点重新栅格化结果一致
	want := annotate.Rasterize(seg.Polygon(), 64, 64)
	assert.True(t, seg.Mask(64, 64).Equal(want))
}

func TestErrorWrapping(t *testing.T) {
	s := newTestStore(t)
	err := s.Delete([]int{7})
	require.Error(t, err)
	assert.True(t, errors.Is(err, annotate.ErrNotFound))
}
