package sequence

import (
	"fmt"
	"sync"

	annotate "github.com/getcharzp/go-annotate"
	"github.com/getcharzp/go-annotate/oracle"
	"github.com/getcharzp/go-annotate/store"
)

// StoreSet 基于每帧一个片段存储的 FrameSet 实现
type StoreSet struct {
	mu     sync.Mutex
	stores []*store.Store
	// committed 各帧最近一次传播写入的片段 id，重传时先清除
	committed map[int][]int
}

// NewStoreSet 创建帧集合
func NewStoreSet(stores []*store.Store) *StoreSet {
	return &StoreSet{
		stores:    stores,
		committed: make(map[int][]int),
	}
}

// Store 取指定帧的片段存储
func (s *StoreSet) Store(index int) (*store.Store, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.stores) {
		return nil, false
	}
	return s.stores[index], true
}

// HasAuthored 帧上是否存在人工确认的标注
func (s *StoreSet) HasAuthored(index int) bool {
	st, ok := s.Store(index)
	if !ok {
		return false
	}
	return st.HasAuthored()
}

// ReferenceMasks 帧上人工标注片段的掩码，片段 id 作为目标 id
func (s *StoreSet) ReferenceMasks(index int) []oracle.ReferenceMask {
	st, ok := s.Store(index)
	if !ok {
		return nil
	}
	w, h := st.ImageSize()

	var refs []oracle.ReferenceMask
	for _, seg := range st.Segments() {
		switch seg.Origin {
		case store.OriginPolygon, store.OriginBox, store.OriginPointPrompt:
			refs = append(refs, oracle.ReferenceMask{
				FrameIndex: index,
				ObjectID:   seg.ID,
				Mask:       seg.Mask(w, h),
			})
		}
	}
	return refs
}

// CommitPropagated 写入传播结果，替换该帧此前的传播结果
//
// 传播写入以 Loaded 来源提交，不进入撤销历史。
func (s *StoreSet) CommitPropagated(index int, objs []oracle.PropagatedObject) error {
	st, ok := s.Store(index)
	if !ok {
		return fmt.Errorf("帧 %d: %w", index, annotate.ErrNotFound)
	}

	s.mu.Lock()
	previous := s.committed[index]
	s.mu.Unlock()

	// 清除上一轮结果；片段可能已被用户删除，逐个尝试
	for _, id := range previous {
		if _, ok := st.Get(id); ok {
			if err := st.Delete([]int{id}); err != nil {
				return err
			}
		}
	}

	ids := make([]int, 0, len(objs))
	for _, obj := range objs {
		if obj.Mask == nil || obj.Mask.Empty() {
			continue
		}
		id, err := st.AddMask(obj.Mask, store.OriginLoaded, store.ClassUnassigned)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}

	s.mu.Lock()
	s.committed[index] = ids
	s.mu.Unlock()
	return nil
}
