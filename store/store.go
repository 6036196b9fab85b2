package store

import (
	"fmt"
	"sort"
	"sync"

	annotate "github.com/getcharzp/go-annotate"
)

// Config 配置项
type Config struct {
	// ImageW, ImageH 当前图像分辨率
	ImageW, ImageH int

	// UndoCapacity 撤销栈容量，超出时丢弃最旧记录
	UndoCapacity int
	// MinFragmentArea 擦除后保留碎片的最小像素数
	MinFragmentArea int
}

// DefaultConfig 返回默认配置
func DefaultConfig(w, h int) Config {
	return Config{
		ImageW:       w,
		ImageH:       h,
		UndoCapacity: 64,
	}
}

// EventKind 变更通知类型
type EventKind int

const (
	EventAdd EventKind = iota
	EventDelete
	EventErase
	EventAssignClass
	EventMoveVertex
	EventUndo
	EventRedo
	EventReset
)

// Event 一次已提交变更的通知，供任意界面层订阅
type Event struct {
	Kind       EventKind
	SegmentIDs []int
}

// Store 单张图像的片段集合，所有字段由本类型独占维护
//
// 权威变更在同一互斥量上串行执行；并发调用被顺序化而非并行。
type Store struct {
	mu        sync.Mutex
	cfg       Config
	imageID   string
	registry  *Registry
	segments  []*Segment // 按提交顺序
	index     map[int]*Segment
	nextID    int
	commitSeq uint64
	history   *history
	selection map[int]struct{}

	lmu       sync.Mutex
	listeners []func(Event)
}

// New 创建片段存储
//
// # Params:
//
//	imageID: 图像标识
//	cfg: 配置
//	registry: 类别注册表，可在多个 Store 间共享
func New(imageID string, cfg Config, registry *Registry) *Store {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Store{
		cfg:       cfg,
		imageID:   imageID,
		registry:  registry,
		index:     make(map[int]*Segment),
		history:   newHistory(cfg.UndoCapacity),
		selection: make(map[int]struct{}),
	}
}

// Subscribe 注册变更监听器，在每次提交后被同步调用
func (s *Store) Subscribe(fn func(Event)) {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	s.listeners = append(s.listeners, fn)
}

func (s *Store) notify(ev Event) {
	s.lmu.Lock()
	fns := make([]func(Event), len(s.listeners))
	copy(fns, s.listeners)
	s.lmu.Unlock()
	for _, fn := range fns {
		fn(ev)
	}
}

// ImageID 当前图像标识
func (s *Store) ImageID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.imageID
}

// ImageSize 当前图像分辨率
func (s *Store) ImageSize() (int, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.ImageW, s.cfg.ImageH
}

// Registry 类别注册表
func (s *Store) Registry() *Registry {
	return s.registry
}

// AddShape 提交一个手势形状为新片段
//
// # Params:
//
//	vertices: 形状顶点
//	origin: 来源标记（Polygon 产生 Vector 片段，其余为 Rasterized）
//	classID: 类别 id，ClassUnassigned 表示未分配
//
// 形状栅格化为空时拒绝并返回 ErrEmptyResult，状态不变。
func (s *Store) AddShape(vertices []annotate.Point, origin Origin, classID int) (int, error) {
	mask := annotate.Rasterize(vertices, s.cfg.ImageW, s.cfg.ImageH)
	if mask.Empty() {
		return 0, fmt.Errorf("形状栅格化为空: %w", annotate.ErrEmptyResult)
	}

	s.mu.Lock()
	seg := &Segment{
		Origin:  origin,
		ClassID: classID,
	}
	if origin == OriginPolygon {
		seg.Kind = KindVector
		seg.Vertices = make([]annotate.Point, len(vertices))
		copy(seg.Vertices, vertices)
	} else {
		seg.Kind = KindRasterized
		seg.raster = mask
	}
	id := s.commitLocked(seg)
	if origin != OriginLoaded {
		s.history.record(&entry{kind: entryAdd, added: []*Segment{seg.clone()}})
	}
	s.mu.Unlock()

	s.notify(Event{Kind: EventAdd, SegmentIDs: []int{id}})
	return id, nil
}

// AddMask 提交一个掩码为新的 Rasterized 片段
//
// 预测结果、加载结果均经此提交；空掩码拒绝。
func (s *Store) AddMask(mask *annotate.Mask, origin Origin, classID int) (int, error) {
	if mask == nil || mask.Empty() {
		return 0, fmt.Errorf("掩码为空: %w", annotate.ErrEmptyResult)
	}
	if mask.W != s.cfg.ImageW || mask.H != s.cfg.ImageH {
		return 0, fmt.Errorf("掩码尺寸 %dx%d 与图像 %dx%d 不符",
			mask.W, mask.H, s.cfg.ImageW, s.cfg.ImageH)
	}

	s.mu.Lock()
	seg := &Segment{
		Kind:    KindRasterized,
		Origin:  origin,
		ClassID: classID,
		raster:  mask.Clone(),
	}
	id := s.commitLocked(seg)
	// Loaded 片段的变更不进入历史
	if origin != OriginLoaded {
		s.history.record(&entry{kind: entryAdd, added: []*Segment{seg.clone()}})
	}
	s.mu.Unlock()

	s.notify(Event{Kind: EventAdd, SegmentIDs: []int{id}})
	return id, nil
}

// commitLocked 分配 id 与提交序号并插入
func (s *Store) commitLocked(seg *Segment) int {
	seg.ID = s.nextID
	s.nextID++
	s.commitSeq++
	seg.commitSeq = s.commitSeq
	if seg.ClassID != ClassUnassigned {
		s.registry.Ensure(seg.ClassID)
	}
	s.segments = append(s.segments, seg)
	s.index[seg.ID] = seg
	return seg.ID
}

// Delete 删除一批片段，任一 id 未知时整体拒绝
func (s *Store) Delete(ids []int) error {
	s.mu.Lock()
	targets, err := s.lookupLocked(ids)
	if err != nil {
		s.mu.Unlock()
		return err
	}

	removed := make([]*Segment, 0, len(targets))
	undoable := true
	for _, t := range targets {
		removed = append(removed, t.clone())
		if t.Origin == OriginLoaded {
			undoable = false
		}
		s.removeLocked(t.ID)
	}
	if undoable {
		s.history.record(&entry{kind: entryDelete, removed: removed})
	}
	s.mu.Unlock()

	s.notify(Event{Kind: EventDelete, SegmentIDs: append([]int(nil), ids...)})
	return nil
}

// Erase 用手势形状擦除所有与之重叠的片段像素
//
// 完全覆盖的片段被删除；部分覆盖的片段被其剩余像素的各连通块
// 取代，每个碎片成为继承原类别的新 Rasterized 片段。整次擦除
// 记为单条复合撤销记录，一次撤销恢复全部。
//
// 返回受影响（被修改或删除）的原片段 id。
func (s *Store) Erase(vertices []annotate.Point) ([]int, error) {
	eraseMask := annotate.Rasterize(vertices, s.cfg.ImageW, s.cfg.ImageH)
	if eraseMask.Empty() {
		return nil, fmt.Errorf("擦除形状栅格化为空: %w", annotate.ErrEmptyResult)
	}
	return s.EraseMask(eraseMask)
}

// EraseMask 用掩码执行擦除，语义同 Erase
func (s *Store) EraseMask(eraseMask *annotate.Mask) ([]int, error) {
	if eraseMask == nil || eraseMask.Empty() {
		return nil, fmt.Errorf("擦除掩码为空: %w", annotate.ErrEmptyResult)
	}

	s.mu.Lock()

	var affected []int
	var removed []*Segment
	var fragments []*Segment

	for _, seg := range s.segments {
		segMask := seg.Mask(s.cfg.ImageW, s.cfg.ImageH)
		if !annotate.Intersects(segMask, eraseMask) {
			continue
		}

		remainder, err := annotate.Subtract(segMask, eraseMask)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}

		affected = append(affected, seg.ID)
		removed = append(removed, seg.clone())

		if remainder.Empty() {
			continue // 完全覆盖，仅删除
		}
		for _, comp := range annotate.ConnectedComponents(remainder) {
			if comp.Area() <= s.cfg.MinFragmentArea {
				continue
			}
			fragments = append(fragments, &Segment{
				Kind:    KindRasterized,
				Origin:  seg.Origin,
				ClassID: seg.ClassID,
				raster:  comp,
			})
		}
	}

	if len(affected) == 0 {
		s.mu.Unlock()
		return nil, nil
	}

	for _, id := range affected {
		s.removeLocked(id)
	}
	added := make([]*Segment, 0, len(fragments))
	for _, f := range fragments {
		s.commitLocked(f)
		added = append(added, f.clone())
	}

	undoable := true
	for _, r := range removed {
		if r.Origin == OriginLoaded {
			undoable = false
		}
	}
	if undoable {
		s.history.record(&entry{kind: entryErase, removed: removed, added: added})
	}
	s.mu.Unlock()

	s.notify(Event{Kind: EventErase, SegmentIDs: append([]int(nil), affected...)})
	return affected, nil
}

// AssignClass 批量重新指定类别
//
// classID 为 ClassUnassigned 时取目标中已分配类别的最小值，
// 若全部未分配则取下一个未使用的类别 id。此操作不可撤销
// （明确策略），完成后清空当前选择。
//
// 返回实际指定的类别 id。
func (s *Store) AssignClass(ids []int, classID int) (int, error) {
	s.mu.Lock()
	targets, err := s.lookupLocked(ids)
	if err != nil {
		s.mu.Unlock()
		return 0, err
	}

	target := classID
	if target == ClassUnassigned {
		target = minClassID(targets)
		if target == ClassUnassigned {
			target = s.registry.NextID()
		}
	}
	s.registry.Ensure(target)
	for _, t := range targets {
		t.ClassID = target
	}
	s.selection = make(map[int]struct{})
	s.mu.Unlock()

	s.notify(Event{Kind: EventAssignClass, SegmentIDs: append([]int(nil), ids...)})
	return target, nil
}

// MoveVertex 拖拽 Vector 片段的单个顶点
func (s *Store) MoveVertex(id, vertexIndex int, pos annotate.Point) error {
	s.mu.Lock()
	seg, ok := s.index[id]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("片段 %d: %w", id, annotate.ErrNotFound)
	}
	if seg.Kind != KindVector {
		s.mu.Unlock()
		return fmt.Errorf("片段 %d 不是 Vector 形态: %w", id, annotate.ErrInvalidTransition)
	}
	if vertexIndex < 0 || vertexIndex >= len(seg.Vertices) {
		s.mu.Unlock()
		return fmt.Errorf("顶点 %d: %w", vertexIndex, annotate.ErrNotFound)
	}

	old := seg.setVertex(vertexIndex, pos)
	if seg.Mask(s.cfg.ImageW, s.cfg.ImageH).Empty() {
		// 拒绝产生空掩码的编辑
		seg.setVertex(vertexIndex, old)
		s.mu.Unlock()
		return fmt.Errorf("顶点移动导致空掩码: %w", annotate.ErrEmptyResult)
	}

	s.history.record(&entry{
		kind:        entryMoveVertex,
		segID:       id,
		vertexIndex: vertexIndex,
		oldPos:      old,
		newPos:      pos,
	})
	s.mu.Unlock()

	s.notify(Event{Kind: EventMoveVertex, SegmentIDs: []int{id}})
	return nil
}

// Undo 撤销最近一次可撤销变更，空栈时返回 false 而非报错
func (s *Store) Undo() bool {
	s.mu.Lock()
	e, ok := s.history.popUndo()
	if !ok {
		s.mu.Unlock()
		return false
	}
	ids := s.applyLocked(e, true)
	s.mu.Unlock()

	s.notify(Event{Kind: EventUndo, SegmentIDs: ids})
	return true
}

// Redo 重做最近一次被撤销的变更，空栈时返回 false
func (s *Store) Redo() bool {
	s.mu.Lock()
	e, ok := s.history.popRedo()
	if !ok {
		s.mu.Unlock()
		return false
	}
	ids := s.applyLocked(e, false)
	s.mu.Unlock()

	s.notify(Event{Kind: EventRedo, SegmentIDs: ids})
	return true
}

// CanUndo / CanRedo 查询历史状态
func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.canUndo()
}

func (s *Store) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history.canRedo()
}

// applyLocked 应用撤销(inverse=true)或重做(inverse=false)
func (s *Store) applyLocked(e *entry, inverse bool) []int {
	if e.kind == entryMoveVertex {
		if seg, ok := s.index[e.segID]; ok && e.vertexIndex < len(seg.Vertices) {
			if inverse {
				seg.setVertex(e.vertexIndex, e.oldPos)
			} else {
				seg.setVertex(e.vertexIndex, e.newPos)
			}
		}
		return []int{e.segID}
	}

	drop, restore := e.added, e.removed
	if !inverse {
		drop, restore = e.removed, e.added
	}

	var ids []int
	for _, snap := range drop {
		s.removeLocked(snap.ID)
		ids = append(ids, snap.ID)
	}
	for _, snap := range restore {
		s.restoreLocked(snap.clone())
		ids = append(ids, snap.ID)
	}
	return ids
}

// restoreLocked 以原 id 与提交序号恢复片段（id 永不复用保证安全）
func (s *Store) restoreLocked(seg *Segment) {
	s.segments = append(s.segments, seg)
	s.index[seg.ID] = seg
	sort.SliceStable(s.segments, func(i, j int) bool {
		return s.segments[i].commitSeq < s.segments[j].commitSeq
	})
	if seg.ID >= s.nextID {
		s.nextID = seg.ID + 1
	}
	if seg.commitSeq > s.commitSeq {
		s.commitSeq = seg.commitSeq
	}
}

func (s *Store) removeLocked(id int) {
	if _, ok := s.index[id]; !ok {
		return
	}
	delete(s.index, id)
	delete(s.selection, id)
	for i, seg := range s.segments {
		if seg.ID == id {
			s.segments = append(s.segments[:i], s.segments[i+1:]...)
			break
		}
	}
}

func (s *Store) lookupLocked(ids []int) ([]*Segment, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("目标片段为空: %w", annotate.ErrNotFound)
	}
	targets := make([]*Segment, 0, len(ids))
	for _, id := range ids {
		seg, ok := s.index[id]
		if !ok {
			return nil, fmt.Errorf("片段 %d: %w", id, annotate.ErrNotFound)
		}
		targets = append(targets, seg)
	}
	return targets, nil
}

// Select 选中一批片段（替换当前选择），未知 id 忽略
func (s *Store) Select(ids ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = make(map[int]struct{})
	for _, id := range ids {
		if _, ok := s.index[id]; ok {
			s.selection[id] = struct{}{}
		}
	}
}

// ClearSelection 清空选择
func (s *Store) ClearSelection() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.selection = make(map[int]struct{})
}

// Selected 当前选中的片段 id，升序
func (s *Store) Selected() []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, 0, len(s.selection))
	for id := range s.selection {
		out = append(out, id)
	}
	sort.Ints(out)
	return out
}

// Reset 切换目标图像：整体替换片段集并清空历史与选择
func (s *Store) Reset(imageID string, w, h int) {
	s.mu.Lock()
	s.imageID = imageID
	s.cfg.ImageW, s.cfg.ImageH = w, h
	s.segments = nil
	s.index = make(map[int]*Segment)
	s.selection = make(map[int]struct{})
	s.history.clear()
	s.mu.Unlock()

	s.notify(Event{Kind: EventReset})
}

// Get 按 id 查询片段
func (s *Store) Get(id int) (*Segment, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	seg, ok := s.index[id]
	return seg, ok
}

// Segments 按提交顺序返回片段快照切片（元素只读）
func (s *Store) Segments() []*Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Segment, len(s.segments))
	copy(out, s.segments)
	return out
}

// Len 片段数
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.segments)
}

// OrdinalOf 片段在提交顺序中的序数，用于多视图镜像对应
func (s *Store) OrdinalOf(id int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, seg := range s.segments {
		if seg.ID == id {
			return i, true
		}
	}
	return 0, false
}

// AtOrdinal 指定序数处的片段 id
func (s *Store) AtOrdinal(i int) (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if i < 0 || i >= len(s.segments) {
		return 0, false
	}
	return s.segments[i].ID, true
}

// HasAuthored 是否存在用户创作（非预测、非加载）的片段
func (s *Store) HasAuthored() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, seg := range s.segments {
		if seg.Origin == OriginPolygon || seg.Origin == OriginBox || seg.Origin == OriginPointPrompt {
			return true
		}
	}
	return false
}

// MergeByClass 将同类片段合并为每类一个 Rasterized 片段
//
// 合并结果几何不可逆，历史被清空。
func (s *Store) MergeByClass() error {
	s.mu.Lock()

	groups := make(map[int][]*Segment)
	for _, seg := range s.segments {
		if seg.ClassID == ClassUnassigned {
			continue
		}
		groups[seg.ClassID] = append(groups[seg.ClassID], seg)
	}
	if len(groups) == 0 {
		s.mu.Unlock()
		return nil
	}

	classIDs := make([]int, 0, len(groups))
	for id := range groups {
		classIDs = append(classIDs, id)
	}
	sort.Ints(classIDs)

	merged := make([]*Segment, 0, len(classIDs))
	for _, classID := range classIDs {
		acc := annotate.NewMask(s.cfg.ImageW, s.cfg.ImageH)
		for _, seg := range groups[classID] {
			m := seg.Mask(s.cfg.ImageW, s.cfg.ImageH)
			u, err := annotate.Union(acc, m)
			if err != nil {
				s.mu.Unlock()
				return err
			}
			acc = u
		}
		if acc.Empty() {
			continue
		}
		merged = append(merged, &Segment{
			Kind:    KindRasterized,
			Origin:  OriginLoaded,
			ClassID: classID,
			raster:  acc,
		})
	}

	// 未分类片段保留
	kept := s.segments[:0]
	for _, seg := range s.segments {
		if seg.ClassID == ClassUnassigned {
			kept = append(kept, seg)
		} else {
			delete(s.index, seg.ID)
		}
	}
	s.segments = kept
	for _, seg := range merged {
		s.commitLocked(seg)
	}
	s.selection = make(map[int]struct{})
	s.history.clear()
	s.mu.Unlock()

	s.notify(Event{Kind: EventReset})
	return nil
}

// ConvertToPolygons 将预测来源的 Rasterized 片段转换为 Vector 多边形
//
// Loaded 片段跳过；返回 (转换数, 跳过数)。
func (s *Store) ConvertToPolygons(epsilon float64) (int, int) {
	s.mu.Lock()

	converted, skipped := 0, 0
	var ids []int
	for _, seg := range s.segments {
		if seg.Kind != KindRasterized {
			continue
		}
		if seg.Origin == OriginLoaded {
			skipped++
			continue
		}
		if epsilon <= 0 {
			epsilon = 1.0
		}
		vertices, err := annotate.MaskToPolygon(seg.raster, epsilon)
		if err != nil || len(vertices) < 3 {
			skipped++
			continue
		}
		seg.toVector(vertices)
		converted++
		ids = append(ids, seg.ID)
	}
	s.history.clear()
	s.mu.Unlock()

	if converted > 0 {
		s.notify(Event{Kind: EventReset, SegmentIDs: ids})
	}
	return converted, skipped
}
