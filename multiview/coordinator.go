// Package multiview 在多个联动视图间镜像标注操作
package multiview

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"

	annotate "github.com/getcharzp/go-annotate"
	"github.com/getcharzp/go-annotate/store"
)

// Coordinator 多视图协调器
//
// 每个视图槽持有独立的片段存储；联动的槽之间按提交顺序镜像
// 新增、擦除、删除与类别指定。镜像操作整体持协调器锁，并发
// 提交时所有槽观察到同一操作顺序。选择状态从不镜像。镜像
// 失败只记录日志并跳过该槽，不回滚源槽。
type Coordinator struct {
	mu     sync.Mutex
	slots  map[string]*store.Store
	linked map[string]bool
	logger *zap.Logger
}

// New 创建协调器
func New(logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		slots:  make(map[string]*store.Store),
		linked: make(map[string]bool),
		logger: logger,
	}
}

// Register 注册视图槽，初始为未联动
func (c *Coordinator) Register(slot string, s *store.Store) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.slots[slot] = s
}

// Unregister 移除视图槽
func (c *Coordinator) Unregister(slot string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.slots, slot)
	delete(c.linked, slot)
}

// Link 将槽加入联动组
func (c *Coordinator) Link(slot string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.slots[slot]; !ok {
		return fmt.Errorf("视图槽 %s: %w", slot, annotate.ErrNotFound)
	}
	c.linked[slot] = true
	return nil
}

// Unlink 将槽移出联动组，其状态保持解联时刻不变
func (c *Coordinator) Unlink(slot string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.linked, slot)
}

// IsLinked 槽是否在联动组中
func (c *Coordinator) IsLinked(slot string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.linked[slot]
}

// Store 取槽的片段存储
func (c *Coordinator) Store(slot string) (*store.Store, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.slots[slot]
	return s, ok
}

// Slots 已注册槽名，升序
func (c *Coordinator) Slots() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.slots))
	for name := range c.slots {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// mirrorTargetsLocked 源槽联动时返回其余联动槽，否则为空
//
// 调用方必须持有 c.mu；镜像操作全程持锁，保证各槽观察到
// 相同的操作顺序。
func (c *Coordinator) mirrorTargetsLocked(origin string) (*store.Store, []mirrorTarget, error) {
	src, ok := c.slots[origin]
	if !ok {
		return nil, nil, fmt.Errorf("视图槽 %s: %w", origin, annotate.ErrNotFound)
	}
	if !c.linked[origin] {
		return src, nil, nil
	}

	var names []string
	for name := range c.linked {
		if name != origin {
			names = append(names, name)
		}
	}
	sort.Strings(names)

	targets := make([]mirrorTarget, 0, len(names))
	for _, name := range names {
		if s, ok := c.slots[name]; ok {
			targets = append(targets, mirrorTarget{name: name, store: s})
		}
	}
	return src, targets, nil
}

type mirrorTarget struct {
	name  string
	store *store.Store
}

// AddShape 在源槽提交形状，并镜像到联动槽
//
// 每个槽产生自己的片段 id；返回源槽的 id。
func (c *Coordinator) AddShape(origin string, vertices []annotate.Point, o store.Origin, classID int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, targets, err := c.mirrorTargetsLocked(origin)
	if err != nil {
		return 0, err
	}

	id, err := src.AddShape(vertices, o, classID)
	if err != nil {
		return 0, err
	}

	for _, t := range targets {
		if _, err := t.store.AddShape(vertices, o, classID); err != nil {
			c.logger.Warn("镜像新增失败",
				zap.String("origin", origin), zap.String("target", t.name), zap.Error(err))
		}
	}
	return id, nil
}

// AddMask 在源槽提交掩码，并镜像到联动槽
func (c *Coordinator) AddMask(origin string, mask *annotate.Mask, o store.Origin, classID int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, targets, err := c.mirrorTargetsLocked(origin)
	if err != nil {
		return 0, err
	}

	id, err := src.AddMask(mask, o, classID)
	if err != nil {
		return 0, err
	}

	for _, t := range targets {
		if _, err := t.store.AddMask(mask.Clone(), o, classID); err != nil {
			c.logger.Warn("镜像新增失败",
				zap.String("origin", origin), zap.String("target", t.name), zap.Error(err))
		}
	}
	return id, nil
}

// Erase 在源槽擦除，并镜像到联动槽
func (c *Coordinator) Erase(origin string, vertices []annotate.Point) ([]int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, targets, err := c.mirrorTargetsLocked(origin)
	if err != nil {
		return nil, err
	}

	affected, err := src.Erase(vertices)
	if err != nil {
		return nil, err
	}

	for _, t := range targets {
		if _, err := t.store.Erase(vertices); err != nil {
			c.logger.Warn("镜像擦除失败",
				zap.String("origin", origin), zap.String("target", t.name), zap.Error(err))
		}
	}
	return affected, nil
}

// Delete 在源槽删除，并按提交序数在联动槽删除对应片段
//
// 两个槽经历同序列镜像操作时，提交序数一一对应；槽内片段数
// 不足时跳过该槽并记录日志。
func (c *Coordinator) Delete(origin string, ids []int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, targets, err := c.mirrorTargetsLocked(origin)
	if err != nil {
		return err
	}

	ordinals := make([]int, 0, len(ids))
	for _, id := range ids {
		if ord, ok := src.OrdinalOf(id); ok {
			ordinals = append(ordinals, ord)
		}
	}

	if err := src.Delete(ids); err != nil {
		return err
	}

	for _, t := range targets {
		peerIDs, ok := idsAtOrdinals(t.store, ordinals)
		if !ok {
			c.logger.Warn("镜像删除失败：序数越界",
				zap.String("origin", origin), zap.String("target", t.name))
			continue
		}
		if err := t.store.Delete(peerIDs); err != nil {
			c.logger.Warn("镜像删除失败",
				zap.String("origin", origin), zap.String("target", t.name), zap.Error(err))
		}
	}
	return nil
}

// AssignClass 在源槽指定类别，并按提交序数镜像
func (c *Coordinator) AssignClass(origin string, ids []int, classID int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	src, targets, err := c.mirrorTargetsLocked(origin)
	if err != nil {
		return 0, err
	}

	ordinals := make([]int, 0, len(ids))
	for _, id := range ids {
		if ord, ok := src.OrdinalOf(id); ok {
			ordinals = append(ordinals, ord)
		}
	}

	assigned, err := src.AssignClass(ids, classID)
	if err != nil {
		return 0, err
	}

	for _, t := range targets {
		peerIDs, ok := idsAtOrdinals(t.store, ordinals)
		if !ok {
			c.logger.Warn("镜像类别指定失败：序数越界",
				zap.String("origin", origin), zap.String("target", t.name))
			continue
		}
		// 源槽已解析出具体类别，镜像时直接使用
		if _, err := t.store.AssignClass(peerIDs, assigned); err != nil {
			c.logger.Warn("镜像类别指定失败",
				zap.String("origin", origin), zap.String("target", t.name), zap.Error(err))
		}
	}
	return assigned, nil
}

func idsAtOrdinals(s *store.Store, ordinals []int) ([]int, bool) {
	ids := make([]int, 0, len(ordinals))
	for _, ord := range ordinals {
		id, ok := s.AtOrdinal(ord)
		if !ok {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}
