package store

import (
	"fmt"
	"image/color"
	"sort"
	"strconv"
	"sync"

	annotate "github.com/getcharzp/go-annotate"
)

// Class 一个有名称、顺序与颜色的标注通道
type Class struct {
	ID    int
	Alias string
	Order int
	Color color.RGBA
}

// Registry 类别注册表
//
// id 稳定且不复用；Order 始终是 0..N-1 的一个排列，
// 重排只改变名次，不改变 id；颜色由 id 确定性派生。
type Registry struct {
	mu      sync.Mutex
	classes map[int]*Class
	order   []int // 按名次排列的类别 id
}

// NewRegistry 创建空注册表
func NewRegistry() *Registry {
	return &Registry{classes: make(map[int]*Class)}
}

// Ensure 注册类别，已存在时为幂等操作
func (r *Registry) Ensure(id int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ensureLocked(id)
}

func (r *Registry) ensureLocked(id int) {
	if _, ok := r.classes[id]; ok {
		return
	}
	r.classes[id] = &Class{
		ID:    id,
		Alias: strconv.Itoa(id),
		Order: len(r.order),
		Color: annotate.ClassColor(id),
	}
	r.order = append(r.order, id)
}

// NextID 下一个未使用的类别 id
func (r *Registry) NextID() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.nextIDLocked()
}

func (r *Registry) nextIDLocked() int {
	next := 0
	for id := range r.classes {
		if id >= next {
			next = id + 1
		}
	}
	return next
}

// Has 类别是否已注册
func (r *Registry) Has(id int) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.classes[id]
	return ok
}

// SetAlias 设置类别别名
func (r *Registry) SetAlias(id int, alias string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.classes[id]
	if !ok {
		return fmt.Errorf("类别 %d: %w", id, annotate.ErrNotFound)
	}
	c.Alias = alias
	return nil
}

// Alias 获取类别别名，未注册时返回 id 的十进制形式
func (r *Registry) Alias(id int) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.classes[id]; ok {
		return c.Alias
	}
	return strconv.Itoa(id)
}

// Color 类别显示颜色
func (r *Registry) Color(id int) color.RGBA {
	return annotate.ClassColor(id)
}

// Reorder 按给定 id 序列重排名次
//
// newOrder 必须恰好是当前全部类别 id 的一个排列，否则拒绝。
func (r *Registry) Reorder(newOrder []int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(newOrder) != len(r.order) {
		return fmt.Errorf("重排序列长度 %d 与类别数 %d 不符: %w",
			len(newOrder), len(r.order), annotate.ErrInvalidTransition)
	}
	seen := make(map[int]bool, len(newOrder))
	for _, id := range newOrder {
		if _, ok := r.classes[id]; !ok {
			return fmt.Errorf("类别 %d: %w", id, annotate.ErrNotFound)
		}
		if seen[id] {
			return fmt.Errorf("重排序列中类别 %d 重复: %w", id, annotate.ErrInvalidTransition)
		}
		seen[id] = true
	}

	r.order = append(r.order[:0], newOrder...)
	for rank, id := range r.order {
		r.classes[id].Order = rank
	}
	return nil
}

// IDsInOrder 按名次返回类别 id
func (r *Registry) IDsInOrder() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.order))
	copy(out, r.order)
	return out
}

// Classes 按名次返回类别快照
func (r *Registry) Classes() []Class {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Class, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.classes[id])
	}
	return out
}

// Len 已注册类别数
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.classes)
}

// minClassID 返回片段集中最小的已分配类别 id，全部未分配时返回 ClassUnassigned
func minClassID(segments []*Segment) int {
	ids := make([]int, 0, len(segments))
	for _, s := range segments {
		if s.ClassID != ClassUnassigned {
			ids = append(ids, s.ClassID)
		}
	}
	if len(ids) == 0 {
		return ClassUnassigned
	}
	sort.Ints(ids)
	return ids[0]
}
