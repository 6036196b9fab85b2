package cache

import (
	"container/list"
	"sync"
)

// LRU 泛型最近最少使用缓存
//
// 容量满时逐出最久未访问的条目；onEvict 非 nil 时在持锁状态下
// 对每个被逐出（含被覆盖）的值调用。
type LRU[K comparable, V any] struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List
	items    map[K]*list.Element
	onEvict  func(K, V)

	hits, misses uint64
}

type lruEntry[K comparable, V any] struct {
	key   K
	value V
}

// NewLRU 创建缓存，capacity 必须大于 0
func NewLRU[K comparable, V any](capacity int, onEvict func(K, V)) *LRU[K, V] {
	if capacity <= 0 {
		capacity = 1
	}
	return &LRU[K, V]{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[K]*list.Element),
		onEvict:  onEvict,
	}
}

// Get 查询并刷新新鲜度
func (c *LRU[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.ll.MoveToFront(el)
		c.hits++
		return el.Value.(*lruEntry[K, V]).value, true
	}
	c.misses++
	var zero V
	return zero, false
}

// Put 写入条目，必要时逐出最旧条目
func (c *LRU[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		old := el.Value.(*lruEntry[K, V])
		if c.onEvict != nil {
			c.onEvict(key, old.value)
		}
		old.value = value
		c.ll.MoveToFront(el)
		return
	}
	c.items[key] = c.ll.PushFront(&lruEntry[K, V]{key: key, value: value})
	for c.ll.Len() > c.capacity {
		c.evictOldestLocked()
	}
}

// Remove 删除单个条目
func (c *LRU[K, V]) Remove(key K) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
}

// RemoveFunc 删除所有满足谓词的条目
func (c *LRU[K, V]) RemoveFunc(match func(K) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	var victims []*list.Element
	for el := c.ll.Front(); el != nil; el = el.Next() {
		if match(el.Value.(*lruEntry[K, V]).key) {
			victims = append(victims, el)
		}
	}
	for _, el := range victims {
		c.removeLocked(el)
	}
}

// Clear 逐出全部条目
func (c *LRU[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.ll.Len() > 0 {
		c.evictOldestLocked()
	}
}

// Len 条目数
func (c *LRU[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ll.Len()
}

// Stats 命中与未命中计数
func (c *LRU[K, V]) Stats() (hits, misses uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.hits, c.misses
}

func (c *LRU[K, V]) evictOldestLocked() {
	if el := c.ll.Back(); el != nil {
		c.removeLocked(el)
	}
}

func (c *LRU[K, V]) removeLocked(el *list.Element) {
	e := el.Value.(*lruEntry[K, V])
	delete(c.items, e.key)
	c.ll.Remove(el)
	if c.onEvict != nil {
		c.onEvict(e.key, e.value)
	}
}
