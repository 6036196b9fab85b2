package cache

import (
	"hash/fnv"
	"image"
	"image/color"

	annotate "github.com/getcharzp/go-annotate"
	"github.com/getcharzp/go-annotate/store"
)

// OverlayKey 渲染缓存键：图像、片段与其渲染相关状态的摘要
type OverlayKey struct {
	ImageID   string
	SegmentID int
	StateHash uint64
}

// StateHash 计算片段渲染状态摘要
//
// 几何版本、类别、颜色与透明度任一变化都会产生新键，旧条目自然失效。
func StateHash(version uint64, classID int, c color.RGBA, alpha uint8) uint64 {
	h := fnv.New64a()
	var buf [17]byte
	buf[0] = byte(version)
	buf[1] = byte(version >> 8)
	buf[2] = byte(version >> 16)
	buf[3] = byte(version >> 24)
	buf[4] = byte(version >> 32)
	buf[5] = byte(version >> 40)
	buf[6] = byte(version >> 48)
	buf[7] = byte(version >> 56)
	buf[8] = byte(classID)
	buf[9] = byte(classID >> 8)
	buf[10] = byte(classID >> 16)
	buf[11] = byte(classID >> 24)
	buf[12] = c.R
	buf[13] = c.G
	buf[14] = c.B
	buf[15] = c.A
	buf[16] = alpha
	h.Write(buf[:])
	return h.Sum64()
}

// OverlayCache 片段渲染叠加层缓存
type OverlayCache struct {
	lru *LRU[OverlayKey, *image.RGBA]
}

// NewOverlayCache 创建渲染缓存
func NewOverlayCache(capacity int) *OverlayCache {
	if capacity <= 0 {
		capacity = 256
	}
	return &OverlayCache{lru: NewLRU[OverlayKey, *image.RGBA](capacity, nil)}
}

// Render 返回片段的着色叠加层，命中时不重新渲染
func (c *OverlayCache) Render(imageID string, seg *store.Segment, w, h int, col color.RGBA, alpha uint8) *image.RGBA {
	key := OverlayKey{
		ImageID:   imageID,
		SegmentID: seg.ID,
		StateHash: StateHash(seg.Version(), seg.ClassID, col, alpha),
	}
	if img, ok := c.lru.Get(key); ok {
		return img
	}
	img := annotate.DrawMaskOverlay(seg.Mask(w, h), col, alpha)
	c.lru.Put(key, img)
	return img
}

// InvalidateSegment 移除某片段的全部条目
func (c *OverlayCache) InvalidateSegment(imageID string, segmentID int) {
	c.lru.RemoveFunc(func(k OverlayKey) bool {
		return k.ImageID == imageID && k.SegmentID == segmentID
	})
}

// InvalidateImage 移除某图像的全部条目
func (c *OverlayCache) InvalidateImage(imageID string) {
	c.lru.RemoveFunc(func(k OverlayKey) bool {
		return k.ImageID == imageID
	})
}

// Bind 订阅 Store 变更，自动清理受影响片段的条目
func (c *OverlayCache) Bind(s *store.Store) {
	s.Subscribe(func(ev store.Event) {
		if ev.Kind == store.EventReset {
			c.InvalidateImage(s.ImageID())
			return
		}
		for _, id := range ev.SegmentIDs {
			c.InvalidateSegment(s.ImageID(), id)
		}
	})
}

// Stats 命中与未命中计数
func (c *OverlayCache) Stats() (hits, misses uint64) {
	return c.lru.Stats()
}

// Len 条目数
func (c *OverlayCache) Len() int {
	return c.lru.Len()
}
