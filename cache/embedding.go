package cache

import (
	"context"
	"errors"
	"fmt"
	"image"
	"sync"

	"go.uber.org/zap"

	"github.com/getcharzp/go-annotate/oracle"
)

// EmbeddingCache 图像嵌入缓存
//
// 编码一次嵌入远比交互响应慢，缓存按图像 id 保存最近使用的
// 若干份嵌入；逐出时释放底层张量。同一图像的并发请求合并为
// 一次编码（single-flight）。
type EmbeddingCache struct {
	embedder oracle.Embedder
	logger   *zap.Logger

	mu       sync.Mutex
	inflight map[string]*embedCall
	lru      *LRU[string, oracle.Handle]
}

type embedCall struct {
	done   chan struct{}
	handle oracle.Handle
	err    error
}

// NewEmbeddingCache 创建嵌入缓存
//
// # Params:
//
//	embedder: 编码器
//	capacity: 保留的嵌入份数，0 取默认值 10
func NewEmbeddingCache(embedder oracle.Embedder, capacity int, logger *zap.Logger) *EmbeddingCache {
	if capacity <= 0 {
		capacity = 10
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &EmbeddingCache{
		embedder: embedder,
		logger:   logger,
		inflight: make(map[string]*embedCall),
	}
	c.lru = NewLRU[string, oracle.Handle](capacity, func(key string, h oracle.Handle) {
		logger.Debug("逐出图像嵌入", zap.String("imageID", key))
		h.Destroy()
	})
	return c
}

// Get 查询已缓存的嵌入，不触发计算
func (c *EmbeddingCache) Get(imageID string) (oracle.Handle, bool) {
	return c.lru.Get(imageID)
}

// GetOrCompute 返回图像嵌入，未命中时编码并缓存
//
// 并发调用同一图像时仅编码一次，其余调用等待同一结果。
func (c *EmbeddingCache) GetOrCompute(ctx context.Context, imageID string, img image.Image) (oracle.Handle, error) {
	if h, ok := c.lru.Get(imageID); ok {
		return h, nil
	}

	c.mu.Lock()
	if call, ok := c.inflight[imageID]; ok {
		c.mu.Unlock()
		select {
		case <-call.done:
			return call.handle, call.err
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	call := &embedCall{done: make(chan struct{})}
	c.inflight[imageID] = call
	c.mu.Unlock()

	handle, err := c.embedder.EncodeImage(ctx, img)
	if err != nil {
		err = fmt.Errorf("编码图像嵌入失败: %w", err)
		c.logger.Warn("图像嵌入编码失败", zap.String("imageID", imageID), zap.Error(err))
	} else {
		c.lru.Put(imageID, handle)
	}

	call.handle, call.err = handle, err
	close(call.done)
	c.mu.Lock()
	delete(c.inflight, imageID)
	c.mu.Unlock()

	return handle, err
}

// Precompute 后台预编码图像嵌入，完成后调用 onDone（可为 nil）
func (c *EmbeddingCache) Precompute(ctx context.Context, imageID string, img image.Image, onDone func(error)) {
	go func() {
		_, err := c.GetOrCompute(ctx, imageID, img)
		if err != nil && !errors.Is(err, context.Canceled) {
			c.logger.Warn("预编码失败", zap.String("imageID", imageID), zap.Error(err))
		}
		if onDone != nil {
			onDone(err)
		}
	}()
}

// Invalidate 移除并释放某图像的嵌入
func (c *EmbeddingCache) Invalidate(imageID string) {
	c.lru.Remove(imageID)
}

// Clear 释放全部嵌入
func (c *EmbeddingCache) Clear() {
	c.lru.Clear()
}

// Len 当前缓存份数
func (c *EmbeddingCache) Len() int {
	return c.lru.Len()
}
