package store

import (
	"sync"

	annotate "github.com/getcharzp/go-annotate"
)

// Kind 片段几何形态
type Kind int

const (
	// KindVector 保留有序顶点，可继续编辑
	KindVector Kind = iota
	// KindRasterized 仅保留二值掩码，几何不可变
	KindRasterized
)

func (k Kind) String() string {
	switch k {
	case KindVector:
		return "Vector"
	case KindRasterized:
		return "Rasterized"
	}
	return "Unknown"
}

// Origin 片段来源标记
type Origin int

const (
	OriginPointPrompt Origin = iota
	OriginPolygon
	OriginBox
	OriginLoaded
)

func (o Origin) String() string {
	switch o {
	case OriginPointPrompt:
		return "PointPrompt"
	case OriginPolygon:
		return "Polygon"
	case OriginBox:
		return "Box"
	case OriginLoaded:
		return "Loaded"
	}
	return "Unknown"
}

// ClassUnassigned 未指定类别
const ClassUnassigned = -1

// Segment 单张图像上的一个标注片段
//
// 字段由所属 Store 独占维护，外部只读；几何与掩码缓存由片段级
// 互斥锁保护，渲染端可与编辑并发调用 Mask/Version。
type Segment struct {
	ID      int
	Kind    Kind
	Origin  Origin
	ClassID int

	// Vertices 仅 Vector 形态持有（Origin 必为 Polygon）
	Vertices []annotate.Point

	mu        sync.Mutex
	raster    *annotate.Mask // Rasterized 形态的权威几何
	mask      *annotate.Mask // Vector 形态的懒求值缓存
	version   uint64
	commitSeq uint64
}

// Mask 返回片段在图像分辨率下的掩码
//
// Vector 片段由当前顶点确定性地栅格化并缓存，顶点未变更时
// 两次调用结果按位一致；Rasterized 片段直接返回存储的掩码。
func (s *Segment) Mask(w, h int) *annotate.Mask {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Kind == KindRasterized {
		return s.raster
	}
	if s.mask == nil || s.mask.W != w || s.mask.H != h {
		s.mask = annotate.Rasterize(s.Vertices, w, h)
	}
	return s.mask
}

// Polygon 返回顶点快照，Rasterized 片段返回 nil
func (s *Segment) Polygon() []annotate.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.Vertices == nil {
		return nil
	}
	out := make([]annotate.Point, len(s.Vertices))
	copy(out, s.Vertices)
	return out
}

// Version 几何版本号，顶点变更时递增，用于渲染缓存键
func (s *Segment) Version() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.version
}

// CommitSeq 提交序号，像素优先级以最近提交者胜出
func (s *Segment) CommitSeq() uint64 {
	return s.commitSeq
}

// setVertex 更新单个顶点并丢弃掩码缓存，返回旧值
func (s *Segment) setVertex(i int, p annotate.Point) annotate.Point {
	s.mu.Lock()
	defer s.mu.Unlock()
	old := s.Vertices[i]
	s.Vertices[i] = p
	s.mask = nil
	s.version++
	return old
}

// toVector 将 Rasterized 片段转换为 Vector 形态
func (s *Segment) toVector(vertices []annotate.Point) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Kind = KindVector
	s.Origin = OriginPolygon
	s.Vertices = vertices
	s.raster = nil
	s.mask = nil
	s.version++
}

// clone 深拷贝，用于撤销快照
func (s *Segment) clone() *Segment {
	s.mu.Lock()
	defer s.mu.Unlock()
	c := &Segment{
		ID:        s.ID,
		Kind:      s.Kind,
		Origin:    s.Origin,
		ClassID:   s.ClassID,
		raster:    s.raster, // raster 不可变，可共享
		version:   s.version,
		commitSeq: s.commitSeq,
	}
	if s.Vertices != nil {
		c.Vertices = make([]annotate.Point, len(s.Vertices))
		copy(c.Vertices, s.Vertices)
	}
	return c
}
