package annotate

import (
	"image"
	"image/draw"

	"golang.org/x/image/vector"
)

// coverageThreshold 像素中心覆盖率阈值，达到则视为多边形内部
const coverageThreshold = 0x80

// Rasterize 将多边形顶点栅格化为二值掩码
//
// # Params:
//
//	vertices: 有序顶点序列（像素坐标）
//	w, h: 目标图像尺寸
//
// 顶点数不足 3 或面积为零时返回空掩码，由调用方拒绝提交。
// 同一输入的两次调用结果按位一致。
func Rasterize(vertices []Point, w, h int) *Mask {
	mask := NewMask(w, h)
	if len(vertices) < 3 || w <= 0 || h <= 0 {
		return mask
	}

	r := vector.NewRasterizer(w, h)
	r.DrawOp = draw.Src
	r.MoveTo(vertices[0].X, vertices[0].Y)
	for _, p := range vertices[1:] {
		r.LineTo(p.X, p.Y)
	}
	r.ClosePath()

	alpha := image.NewAlpha(image.Rect(0, 0, w, h))
	r.Draw(alpha, alpha.Bounds(), image.Opaque, image.Point{})

	for i, v := range alpha.Pix {
		if v >= coverageThreshold {
			mask.Pix[i] = 255
		}
	}
	return mask
}
