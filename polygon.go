package annotate

import (
	"fmt"
	"math"
)

// mooreOffsets Moore 邻域顺时针遍历顺序（从正上方开始）
var mooreOffsets = [8][2]int{
	{0, -1}, {1, -1}, {1, 0}, {1, 1},
	{0, 1}, {-1, 1}, {-1, 0}, {-1, -1},
}

// MaskToPolygon 将掩码的最大连通块转换为简化的多边形顶点
//
// # Params:
//
//	m: 输入掩码
//	epsilon: 简化容差（像素），建议 0.5~2.0
//
// 仅追踪面积最大连通块的外轮廓；顶点不足 3 个时返回 ErrEmptyResult。
func MaskToPolygon(m *Mask, epsilon float64) ([]Point, error) {
	comps := ConnectedComponents(m)
	if len(comps) == 0 {
		return nil, fmt.Errorf("掩码无有效像素: %w", ErrEmptyResult)
	}

	largest := comps[0]
	for _, c := range comps[1:] {
		if c.Area() > largest.Area() {
			largest = c
		}
	}

	contour := traceBoundary(largest)
	if len(contour) < 3 {
		return nil, fmt.Errorf("轮廓顶点不足: %w", ErrEmptyResult)
	}

	simplified := simplifyPolygon(contour, epsilon)
	if len(simplified) < 3 {
		simplified = contour
	}
	return simplified, nil
}

// traceBoundary Moore 邻域边界追踪，返回外轮廓像素序列
func traceBoundary(m *Mask) []Point {
	// 扫描起点：首个非零像素
	start := -1
	for i, v := range m.Pix {
		if v != 0 {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}

	sx, sy := start%m.W, start/m.W
	contour := []Point{{X: float32(sx), Y: float32(sy)}}

	cx, cy := sx, sy
	dir := 6 // 上一步进入方向，初始视为从左侧进入
	for {
		found := false
		for i := 0; i < 8; i++ {
			d := (dir + 1 + i) % 8
			nx, ny := cx+mooreOffsets[d][0], cy+mooreOffsets[d][1]
			if m.Get(nx, ny) != 0 {
				cx, cy = nx, ny
				// 回退两格作为下一轮的起始方向
				dir = (d + 4) % 8
				found = true
				break
			}
		}
		if !found {
			break // 孤立单像素
		}
		if cx == sx && cy == sy {
			break
		}
		contour = append(contour, Point{X: float32(cx), Y: float32(cy)})
		if len(contour) > len(m.Pix) {
			break
		}
	}
	return contour
}

// simplifyPolygon Douglas-Peucker 简化
func simplifyPolygon(points []Point, epsilon float64) []Point {
	if len(points) <= 3 || epsilon <= 0 {
		return points
	}
	keep := make([]bool, len(points))
	keep[0], keep[len(points)-1] = true, true
	dpSimplify(points, 0, len(points)-1, epsilon, keep)

	out := make([]Point, 0, len(points))
	for i, k := range keep {
		if k {
			out = append(out, points[i])
		}
	}
	return out
}

func dpSimplify(points []Point, lo, hi int, epsilon float64, keep []bool) {
	if hi <= lo+1 {
		return
	}
	maxDist, maxIdx := 0.0, -1
	for i := lo + 1; i < hi; i++ {
		d := perpendicularDistance(points[i], points[lo], points[hi])
		if d > maxDist {
			maxDist, maxIdx = d, i
		}
	}
	if maxDist > epsilon && maxIdx > 0 {
		keep[maxIdx] = true
		dpSimplify(points, lo, maxIdx, epsilon, keep)
		dpSimplify(points, maxIdx, hi, epsilon, keep)
	}
}

func perpendicularDistance(p, a, b Point) float64 {
	dx, dy := float64(b.X-a.X), float64(b.Y-a.Y)
	length := math.Hypot(dx, dy)
	if length == 0 {
		return math.Hypot(float64(p.X-a.X), float64(p.Y-a.Y))
	}
	return math.Abs(dx*float64(a.Y-p.Y)-float64(a.X-p.X)*dy) / length
}
