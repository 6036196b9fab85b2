package annotate

import (
	"fmt"
)

// Point 2D 坐标点（图像像素坐标系）
type Point struct {
	X, Y float32
}

// Mask 二值掩码，值为 0 或 255
type Mask struct {
	W, H int
	Pix  []uint8
}

// NewMask 创建指定尺寸的空掩码
func NewMask(w, h int) *Mask {
	return &Mask{W: w, H: h, Pix: make([]uint8, w*h)}
}

// Clone 深拷贝掩码
func (m *Mask) Clone() *Mask {
	pix := make([]uint8, len(m.Pix))
	copy(pix, m.Pix)
	return &Mask{W: m.W, H: m.H, Pix: pix}
}

// Get 读取像素，越界返回 0
func (m *Mask) Get(x, y int) uint8 {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return 0
	}
	return m.Pix[y*m.W+x]
}

// Set 写入像素，越界忽略
func (m *Mask) Set(x, y int, v uint8) {
	if x < 0 || y < 0 || x >= m.W || y >= m.H {
		return
	}
	m.Pix[y*m.W+x] = v
}

// Area 统计非零像素数
func (m *Mask) Area() int {
	n := 0
	for _, v := range m.Pix {
		if v != 0 {
			n++
		}
	}
	return n
}

// Empty 是否为空掩码
func (m *Mask) Empty() bool {
	for _, v := range m.Pix {
		if v != 0 {
			return false
		}
	}
	return true
}

// Equal 按位比较两个掩码
func (m *Mask) Equal(other *Mask) bool {
	if other == nil || m.W != other.W || m.H != other.H {
		return false
	}
	for i, v := range m.Pix {
		if (v != 0) != (other.Pix[i] != 0) {
			return false
		}
	}
	return true
}

// sameSize 尺寸校验
func sameSize(a, b *Mask) error {
	if a.W != b.W || a.H != b.H {
		return fmt.Errorf("掩码尺寸不一致: %dx%d != %dx%d", a.W, a.H, b.W, b.H)
	}
	return nil
}

// Union 逐像素求并集，满足交换律
func Union(a, b *Mask) (*Mask, error) {
	if err := sameSize(a, b); err != nil {
		return nil, err
	}
	out := NewMask(a.W, a.H)
	for i := range a.Pix {
		if a.Pix[i] != 0 || b.Pix[i] != 0 {
			out.Pix[i] = 255
		}
	}
	return out, nil
}

// Subtract 从 a 中去除 b 覆盖的像素（AND-NOT），不满足交换律
func Subtract(a, b *Mask) (*Mask, error) {
	if err := sameSize(a, b); err != nil {
		return nil, err
	}
	out := NewMask(a.W, a.H)
	for i := range a.Pix {
		if a.Pix[i] != 0 && b.Pix[i] == 0 {
			out.Pix[i] = 255
		}
	}
	return out, nil
}

// Intersects 判断两个掩码是否有重叠像素
func Intersects(a, b *Mask) bool {
	if a.W != b.W || a.H != b.H {
		return false
	}
	for i := range a.Pix {
		if a.Pix[i] != 0 && b.Pix[i] != 0 {
			return true
		}
	}
	return false
}
