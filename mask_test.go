package annotate

import "testing"

func rectMask(w, h, x1, y1, x2, y2 int) *Mask {
	m := NewMask(w, h)
	for y := y1; y < y2; y++ {
		for x := x1; x < x2; x++ {
			m.Pix[y*w+x] = 255
		}
	}
	return m
}

func TestUnionCommutative(t *testing.T) {
	a := rectMask(16, 16, 0, 0, 8, 8)
	b := rectMask(16, 16, 4, 4, 12, 12)

	ab, err := Union(a, b)
	if err != nil {
		t.Fatalf("并集失败: %v", err)
	}
	ba, err := Union(b, a)
	if err != nil {
		t.Fatalf("并集失败: %v", err)
	}
	if !ab.Equal(ba) {
		t.Fatal("并集不满足交换律")
	}
	if ab.Area() != 8*8+8*8-4*4 {
		t.Fatalf("并集面积错误: %d", ab.Area())
	}
}

func TestSubtractDisjoint(t *testing.T) {
	a := rectMask(16, 16, 0, 0, 4, 4)
	b := rectMask(16, 16, 8, 8, 12, 12)

	out, err := Subtract(a, b)
	if err != nil {
		t.Fatalf("差集失败: %v", err)
	}
	if !out.Equal(a) {
		t.Fatal("与不相交掩码求差集应保持原掩码不变")
	}
}

func TestSubtractFullCover(t *testing.T) {
	a := rectMask(16, 16, 2, 2, 6, 6)
	b := rectMask(16, 16, 0, 0, 16, 16)

	out, err := Subtract(a, b)
	if err != nil {
		t.Fatalf("差集失败: %v", err)
	}
	if !out.Empty() {
		t.Fatal("被完全覆盖后差集应为空")
	}
}

func TestSizeMismatch(t *testing.T) {
	a := NewMask(8, 8)
	b := NewMask(16, 16)
	if _, err := Union(a, b); err == nil {
		t.Fatal("尺寸不一致应报错")
	}
	if _, err := Subtract(a, b); err == nil {
		t.Fatal("尺寸不一致应报错")
	}
}

func TestIntersects(t *testing.T) {
	a := rectMask(16, 16, 0, 0, 8, 8)
	b := rectMask(16, 16, 4, 4, 12, 12)
	c := rectMask(16, 16, 10, 10, 14, 14)

	if !Intersects(a, b) {
		t.Fatal("重叠掩码应判定相交")
	}
	if Intersects(a, c) {
		t.Fatal("不相交掩码不应判定相交")
	}
}
