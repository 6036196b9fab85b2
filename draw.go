package annotate

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"os"

	"golang.org/x/image/font"
	"golang.org/x/image/font/opentype"
	"golang.org/x/image/math/fixed"
)

// DrawMaskOverlay 将掩码以指定颜色与透明度叠加渲染为 RGBA 图像
//
// # Params:
//
//	mask: 待渲染的掩码
//	c: 类别颜色
//	alpha: 叠加透明度 0-255
func DrawMaskOverlay(mask *Mask, c color.RGBA, alpha uint8) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, mask.W, mask.H))
	overlay := color.RGBA{R: c.R, G: c.G, B: c.B, A: alpha}
	for y := 0; y < mask.H; y++ {
		for x := 0; x < mask.W; x++ {
			if mask.Pix[y*mask.W+x] != 0 {
				dst.SetRGBA(x, y, overlay)
			}
		}
	}
	return dst
}

// maskLabelAnchor 计算掩码质心作为标签锚点
func maskLabelAnchor(mask *Mask) (int, int) {
	var sx, sy, n int
	for y := 0; y < mask.H; y++ {
		for x := 0; x < mask.W; x++ {
			if mask.Pix[y*mask.W+x] != 0 {
				sx += x
				sy += y
				n++
			}
		}
	}
	if n == 0 {
		return 0, 0
	}
	return sx / n, sy / n
}

// TextDrawer 类别标签绘制工具
type TextDrawer struct {
	font     *opentype.Font
	face     font.Face
	fontSize float64
}

// NewTextDrawer 创建标签绘制工具
//
// # Params:
//
//	fontPath: 字体路径
func NewTextDrawer(fontPath string) (*TextDrawer, error) {
	fontBytes, err := os.ReadFile(fontPath)
	if err != nil {
		return nil, fmt.Errorf("打开字体文件失败：%w", err)
	}

	ttFont, err := opentype.Parse(fontBytes)
	if err != nil {
		return nil, fmt.Errorf("解析字体文件失败：%w", err)
	}

	d := &TextDrawer{font: ttFont}
	if err := d.SetSize(12); err != nil {
		return nil, err
	}
	return d, nil
}

// SetSize 动态调整字体大小
func (d *TextDrawer) SetSize(fontSize float64) error {
	if d.face != nil && d.fontSize == fontSize {
		return nil
	}

	// 释放旧 Face 内存
	if d.face != nil {
		d.face.Close()
	}

	nf, err := opentype.NewFace(d.font, &opentype.FaceOptions{
		Size:    fontSize,
		DPI:     72,
		Hinting: font.HintingFull,
	})
	if err != nil {
		return err
	}

	d.face = nf
	d.fontSize = fontSize
	return nil
}

// DrawLabel 在掩码质心处绘制类别别名
//
// # Params:
//
//	img: 被绘制的叠加图
//	mask: 对应的掩码（决定标签位置）
//	label: 类别别名
//	c: 文本颜色
func (d *TextDrawer) DrawLabel(img draw.Image, mask *Mask, label string, c color.Color) {
	x, y := maskLabelAnchor(mask)
	point := fixed.Point26_6{
		X: fixed.I(x),
		Y: fixed.I(y),
	}

	d1 := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(c), // 文字颜色源
		Face: d.face,
		Dot:  point,
	}
	d1.DrawString(label)
}

// Close 释放资源
func (d *TextDrawer) Close() {
	if d.face != nil {
		d.face.Close()
	}
}
