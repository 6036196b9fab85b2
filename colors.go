package annotate

import (
	"image/color"
	"math"
)

// goldenAngle 黄金角采样保证相邻类别色相分散
const goldenAngle = 137.50776405003785

// ClassColor 根据类别 id 确定性地派生显示颜色，跨会话稳定
func ClassColor(classID int) color.RGBA {
	if classID < 0 {
		return color.RGBA{R: 128, G: 128, B: 128, A: 255}
	}
	hue := math.Mod(float64(classID)*goldenAngle, 360)
	r, g, b := hsvToRGB(hue, 0.75, 0.95)
	return color.RGBA{R: r, G: g, B: b, A: 255}
}

// hsvToRGB 色彩空间转换，h 取 [0,360)，s/v 取 [0,1]
func hsvToRGB(h, s, v float64) (uint8, uint8, uint8) {
	c := v * s
	x := c * (1 - math.Abs(math.Mod(h/60, 2)-1))
	m := v - c

	var r, g, b float64
	switch {
	case h < 60:
		r, g, b = c, x, 0
	case h < 120:
		r, g, b = x, c, 0
	case h < 180:
		r, g, b = 0, c, x
	case h < 240:
		r, g, b = 0, x, c
	case h < 300:
		r, g, b = x, 0, c
	default:
		r, g, b = c, 0, x
	}
	return uint8((r + m) * 255), uint8((g + m) * 255), uint8((b + m) * 255)
}
