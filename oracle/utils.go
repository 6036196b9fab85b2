package oracle

import (
	"image"

	annotate "github.com/getcharzp/go-annotate"
)

// normalizeAndPad 归一化和填充
func normalizeAndPad(src image.Image, targetW, targetH int) []float32 {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	data := make([]float32, 3*targetW*targetH)

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			r, g, b, _ := src.At(bounds.Min.X+x, bounds.Min.Y+y).RGBA()
			// RGBA returns 0-65535
			rf := float32(r) / 65535.0
			gf := float32(g) / 65535.0
			bf := float32(b) / 65535.0

			rf = (rf - MeanR) / StdR
			gf = (gf - MeanG) / StdG
			bf = (bf - MeanB) / StdB

			// 目标索引 (CHW)
			idx := y*targetW + x
			data[idx] = rf
			data[targetW*targetH+idx] = gf
			data[2*targetW*targetH+idx] = bf
		}
	}
	return data
}

// upscaleMaskLogits 把低分辨率 logits 放大到原图尺寸并二值化
func upscaleMaskLogits(logits []float32, logitsDim, validW, validH, dstW, dstH int) *annotate.Mask {
	mask := annotate.NewMask(dstW, dstH)
	xRatio := float32(validW) / float32(dstW)
	yRatio := float32(validH) / float32(dstH)

	for y := 0; y < dstH; y++ {
		srcY := int(float32(y) * yRatio)
		if srcY >= validH {
			srcY = validH - 1
		}
		for x := 0; x < dstW; x++ {
			srcX := int(float32(x) * xRatio)
			if srcX >= validW {
				srcX = validW - 1
			}

			if logits[srcY*logitsDim+srcX] > maskThreshold {
				mask.Pix[y*dstW+x] = 255
			}
		}
	}
	return mask
}

// maskToTensorData 把掩码缩放到 targetW x targetH 并转为 0/1 浮点
func maskToTensorData(m *annotate.Mask, targetW, targetH int) []float32 {
	data := make([]float32, targetW*targetH)
	xRatio := float32(m.W) / float32(targetW)
	yRatio := float32(m.H) / float32(targetH)

	for y := 0; y < targetH; y++ {
		srcY := int(float32(y) * yRatio)
		if srcY >= m.H {
			srcY = m.H - 1
		}
		for x := 0; x < targetW; x++ {
			srcX := int(float32(x) * xRatio)
			if srcX >= m.W {
				srcX = m.W - 1
			}
			if m.Pix[srcY*m.W+srcX] > 0 {
				data[y*targetW+x] = 1
			}
		}
	}
	return data
}
