package service

import (
	"fmt"
	"image"
)

// CompositeAlpha 生成 RGB 恒为白色、透明度取自掩码的 RGBA 图像
func CompositeAlpha(mask *image.Gray, width, height int) *image.NRGBA {
	n := width * height
	if len(mask.Pix) != n || mask.Stride != width {
		panic(fmt.Sprintf("service: mask holds %d samples with stride %d, want %dx%d", len(mask.Pix), mask.Stride, width, height))
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for i, a := range mask.Pix {
		p := img.Pix[4*i : 4*i+4 : 4*i+4]
		p[0] = 255
		p[1] = 255
		p[2] = 255
		p[3] = a
	}
	return img
}
