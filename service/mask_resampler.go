package service

import (
	"image"
	"math"
)

// tap 一维线性插值的两个源样本及权重
type tap struct {
	i0, i1 int
	w0, w1 float64
}

// linearTaps 计算目标轴上每个样本对应的源样本，首尾样本与源首尾对齐
func linearTaps(src, dst int) []tap {
	taps := make([]tap, dst)
	if dst == 1 || src == 1 {
		for i := range taps {
			taps[i] = tap{w0: 1}
		}
		return taps
	}
	span := dst - 1
	for i := range taps {
		num := i * (src - 1)
		i0 := num / span
		frac := float64(num%span) / float64(span)
		i1 := min(i0+1, src-1)
		taps[i] = tap{i0: i0, i1: i1, w0: 1 - frac, w1: frac}
	}
	return taps
}

// ResampleMask 使用三角（线性）滤波将掩码缩放到目标尺寸
//
// 尺寸相同时原样返回。每个输出样本由最多 4 个最近的源样本加权得到，
// 越界引用取最近的边缘样本，结果四舍五入到 [0,255]。
func ResampleMask(src *image.Gray, width, height int) *image.Gray {
	sw, sh := src.Rect.Dx(), src.Rect.Dy()
	if sw == width && sh == height {
		return src
	}

	xTaps := linearTaps(sw, width)
	yTaps := linearTaps(sh, height)

	// 先水平方向插值到 width x sh，保留浮点精度避免二次取整
	rows := make([]float64, width*sh)
	for y := 0; y < sh; y++ {
		line := src.Pix[y*src.Stride : y*src.Stride+sw]
		out := rows[y*width : (y+1)*width]
		for x, t := range xTaps {
			out[x] = t.w0*float64(line[t.i0]) + t.w1*float64(line[t.i1])
		}
	}

	dst := image.NewGray(image.Rect(0, 0, width, height))
	for y, t := range yTaps {
		r0 := rows[t.i0*width : (t.i0+1)*width]
		r1 := rows[t.i1*width : (t.i1+1)*width]
		out := dst.Pix[y*dst.Stride : y*dst.Stride+width]
		for x := range out {
			out[x] = clampToByte(t.w0*r0[x] + t.w1*r1[x])
		}
	}
	return dst
}

func clampToByte(v float64) uint8 {
	v = math.Round(v)
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v)
}
