package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/TIANLI0/MaskKit/config"
	"github.com/TIANLI0/MaskKit/utils"
	"github.com/cenkalti/dominantcolor"
	"github.com/lucasb-eyer/go-colorful"
	"github.com/muesli/clusters"
	"github.com/muesli/kmeans"
	"go.uber.org/zap"
	"golang.org/x/image/draw"
	"gonum.org/v1/gonum/stat"
)

const (
	// 参与 kmeans 的边缘样本上限
	maxPaletteSamples = 4000
	// 单次分割返回的实例上限
	maxPaletteInstances = 32
	// 实例掩码行对齐字节数
	paletteRowAlign = 16
)

// PaletteSegmenter 纯 Go 分割后端：以图像边缘色板作为背景，按 Lab 色差分离前景
type PaletteSegmenter struct {
	maxSide      int
	paletteSize  int
	borderWidth  int
	sigma        float64
	minDistance  float64
	minAreaRatio float64
	revision     int32
}

func NewPaletteSegmenter(cfg *config.PaletteConfig) *PaletteSegmenter {
	return &PaletteSegmenter{
		maxSide:      cfg.MaxSide,
		paletteSize:  max(1, cfg.PaletteSize),
		borderWidth:  max(1, cfg.BorderWidth),
		sigma:        cfg.Sigma,
		minDistance:  cfg.MinDistance,
		minAreaRatio: cfg.MinAreaRatio,
		revision:     cfg.Revision,
	}
}

// lab CIE Lab 颜色，取值范围与常用 ΔE 单位一致
type lab [3]float64

func toLab(c colorful.Color) lab {
	l, a, b := c.Lab()
	return lab{l * 100, a * 100, b * 100}
}

func (p lab) distance(q lab) float64 {
	dl, da, db := p[0]-q[0], p[1]-q[1], p[2]-q[2]
	return math.Sqrt(dl*dl + da*da + db*db)
}

// Segment 返回按面积从大到小排列的前景连通区域
func (p *PaletteSegmenter) Segment(ctx context.Context, imageBytes []byte) (*Segmentation, error) {
	img, _, err := image.Decode(bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("palette segmenter: failed to decode image: %w", err)
	}

	rgba := p.downscale(img)
	w, h := rgba.Rect.Dx(), rgba.Rect.Dy()
	revision := p.revision
	if w == 0 || h == 0 {
		return NewSegmentation(nil, &revision, nil), nil
	}

	colors, opaque := labPixels(rgba)
	border := borderIndices(w, h, p.borderWidth)
	palette := p.backgroundPalette(rgba, colors, opaque, border)
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	dist := make([]float64, w*h)
	for i, c := range colors {
		if !opaque[i] {
			continue
		}
		// 边框全透明时，所有不透明像素都是前景
		if len(palette) == 0 {
			dist[i] = math.Inf(1)
			continue
		}
		d := math.MaxFloat64
		for _, bg := range palette {
			d = min(d, c.distance(bg))
		}
		dist[i] = d
	}

	threshold := p.threshold(dist, border)
	foreground := make([]bool, w*h)
	for i, d := range dist {
		foreground[i] = d > threshold
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	instances := p.instances(foreground, w, h)

	utils.Logger.Debug("palette segmentation finished",
		zap.Int("mask_width", w),
		zap.Int("mask_height", h),
		zap.Int("palette", len(palette)),
		zap.Float64("threshold", threshold),
		zap.Int("instances", len(instances)))

	return NewSegmentation(instances, &revision, nil), nil
}

// downscale 将长边缩小到 maxSide，并统一为 RGBA
func (p *PaletteSegmenter) downscale(img image.Image) *image.RGBA {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	longest := max(w, h)
	if p.maxSide <= 0 || longest <= p.maxSide {
		dst := image.NewRGBA(image.Rect(0, 0, w, h))
		draw.Draw(dst, dst.Bounds(), img, b.Min, draw.Src)
		return dst
	}

	scale := float64(p.maxSide) / float64(longest)
	nw := max(1, int(math.Round(float64(w)*scale)))
	nh := max(1, int(math.Round(float64(h)*scale)))
	dst := image.NewRGBA(image.Rect(0, 0, nw, nh))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

// labPixels 转换每个像素到 Lab，完全透明的像素视为背景
func labPixels(img *image.RGBA) ([]lab, []bool) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	colors := make([]lab, w*h)
	opaque := make([]bool, w*h)
	for y := 0; y < h; y++ {
		row := img.Pix[y*img.Stride:]
		for x := 0; x < w; x++ {
			px := row[4*x : 4*x+4]
			c, ok := colorful.MakeColor(color.RGBA{R: px[0], G: px[1], B: px[2], A: px[3]})
			if !ok {
				continue
			}
			colors[y*w+x] = toLab(c)
			opaque[y*w+x] = true
		}
	}
	return colors, opaque
}

// borderIndices 返回宽度为 bw 的边框像素下标
func borderIndices(w, h, bw int) []int {
	bw = min(bw, (min(w, h)+1)/2)
	indices := make([]int, 0, 2*bw*(w+h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x < bw || x >= w-bw || y < bw || y >= h-bw {
				indices = append(indices, y*w+x)
			}
		}
	}
	return indices
}

// backgroundPalette 从边框像素提取背景色板
//
// 颜色种类不多时直接使用，否则用 kmeans 聚类，失败时退回 dominantcolor。
func (p *PaletteSegmenter) backgroundPalette(img *image.RGBA, colors []lab, opaque []bool, border []int) []lab {
	type bucket struct {
		sum   lab
		count int
	}
	buckets := make(map[uint32]*bucket)
	var samples []int
	for _, i := range border {
		if !opaque[i] {
			continue
		}
		samples = append(samples, i)
		px := img.Pix[4*i : 4*i+3]
		key := uint32(px[0]>>3)<<10 | uint32(px[1]>>3)<<5 | uint32(px[2]>>3)
		bk, ok := buckets[key]
		if !ok {
			bk = &bucket{}
			buckets[key] = bk
		}
		for c := range bk.sum {
			bk.sum[c] += colors[i][c]
		}
		bk.count++
	}
	if len(samples) == 0 {
		return nil
	}

	if len(buckets) <= p.paletteSize {
		palette := make([]lab, 0, len(buckets))
		for _, bk := range buckets {
			n := float64(bk.count)
			palette = append(palette, lab{bk.sum[0] / n, bk.sum[1] / n, bk.sum[2] / n})
		}
		return palette
	}

	if palette := kmeansPalette(colors, samples, p.paletteSize); len(palette) > 0 {
		return palette
	}
	utils.Logger.Warn("kmeans returned empty palette, falling back to dominantcolor")
	return dominantPalette(img, samples, p.paletteSize)
}

func kmeansPalette(colors []lab, samples []int, k int) []lab {
	step := max(1, len(samples)/maxPaletteSamples)
	dataset := make(clusters.Observations, 0, min(len(samples), maxPaletteSamples)+1)
	for j := 0; j < len(samples); j += step {
		c := colors[samples[j]]
		dataset = append(dataset, clusters.Coordinates{c[0], c[1], c[2]})
	}
	k = min(k, len(dataset))
	if k <= 0 {
		return nil
	}

	km := kmeans.New()
	cc, err := km.Partition(dataset, k)
	if err != nil {
		utils.Logger.Warn("kmeans partition failed", zap.Error(err))
		return nil
	}

	palette := make([]lab, 0, len(cc))
	for _, c := range cc {
		if len(c.Observations) == 0 || len(c.Center) < 3 {
			continue
		}
		palette = append(palette, lab{c.Center[0], c.Center[1], c.Center[2]})
	}
	return palette
}

func dominantPalette(img *image.RGBA, samples []int, k int) []lab {
	strip := image.NewRGBA(image.Rect(0, 0, len(samples), 1))
	for j, i := range samples {
		copy(strip.Pix[4*j:4*j+4], img.Pix[4*i:4*i+4])
	}

	candidates := dominantcolor.FindWeight(strip, k)
	palette := make([]lab, 0, len(candidates))
	for _, c := range candidates {
		col, ok := colorful.MakeColor(c.RGBA)
		if !ok {
			continue
		}
		palette = append(palette, toLab(col))
	}
	return palette
}

// threshold 前景判定阈值：边框色差均值加 sigma 倍标准差，且不低于 minDistance
func (p *PaletteSegmenter) threshold(dist []float64, border []int) float64 {
	if len(border) < 2 {
		return p.minDistance
	}
	values := make([]float64, len(border))
	for j, i := range border {
		values[j] = dist[i]
	}
	mean, std := stat.MeanStdDev(values, nil)
	if math.IsNaN(std) {
		std = 0
	}
	return max(p.minDistance, mean+p.sigma*std)
}

// instances 将前景按四连通区域拆分为实例
func (p *PaletteSegmenter) instances(foreground []bool, w, h int) []Instance {
	total := w * h
	minArea := max(1, int(math.Ceil(p.minAreaRatio*float64(total))))

	visited := make([]bool, total)
	order := make([]int, 0, total)
	type component struct{ start, end int }
	var comps []component

	stack := make([]int, 0, 64)
	push := func(n int) {
		if foreground[n] && !visited[n] {
			visited[n] = true
			stack = append(stack, n)
		}
	}
	for seed, fg := range foreground {
		if !fg || visited[seed] {
			continue
		}
		start := len(order)
		visited[seed] = true
		stack = append(stack[:0], seed)
		for len(stack) > 0 {
			i := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			order = append(order, i)

			x, y := i%w, i/w
			if x > 0 {
				push(i - 1)
			}
			if x < w-1 {
				push(i + 1)
			}
			if y > 0 {
				push(i - w)
			}
			if y < h-1 {
				push(i + w)
			}
		}
		if len(order)-start >= minArea {
			comps = append(comps, component{start, len(order)})
		}
	}

	sort.SliceStable(comps, func(a, b int) bool {
		return comps[a].end-comps[a].start > comps[b].end-comps[b].start
	})
	if len(comps) > maxPaletteInstances {
		comps = comps[:maxPaletteInstances]
	}

	stride := (w + paletteRowAlign - 1) / paletteRowAlign * paletteRowAlign
	instances := make([]Instance, 0, len(comps))
	for _, c := range comps {
		pix := make([]byte, stride*h)
		for _, i := range order[c.start:c.end] {
			pix[(i/w)*stride+i%w] = 255
		}
		instances = append(instances, Instance{
			Mask:       NewBytesMask(pix, w, h, stride),
			Confidence: float64(c.end-c.start) / float64(total),
		})
	}
	return instances
}
