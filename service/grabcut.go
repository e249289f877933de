//go:build gocv

package service

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"sort"
	"sync"
	"time"

	"github.com/TIANLI0/MaskKit/config"
	"github.com/TIANLI0/MaskKit/utils"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// GrabCutSegmenter 基于 OpenCV GrabCut 的分割后端
type GrabCutSegmenter struct {
	iterations   int
	borderSize   int
	maxSide      int
	minAreaRatio float64
	revision     int32
}

func NewGrabCutSegmenter(cfg *config.GrabCutConfig) (*GrabCutSegmenter, error) {
	return &GrabCutSegmenter{
		iterations:   max(1, cfg.Iterations),
		borderSize:   cfg.BorderSize,
		maxSide:      cfg.MaxSide,
		minAreaRatio: cfg.MinAreaRatio,
		revision:     cfg.Revision,
	}, nil
}

// matMask 由 gocv.Mat 持有的掩码存储
type matMask struct {
	mu  sync.Mutex
	mat gocv.Mat
}

func (m *matMask) Lock() (RawMask, error) {
	m.mu.Lock()
	if m.mat.Empty() {
		m.mu.Unlock()
		return RawMask{}, errors.New("mask mat is empty")
	}
	pix, err := m.mat.DataPtrUint8()
	if err != nil {
		m.mu.Unlock()
		return RawMask{}, err
	}
	return RawMask{
		Pix:         pix,
		Width:       m.mat.Cols(),
		Height:      m.mat.Rows(),
		BytesPerRow: m.mat.Step(),
	}, nil
}

func (m *matMask) Unlock() {
	m.mu.Unlock()
}

// Segment 运行 GrabCut，外轮廓按面积从大到小作为实例返回
func (s *GrabCutSegmenter) Segment(ctx context.Context, imageBytes []byte) (*Segmentation, error) {
	startTime := time.Now()

	img, err := gocv.IMDecode(imageBytes, gocv.IMReadColor)
	if err != nil {
		return nil, fmt.Errorf("grabcut: failed to decode image: %w", err)
	}
	defer img.Close()
	if img.Empty() {
		return nil, errors.New("grabcut: failed to decode image")
	}

	scaled := s.smartResize(&img)
	defer scaled.Close()
	width, height := scaled.Cols(), scaled.Rows()

	level := complexityLevel(&scaled)
	iterations := s.iterations
	switch level {
	case "simple":
		iterations = max(3, s.iterations-2)
	case "complex":
		iterations = s.iterations + 2
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	fgMask := s.grabCut(&scaled, level, iterations)
	defer fgMask.Close()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	instances, mats := s.contourInstances(&fgMask, width*height)
	revision := s.revision

	utils.Logger.Debug("grabcut segmentation finished",
		zap.Int("mask_width", width),
		zap.Int("mask_height", height),
		zap.String("complexity", level),
		zap.Int("iterations", iterations),
		zap.Int("instances", len(instances)),
		zap.Duration("duration", time.Since(startTime)))

	return NewSegmentation(instances, &revision, func() {
		for _, m := range mats {
			m.Close()
		}
	}), nil
}

// grabCut 返回 0/255 前景掩码
func (s *GrabCutSegmenter) grabCut(img *gocv.Mat, level string, iterations int) gocv.Mat {
	width, height := img.Cols(), img.Rows()

	bgdModel := gocv.NewMat()
	defer bgdModel.Close()
	fgdModel := gocv.NewMat()
	defer fgdModel.Close()

	var mask gocv.Mat
	if level == "simple" {
		border := s.borderSize
		if border < 10 {
			border = int(float64(width) * 0.05)
		}
		rect := image.Rect(border, border, width-border, height-border)
		mask = gocv.NewMat()
		gocv.GrabCut(*img, &mask, rect, &bgdModel, &fgdModel, iterations, gocv.GCInitWithRect)
	} else {
		saliency := saliencyMap(img)
		mask = seedMask(&saliency, width, height)
		saliency.Close()
		gocv.GrabCut(*img, &mask, image.Rectangle{}, &bgdModel, &fgdModel, iterations, gocv.GCInitWithMask)
		gocv.GrabCut(*img, &mask, image.Rectangle{}, &bgdModel, &fgdModel, 2, gocv.GCInitWithMask)
	}
	defer mask.Close()

	fg := foregroundFromLabels(&mask)
	kernelSize := 3
	if level == "complex" {
		kernelSize = 5
	}
	cleaned := morphologyCleanup(&fg, kernelSize)
	fg.Close()
	return cleaned
}

// smartResize 将长边缩小到 maxSide
func (s *GrabCutSegmenter) smartResize(img *gocv.Mat) gocv.Mat {
	width, height := img.Cols(), img.Rows()
	longest := max(width, height)
	if s.maxSide <= 0 || longest <= s.maxSide {
		return img.Clone()
	}

	scale := float64(s.maxSide) / float64(longest)
	size := image.Point{X: max(1, int(float64(width)*scale)), Y: max(1, int(float64(height)*scale))}
	resized := gocv.NewMat()
	gocv.Resize(*img, &resized, size, 0, 0, gocv.InterpolationArea)
	return resized
}

// contourInstances 每个外轮廓生成一个实例掩码
func (s *GrabCutSegmenter) contourInstances(mask *gocv.Mat, total int) ([]Instance, []gocv.Mat) {
	contours := gocv.FindContours(*mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	minArea := s.minAreaRatio * float64(total)
	type candidate struct {
		index int
		area  float64
	}
	var candidates []candidate
	for i := 0; i < contours.Size(); i++ {
		area := gocv.ContourArea(contours.At(i))
		if area > 0 && area >= minArea {
			candidates = append(candidates, candidate{i, area})
		}
	}
	sort.SliceStable(candidates, func(a, b int) bool {
		return candidates[a].area > candidates[b].area
	})

	white := color.RGBA{R: 255, G: 255, B: 255, A: 255}
	instances := make([]Instance, 0, len(candidates))
	mats := make([]gocv.Mat, 0, len(candidates))
	for _, c := range candidates {
		m := gocv.Zeros(mask.Rows(), mask.Cols(), gocv.MatTypeCV8U)
		gocv.DrawContours(&m, contours, c.index, white, -1)
		mats = append(mats, m)
		instances = append(instances, Instance{
			Mask:       &matMask{mat: m},
			Confidence: c.area / float64(total),
		})
	}
	return instances, mats
}

// complexityLevel 按边缘密度粗略估计场景复杂度
func complexityLevel(img *gocv.Mat) string {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(*img, &gray, gocv.ColorBGRToGray)

	edges := gocv.NewMat()
	defer edges.Close()
	gocv.Canny(gray, &edges, 50, 150)

	density := float64(gocv.CountNonZero(edges)) / float64(img.Rows()*img.Cols())
	switch {
	case density < 0.05:
		return "simple"
	case density > 0.15:
		return "complex"
	default:
		return "medium"
	}
}
