package service

import (
	"context"
	"fmt"
	"image"
	"time"

	"github.com/TIANLI0/MaskKit/config"
	"github.com/TIANLI0/MaskKit/model"
	"github.com/TIANLI0/MaskKit/utils"
	"go.uber.org/zap"
)

// BackgroundService 负责生成去背景透明度掩码
type BackgroundService struct {
	segmenter    Segmenter
	encoder      *RasterEncoder
	semaphore    chan struct{}
	queueTimeout time.Duration
	maxPixels    int64
}

func NewBackgroundService(cfg *config.PipelineConfig, segmenter Segmenter, encoder *RasterEncoder) *BackgroundService {
	return &BackgroundService{
		segmenter:    segmenter,
		encoder:      encoder,
		semaphore:    make(chan struct{}, max(1, cfg.MaxConcurrent)),
		queueTimeout: cfg.QueueTimeout,
		maxPixels:    pixelLimit(cfg),
	}
}

// Encoder 返回服务使用的编码器
func (s *BackgroundService) Encoder() *RasterEncoder {
	return s.encoder
}

// RemoveBackground 生成与原图同尺寸的透明度掩码图
func (s *BackgroundService) RemoveBackground(ctx context.Context, imageBytes []byte) (*model.MaskResult, error) {
	// 排队前先校验头部，无效图片不占用处理槽位
	width, height, err := ProbeDimensions(imageBytes)
	if err != nil {
		return nil, err
	}
	if !withinPixelBudget(width, height, s.maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d image exceeds the %d pixel limit", ErrDecode, width, height, s.maxPixels)
	}

	if err := s.acquire(ctx); err != nil {
		return nil, err
	}
	defer func() { <-s.semaphore }()

	startTime := time.Now()

	mask, revision, err := s.segmentTop(ctx, imageBytes)
	if err != nil {
		return nil, err
	}

	resampled := ResampleMask(mask, width, height)
	raster := CompositeAlpha(resampled, width, height)

	encoded, err := s.encoder.Encode(raster)
	if err != nil {
		return nil, err
	}

	utils.Logger.Info("mask generated",
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("mask_width", mask.Rect.Dx()),
		zap.Int("mask_height", mask.Rect.Dy()),
		zap.Int("bytes", len(encoded)),
		zap.Duration("duration", time.Since(startTime)))

	return &model.MaskResult{
		MaskPNG:     encoded,
		ContentType: s.encoder.ContentType(),
		Width:       uint32(width),
		Height:      uint32(height),
		Revision:    revision,
	}, nil
}

// segmentTop 运行分割并提取最高置信度实例的二值掩码，分割结果在返回前释放
func (s *BackgroundService) segmentTop(ctx context.Context, imageBytes []byte) (*image.Gray, *int32, error) {
	seg, err := s.segmenter.Segment(ctx, imageBytes)
	if err != nil {
		if isClassified(err) {
			return nil, nil, err
		}
		return nil, nil, fmt.Errorf("%w: %v", ErrServiceUnavailable, err)
	}
	if seg == nil {
		return nil, nil, fmt.Errorf("%w: segmentation returned no result", ErrServiceUnavailable)
	}
	defer seg.Release()

	top, ok := seg.Top()
	if !ok {
		return nil, nil, ErrNoSubjectDetected
	}

	var mask *image.Gray
	err = withLockedMask(top.Mask, func(raw RawMask) error {
		var extractErr error
		mask, extractErr = ExtractMask(raw)
		return extractErr
	})
	if err != nil {
		return nil, nil, err
	}

	utils.Logger.Debug("segmentation instance selected",
		zap.Int("instances", len(seg.Instances)),
		zap.Float64("confidence", top.Confidence))

	return mask, seg.Revision, nil
}

// acquire 并发控制，排队超时返回服务不可用
func (s *BackgroundService) acquire(ctx context.Context) error {
	if s.queueTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.queueTimeout)
		defer cancel()
	}

	select {
	case s.semaphore <- struct{}{}:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("%w: processing queue is full, retry later", ErrServiceUnavailable)
	}
}
