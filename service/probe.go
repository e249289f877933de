package service

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"

	"github.com/TIANLI0/MaskKit/config"
	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// ProbeDimensions 只解码图片头部，获取原图宽高
func ProbeDimensions(data []byte) (width, height int, err error) {
	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: failed to decode image: %v", ErrDecode, err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, 0, fmt.Errorf("%w: %s image has zero area (%dx%d)", ErrDecode, format, cfg.Width, cfg.Height)
	}
	return cfg.Width, cfg.Height, nil
}

// withinPixelBudget 判断 width*height 是否不超过 maxPixels，用除法避免溢出
func withinPixelBudget(width, height int, maxPixels int64) bool {
	if width <= 0 || height <= 0 || maxPixels <= 0 {
		return false
	}
	return int64(width) <= maxPixels/int64(height)
}

func pixelLimit(cfg *config.PipelineConfig) int64 {
	if cfg.MaxPixels > 0 {
		return cfg.MaxPixels
	}
	return config.DefaultMaxPixels
}
