package service

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"math"

	"github.com/HugoSmits86/nativewebp"
	"github.com/TIANLI0/MaskKit/config"
	"golang.org/x/image/tiff"
)

// RasterEncoder 将 RGBA 栅格无损编码
type RasterEncoder struct {
	format         string
	pngCompression png.CompressionLevel
	maxPixels      int64
}

// NewRasterEncoder 根据流水线配置创建编码器
func NewRasterEncoder(cfg *config.PipelineConfig) (*RasterEncoder, error) {
	e := &RasterEncoder{format: cfg.OutputFormat, maxPixels: pixelLimit(cfg)}
	switch cfg.OutputFormat {
	case config.FormatPNG, config.FormatTIFF, config.FormatWebP:
	default:
		return nil, fmt.Errorf("unsupported output format %q", cfg.OutputFormat)
	}

	switch cfg.PNGCompression {
	case "", "default":
		e.pngCompression = png.DefaultCompression
	case "none":
		e.pngCompression = png.NoCompression
	case "best_speed":
		e.pngCompression = png.BestSpeed
	case "best_compression":
		e.pngCompression = png.BestCompression
	default:
		return nil, fmt.Errorf("unsupported png compression %q", cfg.PNGCompression)
	}
	return e, nil
}

// Format 返回输出格式名称
func (e *RasterEncoder) Format() string { return e.format }

// ContentType 返回输出格式的 MIME 类型
func (e *RasterEncoder) ContentType() string {
	switch e.format {
	case config.FormatTIFF:
		return "image/tiff"
	case config.FormatWebP:
		return "image/webp"
	default:
		return "image/png"
	}
}

// MaxPixels 返回允许编码的最大像素数
func (e *RasterEncoder) MaxPixels() int64 { return e.maxPixels }

// EncodeRaster 编码非预乘的 RGBA 字节数组，长度必须为 width*height*4
func (e *RasterEncoder) EncodeRaster(pix []byte, width, height int) ([]byte, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: invalid raster dimensions %dx%d", ErrEncode, width, height)
	}
	if !withinPixelBudget(width, height, e.maxPixels) || width > math.MaxInt/4/height {
		return nil, fmt.Errorf("%w: %dx%d raster exceeds the %d pixel limit", ErrEncode, width, height, e.maxPixels)
	}
	if len(pix) != width*height*4 {
		return nil, fmt.Errorf("%w: raster holds %d bytes, %dx%d needs %d", ErrEncode, len(pix), width, height, width*height*4)
	}
	return e.Encode(&image.NRGBA{
		Pix:    pix,
		Stride: 4 * width,
		Rect:   image.Rect(0, 0, width, height),
	})
}

// Encode 编码合成后的栅格
func (e *RasterEncoder) Encode(img *image.NRGBA) ([]byte, error) {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	if !withinPixelBudget(w, h, e.maxPixels) {
		return nil, fmt.Errorf("%w: %dx%d raster exceeds the %d pixel limit", ErrEncode, w, h, e.maxPixels)
	}
	if len(img.Pix) != w*h*4 {
		return nil, fmt.Errorf("%w: raster holds %d bytes, %dx%d needs %d", ErrEncode, len(img.Pix), w, h, w*h*4)
	}

	var buf bytes.Buffer
	var err error
	switch e.format {
	case config.FormatTIFF:
		err = tiff.Encode(&buf, img, &tiff.Options{Compression: tiff.Deflate})
	case config.FormatWebP:
		// VP8L 无损编码
		err = nativewebp.Encode(&buf, img, nil)
	default:
		enc := png.Encoder{CompressionLevel: e.pngCompression}
		err = enc.Encode(&buf, img)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: failed to encode %s: %v", ErrEncode, e.format, err)
	}
	return buf.Bytes(), nil
}
