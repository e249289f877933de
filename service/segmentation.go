package service

import (
	"context"
	"fmt"
	"sync"

	"github.com/TIANLI0/MaskKit/config"
)

// Segmenter 前景实例分割能力，可替换为不同后端
type Segmenter interface {
	// Segment 返回按置信度从高到低排列的实例掩码
	Segment(ctx context.Context, imageBytes []byte) (*Segmentation, error)
}

// NewSegmenter 根据配置选择分割后端
func NewSegmenter(cfg *config.SegmentationConfig) (Segmenter, error) {
	switch cfg.Backend {
	case config.BackendPalette:
		return NewPaletteSegmenter(&cfg.Palette), nil
	case config.BackendRemote:
		if cfg.Remote.URL == "" {
			return nil, fmt.Errorf("remote segmentation backend requires a url")
		}
		return NewRemoteSegmenter(&cfg.Remote, nil), nil
	case config.BackendGrabCut:
		g, err := NewGrabCutSegmenter(&cfg.GrabCut)
		if err != nil {
			return nil, err
		}
		return g, nil
	default:
		return nil, fmt.Errorf("unknown segmentation backend %q", cfg.Backend)
	}
}

// RawMask 分割后端持有的单通道掩码视图，行之间可能存在对齐填充
type RawMask struct {
	Pix         []byte
	Width       int
	Height      int
	BytesPerRow int
}

// MaskBuffer 后端持有的掩码存储，只能在 Lock 与 Unlock 之间读取
type MaskBuffer interface {
	Lock() (RawMask, error)
	Unlock()
}

// Instance 单个前景实例
type Instance struct {
	Mask       MaskBuffer
	Confidence float64
}

// Segmentation 一次分割调用的结果
type Segmentation struct {
	Instances []Instance
	Revision  *int32

	release func()
	once    sync.Once
}

// NewSegmentation 创建分割结果，release 在 Release 时最多执行一次
func NewSegmentation(instances []Instance, revision *int32, release func()) *Segmentation {
	return &Segmentation{
		Instances: instances,
		Revision:  revision,
		release:   release,
	}
}

// Release 释放后端存储，可重复调用
func (s *Segmentation) Release() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		if s.release != nil {
			s.release()
		}
	})
}

// Top 返回置信度最高的实例，并列时取排在前面的
func (s *Segmentation) Top() (Instance, bool) {
	if s == nil || len(s.Instances) == 0 {
		return Instance{}, false
	}
	best := 0
	for i := 1; i < len(s.Instances); i++ {
		if s.Instances[i].Confidence > s.Instances[best].Confidence {
			best = i
		}
	}
	return s.Instances[best], true
}

// withLockedMask 在锁定范围内访问掩码，所有返回路径都会解锁
func withLockedMask(buf MaskBuffer, fn func(RawMask) error) error {
	if buf == nil {
		return fmt.Errorf("%w: segmentation returned an instance without mask storage", ErrServiceUnavailable)
	}
	raw, err := buf.Lock()
	if err != nil {
		return fmt.Errorf("%w: failed to lock mask buffer: %v", ErrServiceUnavailable, err)
	}
	defer buf.Unlock()
	return fn(raw)
}

// BytesMask 基于 Go 内存的掩码存储
type BytesMask struct {
	mu  sync.Mutex
	raw RawMask
}

// NewBytesMask 包装一段带步长的掩码数据
func NewBytesMask(pix []byte, width, height, bytesPerRow int) *BytesMask {
	return &BytesMask{raw: RawMask{
		Pix:         pix,
		Width:       width,
		Height:      height,
		BytesPerRow: bytesPerRow,
	}}
}

func (m *BytesMask) Lock() (RawMask, error) {
	m.mu.Lock()
	return m.raw, nil
}

func (m *BytesMask) Unlock() {
	m.mu.Unlock()
}
