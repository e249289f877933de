//go:build !gocv

package service

import (
	"errors"

	"github.com/TIANLI0/MaskKit/config"
)

// GrabCutSegmenter 未启用 gocv 构建标签时不可用
type GrabCutSegmenter struct {
	Segmenter
}

func NewGrabCutSegmenter(cfg *config.GrabCutConfig) (*GrabCutSegmenter, error) {
	return nil, errors.New("grabcut backend requires building with -tags gocv")
}
