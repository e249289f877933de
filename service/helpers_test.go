package service

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
)

// fakeMask 记录加锁与解锁次数
type fakeMask struct {
	raw     RawMask
	lockErr error
	locks   int
	unlocks int
}

func (m *fakeMask) Lock() (RawMask, error) {
	m.locks++
	if m.lockErr != nil {
		return RawMask{}, m.lockErr
	}
	return m.raw, nil
}

func (m *fakeMask) Unlock() {
	m.unlocks++
}

// fakeSegmenter 返回固定实例并记录释放次数
type fakeSegmenter struct {
	instances []Instance
	revision  *int32
	err       error
	calls     int
	releases  int
}

func (f *fakeSegmenter) Segment(ctx context.Context, imageBytes []byte) (*Segmentation, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return NewSegmentation(f.instances, f.revision, func() { f.releases++ }), nil
}

func uniformMask(width, height, stride, bytesPerPixel int, value byte) *fakeMask {
	pix := make([]byte, stride*height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			pix[y*stride+x*bytesPerPixel] = value
		}
	}
	return &fakeMask{raw: RawMask{Pix: pix, Width: width, Height: height, BytesPerRow: stride}}
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func solidPNG(t *testing.T, width, height int, c color.Color) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, c)
		}
	}
	return encodePNG(t, img)
}

func grayFrom(width, height int, pix ...uint8) *image.Gray {
	g := image.NewGray(image.Rect(0, 0, width, height))
	copy(g.Pix, pix)
	return g
}

func int32Ptr(v int32) *int32 { return &v }
