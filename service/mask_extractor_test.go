package service

import (
	"errors"
	"testing"
)

func TestExtractMaskBinarizes(t *testing.T) {
	raw := RawMask{
		Pix:         []byte{0, 1, 128, 255},
		Width:       4,
		Height:      1,
		BytesPerRow: 4,
	}
	mask, err := ExtractMask(raw)
	if err != nil {
		t.Fatalf("ExtractMask: %v", err)
	}
	want := []uint8{0, 255, 255, 255}
	for i, v := range mask.Pix {
		if v != want[i] {
			t.Errorf("pix[%d] = %d, want %d", i, v, want[i])
		}
	}
}

func TestExtractMaskHonoursStride(t *testing.T) {
	// 3x2 掩码，每行 8 字节，填充字节为非零以检测越界读取
	pix := []byte{
		9, 0, 9, 7, 7, 7, 7, 7,
		0, 9, 0, 7, 7, 7, 7, 7,
	}
	mask, err := ExtractMask(RawMask{Pix: pix, Width: 3, Height: 2, BytesPerRow: 8})
	if err != nil {
		t.Fatalf("ExtractMask: %v", err)
	}
	// 8/3 = 2 字节每像素，每行采样偏移 0,2,4
	want := []uint8{255, 255, 255, 0, 0, 255}
	for i, v := range mask.Pix {
		if v != want[i] {
			t.Errorf("pix[%d] = %d, want %d", i, v, want[i])
		}
	}
}

func TestExtractMaskFirstChannelOnly(t *testing.T) {
	// 2 像素，每像素 4 字节，只有非首通道为非零
	pix := []byte{
		0, 255, 255, 255, 1, 0, 0, 0,
	}
	mask, err := ExtractMask(RawMask{Pix: pix, Width: 2, Height: 1, BytesPerRow: 8})
	if err != nil {
		t.Fatalf("ExtractMask: %v", err)
	}
	if mask.Pix[0] != 0 || mask.Pix[1] != 255 {
		t.Errorf("pix = %v, want [0 255]", mask.Pix)
	}
}

func TestExtractMaskOutputIsBinary(t *testing.T) {
	const w, h = 17, 9
	stride := 24
	pix := make([]byte, stride*h)
	for i := range pix {
		pix[i] = byte(i * 37)
	}
	mask, err := ExtractMask(RawMask{Pix: pix, Width: w, Height: h, BytesPerRow: stride})
	if err != nil {
		t.Fatalf("ExtractMask: %v", err)
	}
	if len(mask.Pix) != w*h || mask.Stride != w {
		t.Fatalf("mask is %d bytes with stride %d, want %d with stride %d", len(mask.Pix), mask.Stride, w*h, w)
	}
	for i, v := range mask.Pix {
		if v != 0 && v != 255 {
			t.Fatalf("pix[%d] = %d, want 0 or 255", i, v)
		}
	}
}

func TestExtractMaskInvalidLayout(t *testing.T) {
	tests := []struct {
		name string
		raw  RawMask
	}{
		{"zero width", RawMask{Pix: make([]byte, 10), Width: 0, Height: 1, BytesPerRow: 10}},
		// bytesPerRow=0, width=10 -> bytesPerPixel 0
		{"zero stride", RawMask{Pix: make([]byte, 100), Width: 10, Height: 10, BytesPerRow: 0}},
		{"stride below width", RawMask{Pix: make([]byte, 100), Width: 10, Height: 10, BytesPerRow: 9}},
		{"zero height", RawMask{Pix: nil, Width: 10, Height: 0, BytesPerRow: 10}},
		{"short buffer", RawMask{Pix: make([]byte, 99), Width: 10, Height: 10, BytesPerRow: 10}},
		{"empty buffer", RawMask{Pix: nil, Width: 1, Height: 1, BytesPerRow: 1}},
		{"huge dimensions", RawMask{Pix: make([]byte, 16), Width: 1 << 31, Height: 1 << 33, BytesPerRow: 1 << 31}},
		// (height-1)*bytesPerRow 回绕为负数
		{"wrapping row offset", RawMask{Pix: make([]byte, 16), Width: 1, Height: 1<<62 + 1, BytesPerRow: 4}},
		{"wide single row", RawMask{Pix: make([]byte, 16), Width: 1 << 40, Height: 1, BytesPerRow: 1 << 40}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mask, err := ExtractMask(tt.raw)
			if !errors.Is(err, ErrInvalidBufferLayout) {
				t.Fatalf("err = %v, want ErrInvalidBufferLayout", err)
			}
			if mask != nil {
				t.Error("mask returned alongside error")
			}
		})
	}
}

func TestExtractMaskShortLastRow(t *testing.T) {
	// 最后一行不需要完整的填充
	pix := []byte{
		255, 0, 0, 0,
		255,
	}
	mask, err := ExtractMask(RawMask{Pix: pix, Width: 1, Height: 2, BytesPerRow: 4})
	if err != nil {
		t.Fatalf("ExtractMask: %v", err)
	}
	if mask.Pix[0] != 255 || mask.Pix[1] != 255 {
		t.Errorf("pix = %v, want [255 255]", mask.Pix)
	}
}
