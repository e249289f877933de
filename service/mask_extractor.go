package service

import (
	"fmt"
	"image"
)

// ExtractMask 将带填充的原始掩码转换为紧凑的二值掩码（0 或 255）
//
// 每行起点为 y*BytesPerRow，每像素字节数为 BytesPerRow/Width，只读取第一个通道。
func ExtractMask(raw RawMask) (*image.Gray, error) {
	if raw.Width <= 0 {
		return nil, fmt.Errorf("%w: mask width is %d", ErrInvalidBufferLayout, raw.Width)
	}
	bytesPerPixel := raw.BytesPerRow / raw.Width
	if bytesPerPixel <= 0 {
		return nil, fmt.Errorf("%w: degenerate stride %d for width %d", ErrInvalidBufferLayout, raw.BytesPerRow, raw.Width)
	}
	if raw.Height <= 0 {
		return nil, fmt.Errorf("%w: mask height is %d", ErrInvalidBufferLayout, raw.Height)
	}
	// 最后一个样本必须落在缓冲区内，先用除法判断避免乘法溢出
	if len(raw.Pix) == 0 || raw.Height-1 > (len(raw.Pix)-1)/raw.BytesPerRow {
		return nil, fmt.Errorf("%w: buffer holds %d bytes, too short for %d rows with stride %d",
			ErrInvalidBufferLayout, len(raw.Pix), raw.Height, raw.BytesPerRow)
	}
	lastRow := (raw.Height - 1) * raw.BytesPerRow
	if last := lastRow + (raw.Width-1)*bytesPerPixel; last >= len(raw.Pix) {
		return nil, fmt.Errorf("%w: buffer holds %d bytes, %dx%d mask with stride %d needs %d",
			ErrInvalidBufferLayout, len(raw.Pix), raw.Width, raw.Height, raw.BytesPerRow, last+1)
	}

	mask := image.NewGray(image.Rect(0, 0, raw.Width, raw.Height))
	for y := 0; y < raw.Height; y++ {
		row := raw.Pix[y*raw.BytesPerRow:]
		out := mask.Pix[y*mask.Stride : y*mask.Stride+raw.Width]
		for x := range out {
			if row[x*bytesPerPixel] > 0 {
				out[x] = 255
			}
		}
	}
	return mask, nil
}
