//go:build gocv

package service

import (
	"image"

	"gocv.io/x/gocv"
)

// GrabCut 掩码标签
const (
	gcBackground         = 0
	gcForeground         = 1
	gcProbableBackground = 2
	gcProbableForeground = 3
)

// saliencyMap 由梯度幅值模糊后 Otsu 二值化得到显著性图
func saliencyMap(img *gocv.Mat) gocv.Mat {
	gray := gocv.NewMat()
	defer gray.Close()
	gocv.CvtColor(*img, &gray, gocv.ColorBGRToGray)

	gradX := gocv.NewMat()
	defer gradX.Close()
	gradY := gocv.NewMat()
	defer gradY.Close()
	gocv.Sobel(gray, &gradX, gocv.MatTypeCV16S, 1, 0, 3, 1, 0, gocv.BorderDefault)
	gocv.Sobel(gray, &gradY, gocv.MatTypeCV16S, 0, 1, 3, 1, 0, gocv.BorderDefault)

	absX := gocv.NewMat()
	defer absX.Close()
	absY := gocv.NewMat()
	defer absY.Close()
	gocv.ConvertScaleAbs(gradX, &absX, 1, 0)
	gocv.ConvertScaleAbs(gradY, &absY, 1, 0)

	magnitude := gocv.NewMat()
	defer magnitude.Close()
	gocv.AddWeighted(absX, 0.5, absY, 0.5, 0, &magnitude)

	blurred := gocv.NewMat()
	defer blurred.Close()
	gocv.GaussianBlur(magnitude, &blurred, image.Point{X: 21, Y: 21}, 0, 0, gocv.BorderDefault)

	saliency := gocv.NewMat()
	gocv.Threshold(blurred, &saliency, 0, 255, gocv.ThresholdOtsu)
	return saliency
}

// seedMask 边框标记为确定背景，显著区域标记为可能前景，其余为可能背景
func seedMask(saliency *gocv.Mat, width, height int) gocv.Mat {
	dilated := gocv.NewMat()
	defer dilated.Close()
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: 11, Y: 11})
	defer kernel.Close()
	gocv.Dilate(*saliency, &dilated, kernel)

	mask := gocv.NewMatWithSize(height, width, gocv.MatTypeCV8U)
	border := int(float64(width) * 0.03)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			label := uint8(gcProbableBackground)
			switch {
			case x < border || x >= width-border || y < border || y >= height-border:
				label = gcBackground
			case dilated.GetUCharAt(y, x) > 128:
				label = gcProbableForeground
			}
			mask.SetUCharAt(y, x, label)
		}
	}
	return mask
}

// foregroundFromLabels 将确定/可能前景标签转换为 255
func foregroundFromLabels(labels *gocv.Mat) gocv.Mat {
	fg := gocv.Zeros(labels.Rows(), labels.Cols(), gocv.MatTypeCV8U)
	for y := 0; y < labels.Rows(); y++ {
		for x := 0; x < labels.Cols(); x++ {
			switch labels.GetUCharAt(y, x) {
			case gcForeground, gcProbableForeground:
				fg.SetUCharAt(y, x, 255)
			}
		}
	}
	return fg
}

// morphologyCleanup 开运算去噪点，闭运算填小孔
func morphologyCleanup(mask *gocv.Mat, kernelSize int) gocv.Mat {
	kernel := gocv.GetStructuringElement(gocv.MorphEllipse, image.Point{X: kernelSize, Y: kernelSize})
	defer kernel.Close()

	opened := gocv.NewMat()
	defer opened.Close()
	gocv.MorphologyEx(*mask, &opened, gocv.MorphOpen, kernel)

	closed := gocv.NewMat()
	gocv.MorphologyEx(opened, &closed, gocv.MorphClose, kernel)
	return closed
}
