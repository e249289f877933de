package handler

import (
	"encoding/base64"
	"net/http"

	"github.com/TIANLI0/MaskKit/model"
	"github.com/TIANLI0/MaskKit/service"
	"github.com/TIANLI0/MaskKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Encode 将原始 RGBA 数据无损编码
func (h *MaskHandler) Encode(c *gin.Context) {
	encoder := h.backgroundService.Encoder()

	// 请求体上限为最大栅格的 base64 长度
	maxRaster := encoder.MaxPixels() * 4
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, (maxRaster+2)/3*4+4096)

	var req model.EncodeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "请求体无效")
		return
	}
	pix, err := base64.StdEncoding.DecodeString(req.RGBABase64)
	if err != nil {
		badRequest(c, "RGBA base64 解码失败")
		return
	}

	data, err := encoder.EncodeRaster(pix, int(req.Width), int(req.Height))
	if err != nil {
		utils.Logger.Warn("failed to encode raster",
			zap.Uint32("width", req.Width),
			zap.Uint32("height", req.Height),
			zap.Int("size", len(pix)),
			zap.Error(err))
		c.JSON(http.StatusBadRequest, model.ErrorResponse{
			Success: false,
			Message: "编码失败",
			Code:    service.ErrorCode(err),
			Error:   err.Error(),
		})
		return
	}

	c.JSON(http.StatusOK, model.EncodeResponse{
		Success: true,
		Message: "编码成功",
		Data: &model.EncodeResult{
			DataBase64:  data,
			ContentType: encoder.ContentType(),
		},
	})
}
