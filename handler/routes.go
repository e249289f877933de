package handler

import "github.com/gin-gonic/gin"

// RegisterRoutes 注册 API 路由
func RegisterRoutes(api *gin.RouterGroup, h *MaskHandler) {
	api.POST("/remove-background", h.RemoveBackground)
	api.POST("/encode", h.Encode)
	api.GET("/mask/:md5", h.GetByMD5)
	api.GET("/mask/:md5/image", h.GetImageByMD5)
}
