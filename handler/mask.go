package handler

import (
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/TIANLI0/MaskKit/config"
	"github.com/TIANLI0/MaskKit/model"
	"github.com/TIANLI0/MaskKit/service"
	"github.com/TIANLI0/MaskKit/utils"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// 请求错误码，流水线错误码见 service.ErrorCode
const (
	codeBadRequest = "bad_request"
	codeNotFound   = "not_found"
	codeInternal   = "internal_error"
)

type MaskHandler struct {
	cfg               *config.Config
	redisService      *service.RedisService
	backgroundService *service.BackgroundService
}

// NewMaskHandler redis 为 nil 时不使用缓存
func NewMaskHandler(cfg *config.Config, redis *service.RedisService, background *service.BackgroundService) *MaskHandler {
	return &MaskHandler{
		cfg:               cfg,
		redisService:      redis,
		backgroundService: background,
	}
}

// RemoveBackground 生成去背景透明度掩码
func (h *MaskHandler) RemoveBackground(c *gin.Context) {
	imageBytes, err := h.readImage(c)
	if err != nil {
		utils.Logger.Warn("invalid remove-background request", zap.Error(err))
		badRequest(c, err.Error())
		return
	}

	ctx := c.Request.Context()
	md5 := utils.BytesMD5(imageBytes)

	if h.redisService != nil {
		cached, err := h.redisService.GetMaskResult(ctx, md5)
		if err != nil {
			utils.Logger.Warn("failed to get cache", zap.Error(err))
		}
		if cached != nil {
			utils.Logger.Info("cache hit", zap.String("md5", md5))
			c.JSON(http.StatusOK, model.MaskResponse{
				Success: true,
				Message: "处理成功（来自缓存）",
				Data:    cached,
			})
			return
		}
	}

	result, err := h.backgroundService.RemoveBackground(ctx, imageBytes)
	if err != nil {
		utils.Logger.Error("failed to remove background",
			zap.String("md5", md5),
			zap.Int("size", len(imageBytes)),
			zap.Error(err))
		pipelineError(c, err)
		return
	}
	result.MD5 = md5
	result.Timestamp = time.Now().Unix()

	if h.redisService != nil {
		if err := h.redisService.SetMaskResult(ctx, md5, result); err != nil {
			utils.Logger.Warn("failed to set cache", zap.Error(err))
		}
	}

	c.JSON(http.StatusOK, model.MaskResponse{
		Success: true,
		Message: "处理成功",
		Data:    result,
	})
}

// GetByMD5 根据MD5获取缓存的掩码结果
func (h *MaskHandler) GetByMD5(c *gin.Context) {
	result, ok := h.lookup(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, model.MaskResponse{
		Success: true,
		Message: "查询成功",
		Data:    result,
	})
}

// GetImageByMD5 直接返回缓存的掩码图片
func (h *MaskHandler) GetImageByMD5(c *gin.Context) {
	result, ok := h.lookup(c)
	if !ok {
		return
	}
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s.%s"`, result.MD5, h.cfg.Pipeline.OutputFormat))
	c.Data(http.StatusOK, result.ContentType, result.MaskPNG)
}

func (h *MaskHandler) lookup(c *gin.Context) (*model.MaskResult, bool) {
	md5 := strings.ToLower(c.Param("md5"))
	if !utils.IsMD5(md5) {
		badRequest(c, "MD5参数无效")
		return nil, false
	}
	if h.redisService == nil {
		notFound(c, "缓存未启用")
		return nil, false
	}

	result, err := h.redisService.GetMaskResult(c.Request.Context(), md5)
	if err != nil {
		utils.Logger.Error("failed to get mask result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{
			Success: false,
			Message: "查询失败",
			Code:    codeInternal,
			Error:   err.Error(),
		})
		return nil, false
	}
	if result == nil {
		notFound(c, "未找到该图片的掩码")
		return nil, false
	}
	return result, true
}

// readImage 支持 multipart 字段 image 或 JSON {"imageBase64": ...}
func (h *MaskHandler) readImage(c *gin.Context) ([]byte, error) {
	maxSize := h.cfg.Upload.MaxSize

	if strings.HasPrefix(c.ContentType(), "multipart/") {
		file, err := c.FormFile("image")
		if err != nil {
			return nil, fmt.Errorf("请上传图片文件: %w", err)
		}
		if file.Size > maxSize {
			return nil, fmt.Errorf("文件大小超过限制 (%d MB)", maxSize/(1024*1024))
		}
		if !h.isAllowedType(file.Header.Get("Content-Type")) {
			return nil, errors.New("不支持的文件类型")
		}

		f, err := file.Open()
		if err != nil {
			return nil, fmt.Errorf("读取上传文件失败: %w", err)
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, maxSize))
	}

	// base64 编码后体积约为原始的 4/3
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize/3*4+4096)
	var req model.RemoveBackgroundRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		return nil, fmt.Errorf("请求体无效: %w", err)
	}
	data, err := base64.StdEncoding.DecodeString(req.ImageBase64)
	if err != nil {
		return nil, fmt.Errorf("图片 base64 解码失败: %w", err)
	}
	if int64(len(data)) > maxSize {
		return nil, fmt.Errorf("文件大小超过限制 (%d MB)", maxSize/(1024*1024))
	}
	return data, nil
}

func (h *MaskHandler) isAllowedType(contentType string) bool {
	for _, allowed := range h.cfg.Upload.AllowedTypes {
		if strings.EqualFold(contentType, allowed) {
			return true
		}
	}
	return false
}

// statusFor 将流水线错误码映射为 HTTP 状态码
func statusFor(code string) int {
	switch code {
	case service.ErrDecode.Error():
		return http.StatusBadRequest
	case service.ErrNoSubjectDetected.Error():
		return http.StatusUnprocessableEntity
	case service.ErrServiceUnavailable.Error():
		return http.StatusServiceUnavailable
	case service.ErrInvalidBufferLayout.Error():
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func pipelineError(c *gin.Context, err error) {
	code := service.ErrorCode(err)
	message := "图片处理失败"
	switch code {
	case service.ErrDecode.Error():
		message = "图片解码失败"
	case service.ErrNoSubjectDetected.Error():
		message = "未检测到主体"
	case service.ErrServiceUnavailable.Error():
		message = "分割服务不可用"
	case "":
		code = codeInternal
	}
	c.JSON(statusFor(code), model.ErrorResponse{
		Success: false,
		Message: message,
		Code:    code,
		Error:   err.Error(),
	})
}

func badRequest(c *gin.Context, message string) {
	c.JSON(http.StatusBadRequest, model.ErrorResponse{
		Success: false,
		Message: message,
		Code:    codeBadRequest,
	})
}

func notFound(c *gin.Context, message string) {
	c.JSON(http.StatusNotFound, model.ErrorResponse{
		Success: false,
		Message: message,
		Code:    codeNotFound,
	})
}
