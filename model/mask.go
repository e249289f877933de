package model

// MaskResult 去背景掩码结果
type MaskResult struct {
	MD5         string `json:"md5,omitempty"`
	MaskPNG     []byte `json:"maskPngBase64"` // encoding/json 以 base64 序列化
	ContentType string `json:"contentType"`
	Width       uint32 `json:"width"`
	Height      uint32 `json:"height"`
	Revision    *int32 `json:"revision"`
	Timestamp   int64  `json:"timestamp,omitempty"`
}

// RemoveBackgroundRequest JSON 请求体
type RemoveBackgroundRequest struct {
	ImageBase64 string `json:"imageBase64" binding:"required"`
}

// EncodeRequest 原始 RGBA 数据编码请求
type EncodeRequest struct {
	RGBABase64 string `json:"rgbaBase64" binding:"required"`
	Width      uint32 `json:"width" binding:"required"`
	Height     uint32 `json:"height" binding:"required"`
}

// EncodeResult 编码结果
type EncodeResult struct {
	DataBase64  []byte `json:"dataBase64"`
	ContentType string `json:"contentType"`
}

// MaskResponse 去背景响应
type MaskResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    *MaskResult `json:"data,omitempty"`
}

// EncodeResponse 编码响应
type EncodeResponse struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Data    *EncodeResult `json:"data,omitempty"`
}

// ErrorResponse 错误响应
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Code    string `json:"code"`
	Error   string `json:"error,omitempty"`
}
