package utils

import (
	"github.com/google/uuid"
)

// GenerateRequestID 生成请求ID
func GenerateRequestID() string {
	return uuid.NewString()
}

// ValidRequestID 判断客户端传入的请求ID是否为合法UUID
func ValidRequestID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}
