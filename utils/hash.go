package utils

import (
	"crypto/md5"
	"encoding/hex"
)

// BytesMD5 计算字节数组MD5
func BytesMD5(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}

// IsMD5 判断字符串是否为32位十六进制MD5
func IsMD5(s string) bool {
	if len(s) != 2*md5.Size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
