package service

import "errors"

// 去背景流水线错误分类，调用方通过 errors.Is 判断
var (
	ErrDecode              = errors.New("decode_error")
	ErrNoSubjectDetected   = errors.New("no_subject_detected")
	ErrServiceUnavailable  = errors.New("service_unavailable")
	ErrInvalidBufferLayout = errors.New("invalid_buffer_layout")
	ErrEncode              = errors.New("encode_error")
)

var errorKinds = []error{
	ErrDecode,
	ErrNoSubjectDetected,
	ErrServiceUnavailable,
	ErrInvalidBufferLayout,
	ErrEncode,
}

// ErrorCode 返回错误对应的结构化错误码，未分类错误返回空字符串
func ErrorCode(err error) string {
	for _, kind := range errorKinds {
		if errors.Is(err, kind) {
			return kind.Error()
		}
	}
	return ""
}

// isClassified 判断错误是否已带有分类
func isClassified(err error) bool {
	return ErrorCode(err) != ""
}
