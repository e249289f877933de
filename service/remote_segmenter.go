package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/TIANLI0/MaskKit/config"
	"github.com/TIANLI0/MaskKit/utils"
	"go.uber.org/zap"
)

// 远程响应体大小上限
const maxRemoteResponseSize = 64 << 20

// RemoteSegmenter 调用远程前景实例分割服务
type RemoteSegmenter struct {
	url          string
	apiKey       string
	timeout      time.Duration
	maxRetries   int
	retryBackoff time.Duration
	client       *http.Client
}

type remoteInstance struct {
	Confidence  float64 `json:"confidence"`
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	BytesPerRow int     `json:"bytesPerRow"`
	Data        []byte  `json:"data"`
}

type remoteResponse struct {
	Revision  *int32           `json:"revision"`
	Instances []remoteInstance `json:"instances"`
	Error     string           `json:"error"`
}

// errRetryable 标记可重试的远程错误
var errRetryable = errors.New("retryable")

func NewRemoteSegmenter(cfg *config.RemoteConfig, client *http.Client) *RemoteSegmenter {
	if client == nil {
		client = http.DefaultClient
	}
	return &RemoteSegmenter{
		url:          cfg.URL,
		apiKey:       cfg.APIKey,
		timeout:      cfg.Timeout,
		maxRetries:   max(0, cfg.MaxRetries),
		retryBackoff: cfg.RetryBackoff,
		client:       client,
	}
}

// Segment 提交图片并解析远程返回的实例掩码
func (r *RemoteSegmenter) Segment(ctx context.Context, imageBytes []byte) (*Segmentation, error) {
	backoff := r.retryBackoff
	var lastErr error
	for attempt := 0; attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			utils.Logger.Warn("retrying remote segmentation",
				zap.Int("attempt", attempt),
				zap.Duration("backoff", backoff),
				zap.Error(lastErr))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			backoff *= 2
		}

		resp, err := r.do(ctx, imageBytes)
		if err == nil {
			return resp.segmentation(), nil
		}
		lastErr = err
		if !errors.Is(err, errRetryable) || ctx.Err() != nil {
			break
		}
	}
	return nil, fmt.Errorf("remote segmentation failed: %w", lastErr)
}

func (r *RemoteSegmenter) do(ctx context.Context, imageBytes []byte) (*remoteResponse, error) {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(imageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("Accept", "application/json")
	if r.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+r.apiKey)
	}

	res, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errRetryable, err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(io.LimitReader(res.Body, maxRemoteResponseSize))
	if err != nil {
		return nil, fmt.Errorf("%w: failed to read response: %v", errRetryable, err)
	}

	var decoded remoteResponse
	jsonErr := json.Unmarshal(body, &decoded)

	if res.StatusCode >= http.StatusInternalServerError || res.StatusCode == http.StatusTooManyRequests {
		return nil, fmt.Errorf("%w: status %d: %s", errRetryable, res.StatusCode, decoded.Error)
	}
	if res.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d: %s", res.StatusCode, decoded.Error)
	}
	if jsonErr != nil {
		return nil, fmt.Errorf("failed to decode response: %w", jsonErr)
	}
	return &decoded, nil
}

func (resp *remoteResponse) segmentation() *Segmentation {
	instances := make([]Instance, 0, len(resp.Instances))
	for _, in := range resp.Instances {
		instances = append(instances, Instance{
			Mask:       NewBytesMask(in.Data, in.Width, in.Height, in.BytesPerRow),
			Confidence: in.Confidence,
		})
	}
	return NewSegmentation(instances, resp.Revision, nil)
}
