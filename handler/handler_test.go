package handler

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"
	"time"

	"github.com/TIANLI0/MaskKit/config"
	"github.com/TIANLI0/MaskKit/model"
	"github.com/TIANLI0/MaskKit/service"
	"github.com/TIANLI0/MaskKit/utils"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"golang.org/x/image/webp"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestRouter(t *testing.T, withCache bool) *gin.Engine {
	t.Helper()
	return newTestRouterWith(t, withCache, nil)
}

func newTestRouterWith(t *testing.T, withCache bool, mutate func(*config.Config)) *gin.Engine {
	t.Helper()
	cfg := config.New()
	cfg.Segmentation.Backend = config.BackendPalette
	cfg.Pipeline.OutputFormat = config.FormatPNG
	if mutate != nil {
		mutate(cfg)
	}

	var cache *service.RedisService
	if withCache {
		mr := miniredis.RunT(t)
		cache = service.NewRedisService(&config.RedisConfig{Addr: mr.Addr(), TTL: time.Hour}, cfg.Pipeline.OutputFormat)
		t.Cleanup(func() { _ = cache.Close() })
	}

	encoder, err := service.NewRasterEncoder(&cfg.Pipeline)
	if err != nil {
		t.Fatalf("NewRasterEncoder: %v", err)
	}
	background := service.NewBackgroundService(&cfg.Pipeline, service.NewPaletteSegmenter(&cfg.Segmentation.Palette), encoder)

	r := gin.New()
	RegisterRoutes(r.Group("/api/v1"), NewMaskHandler(cfg, cache, background))
	return r
}

// subjectPNG 白底黑块
func subjectPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))
	for y := 0; y < 48; y++ {
		for x := 0; x < 64; x++ {
			c := color.RGBA{R: 255, G: 255, B: 255, A: 255}
			if x >= 20 && x < 44 && y >= 12 && y < 36 {
				c = color.RGBA{A: 255}
			}
			img.SetRGBA(x, y, c)
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func uniformPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 16, 16))
	for i := range img.Pix {
		img.Pix[i] = 128
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("png.Encode: %v", err)
	}
	return buf.Bytes()
}

func postJSON(r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	data, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func postMultipart(t *testing.T, r *gin.Engine, contentType string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="image"; filename="photo.png"`)
	h.Set("Content-Type", contentType)
	part, err := mw.CreatePart(h)
	if err != nil {
		t.Fatalf("CreatePart: %v", err)
	}
	_, _ = part.Write(data)
	_ = mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/api/v1/remove-background", &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func get(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func decodeMaskResponse(t *testing.T, w *httptest.ResponseRecorder) model.MaskResponse {
	t.Helper()
	var resp model.MaskResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) model.ErrorResponse {
	t.Helper()
	var resp model.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestRemoveBackgroundMultipart(t *testing.T) {
	r := newTestRouter(t, false)
	src := subjectPNG(t)

	w := postMultipart(t, r, "image/png", src)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	resp := decodeMaskResponse(t, w)
	if !resp.Success || resp.Data == nil {
		t.Fatalf("unexpected response %+v", resp)
	}
	if resp.Data.Width != 64 || resp.Data.Height != 48 {
		t.Errorf("dimensions = %dx%d, want 64x48", resp.Data.Width, resp.Data.Height)
	}
	if resp.Data.MD5 != utils.BytesMD5(src) {
		t.Errorf("md5 = %q", resp.Data.MD5)
	}

	img, err := png.Decode(bytes.NewReader(resp.Data.MaskPNG))
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if _, _, _, a := img.At(32, 24).RGBA(); a != 0xffff {
		t.Errorf("subject alpha = %d, want opaque", a)
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Errorf("background alpha = %d, want transparent", a)
	}
}

func TestRemoveBackgroundRejectsType(t *testing.T) {
	r := newTestRouter(t, false)
	w := postMultipart(t, r, "application/pdf", subjectPNG(t))
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.Code != codeBadRequest {
		t.Errorf("code = %q, want %q", resp.Code, codeBadRequest)
	}
}

func TestRemoveBackgroundErrors(t *testing.T) {
	tests := []struct {
		name       string
		body       any
		wantStatus int
		wantCode   string
	}{
		{"missing field", map[string]string{}, http.StatusBadRequest, codeBadRequest},
		{"bad base64", map[string]string{"imageBase64": "***"}, http.StatusBadRequest, codeBadRequest},
		{"undecodable image", map[string]string{"imageBase64": base64.StdEncoding.EncodeToString([]byte("plain text"))}, http.StatusBadRequest, "decode_error"},
		{"no subject", map[string]string{"imageBase64": base64.StdEncoding.EncodeToString(uniformPNG(t))}, http.StatusUnprocessableEntity, "no_subject_detected"},
	}
	r := newTestRouter(t, false)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := postJSON(r, "/api/v1/remove-background", tt.body)
			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d, body = %s", w.Code, tt.wantStatus, w.Body.String())
			}
			resp := decodeErrorResponse(t, w)
			if resp.Success || resp.Code != tt.wantCode {
				t.Errorf("response = %+v, want code %q", resp, tt.wantCode)
			}
		})
	}
}

func TestRemoveBackgroundCachesResult(t *testing.T) {
	r := newTestRouter(t, true)
	src := subjectPNG(t)
	md5 := utils.BytesMD5(src)

	if w := get(r, "/api/v1/mask/"+md5); w.Code != http.StatusNotFound {
		t.Fatalf("lookup before processing = %d, want 404", w.Code)
	}

	w := postJSON(r, "/api/v1/remove-background", map[string]string{"imageBase64": base64.StdEncoding.EncodeToString(src)})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	first := decodeMaskResponse(t, w)

	w = postJSON(r, "/api/v1/remove-background", map[string]string{"imageBase64": base64.StdEncoding.EncodeToString(src)})
	cached := decodeMaskResponse(t, w)
	if cached.Message != "处理成功（来自缓存）" {
		t.Errorf("second request message = %q, want cache hit", cached.Message)
	}
	if !bytes.Equal(cached.Data.MaskPNG, first.Data.MaskPNG) {
		t.Error("cached mask differs from computed mask")
	}

	w = get(r, "/api/v1/mask/"+md5)
	if w.Code != http.StatusOK {
		t.Fatalf("GET mask = %d", w.Code)
	}
	if got := decodeMaskResponse(t, w); got.Data.MD5 != md5 {
		t.Errorf("md5 = %q, want %q", got.Data.MD5, md5)
	}

	w = get(r, "/api/v1/mask/"+md5+"/image")
	if w.Code != http.StatusOK {
		t.Fatalf("GET image = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	if !bytes.Equal(w.Body.Bytes(), first.Data.MaskPNG) {
		t.Error("image endpoint returned different bytes")
	}
}

func TestGetByMD5Errors(t *testing.T) {
	withCache := newTestRouter(t, true)
	if w := get(withCache, "/api/v1/mask/not-a-hash"); w.Code != http.StatusBadRequest {
		t.Errorf("invalid md5 status = %d, want 400", w.Code)
	}

	noCache := newTestRouter(t, false)
	w := get(noCache, "/api/v1/mask/0123456789abcdef0123456789abcdef")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 without cache", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.Code != codeNotFound {
		t.Errorf("code = %q", resp.Code)
	}
}

func TestEncode(t *testing.T) {
	r := newTestRouter(t, false)
	pix := []byte{255, 255, 255, 0, 255, 255, 255, 255}

	w := postJSON(r, "/api/v1/encode", map[string]any{
		"rgbaBase64": base64.StdEncoding.EncodeToString(pix),
		"width":      2,
		"height":     1,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp model.EncodeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	img, err := png.Decode(bytes.NewReader(resp.Data.DataBase64))
	if err != nil {
		t.Fatalf("png.Decode: %v", err)
	}
	if _, _, _, a := img.At(0, 0).RGBA(); a != 0 {
		t.Errorf("pixel 0 alpha = %d, want 0", a)
	}
	if _, _, _, a := img.At(1, 0).RGBA(); a != 0xffff {
		t.Errorf("pixel 1 alpha = %d, want opaque", a)
	}
}

func TestEncodeLengthMismatch(t *testing.T) {
	r := newTestRouter(t, false)
	w := postJSON(r, "/api/v1/encode", map[string]any{
		"rgbaBase64": base64.StdEncoding.EncodeToString([]byte{1, 2, 3}),
		"width":      2,
		"height":     2,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.Code != "encode_error" {
		t.Errorf("code = %q, want encode_error", resp.Code)
	}
}

func TestEncodeRejectsOversizedRaster(t *testing.T) {
	r := newTestRouter(t, false)
	// 4*w*h 在 int 中回绕为 4 字节
	w := postJSON(r, "/api/v1/encode", map[string]any{
		"rgbaBase64": base64.StdEncoding.EncodeToString([]byte{1, 2, 3, 4}),
		"width":      2147549185,
		"height":     2147418113,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.Code != "encode_error" {
		t.Errorf("code = %q, want encode_error", resp.Code)
	}
}

func TestEncodeBodyLimit(t *testing.T) {
	r := newTestRouterWith(t, false, func(cfg *config.Config) { cfg.Pipeline.MaxPixels = 4 })
	w := postJSON(r, "/api/v1/encode", map[string]any{
		"rgbaBase64": base64.StdEncoding.EncodeToString(make([]byte, 64*1024)),
		"width":      128,
		"height":     128,
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if resp := decodeErrorResponse(t, w); resp.Code != codeBadRequest {
		t.Errorf("code = %q, want %q", resp.Code, codeBadRequest)
	}
}

func TestEncodeWebP(t *testing.T) {
	r := newTestRouterWith(t, false, func(cfg *config.Config) { cfg.Pipeline.OutputFormat = config.FormatWebP })
	w := postJSON(r, "/api/v1/encode", map[string]any{
		"rgbaBase64": base64.StdEncoding.EncodeToString([]byte{255, 255, 255, 0, 255, 255, 255, 200}),
		"width":      2,
		"height":     1,
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp model.EncodeResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.ContentType != "image/webp" {
		t.Errorf("content type = %q", resp.Data.ContentType)
	}
	img, err := webp.Decode(bytes.NewReader(resp.Data.DataBase64))
	if err != nil {
		t.Fatalf("webp.Decode: %v", err)
	}
	if got := color.NRGBAModel.Convert(img.At(1, 0)).(color.NRGBA); got.A != 200 {
		t.Errorf("pixel 1 alpha = %d, want 200", got.A)
	}
}
