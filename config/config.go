package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Redis        RedisConfig        `mapstructure:"redis"`
	Upload       UploadConfig       `mapstructure:"upload"`
	Pipeline     PipelineConfig     `mapstructure:"pipeline"`
	Segmentation SegmentationConfig `mapstructure:"segmentation"`
}

type ServerConfig struct {
	Port            string        `mapstructure:"port"`
	Mode            string        `mapstructure:"mode"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type RedisConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Addr     string        `mapstructure:"addr"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
}

type UploadConfig struct {
	MaxSize      int64    `mapstructure:"max_size"`
	AllowedTypes []string `mapstructure:"allowed_types"`
}

// PipelineConfig 控制掩码生成流水线的并发与输出格式
type PipelineConfig struct {
	MaxConcurrent  int           `mapstructure:"max_concurrent"`
	QueueTimeout   time.Duration `mapstructure:"queue_timeout"`
	OutputFormat   string        `mapstructure:"output_format"`
	PNGCompression string        `mapstructure:"png_compression"`
	// MaxPixels 单张图片或栅格允许的最大像素数
	MaxPixels      int64         `mapstructure:"max_pixels"`
}

type SegmentationConfig struct {
	Backend string        `mapstructure:"backend"`
	Palette PaletteConfig `mapstructure:"palette"`
	Remote  RemoteConfig  `mapstructure:"remote"`
	GrabCut GrabCutConfig `mapstructure:"grabcut"`
}

// PaletteConfig 纯 Go 背景色板分割参数
type PaletteConfig struct {
	MaxSide      int     `mapstructure:"max_side"`
	PaletteSize  int     `mapstructure:"palette_size"`
	BorderWidth  int     `mapstructure:"border_width"`
	Sigma        float64 `mapstructure:"sigma"`
	MinDistance  float64 `mapstructure:"min_distance"`
	MinAreaRatio float64 `mapstructure:"min_area_ratio"`
	Revision     int32   `mapstructure:"revision"`
}

// RemoteConfig 远程分割服务参数
type RemoteConfig struct {
	URL          string        `mapstructure:"url"`
	APIKey       string        `mapstructure:"api_key"`
	Timeout      time.Duration `mapstructure:"timeout"`
	MaxRetries   int           `mapstructure:"max_retries"`
	RetryBackoff time.Duration `mapstructure:"retry_backoff"`
}

type GrabCutConfig struct {
	Iterations   int     `mapstructure:"iterations"`
	BorderSize   int     `mapstructure:"border_size"`
	MaxSide      int     `mapstructure:"max_side"`
	MinAreaRatio float64 `mapstructure:"min_area_ratio"`
	Revision     int32   `mapstructure:"revision"`
}

const (
	BackendPalette = "palette"
	BackendRemote  = "remote"
	BackendGrabCut = "grabcut"

	FormatPNG  = "png"
	FormatTIFF = "tiff"
	FormatWebP = "webp"

	// DefaultMaxPixels 默认像素上限（4000 万像素）
	DefaultMaxPixels = 40_000_000
	// maxPixelsLimit 像素上限的上界，保证 4*width*height 不溢出
	maxPixelsLimit = 1 << 31
)

// Load 从 YAML 文件加载配置
func Load(configPath string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(configPath)
	v.SetConfigType("yaml")

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return unmarshal(v)
}

// New 使用默认配置路径加载配置
func New() *Config {
	cfg, err := Load("config.yaml")
	if err != nil {
		// 配置文件缺失时仍然应用默认值和环境变量
		cfg, err = unmarshal(newViper())
		if err != nil {
			return getDefaultConfig()
		}
	}
	return cfg
}

// Validate 检查配置取值是否可用
func (c *Config) Validate() error {
	switch c.Segmentation.Backend {
	case BackendPalette, BackendRemote, BackendGrabCut:
	default:
		return fmt.Errorf("unknown segmentation backend %q", c.Segmentation.Backend)
	}
	switch c.Pipeline.OutputFormat {
	case FormatPNG, FormatTIFF, FormatWebP:
	default:
		return fmt.Errorf("unknown output format %q", c.Pipeline.OutputFormat)
	}
	if c.Pipeline.MaxPixels <= 0 || c.Pipeline.MaxPixels > maxPixelsLimit {
		return fmt.Errorf("pipeline.max_pixels must be in (0, %d], got %d", int64(maxPixelsLimit), c.Pipeline.MaxPixels)
	}
	if c.Pipeline.MaxConcurrent <= 0 {
		return fmt.Errorf("pipeline.max_concurrent must be positive, got %d", c.Pipeline.MaxConcurrent)
	}
	if c.Upload.MaxSize <= 0 {
		return fmt.Errorf("upload.max_size must be positive, got %d", c.Upload.MaxSize)
	}
	if c.Segmentation.Backend == BackendRemote && c.Segmentation.Remote.URL == "" {
		return fmt.Errorf("segmentation.remote.url is required for the remote backend")
	}
	return nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("MASKKIT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)
	return v
}

func unmarshal(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	d := getDefaultConfig()

	v.SetDefault("server.port", d.Server.Port)
	v.SetDefault("server.mode", d.Server.Mode)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("redis.enabled", d.Redis.Enabled)
	v.SetDefault("redis.addr", d.Redis.Addr)
	v.SetDefault("redis.password", d.Redis.Password)
	v.SetDefault("redis.db", d.Redis.DB)
	v.SetDefault("redis.ttl", d.Redis.TTL)

	v.SetDefault("upload.max_size", d.Upload.MaxSize)
	v.SetDefault("upload.allowed_types", d.Upload.AllowedTypes)

	v.SetDefault("pipeline.max_concurrent", d.Pipeline.MaxConcurrent)
	v.SetDefault("pipeline.queue_timeout", d.Pipeline.QueueTimeout)
	v.SetDefault("pipeline.output_format", d.Pipeline.OutputFormat)
	v.SetDefault("pipeline.png_compression", d.Pipeline.PNGCompression)
	v.SetDefault("pipeline.max_pixels", d.Pipeline.MaxPixels)

	v.SetDefault("segmentation.backend", d.Segmentation.Backend)

	v.SetDefault("segmentation.palette.max_side", d.Segmentation.Palette.MaxSide)
	v.SetDefault("segmentation.palette.palette_size", d.Segmentation.Palette.PaletteSize)
	v.SetDefault("segmentation.palette.border_width", d.Segmentation.Palette.BorderWidth)
	v.SetDefault("segmentation.palette.sigma", d.Segmentation.Palette.Sigma)
	v.SetDefault("segmentation.palette.min_distance", d.Segmentation.Palette.MinDistance)
	v.SetDefault("segmentation.palette.min_area_ratio", d.Segmentation.Palette.MinAreaRatio)
	v.SetDefault("segmentation.palette.revision", d.Segmentation.Palette.Revision)

	v.SetDefault("segmentation.remote.url", d.Segmentation.Remote.URL)
	v.SetDefault("segmentation.remote.api_key", d.Segmentation.Remote.APIKey)
	v.SetDefault("segmentation.remote.timeout", d.Segmentation.Remote.Timeout)
	v.SetDefault("segmentation.remote.max_retries", d.Segmentation.Remote.MaxRetries)
	v.SetDefault("segmentation.remote.retry_backoff", d.Segmentation.Remote.RetryBackoff)

	v.SetDefault("segmentation.grabcut.iterations", d.Segmentation.GrabCut.Iterations)
	v.SetDefault("segmentation.grabcut.border_size", d.Segmentation.GrabCut.BorderSize)
	v.SetDefault("segmentation.grabcut.max_side", d.Segmentation.GrabCut.MaxSide)
	v.SetDefault("segmentation.grabcut.min_area_ratio", d.Segmentation.GrabCut.MinAreaRatio)
	v.SetDefault("segmentation.grabcut.revision", d.Segmentation.GrabCut.Revision)
}

func getDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            ":8080",
			Mode:            "debug",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 5 * time.Second,
		},
		Redis: RedisConfig{
			Enabled:  true,
			Addr:     "localhost:6379",
			Password: "",
			DB:       0,
			TTL:      24 * time.Hour,
		},
		Upload: UploadConfig{
			MaxSize:      10 * 1024 * 1024,
			AllowedTypes: []string{"image/jpeg", "image/png", "image/jpg", "image/gif", "image/bmp", "image/tiff", "image/webp"},
		},
		Pipeline: PipelineConfig{
			MaxConcurrent:  4,
			QueueTimeout:   30 * time.Second,
			OutputFormat:   FormatPNG,
			PNGCompression: "default",
			MaxPixels:      DefaultMaxPixels,
		},
		Segmentation: SegmentationConfig{
			Backend: BackendPalette,
			Palette: PaletteConfig{
				MaxSide:      512,
				PaletteSize:  4,
				BorderWidth:  2,
				Sigma:        3,
				MinDistance:  12,
				MinAreaRatio: 0.002,
				Revision:     1,
			},
			Remote: RemoteConfig{
				Timeout:      20 * time.Second,
				MaxRetries:   2,
				RetryBackoff: 500 * time.Millisecond,
			},
			GrabCut: GrabCutConfig{
				Iterations:   5,
				BorderSize:   10,
				MaxSide:      1200,
				MinAreaRatio: 0.01,
				Revision:     1,
			},
		},
	}
}
