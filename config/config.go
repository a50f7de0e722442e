// Package config loads run parameters from a TOML file.
//
// Every field is optional: omitted values fall back to defaults through the Get* accessors,
// so partial files are safe.
package config

import (
	"bytes"
	"os"
	"path/filepath"

	"github.com/LdDl/attendance-go/attendance"
	"github.com/LdDl/attendance-go/mot"
	"github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	DefaultConfThreshold = 0.4
	DefaultFrameWidth    = 800
	DefaultFrameHeight   = 450
	DefaultAttendanceDir = "attendance_logs"
	DefaultVideoDir      = "output_videos"
	DefaultModelFile     = "res10_300x300_ssd_iter_140000.caffemodel"
	DefaultProtoFile     = "deploy.prototxt"

	maxFileSize = 1 * 1024 * 1024
)

var (
	ErrWindowSeconds = errors.New("window_seconds must be positive")
	ErrIoUThreshold  = errors.New("iou_thresh must be in (0, 1]")
	ErrMaxMissed     = errors.New("max_missed must be non-negative")
	ErrFPSFallback   = errors.New("fps_fallback must be positive")
	ErrConfThreshold = errors.New("conf_threshold must be in [0, 1]")
	ErrFrameSize     = errors.New("frame_width and frame_height must be positive")
)

// Config is the root configuration of a processing run
type Config struct {
	// Tracking and aggregation
	WindowSeconds *float64 `toml:"window_seconds,omitempty"`
	IoUThreshold  *float64 `toml:"iou_thresh,omitempty"`
	MaxMissed     *int     `toml:"max_missed,omitempty"`
	FPSFallback   *float64 `toml:"fps_fallback,omitempty"`
	NamePrefix    *string  `toml:"name_prefix,omitempty"`

	// Detector
	ConfThreshold *float64 `toml:"conf_threshold,omitempty"`
	ModelFile     *string  `toml:"model_file,omitempty"`
	ProtoFile     *string  `toml:"config_file,omitempty"`

	// Video
	FrameWidth  *int `toml:"frame_width,omitempty"`
	FrameHeight *int `toml:"frame_height,omitempty"`

	// Outputs
	AttendanceDir *string `toml:"attendance_dir,omitempty"`
	VideoDir      *string `toml:"video_dir,omitempty"`
	SQLitePath    *string `toml:"sqlite_path,omitempty"`
}

// Helper functions to create pointers
func ptrFloat64(v float64) *float64 { return &v }
func ptrInt(v int) *int             { return &v }
func ptrString(v string) *string    { return &v }

// Default returns Config with every field set to its default value
func Default() *Config {
	return &Config{
		WindowSeconds: ptrFloat64(attendance.DefaultWindowSeconds),
		IoUThreshold:  ptrFloat64(mot.DefaultIoUThreshold),
		MaxMissed:     ptrInt(mot.DefaultMaxMissed),
		FPSFallback:   ptrFloat64(attendance.DefaultFPSFallback),
		NamePrefix:    ptrString(attendance.DefaultNamePrefix),
		ConfThreshold: ptrFloat64(DefaultConfThreshold),
		ModelFile:     ptrString(DefaultModelFile),
		ProtoFile:     ptrString(DefaultProtoFile),
		FrameWidth:    ptrInt(DefaultFrameWidth),
		FrameHeight:   ptrInt(DefaultFrameHeight),
		AttendanceDir: ptrString(DefaultAttendanceDir),
		VideoDir:      ptrString(DefaultVideoDir),
		SQLitePath:    ptrString(""),
	}
}

// Load reads Config from a TOML file. Omitted fields stay nil.
func Load(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".toml" {
		return nil, errors.Errorf("Config file must have .toml extension, got %q", ext)
	}
	info, err := os.Stat(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "Can't stat config file")
	}
	if info.Size() > maxFileSize {
		return nil, errors.Errorf("Config file too large: %d bytes (max %d)", info.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, errors.Wrap(err, "Can't read config file")
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "Can't load %s", cleanPath)
	}
	return cfg, nil
}

// Parse decodes and validates TOML document
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	decoder := toml.NewDecoder(bytes.NewReader(data))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(cfg); err != nil {
		return nil, errors.Wrap(err, "Can't parse config TOML")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "Invalid configuration")
	}
	return cfg, nil
}

// Validate checks ranges of the fields which are set
func (c *Config) Validate() error {
	if c.WindowSeconds != nil && !(*c.WindowSeconds > 0) {
		return ErrWindowSeconds
	}
	if c.IoUThreshold != nil && !(*c.IoUThreshold > 0 && *c.IoUThreshold <= 1) {
		return ErrIoUThreshold
	}
	if c.MaxMissed != nil && *c.MaxMissed < 0 {
		return ErrMaxMissed
	}
	if c.FPSFallback != nil && !(*c.FPSFallback > 0) {
		return ErrFPSFallback
	}
	if c.ConfThreshold != nil && !(*c.ConfThreshold >= 0 && *c.ConfThreshold <= 1) {
		return ErrConfThreshold
	}
	if (c.FrameWidth != nil && *c.FrameWidth <= 0) || (c.FrameHeight != nil && *c.FrameHeight <= 0) {
		return ErrFrameSize
	}
	return nil
}

// Merge overrides fields of c with the ones set in other
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}
	if other.WindowSeconds != nil {
		c.WindowSeconds = other.WindowSeconds
	}
	if other.IoUThreshold != nil {
		c.IoUThreshold = other.IoUThreshold
	}
	if other.MaxMissed != nil {
		c.MaxMissed = other.MaxMissed
	}
	if other.FPSFallback != nil {
		c.FPSFallback = other.FPSFallback
	}
	if other.NamePrefix != nil {
		c.NamePrefix = other.NamePrefix
	}
	if other.ConfThreshold != nil {
		c.ConfThreshold = other.ConfThreshold
	}
	if other.ModelFile != nil {
		c.ModelFile = other.ModelFile
	}
	if other.ProtoFile != nil {
		c.ProtoFile = other.ProtoFile
	}
	if other.FrameWidth != nil {
		c.FrameWidth = other.FrameWidth
	}
	if other.FrameHeight != nil {
		c.FrameHeight = other.FrameHeight
	}
	if other.AttendanceDir != nil {
		c.AttendanceDir = other.AttendanceDir
	}
	if other.VideoDir != nil {
		c.VideoDir = other.VideoDir
	}
	if other.SQLitePath != nil {
		c.SQLitePath = other.SQLitePath
	}
}

func (c *Config) GetWindowSeconds() float64 {
	if c.WindowSeconds == nil {
		return attendance.DefaultWindowSeconds
	}
	return *c.WindowSeconds
}

func (c *Config) GetIoUThreshold() float64 {
	if c.IoUThreshold == nil {
		return mot.DefaultIoUThreshold
	}
	return *c.IoUThreshold
}

func (c *Config) GetMaxMissed() int {
	if c.MaxMissed == nil {
		return mot.DefaultMaxMissed
	}
	return *c.MaxMissed
}

func (c *Config) GetFPSFallback() float64 {
	if c.FPSFallback == nil {
		return attendance.DefaultFPSFallback
	}
	return *c.FPSFallback
}

func (c *Config) GetNamePrefix() string {
	if c.NamePrefix == nil {
		return attendance.DefaultNamePrefix
	}
	return *c.NamePrefix
}

func (c *Config) GetConfThreshold() float64 {
	if c.ConfThreshold == nil {
		return DefaultConfThreshold
	}
	return *c.ConfThreshold
}

func (c *Config) GetModelFile() string {
	if c.ModelFile == nil {
		return DefaultModelFile
	}
	return *c.ModelFile
}

func (c *Config) GetProtoFile() string {
	if c.ProtoFile == nil {
		return DefaultProtoFile
	}
	return *c.ProtoFile
}

func (c *Config) GetFrameWidth() int {
	if c.FrameWidth == nil {
		return DefaultFrameWidth
	}
	return *c.FrameWidth
}

func (c *Config) GetFrameHeight() int {
	if c.FrameHeight == nil {
		return DefaultFrameHeight
	}
	return *c.FrameHeight
}

func (c *Config) GetAttendanceDir() string {
	if c.AttendanceDir == nil {
		return DefaultAttendanceDir
	}
	return *c.AttendanceDir
}

func (c *Config) GetVideoDir() string {
	if c.VideoDir == nil {
		return DefaultVideoDir
	}
	return *c.VideoDir
}

// GetSQLitePath returns path of SQLite database. Empty means SQLite output is disabled.
func (c *Config) GetSQLitePath() string {
	if c.SQLitePath == nil {
		return ""
	}
	return *c.SQLitePath
}

// ProcessorOptions builds attendance.Options from configuration
func (c *Config) ProcessorOptions(logger logrus.FieldLogger) attendance.Options {
	opts := attendance.DefaultOptions()
	opts.WindowSeconds = c.GetWindowSeconds()
	opts.IoUThreshold = c.GetIoUThreshold()
	opts.MaxMissed = c.GetMaxMissed()
	opts.FPSFallback = c.GetFPSFallback()
	if logger != nil {
		opts.Logger = logger
	}
	return opts
}
