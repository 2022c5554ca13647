package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Facing modes accepted in configuration.
const (
	FacingEnvironment = "environment"
	FacingUser        = "user"
)

// DeviceConfig describes one physical camera the gocv driver may open.
type DeviceConfig struct {
	ID     int    `yaml:"id"`     // OS device index (/dev/videoN on Linux)
	Facing string `yaml:"facing"` // "environment", "user" or empty (unknown)
	Label  string `yaml:"label"`  // human readable name, for logs
}

// CameraConfig describes how frames are acquired.
// Driver selects a concrete implementation ("gocv" or "mock").
type CameraConfig struct {
	Driver          string         `yaml:"driver"`            // "gocv" or "mock"
	PreferredFacing string         `yaml:"preferred_facing"`  // facing mode requested on start (default "environment")
	Devices         []DeviceConfig `yaml:"devices"`           // gocv only; empty means device 0
	WidthPx         int            `yaml:"width_px"`          // requested width; the device may pick another
	HeightPx        int            `yaml:"height_px"`         // requested height
	WarmupTimeoutMs int            `yaml:"warmup_timeout_ms"` // max wait for the first frame after open
	MockDeny        bool           `yaml:"mock_deny"`         // mock only: simulate permission denied
}

// OutputConfig describes where headless and button captures are written.
type OutputConfig struct {
	Dir string `yaml:"dir"`
}

// WebConfig holds web UI parameters.
type WebConfig struct {
	Port         int `yaml:"port"`          // 0 = use -web flag only
	PreviewFPS   int `yaml:"preview_fps"`   // live preview push rate
	PreviewWidth int `yaml:"preview_width"` // preview frames are scaled down to this width
	JPEGQuality  int `yaml:"jpeg_quality"`  // live preview JPEG quality (1-100)
}

// GPIOConfig wires an optional physical shutter button and a "camera live" LED.
type GPIOConfig struct {
	Mock       bool `yaml:"mock"`        // use mock GPIO (true=dev/test, false=real Raspberry Pi)
	ButtonPin  int  `yaml:"button_pin"`  // BCM pin, 0 = no button. Active LOW (pull-up).
	LEDPin     int  `yaml:"led_pin"`     // BCM pin, 0 = no LED. Active HIGH.
	PollMs     int  `yaml:"poll_ms"`     // button polling period
	DebounceMs int  `yaml:"debounce_ms"` // minimum time between two presses
}

// DefaultsConfig contains generic parameters.
type DefaultsConfig struct {
	DebugLevel int `yaml:"debug_level"` // debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)
}

// Config aggregates all application configuration.
type Config struct {
	Camera   CameraConfig   `yaml:"camera"`
	Output   OutputConfig   `yaml:"output"`
	Web      WebConfig      `yaml:"web"`
	GPIO     *GPIOConfig    `yaml:"gpio,omitempty"` // optional
	Defaults DefaultsConfig `yaml:"defaults"`
}

// ValidateConfigPath checks that path names a .yaml file inside a configs/
// directory and does not escape it with "..".
func ValidateConfigPath(path string) error {
	if path == "" {
		return fmt.Errorf("config path is empty")
	}
	clean := filepath.Clean(path)
	for _, part := range strings.Split(filepath.ToSlash(clean), "/") {
		if part == ".." {
			return fmt.Errorf("config path %q must not contain ..", path)
		}
	}
	if filepath.Ext(clean) != ".yaml" {
		return fmt.Errorf("config path %q must have .yaml extension", path)
	}
	abs, err := filepath.Abs(clean)
	if err != nil {
		return fmt.Errorf("resolve config path: %w", err)
	}
	if filepath.Base(filepath.Dir(abs)) != "configs" {
		return fmt.Errorf("config path %q must be inside a configs/ directory", path)
	}
	return nil
}

// MaxConfigFileBytes bounds the size of a config file accepted by Load.
const MaxConfigFileBytes = 1 << 20

// Load reads a YAML file and returns the configuration.
func Load(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat config file: %w", err)
	}
	if info.Size() > MaxConfigFileBytes {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), MaxConfigFileBytes)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML data, applies defaults and validates the result.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("unmarshal yaml: %w", err)
	}

	// Basic validation
	switch cfg.Camera.Driver {
	case "":
		cfg.Camera.Driver = "mock"
	case "gocv", "mock":
	default:
		return nil, fmt.Errorf("unsupported camera.driver: %s", cfg.Camera.Driver)
	}
	switch cfg.Camera.PreferredFacing {
	case "":
		cfg.Camera.PreferredFacing = FacingEnvironment
	case FacingEnvironment, FacingUser:
	default:
		return nil, fmt.Errorf("camera.preferred_facing must be %q or %q, got %q",
			FacingEnvironment, FacingUser, cfg.Camera.PreferredFacing)
	}
	for i, d := range cfg.Camera.Devices {
		if d.ID < 0 {
			return nil, fmt.Errorf("camera.devices[%d].id must be >= 0, got %d", i, d.ID)
		}
		if d.Facing != "" && d.Facing != FacingEnvironment && d.Facing != FacingUser {
			return nil, fmt.Errorf("camera.devices[%d].facing must be %q, %q or empty, got %q",
				i, FacingEnvironment, FacingUser, d.Facing)
		}
	}
	if cfg.Camera.WidthPx < 0 || cfg.Camera.HeightPx < 0 {
		return nil, fmt.Errorf("camera resolution must be >= 0, got %dx%d", cfg.Camera.WidthPx, cfg.Camera.HeightPx)
	}
	if cfg.Camera.WidthPx == 0 {
		cfg.Camera.WidthPx = 1280 // 720p default
	}
	if cfg.Camera.HeightPx == 0 {
		cfg.Camera.HeightPx = 720
	}
	if cfg.Camera.WarmupTimeoutMs <= 0 {
		cfg.Camera.WarmupTimeoutMs = 3000
	}

	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "captures"
	}

	if cfg.Web.Port < 0 || cfg.Web.Port > 65535 {
		return nil, fmt.Errorf("web.port must be 0-65535, got %d", cfg.Web.Port)
	}
	if cfg.Web.PreviewFPS <= 0 {
		cfg.Web.PreviewFPS = 10
	}
	if cfg.Web.PreviewFPS > 30 {
		return nil, fmt.Errorf("web.preview_fps must be <= 30, got %d", cfg.Web.PreviewFPS)
	}
	if cfg.Web.PreviewWidth <= 0 {
		cfg.Web.PreviewWidth = 640
	}
	if cfg.Web.JPEGQuality == 0 {
		cfg.Web.JPEGQuality = 75
	}
	if cfg.Web.JPEGQuality < 1 || cfg.Web.JPEGQuality > 100 {
		return nil, fmt.Errorf("web.jpeg_quality must be between 1 and 100, got %d", cfg.Web.JPEGQuality)
	}

	if g := cfg.GPIO; g != nil {
		if g.ButtonPin < 0 || g.LEDPin < 0 {
			return nil, fmt.Errorf("gpio pins must be >= 0")
		}
		if g.ButtonPin != 0 && g.ButtonPin == g.LEDPin {
			return nil, fmt.Errorf("gpio.button_pin and gpio.led_pin must differ, both are %d", g.ButtonPin)
		}
		if g.PollMs <= 0 {
			g.PollMs = 20
		}
		if g.DebounceMs <= 0 {
			g.DebounceMs = 250
		}
	}

	if cfg.Defaults.DebugLevel < 0 || cfg.Defaults.DebugLevel > 4 {
		return nil, fmt.Errorf("defaults.debug_level must be between 0 and 4, got %d", cfg.Defaults.DebugLevel)
	}

	return &cfg, nil
}

// WarmupTimeout returns the maximum wait for the first frame after opening a device.
func (c *Config) WarmupTimeout() time.Duration {
	return time.Duration(c.Camera.WarmupTimeoutMs) * time.Millisecond
}

// PreviewInterval returns the delay between two live preview frames.
func (c *Config) PreviewInterval() time.Duration {
	return time.Second / time.Duration(c.Web.PreviewFPS)
}

// ButtonPoll returns the GPIO button polling period, or 0 without GPIO.
func (c *Config) ButtonPoll() time.Duration {
	if c.GPIO == nil {
		return 0
	}
	return time.Duration(c.GPIO.PollMs) * time.Millisecond
}

// ButtonDebounce returns the minimum time between two button presses, or 0 without GPIO.
func (c *Config) ButtonDebounce() time.Duration {
	if c.GPIO == nil {
		return 0
	}
	return time.Duration(c.GPIO.DebounceMs) * time.Millisecond
}
