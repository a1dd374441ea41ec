// Package config loads and validates the server configuration from the
// environment, with optional .env file support for development setups.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"piwebcam/internal/motion"
)

// Config holds every runtime setting. Values are fixed after Load; nothing
// re-reads the environment mid-run.
type Config struct {
	Host string
	Port int

	// Device is the camera source: a V4L2 device path (/dev/video0), an
	// RTSP URL, or an HTTP still-image URL that is polled.
	Device string
	Width  int
	Height int
	FPS    int

	// Motion detection.
	ThresholdPercent float64
	Cooldown         time.Duration
	SnapshotCapacity int
	SnapshotsEnabled bool

	// Auth. Password may be a plaintext secret or a bcrypt hash.
	AuthEnabled  bool
	AuthUsername string
	AuthPassword string
	JWTSecret    string
	JWTExpiry    time.Duration

	// StaticDir is the directory served for plain file requests (the
	// viewer page and its assets). Empty disables static serving.
	StaticDir string

	LogLevel string
}

// Load builds the configuration from the environment. A .env file in the
// working directory is merged in first if present; real environment
// variables win.
func Load() *Config {
	_ = godotenv.Load()

	cfg := &Config{
		Host:             getEnv("WEBCAM_HOST", "0.0.0.0"),
		Port:             getEnvAsInt("WEBCAM_PORT", 8000),
		Device:           getEnv("WEBCAM_DEVICE", "/dev/video0"),
		Width:            640,
		Height:           480,
		FPS:              getEnvAsInt("WEBCAM_FRAMERATE", 30),
		ThresholdPercent: getEnvAsFloat("MOTION_THRESHOLD_PERCENT", 5.0),
		Cooldown:         time.Duration(getEnvAsFloat("MOTION_COOLDOWN_SECONDS", 10.0) * float64(time.Second)),
		SnapshotCapacity: getEnvAsInt("SNAPSHOT_CAPACITY", 20),
		SnapshotsEnabled: getEnv("SNAPSHOTS_ENABLED", "true") == "true",
		AuthEnabled:      os.Getenv("WEBCAM_USER") != "" && os.Getenv("WEBCAM_PASS") != "",
		AuthUsername:     getEnv("WEBCAM_USER", ""),
		AuthPassword:     getEnv("WEBCAM_PASS", ""),
		JWTSecret:        getEnv("JWT_SECRET", ""),
		JWTExpiry:        getEnvAsDuration("JWT_EXPIRY", 24*time.Hour),
		StaticDir:        getEnv("WEBCAM_STATIC_DIR", "."),
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}

	if res := os.Getenv("WEBCAM_RESOLUTION"); res != "" {
		// Malformed values fall back to the default resolution; Validate
		// still catches impossible dimensions.
		_ = cfg.SetResolution(res)
	}
	return cfg
}

// SetResolution parses a WIDTHxHEIGHT string such as "640x480".
func (c *Config) SetResolution(res string) error {
	parts := strings.SplitN(res, "x", 2)
	if len(parts) != 2 {
		return fmt.Errorf("invalid resolution %q, want WIDTHxHEIGHT", res)
	}
	width, err := strconv.Atoi(parts[0])
	if err != nil {
		return fmt.Errorf("invalid resolution width %q", parts[0])
	}
	height, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("invalid resolution height %q", parts[1])
	}
	c.Width = width
	c.Height = height
	return nil
}

// Validate rejects out-of-range values once at startup so they can never
// surface mid-run.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.Port)
	}
	if c.Device == "" {
		return fmt.Errorf("camera device must not be empty")
	}
	if c.Width < 1 || c.Height < 1 {
		return fmt.Errorf("resolution %dx%d invalid", c.Width, c.Height)
	}
	if c.FPS < 1 {
		return fmt.Errorf("framerate %d must be >= 1", c.FPS)
	}
	if c.ThresholdPercent < 0 || c.ThresholdPercent > 100 {
		return fmt.Errorf("motion threshold %v out of range [0, 100]", c.ThresholdPercent)
	}
	if c.Cooldown <= 0 || c.Cooldown > motion.MaxCooldown {
		return fmt.Errorf("cooldown %v out of range (0, %v]", c.Cooldown, motion.MaxCooldown)
	}
	if c.SnapshotCapacity < 0 {
		return fmt.Errorf("snapshot capacity %d must be >= 0", c.SnapshotCapacity)
	}
	return nil
}

// MotionConfig returns the detector configuration slice of the settings.
func (c *Config) MotionConfig() motion.Config {
	return motion.Config{
		ThresholdPercent: c.ThresholdPercent,
		Cooldown:         c.Cooldown,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
