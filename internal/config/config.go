// Package config loads visaged's environment-variable configuration
// (spec §6) with the same defaulting/validation shape the rest of the
// codebase uses for structured settings.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config holds all daemon configuration, sourced from the environment.
type Config struct {
	CameraDevice        string
	ModelDir            string
	DBPath              string
	SimilarityThreshold float64
	VerifyTimeoutSecs   int
	WarmupFrames        int
	FramesPerVerify     int
	FramesPerEnroll     int
	EmitterEnabled      bool
	SessionBus          bool
}

// Default returns the defaults from spec §6, applied before environment
// overrides.
func Default() *Config {
	return &Config{
		CameraDevice:        "/dev/video2",
		ModelDir:            "/var/lib/visage/models",
		DBPath:              "/var/lib/visage/faces.db",
		SimilarityThreshold: 0.40,
		VerifyTimeoutSecs:   10,
		WarmupFrames:        4,
		FramesPerVerify:     3,
		FramesPerEnroll:     5,
		EmitterEnabled:      true,
		SessionBus:          false,
	}
}

// FromEnv builds a Config from the process environment, layering overrides
// onto Default().
func FromEnv() (*Config, error) {
	cfg := Default()

	if v, ok := os.LookupEnv("CAMERA_DEVICE"); ok {
		cfg.CameraDevice = v
	}
	if v, ok := os.LookupEnv("MODEL_DIR"); ok {
		cfg.ModelDir = v
	}
	if v, ok := os.LookupEnv("DB_PATH"); ok {
		cfg.DBPath = v
	}

	var err error
	if cfg.SimilarityThreshold, err = envFloat("SIMILARITY_THRESHOLD", cfg.SimilarityThreshold); err != nil {
		return nil, err
	}
	if cfg.VerifyTimeoutSecs, err = envInt("VERIFY_TIMEOUT_SECS", cfg.VerifyTimeoutSecs); err != nil {
		return nil, err
	}
	if cfg.WarmupFrames, err = envInt("WARMUP_FRAMES", cfg.WarmupFrames); err != nil {
		return nil, err
	}
	if cfg.FramesPerVerify, err = envInt("FRAMES_PER_VERIFY", cfg.FramesPerVerify); err != nil {
		return nil, err
	}
	if cfg.FramesPerEnroll, err = envInt("FRAMES_PER_ENROLL", cfg.FramesPerEnroll); err != nil {
		return nil, err
	}
	if v, ok := os.LookupEnv("EMITTER_ENABLED"); ok {
		cfg.EmitterEnabled = v != "0"
	}
	if v, ok := os.LookupEnv("SESSION_BUS"); ok {
		cfg.SessionBus = v == "1"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func envFloat(name string, fallback float64) (float64, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return f, nil
}

func envInt(name string, fallback int) (int, error) {
	v, ok := os.LookupEnv(name)
	if !ok {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", name, v, err)
	}
	return n, nil
}

// Validate rejects configuration values that would make the daemon
// misbehave rather than fail fast.
func (c *Config) Validate() error {
	if c.CameraDevice == "" {
		return fmt.Errorf("CAMERA_DEVICE must not be empty")
	}
	if c.ModelDir == "" {
		return fmt.Errorf("MODEL_DIR must not be empty")
	}
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH must not be empty")
	}
	if c.SimilarityThreshold < -1 || c.SimilarityThreshold > 1 {
		return fmt.Errorf("SIMILARITY_THRESHOLD must be within [-1, 1], got %f", c.SimilarityThreshold)
	}
	if c.VerifyTimeoutSecs <= 0 {
		return fmt.Errorf("VERIFY_TIMEOUT_SECS must be positive, got %d", c.VerifyTimeoutSecs)
	}
	if c.WarmupFrames < 0 {
		return fmt.Errorf("WARMUP_FRAMES must not be negative, got %d", c.WarmupFrames)
	}
	if c.FramesPerVerify <= 0 {
		return fmt.Errorf("FRAMES_PER_VERIFY must be positive, got %d", c.FramesPerVerify)
	}
	if c.FramesPerEnroll <= 0 {
		return fmt.Errorf("FRAMES_PER_ENROLL must be positive, got %d", c.FramesPerEnroll)
	}
	return nil
}

// DetectorModelPath returns the configured path to the SCRFD detector.
func (c *Config) DetectorModelPath() string {
	return c.ModelDir + "/det_10g.onnx"
}

// RecognizerModelPath returns the configured path to the ArcFace recognizer.
func (c *Config) RecognizerModelPath() string {
	return c.ModelDir + "/w600k_r50.onnx"
}

// KeyFilePath returns the path of the per-installation AES key file,
// stored beside the database per spec §6 ({dirname(DB_PATH)}/.key).
func (c *Config) KeyFilePath() string {
	return filepath.Join(filepath.Dir(c.DBPath), ".key")
}
