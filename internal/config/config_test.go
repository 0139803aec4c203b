package config

import "testing"

func TestDefaultMatchesSpec(t *testing.T) {
	cfg := Default()

	if cfg.CameraDevice != "/dev/video2" {
		t.Errorf("CameraDevice = %q, want /dev/video2", cfg.CameraDevice)
	}
	if cfg.SimilarityThreshold != 0.40 {
		t.Errorf("SimilarityThreshold = %v, want 0.40", cfg.SimilarityThreshold)
	}
	if cfg.VerifyTimeoutSecs != 10 {
		t.Errorf("VerifyTimeoutSecs = %d, want 10", cfg.VerifyTimeoutSecs)
	}
	if cfg.WarmupFrames != 4 {
		t.Errorf("WarmupFrames = %d, want 4", cfg.WarmupFrames)
	}
	if cfg.FramesPerVerify != 3 {
		t.Errorf("FramesPerVerify = %d, want 3", cfg.FramesPerVerify)
	}
	if cfg.FramesPerEnroll != 5 {
		t.Errorf("FramesPerEnroll = %d, want 5", cfg.FramesPerEnroll)
	}
	if !cfg.EmitterEnabled {
		t.Errorf("EmitterEnabled = false, want true")
	}
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("CAMERA_DEVICE", "/dev/video7")
	t.Setenv("SIMILARITY_THRESHOLD", "0.55")
	t.Setenv("EMITTER_ENABLED", "0")
	t.Setenv("SESSION_BUS", "1")

	cfg, err := FromEnv()
	if err != nil {
		t.Fatalf("FromEnv returned error: %v", err)
	}
	if cfg.CameraDevice != "/dev/video7" {
		t.Errorf("CameraDevice = %q, want /dev/video7", cfg.CameraDevice)
	}
	if cfg.SimilarityThreshold != 0.55 {
		t.Errorf("SimilarityThreshold = %v, want 0.55", cfg.SimilarityThreshold)
	}
	if cfg.EmitterEnabled {
		t.Errorf("EmitterEnabled = true, want false")
	}
	if !cfg.SessionBus {
		t.Errorf("SessionBus = false, want true")
	}
}

func TestFromEnvRejectsInvalidFloat(t *testing.T) {
	t.Setenv("SIMILARITY_THRESHOLD", "not-a-number")
	if _, err := FromEnv(); err == nil {
		t.Fatal("expected error for invalid SIMILARITY_THRESHOLD")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"empty camera device", func(c *Config) { c.CameraDevice = "" }},
		{"threshold too high", func(c *Config) { c.SimilarityThreshold = 2 }},
		{"zero verify timeout", func(c *Config) { c.VerifyTimeoutSecs = 0 }},
		{"negative warmup", func(c *Config) { c.WarmupFrames = -1 }},
		{"zero frames per verify", func(c *Config) { c.FramesPerVerify = 0 }},
		{"zero frames per enroll", func(c *Config) { c.FramesPerEnroll = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mut(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestKeyFilePathBesideDB(t *testing.T) {
	cfg := Default()
	cfg.DBPath = "/var/lib/visage/faces.db"

	got := cfg.KeyFilePath()
	want := "/var/lib/visage/.key"
	if got != want {
		t.Errorf("KeyFilePath() = %q, want %q", got, want)
	}
}
