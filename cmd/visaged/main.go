// Command visaged is the Visage daemon (C5): a long-lived, privileged
// process that owns the IR camera, holds pre-loaded ONNX inference models
// in memory, serves a small D-Bus IPC API, and persists encrypted face
// embeddings. It follows spec.md §4.1's fail-fast startup sequence:
// load config, verify model integrity, open the camera and warm it up,
// open the model store, claim the bus name, then serve until a
// termination signal — any failure before step 6 aborts startup rather
// than letting the process run in a degraded state.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/visage-project/visage/internal/config"
	"github.com/visage-project/visage/internal/daemon"
	"github.com/visage-project/visage/internal/emitter"
	"github.com/visage-project/visage/internal/frame"
	"github.com/visage-project/visage/internal/ipc"
	"github.com/visage-project/visage/internal/logging"
	"github.com/visage-project/visage/internal/manifest"
	"github.com/visage-project/visage/internal/store"
	"github.com/visage-project/visage/internal/vision"
)

// shutdownGracePeriod bounds how long run() waits for the engine worker to
// drain an in-flight request before the deferred cleanups close the
// camera, models, and store out from under it.
const shutdownGracePeriod = 500 * time.Millisecond

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "visaged: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Step 1: configuration.
	cfg, err := config.FromEnv()
	if err != nil {
		return fmt.Errorf("loading configuration: %w", err)
	}
	if err := logging.Init("info", ""); err != nil {
		return fmt.Errorf("initializing logging: %w", err)
	}
	log := logging.Component("main")
	log.Info("visaged starting")

	// Step 2: model integrity.
	if err := manifest.Verify(cfg.ModelDir); err != nil {
		return fmt.Errorf("model integrity check failed: %w", err)
	}
	log.Info("model manifest verified")

	// Step 3: camera, models, warm-up.
	if emitter.IsIPU6Camera(cfg.CameraDevice) {
		log.WithField("camera", cfg.CameraDevice).Warn("configured camera looks like an Intel IPU6 node, which does not speak V4L2 capture/UVC and is unsupported")
	}

	camera, err := frame.Open(cfg.CameraDevice)
	if err != nil {
		return fmt.Errorf("opening capture device %s: %w", cfg.CameraDevice, err)
	}
	defer camera.Close()

	if cfg.WarmupFrames > 0 {
		if _, _, err := camera.CaptureFrames(cfg.WarmupFrames); err != nil {
			return fmt.Errorf("discarding %d warm-up frames: %w", cfg.WarmupFrames, err)
		}
		log.WithField("frames", cfg.WarmupFrames).Info("discarded warm-up frames")
	}

	backend := vision.DetectAccelerationBackend()
	log.WithFields(logging.Fields{"backend": backend.Name, "device": backend.DeviceName}).Info("acceleration backend detected")

	detector, err := vision.NewDetector(cfg.DetectorModelPath())
	if err != nil {
		return fmt.Errorf("loading detector model %s: %w", cfg.DetectorModelPath(), err)
	}
	defer detector.Close()

	recognizer, err := vision.NewRecognizer(cfg.RecognizerModelPath())
	if err != nil {
		return fmt.Errorf("loading recognizer model %s: %w", cfg.RecognizerModelPath(), err)
	}
	defer recognizer.Close()

	emitterCtrl := emitter.NewController(cfg.CameraDevice)
	emitterAvailable := cfg.EmitterEnabled && emitterCtrl.HasEmitter()
	log.WithFields(logging.Fields{"emitter_available": emitterAvailable, "enabled": cfg.EmitterEnabled}).Info("emitter controller ready")

	// Step 4: model store.
	st, err := store.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("opening model store %s: %w", cfg.DBPath, err)
	}
	defer st.Close()
	log.Info("model store opened")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	eng := daemon.NewEngine(ctx, daemon.Deps{
		Camera:     daemon.CameraDevice{Device: camera},
		Emitter:    disabledEmitter{emitterCtrl, emitterAvailable},
		Detector:   detector,
		Recognizer: recognizer,
		Matcher:    vision.CosineMatcher{},
	})

	limiter := daemon.NewRateLimiter()

	// Step 5: claim the bus name.
	svc, err := ipc.Register(cfg, eng, st, limiter, emitterAvailable)
	if err != nil {
		return fmt.Errorf("registering on the IPC bus: %w", err)
	}
	defer svc.Close()
	log.Info("visaged ready")

	// Step 6: serve until a termination signal, then drain and exit.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.WithField("signal", sig.String()).Info("shutting down")

	// Give the engine worker a short grace period to finish any in-flight
	// capture before its dependencies (camera, models, store) are closed
	// by the deferred cleanups above (spec.md §5 "Shutdown").
	cancel()
	time.Sleep(shutdownGracePeriod)
	return nil
}

// disabledEmitter wraps an EmitterController so Activate/Deactivate are
// no-ops when the emitter is disabled by configuration or has no quirk
// entry for the detected camera — capture still proceeds under ambient
// light (spec.md §4.5 "Lifetime").
type disabledEmitter struct {
	ctrl      daemon.EmitterController
	available bool
}

func (d disabledEmitter) Activate() {
	if d.available {
		d.ctrl.Activate()
	}
}

func (d disabledEmitter) Deactivate() {
	if d.available {
		d.ctrl.Deactivate()
	}
}
