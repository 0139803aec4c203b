// Package daemon hosts the engine worker (C5 core): the single goroutine
// that owns the camera, detector, and recognizer and serializes every
// enroll/verify request against them, plus the per-user failure-rate
// lockout in front of it (spec.md §4.1, §4.5).
package daemon

import (
	"context"
	"errors"
	"fmt"
	"runtime"

	"github.com/visage-project/visage/internal/logging"
	"github.com/visage-project/visage/internal/vision"
)

// ErrNoFaceDetected is returned when no captured frame yielded exactly
// one detected face.
var ErrNoFaceDetected = errors.New("daemon: no face detected in any captured frame")

// ErrTimeout is returned when a request's deadline passes before it
// completes.
var ErrTimeout = errors.New("daemon: request deadline exceeded")

// ErrEngineStopped is returned when a request is submitted to (or is in
// flight on) an engine whose worker goroutine has exited.
var ErrEngineStopped = errors.New("daemon: engine stopped")

// Camera is the capture surface the engine drives. CameraDevice (an
// adapter around internal/frame.Device) satisfies this.
type Camera interface {
	CaptureFrames(count int) ([]*CapturedFrame, int, error)
}

// CapturedFrame mirrors internal/frame.Frame's fields the engine needs,
// decoupling this package from the frame package's full type.
type CapturedFrame struct {
	Data   []byte
	Width  int
	Height int
}

// Detector is the face-detection surface. internal/vision.Detector
// satisfies this.
type Detector interface {
	Detect(frame []byte, width, height int) ([]vision.BoundingBox, error)
}

// Recognizer is the embedding-extraction surface.
// internal/vision.Recognizer satisfies this.
type Recognizer interface {
	Embed(aligned []byte) (vision.Embedding, error)
}

// EmitterController is the IR-illumination surface.
// internal/emitter.Controller satisfies this.
type EmitterController interface {
	Activate()
	Deactivate()
}

// EnrollResult is the outcome of a successful enrollment.
type EnrollResult struct {
	Embedding    vision.Embedding
	QualityScore float32
}

// VerifyResult is the outcome of a verification attempt.
type VerifyResult struct {
	Result      vision.MatchResult
	BestQuality float32
}

type enrollRequest struct {
	ctx         context.Context
	framesCount int
	reply       chan enrollReply
}

type enrollReply struct {
	result EnrollResult
	err    error
}

type verifyRequest struct {
	ctx         context.Context
	gallery     []vision.FaceModel
	threshold   float32
	framesCount int
	reply       chan verifyReply
}

type verifyReply struct {
	result VerifyResult
	err    error
}

// Engine runs detect/align/embed work on one dedicated goroutine, because
// the ONNX Runtime sessions and the camera file descriptor are not safe
// to share across goroutines (spec.md §4.5 "Ownership").
type Engine struct {
	enrollCh chan enrollRequest
	verifyCh chan verifyRequest
	stopped  chan struct{}
}

// Deps bundles the hardware and model handles the engine drives. All
// fields are required.
type Deps struct {
	Camera     Camera
	Emitter    EmitterController
	Detector   Detector
	Recognizer Recognizer
	Matcher    vision.Matcher
}

// requestQueueDepth bounds how many in-flight requests can queue before
// a caller blocks handing one to the engine (spec.md §4.5).
const requestQueueDepth = 4

// NewEngine starts the engine's worker goroutine and returns a handle to
// it. The goroutine runs until ctx is cancelled.
func NewEngine(ctx context.Context, deps Deps) *Engine {
	e := &Engine{
		enrollCh: make(chan enrollRequest, requestQueueDepth),
		verifyCh: make(chan verifyRequest, requestQueueDepth),
		stopped:  make(chan struct{}),
	}
	go e.run(ctx, deps)
	return e
}

func (e *Engine) run(ctx context.Context, deps Deps) {
	// The ONNX Runtime session handles and the V4L2 file descriptor are
	// bound to the thread that created them in spirit if not in the Go
	// runtime's scheduler; pin this goroutine to one OS thread so no
	// other goroutine's work is ever interleaved onto it mid-syscall.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(e.stopped)

	log := logging.Component("engine")
	log.Info("engine worker started")
	defer log.Info("engine worker exiting")

	for {
		select {
		case <-ctx.Done():
			return
		case req := <-e.enrollCh:
			result, err := runEnroll(req.ctx, deps, req.framesCount)
			req.reply <- enrollReply{result: result, err: err}
		case req := <-e.verifyCh:
			result, err := runVerify(req.ctx, deps, req.gallery, req.threshold, req.framesCount)
			req.reply <- verifyReply{result: result, err: err}
		}
	}
}

// Enroll submits an enrollment request and blocks for its reply.
func (e *Engine) Enroll(ctx context.Context, framesCount int) (EnrollResult, error) {
	reply := make(chan enrollReply, 1)
	req := enrollRequest{ctx: ctx, framesCount: framesCount, reply: reply}

	select {
	case e.enrollCh <- req:
	case <-e.stopped:
		return EnrollResult{}, ErrEngineStopped
	case <-ctx.Done():
		return EnrollResult{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.result, r.err
	case <-e.stopped:
		return EnrollResult{}, ErrEngineStopped
	}
}

// Verify submits a verification request and blocks for its reply.
func (e *Engine) Verify(ctx context.Context, gallery []vision.FaceModel, threshold float32, framesCount int) (VerifyResult, error) {
	reply := make(chan verifyReply, 1)
	req := verifyRequest{ctx: ctx, gallery: gallery, threshold: threshold, framesCount: framesCount, reply: reply}

	select {
	case e.verifyCh <- req:
	case <-e.stopped:
		return VerifyResult{}, ErrEngineStopped
	case <-ctx.Done():
		return VerifyResult{}, ctx.Err()
	}

	select {
	case r := <-reply:
		return r.result, r.err
	case <-e.stopped:
		return VerifyResult{}, ErrEngineStopped
	}
}

// deadlineExceeded checks ctx at a frame-capture boundary, per spec.md
// §4.5's "check the deadline at frame-capture boundaries" rule — never an
// ambient timer, an explicit comparison at a safe point between captures.
func deadlineExceeded(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	default:
		return false
	}
}

// runEnroll captures framesCount frames, computes an embedding for every
// frame that detects exactly one face, and averages them weighted by
// detection confidence (spec.md §4.1 "Enroll flow").
func runEnroll(ctx context.Context, deps Deps, framesCount int) (EnrollResult, error) {
	deps.Emitter.Activate()
	frames, darkSkipped, err := deps.Camera.CaptureFrames(framesCount)
	deps.Emitter.Deactivate()
	if err != nil {
		return EnrollResult{}, fmt.Errorf("daemon: capturing enroll frames: %w", err)
	}
	logging.Component("engine").WithFields(logging.Fields{
		"captured": len(frames), "dark_skipped": darkSkipped,
	}).Debug("enroll: captured frames")

	if deadlineExceeded(ctx) {
		return EnrollResult{}, ErrTimeout
	}

	var sum []float32
	var weightSum float32
	var modelVersion string
	contributions := 0

	for _, f := range frames {
		if deadlineExceeded(ctx) {
			return EnrollResult{}, ErrTimeout
		}

		faces, err := deps.Detector.Detect(f.Data, f.Width, f.Height)
		if err != nil {
			return EnrollResult{}, fmt.Errorf("daemon: enroll detection: %w", err)
		}
		if len(faces) != 1 {
			continue
		}
		face := faces[0]

		aligned := vision.AlignFace(f.Data, f.Width, f.Height, face.Landmarks)
		embedding, err := deps.Recognizer.Embed(aligned)
		if err != nil {
			return EnrollResult{}, fmt.Errorf("daemon: enroll embedding: %w", err)
		}

		if sum == nil {
			sum = make([]float32, len(embedding.Values))
		}
		for i, v := range embedding.Values {
			sum[i] += v * face.Confidence
		}
		weightSum += face.Confidence
		modelVersion = embedding.ModelVersion
		contributions++
	}

	if contributions == 0 || weightSum == 0 {
		return EnrollResult{}, ErrNoFaceDetected
	}

	averaged := make([]float32, len(sum))
	for i, v := range sum {
		averaged[i] = v / weightSum
	}
	embedding := vision.Embedding{Values: averaged, ModelVersion: modelVersion}.Normalize()

	return EnrollResult{
		Embedding:    embedding,
		QualityScore: weightSum / float32(contributions),
	}, nil
}

// runVerify captures framesCount frames, computes an embedding for every
// frame that detects exactly one face, compares each against gallery, and
// keeps the best (probe, stored) pair seen across all frames (spec.md
// §4.1 "Verify flow").
func runVerify(ctx context.Context, deps Deps, gallery []vision.FaceModel, threshold float32, framesCount int) (VerifyResult, error) {
	deps.Emitter.Activate()
	frames, darkSkipped, err := deps.Camera.CaptureFrames(framesCount)
	deps.Emitter.Deactivate()
	if err != nil {
		return VerifyResult{}, fmt.Errorf("daemon: capturing verify frames: %w", err)
	}
	logging.Component("engine").WithFields(logging.Fields{
		"captured": len(frames), "dark_skipped": darkSkipped,
	}).Debug("verify: captured frames")

	if deadlineExceeded(ctx) {
		return VerifyResult{Result: vision.MatchResult{}}, ErrTimeout
	}

	var best *vision.MatchResult
	var bestQuality float32
	anyFaceDetected := false

	for _, f := range frames {
		if deadlineExceeded(ctx) {
			return VerifyResult{Result: vision.MatchResult{}}, ErrTimeout
		}

		faces, err := deps.Detector.Detect(f.Data, f.Width, f.Height)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("daemon: verify detection: %w", err)
		}
		if len(faces) != 1 {
			continue
		}
		anyFaceDetected = true
		face := faces[0]

		aligned := vision.AlignFace(f.Data, f.Width, f.Height, face.Landmarks)
		embedding, err := deps.Recognizer.Embed(aligned)
		if err != nil {
			return VerifyResult{}, fmt.Errorf("daemon: verify embedding: %w", err)
		}

		result := deps.Matcher.Compare(embedding, gallery, threshold)
		if best == nil || result.Similarity > best.Similarity {
			best = &result
			bestQuality = face.Confidence
		}
	}

	if !anyFaceDetected {
		return VerifyResult{}, ErrNoFaceDetected
	}

	result := vision.MatchResult{}
	if best != nil {
		result = *best
	}
	return VerifyResult{Result: result, BestQuality: bestQuality}, nil
}
