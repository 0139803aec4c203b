package vision

import (
	"fmt"
	"regexp"

	ort "github.com/yalue/onnxruntime_go"

	"github.com/visage-project/visage/internal/logging"
)

const (
	detectorInputSize     = 640
	detectorScoreThresh   = 0.5
	detectorIoUThresh     = 0.4
	detectorAnchorsPerLoc = 2
)

var detectorStrides = [3]int{8, 16, 32}

var (
	scorePattern = regexp.MustCompile(`(?i)score`)
	bboxPattern  = regexp.MustCompile(`(?i)bbox|box`)
	kpsPattern   = regexp.MustCompile(`(?i)kps|landmark|pts`)
)

// stride0..2 ordering mirrors detectorStrides; positional fallback is
// {score0, bbox0, kps0, score1, bbox1, kps1, score2, bbox2, kps2}.
var detectorOutputPatterns = []*regexp.Regexp{
	scorePattern, bboxPattern, kpsPattern,
	scorePattern, bboxPattern, kpsPattern,
	scorePattern, bboxPattern, kpsPattern,
}

// Detector wraps an ONNX Runtime session running a SCRFD-style detector
// fixed to a 640x640 input, producing bounding boxes with 5-point
// landmarks in original-frame pixel coordinates.
type Detector struct {
	session     *ort.AdvancedSession
	input       *ort.Tensor[float32]
	scoreOut    [3]*ort.Tensor[float32]
	bboxOut     [3]*ort.Tensor[float32]
	kpsOut      [3]*ort.Tensor[float32]
	gridSize    [3]int
	outputNames []string
}

// NewDetector loads the SCRFD ONNX model at modelPath, resolving its
// output tensor names by pattern (falling back to the positional layout
// documented in spec.md §4.3) and logging the resolved mapping.
func NewDetector(modelPath string) (*Detector, error) {
	if err := ensureRuntime(); err != nil {
		return nil, fmt.Errorf("initializing onnx runtime: %w", err)
	}

	inputs, outputs, err := describeModelInputOutput(modelPath)
	if err != nil {
		return nil, err
	}
	if len(inputs) < 1 {
		return nil, fmt.Errorf("detector model %s declares no inputs", modelPath)
	}
	declaredOutputs := namesOf(outputs)
	if len(declaredOutputs) != 9 {
		return nil, fmt.Errorf("detector model %s has %d outputs, want 9 (3 strides x score/bbox/kps)", modelPath, len(declaredOutputs))
	}

	resolved, ok := resolveOutputNames(declaredOutputs, detectorOutputPatterns)
	if !ok {
		logging.Component("vision").Warnf("detector %s: output names did not match known patterns, using positional layout", modelPath)
		resolved = declaredOutputs
	}
	logging.Component("vision").WithField("outputs", resolved).Info("resolved detector output tensor names")

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, detectorInputSize, detectorInputSize))
	if err != nil {
		return nil, fmt.Errorf("allocating detector input tensor: %w", err)
	}

	d := &Detector{input: inputTensor, outputNames: resolved}
	outputValues := make([]ort.Value, 9)
	for level, stride := range detectorStrides {
		grid := detectorInputSize / stride
		d.gridSize[level] = grid
		n := int64(grid * grid * detectorAnchorsPerLoc)

		scoreT, err := ort.NewEmptyTensor[float32](ort.NewShape(1, n, 1))
		if err != nil {
			inputTensor.Destroy()
			return nil, fmt.Errorf("allocating score%d tensor: %w", level, err)
		}
		bboxT, err := ort.NewEmptyTensor[float32](ort.NewShape(1, n, 4))
		if err != nil {
			scoreT.Destroy()
			inputTensor.Destroy()
			return nil, fmt.Errorf("allocating bbox%d tensor: %w", level, err)
		}
		kpsT, err := ort.NewEmptyTensor[float32](ort.NewShape(1, n, 10))
		if err != nil {
			scoreT.Destroy()
			bboxT.Destroy()
			inputTensor.Destroy()
			return nil, fmt.Errorf("allocating kps%d tensor: %w", level, err)
		}

		d.scoreOut[level] = scoreT
		d.bboxOut[level] = bboxT
		d.kpsOut[level] = kpsT
		outputValues[level*3+0] = scoreT
		outputValues[level*3+1] = bboxT
		outputValues[level*3+2] = kpsT
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{inputs[0].Name}, resolved,
		[]ort.Value{inputTensor}, outputValues, nil)
	if err != nil {
		d.destroyTensors()
		return nil, fmt.Errorf("creating detector session for %s: %w", modelPath, err)
	}
	d.session = session

	return d, nil
}

func (d *Detector) destroyTensors() {
	if d.input != nil {
		d.input.Destroy()
	}
	for i := 0; i < 3; i++ {
		if d.scoreOut[i] != nil {
			d.scoreOut[i].Destroy()
		}
		if d.bboxOut[i] != nil {
			d.bboxOut[i].Destroy()
		}
		if d.kpsOut[i] != nil {
			d.kpsOut[i].Destroy()
		}
	}
}

// Close releases the underlying ONNX Runtime session and tensors.
func (d *Detector) Close() error {
	if d.session != nil {
		d.session.Destroy()
	}
	d.destroyTensors()
	return nil
}

// Detect runs the detector on a grayscale frame, returning bounding boxes
// with 5-point landmarks in original-frame pixel coordinates, sorted by
// descending confidence, after non-max suppression.
func (d *Detector) Detect(frame []byte, width, height int) ([]BoundingBox, error) {
	chw, lb := letterboxCHW(frame, width, height, detectorInputSize, letterboxPad, 1.0/128)
	copy(d.input.GetData(), chw)

	if err := d.session.Run(); err != nil {
		return nil, fmt.Errorf("detector inference: %w", err)
	}

	var candidates []BoundingBox
	for level, stride := range detectorStrides {
		candidates = append(candidates, decodeStrideLevel(
			d.scoreOut[level].GetData(),
			d.bboxOut[level].GetData(),
			d.kpsOut[level].GetData(),
			d.gridSize[level], stride, lb,
		)...)
	}

	return nonMaxSuppression(candidates, detectorIoUThresh), nil
}

// decodeStrideLevel decodes one SCRFD output level: anchor centers are
// laid out row-major over the stride's grid, with detectorAnchorsPerLoc
// anchors sharing each center. bbox is a 4-value (left, top, right,
// bottom) distance-from-center regression in stride units; kps is 5
// (x, y) offsets in stride units. Coordinates are mapped out of
// letterboxed model space back into original-frame pixels via lb.
func decodeStrideLevel(scores, bboxes, kps []float32, grid, stride int, lb letterbox) []BoundingBox {
	var out []BoundingBox

	for gy := 0; gy < grid; gy++ {
		for gx := 0; gx < grid; gx++ {
			cx := (float32(gx) + 0.5) * float32(stride)
			cy := (float32(gy) + 0.5) * float32(stride)

			for a := 0; a < detectorAnchorsPerLoc; a++ {
				idx := (gy*grid+gx)*detectorAnchorsPerLoc + a
				score := sigmoid(scores[idx])
				if score <= detectorScoreThresh {
					continue
				}

				b := bboxes[idx*4 : idx*4+4]
				x1 := cx - b[0]*float32(stride)
				y1 := cy - b[1]*float32(stride)
				x2 := cx + b[2]*float32(stride)
				y2 := cy + b[3]*float32(stride)

				k := kps[idx*10 : idx*10+10]
				var landmarks [5]Point
				for p := 0; p < 5; p++ {
					lx := cx + k[p*2]*float32(stride)
					ly := cy + k[p*2+1]*float32(stride)
					sx, sy := lb.fromDst(lx, ly)
					landmarks[p] = Point{X: sx, Y: sy}
				}

				sx1, sy1 := lb.fromDst(x1, y1)
				sx2, sy2 := lb.fromDst(x2, y2)

				out = append(out, BoundingBox{
					X:          sx1,
					Y:          sy1,
					Width:      sx2 - sx1,
					Height:     sy2 - sy1,
					Confidence: score,
					Landmarks:  landmarks,
				})
			}
		}
	}

	return out
}
