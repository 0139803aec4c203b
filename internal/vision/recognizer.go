package vision

import (
	"fmt"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	recognizerInputSize = 112
	recognizerMean      = 127.5
	recognizerInvStd    = 1.0 / 127.5
	embeddingDim        = 512

	// ModelVersion tags every embedding this package produces, so stored
	// models can be checked for compatibility after a recognizer upgrade.
	ModelVersion = "arcface-r50-v1"
)

// Recognizer wraps an ONNX Runtime session running an ArcFace-style
// embedder on a fixed 112x112 input, producing L2-normalized 512-D
// embeddings.
type Recognizer struct {
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewRecognizer loads the ArcFace ONNX model at modelPath.
func NewRecognizer(modelPath string) (*Recognizer, error) {
	if err := ensureRuntime(); err != nil {
		return nil, fmt.Errorf("initializing onnx runtime: %w", err)
	}

	inputs, outputs, err := describeModelInputOutput(modelPath)
	if err != nil {
		return nil, err
	}
	if len(inputs) < 1 || len(outputs) < 1 {
		return nil, fmt.Errorf("recognizer model %s missing input/output", modelPath)
	}

	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 3, recognizerInputSize, recognizerInputSize))
	if err != nil {
		return nil, fmt.Errorf("allocating recognizer input tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, embeddingDim))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("allocating recognizer output tensor: %w", err)
	}

	session, err := ort.NewAdvancedSession(modelPath,
		[]string{inputs[0].Name}, []string{outputs[0].Name},
		[]ort.Value{inputTensor}, []ort.Value{outputTensor}, nil)
	if err != nil {
		inputTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("creating recognizer session for %s: %w", modelPath, err)
	}

	return &Recognizer{session: session, input: inputTensor, output: outputTensor}, nil
}

// Close releases the underlying ONNX Runtime session and tensors.
func (r *Recognizer) Close() error {
	if r.session != nil {
		r.session.Destroy()
	}
	r.input.Destroy()
	r.output.Destroy()
	return nil
}

// Embed runs the recognizer on a 112x112 aligned grayscale crop (as
// produced by AlignFace), returning an L2-normalized embedding.
func (r *Recognizer) Embed(aligned []byte) (Embedding, error) {
	if len(aligned) != recognizerInputSize*recognizerInputSize {
		return Embedding{}, fmt.Errorf("aligned crop has %d bytes, want %d", len(aligned), recognizerInputSize*recognizerInputSize)
	}

	data := r.input.GetData()
	plane := recognizerInputSize * recognizerInputSize
	for i, p := range aligned {
		v := (float32(p) - recognizerMean) * recognizerInvStd
		data[0*plane+i] = v
		data[1*plane+i] = v
		data[2*plane+i] = v
	}

	if err := r.session.Run(); err != nil {
		return Embedding{}, fmt.Errorf("recognizer inference: %w", err)
	}

	raw := r.output.GetData()
	values := make([]float32, len(raw))
	copy(values, raw)

	emb := Embedding{Values: values, ModelVersion: ModelVersion}.Normalize()
	return emb, nil
}
