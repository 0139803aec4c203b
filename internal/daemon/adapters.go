package daemon

import "github.com/visage-project/visage/internal/frame"

// CameraDevice adapts *frame.Device to the Camera interface, converting
// away the frame package's richer Frame type (timestamp, sequence, dark
// flag) that the engine doesn't need.
type CameraDevice struct {
	Device *frame.Device
}

// CaptureFrames implements Camera.
func (c CameraDevice) CaptureFrames(count int) ([]*CapturedFrame, int, error) {
	frames, darkSkipped, err := c.Device.CaptureFrames(count)
	if err != nil {
		return nil, darkSkipped, err
	}
	out := make([]*CapturedFrame, len(frames))
	for i, f := range frames {
		out[i] = &CapturedFrame{Data: f.Data, Width: f.Width, Height: f.Height}
	}
	return out, darkSkipped, nil
}
