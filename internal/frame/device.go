package frame

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/visage-project/visage/internal/logging"
)

const (
	mmapBufferCount  = 4
	darkThresholdPct = 0.95
	claheTilesPerAxis = 8
	claheClipLimit    = 0.02
)

// DeviceInfo describes a discovered V4L2 video-capture node.
type DeviceInfo struct {
	Path   string
	Name   string
	Driver string
}

// mmapBuffer is one kernel-owned capture buffer mapped into our address
// space.
type mmapBuffer struct {
	data []byte
}

// Device is an open V4L2 capture device streaming via MMAP buffers.
type Device struct {
	file        *os.File
	fd          uintptr
	width       int
	height      int
	pixelFormat PixelFormat
	buffers     []mmapBuffer
	streaming   bool
	devicePath  string
}

// candidateFourCCs are tried in order; the driver negotiates down to
// whichever it actually supports (spec.md §4.1/§4.2: GREY, YUYV, or Y16).
var candidateFourCCs = []struct {
	fourcc string
	format PixelFormat
}{
	{"YUYV", FormatYUYV},
	{"GREY", FormatGrey},
	{"Y16 ", FormatY16},
}

// Open opens a V4L2 device node, negotiates a supported pixel format at
// 640x360, and allocates MMAP capture buffers.
func Open(devicePath string) (*Device, error) {
	if _, err := os.Stat(devicePath); err != nil {
		return nil, fmt.Errorf("device not found: %s: %w", devicePath, err)
	}

	file, err := os.OpenFile(devicePath, os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", devicePath, err)
	}
	fd := file.Fd()

	driver, card, capabilities, err := queryCap(fd)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("querying capabilities: %w", err)
	}
	if capabilities&v4l2CapVideoCapture == 0 {
		file.Close()
		return nil, fmt.Errorf("%s does not support video capture", devicePath)
	}
	logging.Component("frame").WithFields(logging.Fields{
		"device": devicePath, "driver": driver, "card": card,
	}).Info("opened camera")

	var negotiated *v4l2Format
	var pixelFormat PixelFormat
	var lastErr error
	for _, cand := range candidateFourCCs {
		f, err := setFormat(fd, 640, 360, fourCC(cand.fourcc))
		if err != nil {
			lastErr = err
			continue
		}
		if f.pix().pixelFormat != fourCC(cand.fourcc) {
			lastErr = fmt.Errorf("driver did not accept %s", cand.fourcc)
			continue
		}
		negotiated = f
		pixelFormat = cand.format
		break
	}
	if negotiated == nil {
		file.Close()
		return nil, fmt.Errorf("format negotiation failed (tried YUYV, GREY, Y16): %w", lastErr)
	}

	pix := negotiated.pix()
	d := &Device{
		file:        file,
		fd:          fd,
		width:       int(pix.width),
		height:      int(pix.height),
		pixelFormat: pixelFormat,
		devicePath:  devicePath,
	}
	logging.Component("frame").WithFields(logging.Fields{
		"width": d.width, "height": d.height, "format": pixelFormat,
	}).Info("negotiated format")

	if err := d.setUpBuffers(); err != nil {
		file.Close()
		return nil, err
	}

	return d, nil
}

func (d *Device) setUpBuffers() error {
	count, err := requestBuffers(d.fd, mmapBufferCount)
	if err != nil {
		return fmt.Errorf("requesting buffers: %w", err)
	}

	d.buffers = make([]mmapBuffer, count)
	for i := uint32(0); i < count; i++ {
		offset, length, err := queryBuffer(d.fd, i)
		if err != nil {
			return fmt.Errorf("querying buffer %d: %w", i, err)
		}
		data, err := unix.Mmap(int(d.fd), int64(offset), int(length), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return fmt.Errorf("mmap buffer %d: %w", i, err)
		}
		d.buffers[i].data = data
	}
	return nil
}

func (d *Device) startStreaming() error {
	if d.streaming {
		return nil
	}
	for i := range d.buffers {
		if err := queueBuffer(d.fd, uint32(i)); err != nil {
			return fmt.Errorf("queuing buffer %d: %w", i, err)
		}
	}
	if err := streamOn(d.fd); err != nil {
		return err
	}
	d.streaming = true
	return nil
}

func (d *Device) stopStreaming() {
	if !d.streaming {
		return
	}
	if err := streamOff(d.fd); err != nil {
		logging.Component("frame").WithError(err).Warn("VIDIOC_STREAMOFF failed")
	}
	d.streaming = false
}

// capture dequeues one frame from the stream, converts it to grayscale,
// and re-queues the buffer.
func (d *Device) capture() (*Frame, error) {
	if err := d.startStreaming(); err != nil {
		return nil, err
	}

	index, bytesUsed, sequence, err := dequeueBuffer(d.fd)
	if err != nil {
		return nil, fmt.Errorf("dequeueing buffer: %w", err)
	}
	if int(index) >= len(d.buffers) {
		return nil, fmt.Errorf("dequeued out-of-range buffer index %d", index)
	}
	raw := d.buffers[index].data[:bytesUsed]

	gray, err := d.toGrayscale(raw)
	if err != nil {
		return nil, err
	}

	if err := queueBuffer(d.fd, index); err != nil {
		return nil, fmt.Errorf("re-queuing buffer: %w", err)
	}

	return &Frame{
		Data:      gray,
		Width:     d.width,
		Height:    d.height,
		Timestamp: time.Now(),
		Sequence:  sequence,
		IsDark:    IsDarkFrame(gray, darkThresholdPct),
	}, nil
}

func (d *Device) toGrayscale(buf []byte) ([]byte, error) {
	switch d.pixelFormat {
	case FormatGrey:
		pixels := d.width * d.height
		if len(buf) < pixels {
			return nil, fmt.Errorf("GREY buffer too short: expected %d, got %d", pixels, len(buf))
		}
		out := make([]byte, pixels)
		copy(out, buf[:pixels])
		return out, nil
	case FormatY16:
		return Y16ToGrayscale(buf, d.width, d.height)
	case FormatYUYV:
		return YUYVToGrayscale(buf, d.width, d.height)
	default:
		return nil, fmt.Errorf("unsupported pixel format %v", d.pixelFormat)
	}
}

// CaptureFrames captures up to count non-dark frames, attempting up to
// count*3 raw captures, applying CLAHE enhancement to each accepted frame.
// Returns the good frames and the number of frames rejected as dark.
func (d *Device) CaptureFrames(count int) ([]*Frame, int, error) {
	maxAttempts := count * 3
	good := make([]*Frame, 0, count)
	darkCount := 0

	for i := 0; i < maxAttempts && len(good) < count; i++ {
		f, err := d.capture()
		if err != nil {
			return nil, darkCount, err
		}
		if f.IsDark {
			darkCount++
			logging.Component("frame").WithField("sequence", f.Sequence).Debug("skipping dark frame")
			continue
		}
		CLAHEEnhance(f.Data, f.Width, f.Height, claheTilesPerAxis, claheClipLimit)
		good = append(good, f)
	}

	return good, darkCount, nil
}

// Width returns the negotiated frame width in pixels.
func (d *Device) Width() int { return d.width }

// Height returns the negotiated frame height in pixels.
func (d *Device) Height() int { return d.height }

// DevicePath returns the node path this device was opened from.
func (d *Device) DevicePath() string { return d.devicePath }

// Fd returns the underlying file descriptor. The emitter controller does
// not use it: it opens the same node by path on its own.
func (d *Device) Fd() uintptr { return d.fd }

// Close stops streaming, unmaps buffers, and closes the device node.
func (d *Device) Close() error {
	d.stopStreaming()
	for _, b := range d.buffers {
		if b.data != nil {
			_ = unix.Munmap(b.data)
		}
	}
	return d.file.Close()
}

// ListDevices enumerates /dev/video0 through /dev/video15, returning
// those that support video capture.
func ListDevices() []DeviceInfo {
	var devices []DeviceInfo

	for i := 0; i < 16; i++ {
		path := fmt.Sprintf("/dev/video%d", i)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		file, err := os.OpenFile(path, os.O_RDWR, 0)
		if err != nil {
			continue
		}
		driver, card, capabilities, err := queryCap(file.Fd())
		file.Close()
		if err != nil || capabilities&v4l2CapVideoCapture == 0 {
			continue
		}
		devices = append(devices, DeviceInfo{Path: path, Name: card, Driver: driver})
	}

	return devices
}

