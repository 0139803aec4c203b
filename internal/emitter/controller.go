package emitter

import (
	"fmt"
	"os"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/visage-project/visage/internal/logging"
)

// UVCIOC_CTRL_QUERY ioctl constant, derived from the kernel UAPI header
// (include/uapi/linux/uvcvideo.h): _IOWR('u', 0x21, struct
// uvc_xu_control_query). Encoding: dir(3=RW) << 30 | size(16) << 16 |
// type('u'=0x75) << 8 | nr(0x21).
const uvcIoctlCtrlQuery = 0xc0107521

// UVC_SET_CUR is the Video Class-Specific Request Code for "set current
// value" (linux/usb/video.h).
const uvcSetCur = 0x01

const emitterSettleDelay = 100 * time.Millisecond

// uvcXUControlQuery mirrors struct uvc_xu_control_query (16 bytes on a
// 64-bit kernel: 4 scalar bytes, 2 bytes of size, 2 bytes padding before
// the 8-byte-aligned data pointer).
type uvcXUControlQuery struct {
	unit     uint8
	selector uint8
	query    uint8
	_        uint8
	size     uint16
	_        uint16
	data     *byte
}

// Controller drives a single camera's IR emitter according to its
// resolved quirk entry. A nil quirk means the camera has no known
// emitter — Activate/Deactivate become no-ops, and capture proceeds
// under ambient light.
type Controller struct {
	devicePath string
	quirk      *Quirk
}

// NewController resolves the quirk for devicePath via its USB VID:PID and
// returns a controller bound to it (spec.md §4.5 "Quirk resolution").
func NewController(devicePath string) *Controller {
	c := &Controller{devicePath: devicePath}
	vid, pid, ok := USBIDs(devicePath)
	if !ok {
		logging.Component("emitter").WithField("device", devicePath).
			Info("no USB identity resolvable, IR emitter disabled for this device")
		return c
	}
	c.quirk = Lookup(vid, pid)
	if c.quirk == nil {
		logging.Component("emitter").WithFields(logging.Fields{
			"device": devicePath, "vid": fmt.Sprintf("0x%04x", vid), "pid": fmt.Sprintf("0x%04x", pid),
		}).Info("no quirk entry for this camera, IR emitter disabled")
	}
	return c
}

// HasEmitter reports whether a quirk entry was resolved for this device.
func (c *Controller) HasEmitter() bool {
	return c.quirk != nil
}

// Activate sends the quirk's activation control bytes and sleeps
// emitterSettleDelay to let the sensor's auto-gain settle. Failures are
// logged, never returned: the emitter is an enhancement, and a bug in its
// quirk bytes must never deny authentication below the level of a camera
// with no emitter support (spec.md §4.5 "Lifetime").
func (c *Controller) Activate() {
	if c.quirk == nil {
		return
	}
	if err := c.sendControl(c.quirk.ControlBytes); err != nil {
		logging.Component("emitter").WithError(err).Warn("IR emitter activation failed, continuing under ambient light")
		return
	}
	time.Sleep(emitterSettleDelay)
}

// Deactivate sends a zero-filled payload of the same length as the
// activation bytes. Failures are logged, never returned.
func (c *Controller) Deactivate() {
	if c.quirk == nil {
		return
	}
	zero := make([]byte, len(c.quirk.ControlBytes))
	if err := c.sendControl(zero); err != nil {
		logging.Component("emitter").WithError(err).Warn("IR emitter deactivation failed")
	}
}

// sendControl opens the camera device independently for read+write,
// issues the UVC extension-unit SET_CUR ioctl, and closes the fd —
// spec.md §4.5's "Activation protocol".
func (c *Controller) sendControl(payload []byte) error {
	file, err := os.OpenFile(c.devicePath, os.O_RDWR, 0)
	if err != nil {
		return fmt.Errorf("opening %s: %w", c.devicePath, err)
	}
	defer file.Close()

	if len(payload) == 0 {
		return fmt.Errorf("empty control payload")
	}

	query := uvcXUControlQuery{
		unit:     c.quirk.Unit,
		selector: c.quirk.Selector,
		query:    uvcSetCur,
		size:     uint16(len(payload)),
		data:     &payload[0],
	}

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, file.Fd(), uvcIoctlCtrlQuery, uintptr(unsafe.Pointer(&query)))
	if errno != 0 {
		return fmt.Errorf("UVCIOC_CTRL_QUERY: %w", errno)
	}
	return nil
}
