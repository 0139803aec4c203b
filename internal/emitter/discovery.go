package emitter

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// USBIDs resolves the USB vendor/product ID backing a /dev/videoN node via
// its sysfs symlink (/sys/class/video4linux/videoN/device -> USB interface
// directory; its parent is the USB device directory holding idVendor/
// idProduct). Returns ok=false if the device isn't USB-backed or sysfs is
// unavailable.
func USBIDs(devicePath string) (vid, pid uint16, ok bool) {
	devName := filepath.Base(devicePath)
	deviceLink := filepath.Join("/sys/class/video4linux", devName, "device")

	interfaceDir, err := filepath.EvalSymlinks(deviceLink)
	if err != nil {
		return 0, 0, false
	}
	usbDeviceDir := filepath.Dir(interfaceDir)

	vidStr, err := os.ReadFile(filepath.Join(usbDeviceDir, "idVendor"))
	if err != nil {
		return 0, 0, false
	}
	pidStr, err := os.ReadFile(filepath.Join(usbDeviceDir, "idProduct"))
	if err != nil {
		return 0, 0, false
	}

	vid64, err := strconv.ParseUint(strings.TrimSpace(string(vidStr)), 16, 16)
	if err != nil {
		return 0, 0, false
	}
	pid64, err := strconv.ParseUint(strings.TrimSpace(string(pidStr)), 16, 16)
	if err != nil {
		return 0, 0, false
	}
	return uint16(vid64), uint16(pid64), true
}

// Driver resolves the kernel driver name backing a /dev/videoN node, for
// discovery diagnostics and IPU6 flagging.
func Driver(devicePath string) (string, bool) {
	devName := filepath.Base(devicePath)
	link := filepath.Join("/sys/class/video4linux", devName, "device", "driver")
	target, err := os.Readlink(link)
	if err != nil {
		return "", false
	}
	return filepath.Base(target), true
}

// IsIPU6Camera reports whether the device's driver name indicates an Intel
// IPU6 camera, which presents under /dev/video* but does not speak V4L2
// capture/UVC and is therefore unsupported (spec.md §4.5 "Discovery").
func IsIPU6Camera(devicePath string) bool {
	driver, ok := Driver(devicePath)
	if !ok {
		return false
	}
	lower := strings.ToLower(driver)
	return strings.Contains(lower, "ipu6") || strings.Contains(lower, "intel_ipu")
}

// DeviceReport is one /dev/videoN node's discovery diagnostics.
type DeviceReport struct {
	Path         string
	Driver       string
	VendorID     uint16
	ProductID    uint16
	HasUSBIDs    bool
	Unsupported  bool
	MatchedQuirk *Quirk
}

// ListDevices enumerates /dev/video0 through /dev/video15 and reports each
// node's driver, USB identity (if resolvable), IPU6-unsupported flag, and
// any matching quirk — the payload behind the daemon's diagnostic
// discovery surface and `Status`'s camera section.
func ListDevices() []DeviceReport {
	var reports []DeviceReport

	for i := 0; i < 16; i++ {
		path := "/dev/video" + strconv.Itoa(i)
		if _, err := os.Stat(path); err != nil {
			continue
		}

		driver, _ := Driver(path)
		report := DeviceReport{Path: path, Driver: driver}

		if IsIPU6Camera(path) {
			report.Unsupported = true
			reports = append(reports, report)
			continue
		}

		if vid, pid, ok := USBIDs(path); ok {
			report.VendorID = vid
			report.ProductID = pid
			report.HasUSBIDs = true
			report.MatchedQuirk = Lookup(vid, pid)
		}

		reports = append(reports, report)
	}

	return reports
}
