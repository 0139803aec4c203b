package frame

import (
	"encoding/binary"
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// V4L2 ioctl constants derived from the upstream Linux kernel UAPI header
// (include/uapi/linux/videodev2.h). These are stable ABI: the kernel
// guarantees backward compatibility for UAPI ioctl interfaces.
//
// Encoding: dir(2 bits) << 30 | size << 16 | type('V'=0x56) << 8 | nr.
const (
	v4l2IoctlQueryCap     = 0x80685600 // _IOR('V', 0, v4l2Capability)
	v4l2IoctlGFmt         = 0xc0d05604 // _IOWR('V', 4, v4l2Format)
	v4l2IoctlSFmt         = 0xc0d05605 // _IOWR('V', 5, v4l2Format)
	v4l2IoctlReqBufs      = 0xc0145608 // _IOWR('V', 8, v4l2RequestBuffers)
	v4l2IoctlQueryBuf     = 0xc0585609 // _IOWR('V', 9, v4l2Buffer)
	v4l2IoctlQBuf         = 0xc058560f // _IOWR('V', 15, v4l2Buffer)
	v4l2IoctlDQBuf        = 0xc0585611 // _IOWR('V', 17, v4l2Buffer)
	v4l2IoctlStreamOn     = 0x40045612 // _IOW('V', 18, int)
	v4l2IoctlStreamOff    = 0x40045613 // _IOW('V', 19, int)
)

const (
	v4l2BufTypeVideoCapture = 1
	v4l2MemoryMMAP          = 1
	v4l2CapVideoCapture     = 0x00000001
	v4l2FieldNone           = 1
)

// v4l2Capability mirrors struct v4l2_capability (104 bytes).
type v4l2Capability struct {
	driver       [16]byte
	card         [32]byte
	busInfo      [32]byte
	version      uint32
	capabilities uint32
	deviceCaps   uint32
	reserved     [3]uint32
}

// v4l2PixFormat mirrors struct v4l2_pix_format, embedded in v4l2Format's
// 200-byte union.
type v4l2PixFormat struct {
	width        uint32
	height       uint32
	pixelFormat  uint32
	field        uint32
	bytesPerLine uint32
	sizeImage    uint32
	colorspace   uint32
	priv         uint32
	flags        uint32
	ycbcrEnc     uint32
	quantization uint32
	xferFunc     uint32
}

// v4l2Format mirrors struct v4l2_format: a type tag, 4 bytes of padding
// (the union holds pointers, so the kernel aligns it to 8 bytes), then the
// union sized to its largest member (raw_data[200]), 208 bytes total.
type v4l2Format struct {
	typ uint32
	_   uint32
	raw [200]byte
}

func (f *v4l2Format) pix() *v4l2PixFormat {
	return (*v4l2PixFormat)(unsafe.Pointer(&f.raw[0]))
}

// v4l2RequestBuffers mirrors struct v4l2_requestbuffers (20 bytes).
type v4l2RequestBuffers struct {
	count        uint32
	typ          uint32
	memory       uint32
	capabilities uint32
	flags        uint32
}

// v4l2Timeval mirrors struct timeval on a 64-bit kernel.
type v4l2Timeval struct {
	sec  int64
	usec int64
}

// v4l2Timecode mirrors struct v4l2_timecode (16 bytes).
type v4l2Timecode struct {
	typ      uint32
	flags    uint32
	frames   byte
	seconds  byte
	minutes  byte
	hours    byte
	userbits [4]byte
}

// v4l2Buffer mirrors struct v4l2_buffer (88 bytes on a 64-bit kernel:
// padding before the 8-byte-aligned timestamp, the 8-byte `m` union at
// offset 64, and tail padding after the last field).
type v4l2Buffer struct {
	index     uint32
	typ       uint32
	bytesUsed uint32
	flags     uint32
	field     uint32
	timestamp v4l2Timeval
	timecode  v4l2Timecode
	sequence  uint32
	memory    uint32
	mOffset   uint32 // m.offset (mmap case); union's other members unused here
	_         uint32 // remaining 4 bytes of the m union
	length    uint32
	reserved2 uint32
	request   uint32
}

func ioctl(fd uintptr, req uintptr, arg unsafe.Pointer) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, fd, req, uintptr(arg))
	if errno != 0 {
		return errno
	}
	return nil
}

func queryCap(fd uintptr) (driver, card string, capabilities uint32, err error) {
	var caps v4l2Capability
	if err := ioctl(fd, v4l2IoctlQueryCap, unsafe.Pointer(&caps)); err != nil {
		return "", "", 0, fmt.Errorf("VIDIOC_QUERYCAP: %w", err)
	}
	return cString(caps.driver[:]), cString(caps.card[:]), caps.capabilities, nil
}

func getFormat(fd uintptr) (*v4l2Format, error) {
	var fmtReq v4l2Format
	fmtReq.typ = v4l2BufTypeVideoCapture
	if err := ioctl(fd, v4l2IoctlGFmt, unsafe.Pointer(&fmtReq)); err != nil {
		return nil, fmt.Errorf("VIDIOC_G_FMT: %w", err)
	}
	return &fmtReq, nil
}

func setFormat(fd uintptr, width, height int, fourcc uint32) (*v4l2Format, error) {
	var fmtReq v4l2Format
	fmtReq.typ = v4l2BufTypeVideoCapture
	pix := fmtReq.pix()
	pix.width = uint32(width)
	pix.height = uint32(height)
	pix.pixelFormat = fourcc
	pix.field = v4l2FieldNone

	if err := ioctl(fd, v4l2IoctlSFmt, unsafe.Pointer(&fmtReq)); err != nil {
		return nil, fmt.Errorf("VIDIOC_S_FMT: %w", err)
	}
	return &fmtReq, nil
}

func requestBuffers(fd uintptr, count uint32) (uint32, error) {
	req := v4l2RequestBuffers{
		count:  count,
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryMMAP,
	}
	if err := ioctl(fd, v4l2IoctlReqBufs, unsafe.Pointer(&req)); err != nil {
		return 0, fmt.Errorf("VIDIOC_REQBUFS: %w", err)
	}
	return req.count, nil
}

func queryBuffer(fd uintptr, index uint32) (offset, length uint32, err error) {
	buf := v4l2Buffer{
		index:  index,
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryMMAP,
	}
	if err := ioctl(fd, v4l2IoctlQueryBuf, unsafe.Pointer(&buf)); err != nil {
		return 0, 0, fmt.Errorf("VIDIOC_QUERYBUF: %w", err)
	}
	return buf.mOffset, buf.length, nil
}

func queueBuffer(fd uintptr, index uint32) error {
	buf := v4l2Buffer{
		index:  index,
		typ:    v4l2BufTypeVideoCapture,
		memory: v4l2MemoryMMAP,
	}
	if err := ioctl(fd, v4l2IoctlQBuf, unsafe.Pointer(&buf)); err != nil {
		return fmt.Errorf("VIDIOC_QBUF: %w", err)
	}
	return nil
}

func dequeueBuffer(fd uintptr) (index, bytesUsed, sequence uint32, err error) {
	var buf v4l2Buffer
	buf.typ = v4l2BufTypeVideoCapture
	buf.memory = v4l2MemoryMMAP
	if err := ioctl(fd, v4l2IoctlDQBuf, unsafe.Pointer(&buf)); err != nil {
		return 0, 0, 0, fmt.Errorf("VIDIOC_DQBUF: %w", err)
	}
	return buf.index, buf.bytesUsed, buf.sequence, nil
}

func streamOn(fd uintptr) error {
	typ := uint32(v4l2BufTypeVideoCapture)
	if err := ioctl(fd, v4l2IoctlStreamOn, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMON: %w", err)
	}
	return nil
}

func streamOff(fd uintptr) error {
	typ := uint32(v4l2BufTypeVideoCapture)
	if err := ioctl(fd, v4l2IoctlStreamOff, unsafe.Pointer(&typ)); err != nil {
		return fmt.Errorf("VIDIOC_STREAMOFF: %w", err)
	}
	return nil
}

func cString(b []byte) string {
	n := 0
	for n < len(b) && b[n] != 0 {
		n++
	}
	return string(b[:n])
}

func fourCC(s string) uint32 {
	b := []byte(s)
	for len(b) < 4 {
		b = append(b, ' ')
	}
	return binary.LittleEndian.Uint32(b[:4])
}
