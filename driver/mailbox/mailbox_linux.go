package mailbox

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

const (
	vcioMajor    = 100
	iocReadWrite = 3
)

// ioctl request for a property call: _IOWR(100, 0, char *).
const ioctlProperty = iocReadWrite<<30 | unsafe.Sizeof(uintptr(0))<<16 | vcioMajor<<8 | 0

// Open opens the property mailbox through /dev/vcio.
func Open() (*Mailbox, error) {
	f, err := os.OpenFile("/dev/vcio", os.O_RDWR, 0)
	if err != nil {
		return nil, fmt.Errorf("mailbox: %w", err)
	}
	return New(&vcio{f: f}), nil
}

type vcio struct {
	f *os.File
}

func (v *vcio) Call(buf []uint32) error {
	_, _, errno := unix.Syscall(unix.SYS_IOCTL, v.f.Fd(), ioctlProperty, uintptr(unsafe.Pointer(&buf[0])))
	if errno != 0 {
		return fmt.Errorf("ioctl(IOCTL_MBOX_PROPERTY): %w", errno)
	}
	return nil
}

func (v *vcio) Close() error {
	return v.f.Close()
}
