package mount

import (
	"fmt"
	"runtime"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Syscall calls mount(2) directly. The NUL-terminated buffers are allocated
// here and stay reachable until the kernel returns, on every path.
func Syscall(source, target, fstype string, flags uintptr, data *string) error {
	src, err := unix.BytePtrFromString(source)
	if err != nil {
		return fmt.Errorf("%w: source: %w", ErrInvalidArgument, err)
	}
	tgt, err := unix.BytePtrFromString(target)
	if err != nil {
		return fmt.Errorf("%w: target: %w", ErrInvalidArgument, err)
	}
	typ, err := unix.BytePtrFromString(fstype)
	if err != nil {
		return fmt.Errorf("%w: fstype: %w", ErrInvalidArgument, err)
	}

	// some filesystems reject an empty data string but accept NULL
	var dat *byte
	if data != nil {
		if dat, err = unix.BytePtrFromString(*data); err != nil {
			return fmt.Errorf("%w: data: %w", ErrInvalidArgument, err)
		}
	}

	_, _, errno := unix.Syscall6(unix.SYS_MOUNT,
		uintptr(unsafe.Pointer(src)),
		uintptr(unsafe.Pointer(tgt)),
		uintptr(unsafe.Pointer(typ)),
		flags,
		uintptr(unsafe.Pointer(dat)),
		0)

	runtime.KeepAlive(src)
	runtime.KeepAlive(tgt)
	runtime.KeepAlive(typ)
	runtime.KeepAlive(dat)

	if errno != 0 {
		return errno
	}
	return nil
}
