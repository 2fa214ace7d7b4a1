//go:build linux || darwin

package kwd

import (
	"errors"
	"fmt"
	"io/fs"
	"sync"

	"golang.org/x/sys/unix"
)

// Pipe is the read end of the file-system pipe the vendor runtime writes
// to. It is opened non-blocking, so a FIFO with no writer yet neither
// stalls OpenPipe nor ReadAck.
type Pipe struct {
	path   string
	fd     int
	mu     sync.Mutex
	closed bool
}

// OpenPipe opens path read-only
func OpenPipe(path string) (*Pipe, error) {
	fd, err := unix.Open(path, unix.O_RDONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, &fs.PathError{Op: "open", Path: path, Err: err}
	}
	return &Pipe{path: path, fd: fd}, nil
}

// Path returns the file-system path of the pipe
func (p *Pipe) Path() string {
	return p.path
}

// IsFIFO reports whether the opened file is a named pipe
func (p *Pipe) IsFIFO() (bool, error) {
	var st unix.Stat_t
	if err := unix.Fstat(p.fd, &st); err != nil {
		return false, &fs.PathError{Op: "fstat", Path: p.path, Err: err}
	}
	return st.Mode&unix.S_IFMT == unix.S_IFIFO, nil
}

// BytesAvailable returns the number of bytes that can be read without
// blocking (FIONREAD)
func (p *Pipe) BytesAvailable() (int, error) {
	n, err := unix.IoctlGetInt(p.fd, fionread)
	if err != nil {
		return 0, &fs.PathError{Op: "ioctl FIONREAD", Path: p.path, Err: err}
	}
	return n, nil
}

// ReadAck reads up to len(buf) bytes. It returns 0 with no error when
// nothing is pending.
func (p *Pipe) ReadAck(buf []byte) (int, error) {
	n, err := unix.Read(p.fd, buf)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) {
			return 0, nil
		}
		return 0, &fs.PathError{Op: "read", Path: p.path, Err: err}
	}
	return n, nil
}

// Close releases the descriptor. Calling it more than once is a no-op.
func (p *Pipe) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if err := unix.Close(p.fd); err != nil {
		return &fs.PathError{Op: "close", Path: p.path, Err: err}
	}
	return nil
}

// MakeFIFO creates a named pipe at path
func MakeFIFO(path string, mode uint32) error {
	if err := unix.Mkfifo(path, mode); err != nil {
		return &fs.PathError{Op: "mkfifo", Path: path, Err: err}
	}
	return nil
}

// Signal writes payload to the pipe at path the way the vendor runtime does
// on a detection. It fails with ENXIO when no detector has the pipe open.
func Signal(path string, payload []byte) error {
	fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		if errors.Is(err, unix.ENXIO) {
			return fmt.Errorf("no reader on pipe %s: %w", path, err)
		}
		return &fs.PathError{Op: "open", Path: path, Err: err}
	}
	defer unix.Close(fd)

	n, err := unix.Write(fd, payload)
	if err != nil {
		return &fs.PathError{Op: "write", Path: path, Err: err}
	}
	if n != len(payload) {
		return fmt.Errorf("short write to %s: %d of %d bytes", path, n, len(payload))
	}
	return nil
}
