//go:build !linux && !darwin

package kwd

import (
	"errors"
	"io/fs"
)

// ErrPipeUnsupported is returned on platforms without FIONREAD pipes
var ErrPipeUnsupported = errors.New("named pipes are not supported on this platform")

type Pipe struct {
	path string
}

func OpenPipe(path string) (*Pipe, error) {
	return nil, &fs.PathError{Op: "open", Path: path, Err: ErrPipeUnsupported}
}

func (p *Pipe) Path() string { return p.path }
func (p *Pipe) IsFIFO() (bool, error) { return false, ErrPipeUnsupported }
func (p *Pipe) BytesAvailable() (int, error) { return 0, ErrPipeUnsupported }
func (p *Pipe) ReadAck(buf []byte) (int, error) { return 0, ErrPipeUnsupported }
func (p *Pipe) Close() error { return nil }

func MakeFIFO(path string, mode uint32) error {
	return &fs.PathError{Op: "mkfifo", Path: path, Err: ErrPipeUnsupported}
}

func Signal(path string, payload []byte) error {
	return &fs.PathError{Op: "open", Path: path, Err: ErrPipeUnsupported}
}
