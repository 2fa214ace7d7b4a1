//go:build linux || darwin

package kwd

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"
)

func newFIFO(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ndp-kwd")
	if err := MakeFIFO(path, 0o600); err != nil {
		t.Fatalf("MakeFIFO failed: %v", err)
	}
	return path
}

func TestPipeBytesAvailable(t *testing.T) {
	path := newFIFO(t)

	p, err := OpenPipe(path)
	if err != nil {
		t.Fatalf("OpenPipe failed: %v", err)
	}
	defer p.Close()

	if fifo, err := p.IsFIFO(); err != nil || !fifo {
		t.Errorf("Expected FIFO, got %v, %v", fifo, err)
	}

	n, err := p.BytesAvailable()
	if err != nil {
		t.Fatalf("BytesAvailable failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 bytes on fresh pipe, got %d", n)
	}

	if err := Signal(path, []byte("alexa\n")); err != nil {
		t.Fatalf("Signal failed: %v", err)
	}

	n, err = p.BytesAvailable()
	if err != nil {
		t.Fatalf("BytesAvailable failed: %v", err)
	}
	if n != DefaultAckSize {
		t.Errorf("Expected %d bytes pending, got %d", DefaultAckSize, n)
	}

	buf := make([]byte, DefaultAckSize)
	read, err := p.ReadAck(buf)
	if err != nil {
		t.Fatalf("ReadAck failed: %v", err)
	}
	if read != DefaultAckSize || string(buf) != "alexa\n" {
		t.Errorf("Unexpected ack %q (%d bytes)", buf[:read], read)
	}

	if n, _ := p.BytesAvailable(); n != 0 {
		t.Errorf("Expected pipe drained, got %d bytes", n)
	}
}

func TestPipeReadAckEmpty(t *testing.T) {
	p, err := OpenPipe(newFIFO(t))
	if err != nil {
		t.Fatalf("OpenPipe failed: %v", err)
	}
	defer p.Close()

	// No writer has ever opened the FIFO: read must not block
	n, err := p.ReadAck(make([]byte, DefaultAckSize))
	if err != nil {
		t.Fatalf("ReadAck failed: %v", err)
	}
	if n != 0 {
		t.Errorf("Expected 0 bytes, got %d", n)
	}
}

func TestOpenPipeMissing(t *testing.T) {
	_, err := OpenPipe(filepath.Join(t.TempDir(), "missing"))
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("Expected fs.ErrNotExist, got %v", err)
	}
}

func TestOpenPipeRegularFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plain")
	if err := os.WriteFile(path, nil, 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}

	p, err := OpenPipe(path)
	if err != nil {
		t.Fatalf("OpenPipe failed: %v", err)
	}
	defer p.Close()

	if fifo, err := p.IsFIFO(); err != nil || fifo {
		t.Errorf("Expected regular file to not be a FIFO, got %v, %v", fifo, err)
	}
}

func TestSignalWithoutReader(t *testing.T) {
	if err := Signal(newFIFO(t), []byte("alexa\n")); err == nil {
		t.Error("Expected error when no reader has the pipe open")
	}
}

func TestPipeCloseTwice(t *testing.T) {
	p, err := OpenPipe(newFIFO(t))
	if err != nil {
		t.Fatalf("OpenPipe failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}
}
