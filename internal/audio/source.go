package audio

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"
)

// FileSource replays a WAV file into a stream at real-time pace
type FileSource struct {
	path     string
	loop     bool
	frame    time.Duration
	logger   *slog.Logger
	samples  []int16
	info     *WAVInfo
	written  uint64
	finished chan struct{}
}

// NewFileSource loads path and checks it against the stream format
func NewFileSource(path string, format Format, loop bool, logger *slog.Logger) (*FileSource, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open WAV file %s: %w", path, err)
	}
	defer f.Close()

	samples, info, err := DecodeWAV(f)
	if err != nil {
		return nil, fmt.Errorf("failed to decode WAV file %s: %w", path, err)
	}

	if int(info.SampleRate) != format.SampleRateHz {
		return nil, fmt.Errorf("WAV sample rate %d Hz does not match stream rate %d Hz", info.SampleRate, format.SampleRateHz)
	}

	return &FileSource{
		path:     path,
		loop:     loop,
		frame:    20 * time.Millisecond,
		logger:   logger,
		samples:  samples,
		info:     info,
		finished: make(chan struct{}),
	}, nil
}

// Info returns the decoded WAV metadata
func (s *FileSource) Info() *WAVInfo {
	return s.info
}

// Done is closed when Run returns
func (s *FileSource) Done() <-chan struct{} {
	return s.finished
}

// Run writes the file in 20 ms frames until the file ends (or forever when
// looping) or ctx is cancelled. The writer is not closed.
func (s *FileSource) Run(ctx context.Context, w *Writer) error {
	defer close(s.finished)

	frameSamples := int(s.info.SampleRate) * int(s.frame/time.Millisecond) / 1000
	if frameSamples <= 0 {
		frameSamples = 1
	}

	ticker := time.NewTicker(s.frame)
	defer ticker.Stop()

	s.logger.Info("WAV source started",
		slog.String("path", s.path),
		slog.Float64("duration", s.info.Duration),
		slog.Bool("loop", s.loop),
	)

	pos := 0
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("WAV source stopping", slog.Uint64("samples_written", s.written))
			return nil
		case <-ticker.C:
		}

		end := pos + frameSamples
		if end > len(s.samples) {
			end = len(s.samples)
		}

		n, err := w.Write(s.samples[pos:end])
		if err != nil {
			return fmt.Errorf("failed to write WAV frame: %w", err)
		}
		s.written += uint64(n)
		pos = end

		if pos >= len(s.samples) {
			if !s.loop {
				s.logger.Info("WAV source finished", slog.Uint64("samples_written", s.written))
				return nil
			}
			pos = 0
		}
	}
}
