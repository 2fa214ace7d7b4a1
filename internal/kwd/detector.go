package kwd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cvejlbo/avs-device-sdk/internal/audio"
	"github.com/cvejlbo/avs-device-sdk/internal/metrics"
)

const (
	// DefaultPipePath is where the vendor runtime signals detections
	DefaultPipePath = "/home/pi/ndp-kwd"
	// DefaultKeyword is the only keyword the vendor model reports
	DefaultKeyword = "alexa"
	// DefaultAckSize is the length of one detection frame, len("alexa\n")
	DefaultAckSize = 6
	// DefaultReadTimeout bounds each blocking stream read
	DefaultReadTimeout = time.Second
	// DefaultScratchSamples is the drain buffer size in 16-bit words
	DefaultScratchSamples = 384 * 100

	// UnspecifiedIndex marks a stream index the engine did not report
	UnspecifiedIndex audio.Index = math.MaxUint64
)

// defaultPipePath is what an empty Config.PipePath resolves to
var defaultPipePath = DefaultPipePath

var (
	ErrNilStream    = errors.New("stream is nil")
	ErrCreateReader = errors.New("failed to create stream reader")
	ErrOpenPipe     = errors.New("failed to open pipe")
)

// Config controls a Detector. Zero numeric fields and an empty keyword are
// replaced by their defaults; an empty PipePath resolves to DefaultPipePath.
type Config struct {
	PipePath       string
	Keyword        string
	AckSize        int
	ReadTimeout    time.Duration
	ScratchSamples int

	// NotifyInactiveOnStop reports INACTIVE to state observers when the
	// detection loop exits
	NotifyInactiveOnStop bool

	Logger  *slog.Logger
	Metrics *metrics.Metrics
}

// DefaultConfig returns the configuration matching the vendor runtime
func DefaultConfig() Config {
	return Config{
		PipePath:             DefaultPipePath,
		Keyword:              DefaultKeyword,
		AckSize:              DefaultAckSize,
		ReadTimeout:          DefaultReadTimeout,
		ScratchSamples:       DefaultScratchSamples,
		NotifyInactiveOnStop: true,
	}
}

func (c Config) withDefaults() Config {
	if c.Keyword == "" {
		c.Keyword = DefaultKeyword
	}
	if c.AckSize <= 0 {
		c.AckSize = DefaultAckSize
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	if c.ScratchSamples <= 0 {
		c.ScratchSamples = DefaultScratchSamples
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

func resolvePipePath(path string) string {
	if path == "" {
		return defaultPipePath
	}
	return path
}

// Detector drains a shared audio stream and turns activity on the vendor
// pipe into keyword notifications. The vendor runtime does the actual
// keyword spotting; the audio is read only to keep this reader's position
// current so detections carry a meaningful end index.
type Detector struct {
	registry

	stream  *audio.Stream
	format  audio.Format
	cfg     Config
	logger  *slog.Logger
	metrics *metrics.Metrics

	reader  *audio.Reader
	pipe    *Pipe
	scratch []int16
	ack     []byte

	isShuttingDown atomic.Bool
	cancel         context.CancelFunc
	ctx            context.Context
	done           chan struct{}
	closeOnce      sync.Once
	closeErr       error

	baseline      atomic.Uint64
	position      atomic.Uint64
	detections    atomic.Uint64
	drained       atomic.Uint64
	readErrors    atomic.Uint64
	overruns      atomic.Uint64
	pipeErrors    atomic.Uint64
	lastDetection atomic.Int64
}

// Stats represents detector statistics for monitoring
type Stats struct {
	State          State      `json:"state"`
	Running        bool       `json:"running"`
	Keyword        string     `json:"keyword"`
	PipePath       string     `json:"pipe_path"`
	Format         string     `json:"format"`
	BaselineIndex  uint64     `json:"baseline_index"`
	CurrentIndex   uint64     `json:"current_index"`
	Detections     uint64     `json:"detections"`
	SamplesDrained uint64     `json:"samples_drained"`
	ReadErrors     uint64     `json:"read_errors"`
	Overruns       uint64     `json:"overruns"`
	PipeErrors     uint64     `json:"pipe_errors"`
	LastDetection  *time.Time `json:"last_detection,omitempty"`
}

// Create builds a detector on stream and starts its detection loop. It
// returns either a running detector or an error, never a partial one.
func Create(
	stream *audio.Stream,
	format audio.Format,
	keyWordObservers []KeyWordObserver,
	stateObservers []StateObserver,
	cfg Config,
) (*Detector, error) {
	cfg = cfg.withDefaults()
	logger := cfg.Logger.With(slog.String("component", "kwd"))

	if stream == nil {
		logger.Error("createFailed", slog.String("reason", "nullStream"))
		return nil, ErrNilStream
	}

	if !format.IsKeywordCompatible() {
		logger.Warn("Unexpected audio format for keyword detection",
			slog.String("format", format.String()),
		)
	}

	d := &Detector{
		registry: newRegistry(logger),
		stream:   stream,
		format:   format,
		cfg:      cfg,
		logger:   logger,
		metrics:  cfg.Metrics,
		scratch:  make([]int16, cfg.ScratchSamples),
		ack:      make([]byte, cfg.AckSize),
	}
	for _, obs := range keyWordObservers {
		d.AddKeyWordObserver(obs)
	}
	for _, obs := range stateObservers {
		d.AddStateObserver(obs)
	}

	if err := d.init(); err != nil {
		return nil, err
	}
	return d, nil
}

func (d *Detector) init() error {
	reader, err := d.stream.NewReader(audio.Blocking)
	if err != nil {
		d.logger.Error("initFailed",
			slog.String("reason", "createStreamReaderFailed"),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %w", ErrCreateReader, err)
	}

	path := resolvePipePath(d.cfg.PipePath)
	pipe, err := OpenPipe(path)
	if err != nil {
		reader.Close()
		d.logger.Error("initFailed",
			slog.String("reason", "openPipeFailed"),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w %s: %w", ErrOpenPipe, path, err)
	}

	if fifo, err := pipe.IsFIFO(); err == nil && !fifo {
		d.logger.Warn("Pipe path is not a FIFO", slog.String("path", path))
	}

	d.cfg.PipePath = path
	d.reader = reader
	d.pipe = pipe

	d.isShuttingDown.Store(false)
	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.done = make(chan struct{})

	go d.detectionLoop()

	d.logger.Info("Keyword detector created",
		slog.String("pipe", path),
		slog.String("keyword", d.cfg.Keyword),
		slog.String("format", d.format.String()),
		slog.Duration("read_timeout", d.cfg.ReadTimeout),
	)
	return nil
}

// Close stops the detection loop and waits for it to exit. Teardown takes
// at most about one ReadTimeout. Calling Close more than once is a no-op.
func (d *Detector) Close() error {
	d.closeOnce.Do(func() {
		d.isShuttingDown.Store(true)
		if d.cancel != nil {
			d.cancel()
		}
		if d.done != nil {
			<-d.done
		}
		if d.pipe != nil {
			d.closeErr = d.pipe.Close()
		}
		d.logger.Info("Keyword detector closed",
			slog.Uint64("detections", d.detections.Load()),
			slog.Uint64("samples_drained", d.drained.Load()),
		)
	})
	return d.closeErr
}

// Done is closed when the detection loop has exited
func (d *Detector) Done() <-chan struct{} {
	return d.done
}

// Format returns the audio format the detector was created with
func (d *Detector) Format() audio.Format {
	return d.format
}

// Stats returns current detector statistics
func (d *Detector) Stats() Stats {
	running := true
	select {
	case <-d.done:
		running = false
	default:
	}

	stats := Stats{
		State:          d.State(),
		Running:        running,
		Keyword:        d.cfg.Keyword,
		PipePath:       d.cfg.PipePath,
		Format:         d.format.String(),
		BaselineIndex:  d.baseline.Load(),
		CurrentIndex:   d.position.Load(),
		Detections:     d.detections.Load(),
		SamplesDrained: d.drained.Load(),
		ReadErrors:     d.readErrors.Load(),
		Overruns:       d.overruns.Load(),
		PipeErrors:     d.pipeErrors.Load(),
	}
	if ns := d.lastDetection.Load(); ns != 0 {
		t := time.Unix(0, ns)
		stats.LastDetection = &t
	}
	return stats
}

func (d *Detector) detectionLoop() {
	defer close(d.done)

	start := d.reader.Tell()
	d.baseline.Store(start)
	d.position.Store(start)

	d.logger.Info("Detection loop started", slog.Uint64("baseline_index", start))
	d.metrics.SetDetectorActive(true)
	d.notifyStateObservers(StateActive)

	for !d.isShuttingDown.Load() {
		d.drainStream()
		d.pollPipe()
	}

	d.reader.Close()
	d.metrics.SetDetectorActive(false)
	if d.cfg.NotifyInactiveOnStop {
		d.notifyStateObservers(StateInactive)
	}

	d.logger.Info("Detection loop stopped", slog.Uint64("end_index", d.position.Load()))
}

// drainStream reads and discards audio. Errors are logged and counted,
// never returned.
func (d *Detector) drainStream() {
	n, err := d.reader.Read(d.scratch, d.cfg.ReadTimeout)
	if n > 0 {
		d.drained.Add(uint64(n))
		d.metrics.RecordSamplesDrained(n)
	}
	d.position.Store(d.reader.Tell())

	if err == nil {
		return
	}

	switch {
	case errors.Is(err, audio.ErrOverrun):
		d.overruns.Add(1)
		d.metrics.RecordOverrun()
		d.logger.Warn("Stream reader overrun, seeking to writer",
			slog.Uint64("index", d.position.Load()),
		)
		if err := d.reader.Seek(0, audio.ReferenceBeforeWriter); err != nil {
			d.logger.Error("Failed to seek stream reader", slog.String("error", err.Error()))
		}
		d.position.Store(d.reader.Tell())

	case errors.Is(err, audio.ErrTimedOut):
		d.metrics.RecordReadError("timeout")
		d.logger.Debug("Stream read timed out", slog.Duration("timeout", d.cfg.ReadTimeout))

	case errors.Is(err, audio.ErrWriterClosed):
		// Nothing will ever arrive; pace the loop instead of spinning
		d.metrics.RecordReadError("writer_closed")
		d.logger.Debug("Stream writer closed")
		select {
		case <-d.ctx.Done():
		case <-time.After(d.cfg.ReadTimeout):
		}

	default:
		d.readErrors.Add(1)
		d.metrics.RecordReadError("other")
		d.logger.Error("Failed to read from stream", slog.String("error", err.Error()))
	}
}

// pollPipe raises one keyword event if any bytes are pending on the pipe
func (d *Detector) pollPipe() {
	avail, err := d.pipe.BytesAvailable()
	if err != nil {
		d.pipeErrors.Add(1)
		d.metrics.RecordPipeError("ioctl")
		d.logger.Error("Failed to query pipe", slog.String("error", err.Error()))
		return
	}
	if avail <= 0 {
		return
	}

	n, err := d.pipe.ReadAck(d.ack)
	if err != nil {
		d.pipeErrors.Add(1)
		d.metrics.RecordPipeError("read")
		d.logger.Error("Failed to read pipe acknowledgment", slog.String("error", err.Error()))
	}

	end := d.reader.Tell()
	d.position.Store(end)
	d.detections.Add(1)
	d.lastDetection.Store(time.Now().UnixNano())
	d.metrics.RecordDetection(d.cfg.Keyword)

	d.logger.Info("Keyword detected",
		slog.String("keyword", d.cfg.Keyword),
		slog.Uint64("end_index", end),
		slog.Int("pending_bytes", avail),
		slog.Int("ack_bytes", n),
	)

	d.notifyKeyWordObservers(d.stream, d.cfg.Keyword, UnspecifiedIndex, end)
}
