package audio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// Index is an absolute position in a Stream, counted in words (samples)
// since the stream was created. It never wraps.
type Index = uint64

// ReaderPolicy controls what Read does when no data is available
type ReaderPolicy int

const (
	// Blocking readers wait for data up to the requested timeout
	Blocking ReaderPolicy = iota
	// NonBlocking readers return ErrWouldBlock immediately
	NonBlocking
)

func (p ReaderPolicy) String() string {
	switch p {
	case Blocking:
		return "BLOCKING"
	case NonBlocking:
		return "NONBLOCKING"
	default:
		return fmt.Sprintf("ReaderPolicy(%d)", int(p))
	}
}

// Reference selects the origin used by Reader.Seek
type Reference int

const (
	// ReferenceAbsolute seeks to an absolute stream index
	ReferenceAbsolute Reference = iota
	// ReferenceBeforeWriter seeks to offset words behind the writer
	ReferenceBeforeWriter
)

var (
	ErrTooManyReaders = errors.New("too many readers")
	ErrWriterExists   = errors.New("stream already has a writer")
	ErrOverrun        = errors.New("reader overrun by writer")
	ErrTimedOut       = errors.New("read timed out")
	ErrWouldBlock     = errors.New("no data available")
	ErrWriterClosed   = errors.New("writer closed")
	ErrReaderClosed   = errors.New("reader closed")
	ErrInvalidSeek    = errors.New("invalid seek position")
)

// Stream is a shared circular buffer of 16-bit audio words. A single Writer
// appends data, overwriting the oldest words once the buffer is full; any
// number of Readers (up to maxReaders) consume it independently, each
// tracking its own Index.
type Stream struct {
	data       []int16
	maxReaders int

	writeIndex    Index
	writerActive  bool
	writerClosed  bool
	readers       map[*Reader]struct{}
	createdAt     time.Time
	lastWrite     time.Time
	totalWrites   uint64
	overrunsTotal uint64

	mu   sync.Mutex
	cond *sync.Cond
}

// StreamStats represents stream statistics for monitoring
type StreamStats struct {
	CapacityWords int    `json:"capacity_words"`
	WriteIndex    uint64 `json:"write_index"`
	Readers       int    `json:"readers"`
	MaxReaders    int    `json:"max_readers"`
	WriterActive  bool   `json:"writer_active"`
	WriterClosed  bool   `json:"writer_closed"`
	TotalWrites   uint64 `json:"total_writes"`
	Overruns      uint64 `json:"overruns"`
}

// NewStream creates a stream holding capacityWords samples
func NewStream(capacityWords, maxReaders int) (*Stream, error) {
	if capacityWords <= 0 {
		return nil, fmt.Errorf("capacity must be positive, got %d", capacityWords)
	}
	if maxReaders <= 0 {
		return nil, fmt.Errorf("max readers must be positive, got %d", maxReaders)
	}

	s := &Stream{
		data:       make([]int16, capacityWords),
		maxReaders: maxReaders,
		readers:    make(map[*Reader]struct{}),
		createdAt:  time.Now(),
	}
	s.cond = sync.NewCond(&s.mu)
	return s, nil
}

// NewStreamForDuration sizes a stream to hold d of audio in the given format
func NewStreamForDuration(format Format, d time.Duration, maxReaders int) (*Stream, error) {
	words := int(d.Seconds() * float64(format.SampleRateHz) * float64(format.NumChannels))
	return NewStream(words, maxReaders)
}

// Capacity returns the buffer size in words
func (s *Stream) Capacity() int {
	return len(s.data)
}

// NewWriter attaches the single writer to the stream
func (s *Stream) NewWriter() (*Writer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.writerActive {
		return nil, ErrWriterExists
	}
	s.writerActive = true
	s.writerClosed = false
	return &Writer{stream: s}, nil
}

// NewReader attaches a reader positioned at the current writer index, so it
// only sees data written after it was created
func (s *Stream) NewReader(policy ReaderPolicy) (*Reader, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.readers) >= s.maxReaders {
		return nil, fmt.Errorf("%w: limit %d", ErrTooManyReaders, s.maxReaders)
	}

	r := &Reader{
		stream:    s,
		policy:    policy,
		readIndex: s.writeIndex,
	}
	s.readers[r] = struct{}{}
	return r, nil
}

// WriteIndex returns the index of the next word to be written
func (s *Stream) WriteIndex() Index {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.writeIndex
}

// GetStats returns current stream statistics
func (s *Stream) GetStats() StreamStats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return StreamStats{
		CapacityWords: len(s.data),
		WriteIndex:    s.writeIndex,
		Readers:       len(s.readers),
		MaxReaders:    s.maxReaders,
		WriterActive:  s.writerActive,
		WriterClosed:  s.writerClosed,
		TotalWrites:   s.totalWrites,
		Overruns:      s.overrunsTotal,
	}
}

// GetLastWrite returns the time of the last successful write
func (s *Stream) GetLastWrite() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastWrite
}

// oldestIndex is the first index still held in the buffer. Caller holds mu.
func (s *Stream) oldestIndex() Index {
	capacity := Index(len(s.data))
	if s.writeIndex <= capacity {
		return 0
	}
	return s.writeIndex - capacity
}

// Writer appends words to a Stream
type Writer struct {
	stream *Stream
	closed bool
}

// Write appends samples, overwriting the oldest data when the buffer is
// full. It never blocks. If len(samples) exceeds the capacity only the
// newest capacity words are kept, but the index still advances by the full
// length.
func (w *Writer) Write(samples []int16) (int, error) {
	s := w.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.closed {
		return 0, ErrWriterClosed
	}
	if len(samples) == 0 {
		return 0, nil
	}

	capacity := len(s.data)
	src := samples
	start := s.writeIndex
	if len(src) > capacity {
		skip := len(src) - capacity
		src = src[skip:]
		start += Index(skip)
	}

	pos := int(start % Index(capacity))
	n := copy(s.data[pos:], src)
	if n < len(src) {
		copy(s.data, src[n:])
	}

	s.writeIndex += Index(len(samples))
	s.totalWrites++
	s.lastWrite = time.Now()
	s.cond.Broadcast()

	return len(samples), nil
}

// WriteBytes appends little-endian 16-bit PCM bytes
func (w *Writer) WriteBytes(pcm []byte) (int, error) {
	if len(pcm)%2 != 0 {
		return 0, fmt.Errorf("audio data length must be even (got %d bytes)", len(pcm))
	}
	return w.Write(BytesToSamples(pcm))
}

// Close marks the end of data. Blocked readers wake and receive
// ErrWriterClosed once they have consumed everything written.
func (w *Writer) Close() error {
	s := w.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	s.writerActive = false
	s.writerClosed = true
	s.cond.Broadcast()
	return nil
}

// Reader consumes words from a Stream
type Reader struct {
	stream    *Stream
	policy    ReaderPolicy
	readIndex Index
	closed    bool
}

// Policy returns the reader's blocking policy
func (r *Reader) Policy() ReaderPolicy {
	return r.policy
}

// Read copies up to len(buf) words into buf. Blocking readers wait up to
// timeout for data; a zero timeout waits indefinitely.
func (r *Reader) Read(buf []int16, timeout time.Duration) (int, error) {
	s := r.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(buf) == 0 {
		return 0, nil
	}

	var (
		deadline time.Time
		timer    *time.Timer
		expired  bool
	)
	if timeout > 0 {
		deadline = time.Now().Add(timeout)
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		if r.closed {
			return 0, ErrReaderClosed
		}

		if r.readIndex < s.oldestIndex() {
			s.overrunsTotal++
			return 0, ErrOverrun
		}

		if available := s.writeIndex - r.readIndex; available > 0 {
			n := len(buf)
			if Index(n) > available {
				n = int(available)
			}
			r.copyOut(buf[:n])
			r.readIndex += Index(n)
			return n, nil
		}

		if s.writerClosed {
			return 0, ErrWriterClosed
		}

		if r.policy == NonBlocking {
			return 0, ErrWouldBlock
		}

		if timeout > 0 {
			if expired || !time.Now().Before(deadline) {
				return 0, ErrTimedOut
			}
			if timer == nil {
				timer = time.AfterFunc(time.Until(deadline), func() {
					s.mu.Lock()
					expired = true
					s.cond.Broadcast()
					s.mu.Unlock()
				})
			}
		}

		s.cond.Wait()
	}
}

// copyOut copies words starting at readIndex. Caller holds mu.
func (r *Reader) copyOut(dst []int16) {
	s := r.stream
	capacity := len(s.data)
	pos := int(r.readIndex % Index(capacity))
	n := copy(dst, s.data[pos:])
	if n < len(dst) {
		copy(dst[n:], s.data)
	}
}

// Tell returns the index of the next word this reader will read
func (r *Reader) Tell() Index {
	r.stream.mu.Lock()
	defer r.stream.mu.Unlock()
	return r.readIndex
}

// Seek repositions the reader
func (r *Reader) Seek(offset Index, ref Reference) error {
	s := r.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.closed {
		return ErrReaderClosed
	}

	var target Index
	switch ref {
	case ReferenceAbsolute:
		target = offset
	case ReferenceBeforeWriter:
		if offset > s.writeIndex {
			return fmt.Errorf("%w: %d words before writer at %d", ErrInvalidSeek, offset, s.writeIndex)
		}
		target = s.writeIndex - offset
	default:
		return fmt.Errorf("%w: unknown reference %d", ErrInvalidSeek, ref)
	}

	if target > s.writeIndex || target < s.oldestIndex() {
		return fmt.Errorf("%w: index %d outside [%d, %d]", ErrInvalidSeek, target, s.oldestIndex(), s.writeIndex)
	}

	r.readIndex = target
	return nil
}

// Close detaches the reader from the stream. Calling it more than once is a
// no-op.
func (r *Reader) Close() error {
	s := r.stream
	s.mu.Lock()
	defer s.mu.Unlock()

	if r.closed {
		return nil
	}
	r.closed = true
	delete(s.readers, r)
	s.cond.Broadcast()
	return nil
}

// IsClosed reports whether Close has been called
func (r *Reader) IsClosed() bool {
	r.stream.mu.Lock()
	defer r.stream.mu.Unlock()
	return r.closed
}

// BytesToSamples converts little-endian PCM-16 bytes to samples. A trailing
// odd byte is ignored.
func BytesToSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(pcm[2*i]) | int16(pcm[2*i+1])<<8
	}
	return samples
}

// SamplesToBytes converts samples to little-endian PCM-16 bytes
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		out[2*i] = byte(s)
		out[2*i+1] = byte(s >> 8)
	}
	return out
}
