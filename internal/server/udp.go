package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/cvejlbo/avs-device-sdk/internal/audio"
	"github.com/cvejlbo/avs-device-sdk/internal/config"
	"github.com/cvejlbo/avs-device-sdk/internal/metrics"
	"github.com/cvejlbo/avs-device-sdk/internal/protocol"
)

// resyncWindow is how far a sequence number may fall behind before it is
// treated as a restarted sender rather than a late packet
const resyncWindow = 1000

// UDPServer receives PCM packets and writes them into the shared stream
type UDPServer struct {
	conn    *net.UDPConn
	config  *config.ServerConfig
	logger  *slog.Logger
	writer  *audio.Writer
	metrics *metrics.Metrics

	// Concurrency management
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// Packet processing
	packetChan chan *incomingPacket

	// Sequence tracking, owned by the processor goroutine
	sender  string
	lastSeq uint32
	haveSeq bool

	// Counters
	packetsReceived  uint64
	packetsProcessed uint64
	parseErrors      uint64
	packetsLost      uint64
	packetsLate      uint64
	packetsDropped   uint64
	keepalives       uint64
	samplesWritten   uint64
	lastPacket       time.Time
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// ServerStatistics represents ingest counters
type ServerStatistics struct {
	PacketsReceived  uint64     `json:"packets_received"`
	PacketsProcessed uint64     `json:"packets_processed"`
	ParseErrors      uint64     `json:"parse_errors"`
	PacketsLost      uint64     `json:"packets_lost"`
	PacketsLate      uint64     `json:"packets_late"`
	PacketsDropped   uint64     `json:"packets_dropped"`
	Keepalives       uint64     `json:"keepalives"`
	SamplesWritten   uint64     `json:"samples_written"`
	Sender           string     `json:"sender,omitempty"`
	LastPacket       *time.Time `json:"last_packet,omitempty"`
	QueueSize        uint64     `json:"queue_size"`
	QueueCapacity    uint64     `json:"queue_capacity"`
}

// NewUDPServer creates a new UDP server writing into w
func NewUDPServer(cfg *config.ServerConfig, w *audio.Writer, logger *slog.Logger, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	queueSize := cfg.QueueSize
	if queueSize <= 0 {
		queueSize = 1000
	}

	return &UDPServer{
		config:     cfg,
		logger:     logger,
		writer:     w,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, queueSize),
	}
}

// Start begins listening for UDP packets
func (s *UDPServer) Start() error {
	addr, err := net.ResolveUDPAddr("udp", fmt.Sprintf("%s:%d", s.config.BindAddress, s.config.UDPPort))
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}

	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP: %w", err)
	}

	s.conn = conn

	if err := s.conn.SetReadBuffer(s.config.BufferSize); err != nil {
		s.logger.Warn("Failed to set UDP read buffer size",
			slog.Int("buffer_size", s.config.BufferSize),
			slog.String("error", err.Error()),
		)
	}

	s.logger.Info("UDP server started",
		slog.String("address", s.conn.LocalAddr().String()),
		slog.Int("buffer_size", s.config.BufferSize),
	)

	// One processor keeps samples in arrival order
	s.wg.Add(1)
	go s.packetProcessor()

	s.wg.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound address, or nil before Start
func (s *UDPServer) Addr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Stop gracefully stops the UDP server
func (s *UDPServer) Stop() error {
	s.logger.Info("Stopping UDP server...")

	s.cancel()

	// Close UDP connection to unblock the receive loop
	if s.conn != nil {
		if err := s.conn.Close(); err != nil {
			s.logger.Warn("Error closing UDP connection", slog.String("error", err.Error()))
		}
	}

	s.wg.Wait()

	stats := s.GetStatistics()
	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", stats.PacketsReceived),
		slog.Uint64("packets_processed", stats.PacketsProcessed),
		slog.Uint64("parse_errors", stats.ParseErrors),
		slog.Uint64("packets_lost", stats.PacketsLost),
		slog.Uint64("samples_written", stats.SamplesWritten),
	)

	return nil
}

// receiveLoop is the main packet receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.wg.Done()
	// The processor drains what is queued, then exits
	defer close(s.packetChan)

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Receive loop stopping due to context cancellation")
			return
		default:
		}

		// Set read deadline to check for context cancellation periodically
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			if errors.Is(err, net.ErrClosed) {
				return
			}
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				if errors.Is(err, net.ErrClosed) {
					return
				}
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		s.metrics.RecordPacketReceived()

		// Copy out of the reused buffer
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.packetChan <- packet:
			s.metrics.SetQueueSize(len(s.packetChan))
		default:
			s.recordDropped("queue_full")
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor processes packets from the packet channel
func (s *UDPServer) packetProcessor() {
	defer s.wg.Done()

	s.logger.Debug("Packet processor started")

	for packet := range s.packetChan {
		s.handlePacket(packet)
		s.metrics.SetQueueSize(len(s.packetChan))
	}

	s.logger.Debug("Packet processor stopped")
}

// handlePacket processes a single incoming packet
func (s *UDPServer) handlePacket(packet *incomingPacket) {
	parsed, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		s.metrics.RecordParseError()

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.lastPacket = packet.timestamp
	s.mu.Unlock()

	switch parsed.Header.PacketType {
	case protocol.PacketTypeKeepalive:
		s.mu.Lock()
		s.keepalives++
		s.mu.Unlock()
		s.logger.Debug("Keepalive received",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Uint64("sequence", uint64(parsed.Header.Sequence)),
		)
	case protocol.PacketTypeAudio:
		s.processAudioPacket(parsed, packet.remoteAddr)
	}
}

// processAudioPacket orders the packet against the sender's sequence and
// writes its samples into the stream
func (s *UDPServer) processAudioPacket(packet *protocol.Packet, remoteAddr *net.UDPAddr) {
	seq := packet.Header.Sequence

	if !s.acceptSequence(seq, remoteAddr.String()) {
		s.recordDropped("late")
		s.mu.Lock()
		s.packetsLate++
		s.mu.Unlock()
		s.logger.Debug("Dropping late or duplicate packet",
			slog.String("remote_addr", remoteAddr.String()),
			slog.Uint64("sequence", uint64(seq)),
			slog.Uint64("last_sequence", uint64(s.lastSeq)),
		)
		return
	}

	n, err := s.writer.WriteBytes(packet.PCM)
	if err != nil {
		s.recordDropped("write_failed")
		s.logger.Error("Failed to write audio to stream",
			slog.Uint64("sequence", uint64(seq)),
			slog.String("error", err.Error()),
		)
		return
	}

	s.mu.Lock()
	s.packetsProcessed++
	s.samplesWritten += uint64(n)
	s.mu.Unlock()
	s.metrics.RecordPacketProcessed(n)
}

// acceptSequence reports whether seq is newer than the last accepted one
// and counts any gap as lost packets. A new sender address or a sequence
// far behind the last one resets tracking.
func (s *UDPServer) acceptSequence(seq uint32, sender string) bool {
	if !s.haveSeq || sender != s.sender {
		if s.haveSeq {
			s.logger.Info("Audio sender changed",
				slog.String("previous", s.sender),
				slog.String("current", sender),
			)
		}
		s.mu.Lock()
		s.sender = sender
		s.mu.Unlock()
		s.lastSeq = seq
		s.haveSeq = true
		return true
	}

	diff := int32(seq - s.lastSeq)
	switch {
	case diff == 1:
	case diff > 1:
		lost := uint32(diff - 1)
		s.mu.Lock()
		s.packetsLost += uint64(lost)
		s.mu.Unlock()
		s.metrics.RecordPacketsLost(lost)
		s.logger.Warn("Packet loss detected",
			slog.String("remote_addr", sender),
			slog.Uint64("expected", uint64(s.lastSeq+1)),
			slog.Uint64("received", uint64(seq)),
			slog.Uint64("lost", uint64(lost)),
		)
	case diff < -resyncWindow:
		s.logger.Info("Sequence restarted, resynchronising",
			slog.String("remote_addr", sender),
			slog.Uint64("last_sequence", uint64(s.lastSeq)),
			slog.Uint64("sequence", uint64(seq)),
		)
	default:
		return false
	}

	s.lastSeq = seq
	return true
}

func (s *UDPServer) recordDropped(reason string) {
	s.mu.Lock()
	s.packetsDropped++
	s.mu.Unlock()
	s.metrics.RecordPacketDropped(reason)
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		ParseErrors:      s.parseErrors,
		PacketsLost:      s.packetsLost,
		PacketsLate:      s.packetsLate,
		PacketsDropped:   s.packetsDropped,
		Keepalives:       s.keepalives,
		SamplesWritten:   s.samplesWritten,
		Sender:           s.sender,
		QueueSize:        uint64(len(s.packetChan)),
		QueueCapacity:    uint64(cap(s.packetChan)),
	}
	if !s.lastPacket.IsZero() {
		last := s.lastPacket
		stats.LastPacket = &last
	}
	return stats
}
