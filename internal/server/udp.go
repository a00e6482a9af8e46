package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/JonesHong/web-asr-core/internal/config"
	"github.com/JonesHong/web-asr-core/internal/metrics"
	"github.com/JonesHong/web-asr-core/internal/protocol"
	"github.com/JonesHong/web-asr-core/internal/stream"
)

// UDPServer handles incoming ingest packets from audio sources
type UDPServer struct {
	conn       *net.UDPConn
	config     *config.ServerConfig
	logger     *slog.Logger
	sessionMgr *stream.Manager
	metrics    *metrics.Metrics

	// Concurrency management
	ctx        context.Context
	cancel     context.CancelFunc
	receiverWG sync.WaitGroup
	workerWG   sync.WaitGroup

	// Packet processing
	packetChan chan *incomingPacket

	// Basic counters
	packetsReceived  uint64
	packetsProcessed uint64
	parseErrors      uint64
	mu               sync.RWMutex
}

// incomingPacket represents a received UDP packet with metadata
type incomingPacket struct {
	data       []byte
	remoteAddr *net.UDPAddr
	timestamp  time.Time
}

// NewUDPServer creates a new UDP server instance
func NewUDPServer(cfg *config.ServerConfig, logger *slog.Logger, sessionMgr *stream.Manager, m *metrics.Metrics) *UDPServer {
	ctx, cancel := context.WithCancel(context.Background())

	return &UDPServer{
		config:     cfg,
		logger:     logger,
		sessionMgr: sessionMgr,
		metrics:    m,
		ctx:        ctx,
		cancel:     cancel,
		packetChan: make(chan *incomingPacket, 1000), // Buffer for 1000 packets
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
		slog.String("address", addr.String()),
		slog.Int("buffer_size", s.config.BufferSize),
	)

	// Start packet processing workers
	for i := 0; i < s.config.Workers; i++ {
		s.workerWG.Add(1)
		go s.packetProcessor(i)
	}

	// Start main receiver loop
	s.receiverWG.Add(1)
	go s.receiveLoop()

	return nil
}

// Addr returns the bound UDP address, or nil before Start.
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

	// The receiver must be gone before the channel closes, it is the
	// only sender.
	s.receiverWG.Wait()
	close(s.packetChan)
	s.workerWG.Wait()

	s.mu.RLock()
	packetsReceived := s.packetsReceived
	packetsProcessed := s.packetsProcessed
	parseErrors := s.parseErrors
	s.mu.RUnlock()

	s.logger.Info("UDP server stopped",
		slog.Uint64("packets_received", packetsReceived),
		slog.Uint64("packets_processed", packetsProcessed),
		slog.Uint64("parse_errors", parseErrors),
	)

	return nil
}

// receiveLoop is the main packet receiving loop
func (s *UDPServer) receiveLoop() {
	defer s.receiverWG.Done()

	buffer := make([]byte, s.config.BufferSize)

	for {
		select {
		case <-s.ctx.Done():
			s.logger.Info("Receive loop stopping due to context cancellation")
			return
		default:
			// Continue to receive packets
		}

		// Set read deadline to check for context cancellation periodically
		if err := s.conn.SetReadDeadline(time.Now().Add(1 * time.Second)); err != nil {
			s.logger.Error("Failed to set read deadline", slog.String("error", err.Error()))
			continue
		}

		n, remoteAddr, err := s.conn.ReadFromUDP(buffer)
		if err != nil {
			// Timeouts are expected during graceful shutdown checks
			if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
				continue
			}

			select {
			case <-s.ctx.Done():
				return
			default:
				s.logger.Error("Failed to read UDP packet", slog.String("error", err.Error()))
				continue
			}
		}

		s.mu.Lock()
		s.packetsReceived++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordPacketReceived()
		}

		// Copy the packet data, the read buffer is reused
		packetData := make([]byte, n)
		copy(packetData, buffer[:n])

		packet := &incomingPacket{
			data:       packetData,
			remoteAddr: remoteAddr,
			timestamp:  time.Now(),
		}

		select {
		case s.packetChan <- packet:
			if s.metrics != nil {
				s.metrics.SetQueueSize(len(s.packetChan))
			}
		default:
			// Channel full, drop packet and log warning
			s.logger.Warn("Packet processing queue full, dropping packet",
				slog.String("remote_addr", remoteAddr.String()),
				slog.Int("packet_size", n),
			)
		}
	}
}

// packetProcessor processes packets from the packet channel
func (s *UDPServer) packetProcessor(workerID int) {
	defer s.workerWG.Done()

	s.logger.Debug("Packet processor started", slog.Int("worker_id", workerID))

	for packet := range s.packetChan {
		s.handlePacket(packet, workerID)
	}

	s.logger.Debug("Packet processor stopped", slog.Int("worker_id", workerID))
}

// handlePacket processes a single incoming packet
func (s *UDPServer) handlePacket(packet *incomingPacket, workerID int) {
	parsedPacket, err := protocol.ParsePacket(packet.data)
	if err != nil {
		s.mu.Lock()
		s.parseErrors++
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordParseError()
		}

		s.logger.Error("Failed to parse packet",
			slog.String("remote_addr", packet.remoteAddr.String()),
			slog.Int("packet_size", len(packet.data)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.mu.Lock()
	s.packetsProcessed++
	s.mu.Unlock()
	if s.metrics != nil {
		s.metrics.RecordPacketProcessed()
	}

	switch parsedPacket.Header.PacketType {
	case protocol.PacketTypeSignaling:
		s.processSignalingPacket(parsedPacket.Header, parsedPacket.Signaling, workerID)
	case protocol.PacketTypeAudio:
		s.processAudioPacket(parsedPacket.Header, parsedPacket.Audio, workerID)
	default:
		s.logger.Error("Unknown packet type",
			slog.Uint64("stream_id", uint64(parsedPacket.Header.StreamID)),
			slog.Int("packet_type", int(parsedPacket.Header.PacketType)),
			slog.Int("worker_id", workerID),
		)
	}
}

// processSignalingPacket handles signaling packets (session creation/update)
func (s *UDPServer) processSignalingPacket(header *protocol.Header, payload *protocol.SignalingPayload, workerID int) {
	s.logger.Debug("Processing signaling packet",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.String("label", payload.GetLabel()),
		slog.String("codec", protocol.CodecName(header.Codec)),
		slog.Int("worker_id", workerID),
	)

	session, err := s.sessionMgr.CreateSession(header.StreamID, payload, header.Codec)
	if err != nil {
		s.logger.Error("Failed to create detection session",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.logger.Info("Signaling packet processed",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.String("label", session.Label),
		slog.Int("worker_id", workerID),
	)
}

// processAudioPacket handles audio packets (route to the session's ring)
func (s *UDPServer) processAudioPacket(header *protocol.Header, payload *protocol.AudioPayload, workerID int) {
	session, exists := s.sessionMgr.GetSession(header.StreamID)
	if !exists {
		s.logger.Warn("Received audio packet for unknown stream",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.Int("audio_size", len(payload.AudioData)),
			slog.Int("worker_id", workerID),
		)
		return
	}

	if err := session.AddAudio(payload.Sequence, payload.AudioData); err != nil {
		s.logger.Error("Failed to add audio data to session",
			slog.Uint64("stream_id", uint64(header.StreamID)),
			slog.Uint64("sequence", uint64(payload.Sequence)),
			slog.String("error", err.Error()),
			slog.Int("worker_id", workerID),
		)
		return
	}

	s.logger.Debug("Audio packet processed",
		slog.Uint64("stream_id", uint64(header.StreamID)),
		slog.Uint64("sequence", uint64(payload.Sequence)),
		slog.Int("audio_size", len(payload.AudioData)),
		slog.Int("worker_id", workerID),
	)
}

// GetStatistics returns current server statistics
func (s *UDPServer) GetStatistics() ServerStatistics {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return ServerStatistics{
		PacketsReceived:  s.packetsReceived,
		PacketsProcessed: s.packetsProcessed,
		ParseErrors:      s.parseErrors,
		ActiveSessions:   uint64(s.sessionMgr.GetActiveSessionCount()),
		QueueSize:        uint64(len(s.packetChan)),
		QueueCapacity:    uint64(cap(s.packetChan)),
	}
}

// ServerStatistics represents server performance metrics
type ServerStatistics struct {
	PacketsReceived  uint64 `json:"packets_received"`
	PacketsProcessed uint64 `json:"packets_processed"`
	ParseErrors      uint64 `json:"parse_errors"`
	ActiveSessions   uint64 `json:"active_sessions"`
	QueueSize        uint64 `json:"queue_size"`
	QueueCapacity    uint64 `json:"queue_capacity"`
}
