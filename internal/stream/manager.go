package stream

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/JonesHong/web-asr-core/internal/audio"
	"github.com/JonesHong/web-asr-core/internal/metrics"
	"github.com/JonesHong/web-asr-core/internal/notify"
	"github.com/JonesHong/web-asr-core/internal/protocol"
	"github.com/JonesHong/web-asr-core/internal/vad"
	"github.com/JonesHong/web-asr-core/internal/wakeword"
)

// Chunker channel names inside each session's fan-out.
const (
	channelVAD      = "vad"
	channelWakeword = "wakeword"
)

// EventSink receives every detection event in-process, in addition to
// webhook delivery. The HTTP server's websocket hub implements this.
type EventSink interface {
	Publish(event *notify.Event)
}

// ManagerConfig contains configuration for the session manager
type ManagerConfig struct {
	SessionTimeout   time.Duration // Inactivity before a session is reaped
	SampleRate       int           // Pipeline sample rate in Hz
	RingCapacity     int           // Per-session ring buffer, in samples
	SnapshotDuration time.Duration // Audio retained for trigger snapshots
	DrainInterval    time.Duration // How often sessions drain their rings
}

func (c *ManagerConfig) applyDefaults() {
	if c.SessionTimeout <= 0 {
		c.SessionTimeout = 5 * time.Minute
	}
	if c.SampleRate <= 0 {
		c.SampleRate = 16000
	}
	if c.RingCapacity <= 0 {
		c.RingCapacity = c.SampleRate * 10
	}
	if c.SnapshotDuration <= 0 {
		c.SnapshotDuration = 2 * time.Second
	}
	if c.DrainInterval <= 0 {
		c.DrainInterval = 100 * time.Millisecond
	}
}

// Manager manages all active detection sessions
type Manager struct {
	sessions map[uint32]*Session
	mu       sync.RWMutex
	logger   *slog.Logger
	config   ManagerConfig

	vadPipeline      *vad.Pipeline
	wakewordPipeline *wakeword.Pipeline
	notifier         *notify.Client
	metrics          *metrics.Metrics

	sink   EventSink
	sinkMu sync.RWMutex

	// Cleanup management
	ctx     context.Context
	cancel  context.CancelFunc
	cleanup chan struct{}
}

// NewManager creates a session manager over the shared detection pipelines.
// The wakeword pipeline and notifier may be nil to disable those features.
func NewManager(logger *slog.Logger, config ManagerConfig, vadPipeline *vad.Pipeline,
	wakewordPipeline *wakeword.Pipeline, notifier *notify.Client, m *metrics.Metrics) (*Manager, error) {

	if vadPipeline == nil {
		return nil, fmt.Errorf("vad pipeline is required")
	}
	config.applyDefaults()

	ctx, cancel := context.WithCancel(context.Background())
	mgr := &Manager{
		sessions:         make(map[uint32]*Session),
		logger:           logger,
		config:           config,
		vadPipeline:      vadPipeline,
		wakewordPipeline: wakewordPipeline,
		notifier:         notifier,
		metrics:          m,
		ctx:              ctx,
		cancel:           cancel,
		cleanup:          make(chan struct{}),
	}

	go mgr.startCleanupRoutine()

	return mgr, nil
}

// SetEventSink attaches an in-process event receiver.
func (m *Manager) SetEventSink(sink EventSink) {
	m.sinkMu.Lock()
	m.sink = sink
	m.sinkMu.Unlock()
}

// CreateSession creates a detection session for an announced stream
func (m *Manager) CreateSession(streamID uint32, signaling *protocol.SignalingPayload, codec uint8) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-announcement of a live stream refreshes its metadata
	if existing, exists := m.sessions[streamID]; exists {
		m.logger.Warn("Session already exists, updating metadata",
			slog.Uint64("stream_id", uint64(streamID)),
			slog.String("existing_label", existing.Label),
			slog.String("new_label", signaling.GetLabel()),
		)

		existing.mu.Lock()
		existing.Label = signaling.GetLabel()
		existing.Codec = codec
		existing.LastActivity = time.Now()
		existing.mu.Unlock()

		return existing, nil
	}

	ring, err := audio.NewRingBuffer(m.config.RingCapacity)
	if err != nil {
		return nil, fmt.Errorf("failed to create ring buffer: %w", err)
	}

	mux := audio.NewMultiChannelChunker()
	if err := mux.RegisterChannel(channelVAD, m.vadPipeline.Params().WindowSize, 0); err != nil {
		return nil, fmt.Errorf("failed to register vad channel: %w", err)
	}
	if m.wakewordPipeline != nil {
		if err := mux.RegisterChannel(channelWakeword, m.wakewordPipeline.Params().WindowSize, 0); err != nil {
			return nil, fmt.Errorf("failed to register wakeword channel: %w", err)
		}
	}

	processingCtx, processingCancel := context.WithCancel(m.ctx)

	now := time.Now()
	session := &Session{
		ID:           streamID,
		SessionID:    uuid.NewString(),
		Label:        signaling.GetLabel(),
		Codec:        codec,
		SourceRate:   int(signaling.SampleRate),
		StartTime:    now,
		LastActivity: now,

		ring:     ring,
		mux:      mux,
		vadState: m.vadPipeline.NewState(),

		recent: make([]float32, 0, m.snapshotSamples()),

		processingCtx:    processingCtx,
		processingCancel: processingCancel,

		manager: m,
	}
	if m.wakewordPipeline != nil {
		session.wwState = m.wakewordPipeline.NewState()
	}

	m.sessions[streamID] = session

	session.startProcessing()

	if m.metrics != nil {
		m.metrics.RecordSessionCreated()
		m.metrics.SetActiveSessions(len(m.sessions))
	}

	m.logger.Info("Created detection session",
		slog.Uint64("stream_id", uint64(streamID)),
		slog.String("session_id", session.SessionID),
		slog.String("label", session.Label),
		slog.String("codec", protocol.CodecName(codec)),
		slog.Int("source_rate", session.SourceRate),
	)

	return session, nil
}

func (m *Manager) snapshotSamples() int {
	return int(m.config.SnapshotDuration.Seconds() * float64(m.config.SampleRate))
}

// GetSession retrieves an existing session
func (m *Manager) GetSession(streamID uint32) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	session, exists := m.sessions[streamID]
	return session, exists
}

// GetActiveSessionCount returns the number of currently active sessions
func (m *Manager) GetActiveSessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// GetAllSessions returns a snapshot of all active sessions (for monitoring)
func (m *Manager) GetAllSessions() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	sessions := make([]*Session, 0, len(m.sessions))
	for _, session := range m.sessions {
		sessions = append(sessions, session)
	}

	return sessions
}

// RemoveSession removes a session and stops its processing
func (m *Manager) RemoveSession(streamID uint32) bool {
	m.mu.Lock()
	session, exists := m.sessions[streamID]
	if exists {
		delete(m.sessions, streamID)
	}
	active := len(m.sessions)
	m.mu.Unlock()

	if !exists {
		return false
	}

	session.stopProcessing()

	duration := time.Since(session.StartTime)
	if m.metrics != nil {
		m.metrics.RecordSessionDestroyed(duration.Seconds())
		m.metrics.SetActiveSessions(active)
	}

	m.logger.Info("Detection session removed",
		slog.Uint64("stream_id", uint64(streamID)),
		slog.String("label", session.Label),
		slog.Duration("duration", duration),
		slog.Uint64("speech_segments", session.speechSegments),
		slog.Uint64("wakeword_triggers", session.wakewordTriggers),
	)

	return true
}

// Stop gracefully stops the session manager
func (m *Manager) Stop() {
	m.logger.Info("Stopping session manager...")

	m.mu.Lock()
	for _, session := range m.sessions {
		session.stopProcessing()
	}
	m.mu.Unlock()

	if m.notifier != nil {
		if err := m.notifier.Close(); err != nil {
			m.logger.Warn("Error closing notify client", slog.String("error", err.Error()))
		}
	}

	// Cancel context to stop cleanup routine
	m.cancel()
	<-m.cleanup

	m.logger.Info("Session manager stopped",
		slog.Int("remaining_sessions", m.GetActiveSessionCount()),
	)
}

// GetNotifyStats returns current notify client statistics
func (m *Manager) GetNotifyStats() notify.ClientStats {
	if m.notifier == nil {
		return notify.ClientStats{}
	}
	return m.notifier.GetStats()
}

// startCleanupRoutine runs in a separate goroutine to clean up expired sessions
func (m *Manager) startCleanupRoutine() {
	defer close(m.cleanup)

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	m.logger.Info("Session cleanup routine started",
		slog.Duration("timeout", m.config.SessionTimeout),
		slog.Duration("check_interval", 30*time.Second),
	)

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Info("Session cleanup routine stopping")
			return

		case <-ticker.C:
			m.cleanupExpiredSessions()
		}
	}
}

// cleanupExpiredSessions removes sessions that have been inactive for too long
func (m *Manager) cleanupExpiredSessions() {
	now := time.Now()
	expired := make([]uint32, 0)

	m.mu.RLock()
	for streamID, session := range m.sessions {
		session.mu.RLock()
		lastActivity := session.LastActivity
		session.mu.RUnlock()

		if now.Sub(lastActivity) > m.config.SessionTimeout {
			expired = append(expired, streamID)
		}
	}
	m.mu.RUnlock()

	if len(expired) > 0 {
		m.logger.Info("Cleaning up expired sessions",
			slog.Int("expired_count", len(expired)),
		)

		for _, streamID := range expired {
			m.RemoveSession(streamID)
		}
	}
}

// publish fans one event out to the webhook and the in-process sink.
func (m *Manager) publish(event *notify.Event) {
	if m.metrics != nil {
		m.metrics.RecordNotifyEvent(event.Type)
	}

	m.sinkMu.RLock()
	sink := m.sink
	m.sinkMu.RUnlock()
	if sink != nil {
		sink.Publish(event)
	}

	if m.notifier == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
		defer cancel()

		start := time.Now()
		err := m.notifier.Notify(ctx, event)
		elapsed := time.Since(start)

		if err != nil {
			if m.metrics != nil {
				m.metrics.RecordNotifyFailure(elapsed.Seconds())
			}
			m.logger.Error("Event delivery failed",
				slog.String("event_id", event.ID),
				slog.String("type", event.Type),
				slog.Uint64("stream_id", uint64(event.StreamID)),
				slog.String("error", err.Error()),
			)
			return
		}

		if m.metrics != nil {
			m.metrics.RecordNotifySuccess(elapsed.Seconds())
		}
		m.logger.Debug("Event delivered",
			slog.String("event_id", event.ID),
			slog.String("type", event.Type),
			slog.Float64("duration", elapsed.Seconds()),
		)
	}()
}

// Session represents one stream's detection state
type Session struct {
	ID           uint32
	SessionID    string // Stable UUID for correlating events
	Label        string
	Codec        uint8
	SourceRate   int
	StartTime    time.Time
	LastActivity time.Time

	ring *audio.RingBuffer
	mux  *audio.MultiChannelChunker

	// Detector state threaded across windows by the drain loop
	vadState vad.State
	wwState  wakeword.State

	// Tail of recent audio for trigger snapshots
	recent []float32

	// Ingest tracking
	packetsReceived uint64
	samplesIngested uint64
	droppedPackets  uint64
	lastSequence    uint32

	// Detection tracking
	speechSegments   uint64
	wakewordTriggers uint64
	speechActive     bool
	lastVADScore     float32
	lastWakeScore    float32

	// Processing control
	processingCtx    context.Context
	processingCancel context.CancelFunc
	processingWG     sync.WaitGroup

	manager *Manager

	mu sync.RWMutex
}

// AddAudio decodes one audio payload and feeds it into the session's ring.
// Out-of-order packets are accepted; gaps are only counted.
func (s *Session) AddAudio(sequence uint32, data []byte) error {
	samples, err := protocol.DecodeSamples(s.Codec, data)
	if err != nil {
		return fmt.Errorf("failed to decode audio payload: %w", err)
	}

	s.mu.Lock()
	s.LastActivity = time.Now()
	s.packetsReceived++
	s.samplesIngested += uint64(len(samples))
	if s.packetsReceived > 1 && sequence > s.lastSequence+1 {
		s.droppedPackets += uint64(sequence - s.lastSequence - 1)
	}
	if sequence > s.lastSequence {
		s.lastSequence = sequence
	}
	s.ring.Write(samples)
	s.mu.Unlock()

	return nil
}

// startProcessing starts the session's drain loop
func (s *Session) startProcessing() {
	s.processingWG.Add(1)
	go func() {
		defer s.processingWG.Done()
		s.drainLoop()
	}()
}

// stopProcessing stops the drain loop after a final drain pass
func (s *Session) stopProcessing() {
	s.processingCancel()
	s.processingWG.Wait()
}

// drainLoop periodically moves buffered audio through the pipelines
func (s *Session) drainLoop() {
	logger := s.manager.logger
	ticker := time.NewTicker(s.manager.config.DrainInterval)
	defer ticker.Stop()

	logger.Debug("Session drain loop started",
		slog.Uint64("stream_id", uint64(s.ID)),
	)

	for {
		select {
		case <-s.processingCtx.Done():
			// Final pass so buffered audio is not silently discarded
			s.drainAvailable()
			logger.Debug("Session drain loop stopping",
				slog.Uint64("stream_id", uint64(s.ID)),
			)
			return
		case <-ticker.C:
			s.drainAvailable()
		}
	}
}

// drainAvailable consumes everything buffered in the ring and runs it
// through both pipelines
func (s *Session) drainAvailable() {
	s.mu.Lock()
	samples, ok := s.ring.Read(s.ring.Available())
	s.mu.Unlock()
	if !ok || len(samples) == 0 {
		return
	}

	s.appendRecent(samples)

	chunks := s.mux.Process(samples)
	for _, window := range chunks[channelVAD] {
		s.processVADWindow(window)
	}
	for _, window := range chunks[channelWakeword] {
		s.processWakewordChunk(window)
	}
}

// appendRecent keeps the trailing snapshot buffer topped up
func (s *Session) appendRecent(samples []float32) {
	maxSamples := s.manager.snapshotSamples()

	s.mu.Lock()
	s.recent = append(s.recent, samples...)
	if excess := len(s.recent) - maxSamples; excess > 0 {
		n := copy(s.recent, s.recent[excess:])
		s.recent = s.recent[:n]
	}
	s.mu.Unlock()
}

// snapshotWAV encodes the trailing audio as a WAV capture
func (s *Session) snapshotWAV() []byte {
	s.mu.RLock()
	tail := append([]float32(nil), s.recent...)
	s.mu.RUnlock()

	if len(tail) == 0 {
		return nil
	}
	data, err := audio.EncodeWAV(tail, s.manager.config.SampleRate)
	if err != nil {
		s.manager.logger.Warn("Failed to encode snapshot",
			slog.Uint64("stream_id", uint64(s.ID)),
			slog.String("error", err.Error()),
		)
		return nil
	}
	return data
}

// processVADWindow runs one window through the VAD pipeline and emits
// speech boundary events
func (s *Session) processVADWindow(window []float32) {
	m := s.manager
	logger := m.logger

	start := time.Now()
	result, nextState, err := m.vadPipeline.Process(s.vadState, window)
	elapsed := time.Since(start)

	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordInferenceError("vad")
		}
		logger.Error("VAD processing failed",
			slog.Uint64("stream_id", uint64(s.ID)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.vadState = nextState

	if m.metrics != nil {
		m.metrics.RecordVADWindow(result.Active, elapsed.Seconds())
	}

	s.mu.Lock()
	s.lastVADScore = result.Score
	s.speechActive = result.Active
	if result.SpeechOn {
		s.speechSegments++
	}
	s.mu.Unlock()

	if result.SpeechOn {
		logger.Info("Speech started",
			slog.Uint64("stream_id", uint64(s.ID)),
			slog.Float64("score", float64(result.Score)),
		)
		s.emitEvent(notify.EventSpeechStart, result.Score, nil)
	}
	if result.SpeechOff {
		logger.Info("Speech ended",
			slog.Uint64("stream_id", uint64(s.ID)),
			slog.Float64("score", float64(result.Score)),
		)
		s.emitEvent(notify.EventSpeechEnd, result.Score, nil)
	}
}

// processWakewordChunk runs one chunk through the wakeword pipeline. A
// trigger resets the detector state so one utterance fires one event, and
// ships a snapshot of the trailing audio.
func (s *Session) processWakewordChunk(window []float32) {
	m := s.manager
	if m.wakewordPipeline == nil {
		return
	}
	logger := m.logger

	start := time.Now()
	result, nextState, err := m.wakewordPipeline.Process(s.wwState, window)
	elapsed := time.Since(start)

	if err != nil {
		if m.metrics != nil {
			m.metrics.RecordInferenceError("wakeword")
		}
		logger.Error("Wakeword processing failed",
			slog.Uint64("stream_id", uint64(s.ID)),
			slog.String("error", err.Error()),
		)
		return
	}
	s.wwState = nextState

	if m.metrics != nil {
		m.metrics.RecordWakewordChunk(float64(result.Score), result.Ready, elapsed.Seconds())
	}

	s.mu.Lock()
	s.lastWakeScore = result.Score
	s.mu.Unlock()

	if !result.Triggered {
		return
	}

	s.mu.Lock()
	s.wakewordTriggers++
	s.mu.Unlock()

	if m.metrics != nil {
		m.metrics.RecordWakewordTrigger()
	}
	logger.Info("Wakeword detected",
		slog.Uint64("stream_id", uint64(s.ID)),
		slog.String("label", s.Label),
		slog.Float64("score", float64(result.Score)),
	)

	// Fresh accumulator so the same utterance cannot re-trigger
	s.wwState = m.wakewordPipeline.NewState()

	s.emitEvent(notify.EventWakeword, result.Score, s.snapshotWAV())
}

// emitEvent builds and publishes one detection event
func (s *Session) emitEvent(eventType string, score float32, snapshot []byte) {
	event := notify.NewEvent(eventType, s.ID, s.SessionID)
	event.Label = s.Label
	event.Score = score
	event.SampleRate = s.manager.config.SampleRate
	event.Snapshot = snapshot

	s.manager.publish(event)
}

// GetSessionInfo returns session information for monitoring and APIs
func (s *Session) GetSessionInfo() SessionInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return SessionInfo{
		StreamID:         s.ID,
		SessionID:        s.SessionID,
		Label:            s.Label,
		Codec:            protocol.CodecName(s.Codec),
		SourceRate:       s.SourceRate,
		StartTime:        s.StartTime,
		LastActivity:     s.LastActivity,
		Duration:         time.Since(s.StartTime),
		PacketsReceived:  s.packetsReceived,
		SamplesIngested:  s.samplesIngested,
		DroppedPackets:   s.droppedPackets,
		BufferedSamples:  s.ring.Available(),
		SpeechActive:     s.speechActive,
		SpeechSegments:   s.speechSegments,
		WakewordTriggers: s.wakewordTriggers,
		LastVADScore:     s.lastVADScore,
		LastWakeScore:    s.lastWakeScore,
	}
}

// SessionInfo represents session information for monitoring and APIs
type SessionInfo struct {
	StreamID     uint32        `json:"stream_id"`
	SessionID    string        `json:"session_id"`
	Label        string        `json:"label"`
	Codec        string        `json:"codec"`
	SourceRate   int           `json:"source_rate"`
	StartTime    time.Time     `json:"start_time"`
	LastActivity time.Time     `json:"last_activity"`
	Duration     time.Duration `json:"duration"`

	// Ingest statistics
	PacketsReceived uint64 `json:"packets_received"`
	SamplesIngested uint64 `json:"samples_ingested"`
	DroppedPackets  uint64 `json:"dropped_packets"`
	BufferedSamples int    `json:"buffered_samples"`

	// Detection statistics
	SpeechActive     bool    `json:"speech_active"`
	SpeechSegments   uint64  `json:"speech_segments"`
	WakewordTriggers uint64  `json:"wakeword_triggers"`
	LastVADScore     float32 `json:"last_vad_score"`
	LastWakeScore    float32 `json:"last_wake_score"`
}
