package stream

import (
	"encoding/binary"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/JonesHong/web-asr-core/internal/engine"
	"github.com/JonesHong/web-asr-core/internal/engine/mock"
	"github.com/JonesHong/web-asr-core/internal/notify"
	"github.com/JonesHong/web-asr-core/internal/protocol"
	"github.com/JonesHong/web-asr-core/internal/vad"
	"github.com/JonesHong/web-asr-core/internal/wakeword"
)

// captureSink records published events for assertions
type captureSink struct {
	mu     sync.Mutex
	events []*notify.Event
}

func (c *captureSink) Publish(event *notify.Event) {
	c.mu.Lock()
	c.events = append(c.events, event)
	c.mu.Unlock()
}

func (c *captureSink) byType(eventType string) []*notify.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*notify.Event
	for _, e := range c.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

// waitFor polls until cond returns true or the deadline passes
func waitFor(t *testing.T, timeout time.Duration, cond func() bool) bool {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return cond()
}

func testVADPipeline(t *testing.T, scores ...float32) *vad.Pipeline {
	t.Helper()
	p, err := vad.NewPipeline(mock.Scores("output", "stateN", scores...), vad.Params{})
	if err != nil {
		t.Fatalf("failed to create vad pipeline: %v", err)
	}
	return p
}

func testWakewordPipeline(t *testing.T, score float32) *wakeword.Pipeline {
	t.Helper()
	melspec := &mock.Engine{
		RunFunc: func(inputs map[string]*engine.Tensor) (map[string]*engine.Tensor, error) {
			return map[string]*engine.Tensor{
				"output": engine.ZeroFloatTensor(1, 1, 5, 32),
			}, nil
		},
	}
	embedder := &mock.Engine{
		RunFunc: func(inputs map[string]*engine.Tensor) (map[string]*engine.Tensor, error) {
			return map[string]*engine.Tensor{
				"conv2d_19": engine.ZeroFloatTensor(1, 1, 1, 96),
			}, nil
		},
	}
	classifier := &mock.Engine{
		RunFunc: func(inputs map[string]*engine.Tensor) (map[string]*engine.Tensor, error) {
			return map[string]*engine.Tensor{
				"dense": {DType: engine.Float32, Shape: []int64{1, 1}, Floats: []float32{score}},
			}, nil
		},
	}
	p, err := wakeword.NewPipeline(melspec, embedder, classifier, wakeword.Params{})
	if err != nil {
		t.Fatalf("failed to create wakeword pipeline: %v", err)
	}
	return p
}

func testManager(t *testing.T, vadPipe *vad.Pipeline, wwPipe *wakeword.Pipeline) *Manager {
	t.Helper()
	logger := slog.Default()
	mgr, err := NewManager(logger, ManagerConfig{
		SessionTimeout: time.Minute,
		DrainInterval:  10 * time.Millisecond,
	}, vadPipe, wwPipe, nil, nil)
	if err != nil {
		t.Fatalf("failed to create manager: %v", err)
	}
	t.Cleanup(mgr.Stop)
	return mgr
}

func testSignaling(label string) *protocol.SignalingPayload {
	payload := &protocol.SignalingPayload{SampleRate: 16000}
	copy(payload.Label[:], label)
	return payload
}

// pcm16Bytes encodes float samples as 16-bit little-endian PCM
func pcm16Bytes(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(s*32767)))
	}
	return out
}

func TestCreateSession(t *testing.T) {
	mgr := testManager(t, testVADPipeline(t, 0.1), nil)

	session, err := mgr.CreateSession(1, testSignaling("front-door"), protocol.CodecPCM16)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}
	if session.Label != "front-door" {
		t.Errorf("expected label 'front-door', got %q", session.Label)
	}
	if session.SessionID == "" {
		t.Error("expected session UUID to be assigned")
	}
	if mgr.GetActiveSessionCount() != 1 {
		t.Errorf("expected 1 active session, got %d", mgr.GetActiveSessionCount())
	}

	got, exists := mgr.GetSession(1)
	if !exists || got != session {
		t.Error("expected GetSession to return the created session")
	}
	if _, exists := mgr.GetSession(99); exists {
		t.Error("expected no session for unknown stream ID")
	}
}

func TestCreateSessionDuplicateUpdatesMetadata(t *testing.T) {
	mgr := testManager(t, testVADPipeline(t, 0.1), nil)

	first, err := mgr.CreateSession(1, testSignaling("old-label"), protocol.CodecPCM16)
	if err != nil {
		t.Fatalf("failed to create session: %v", err)
	}

	second, err := mgr.CreateSession(1, testSignaling("new-label"), protocol.CodecMulaw)
	if err != nil {
		t.Fatalf("failed to re-announce session: %v", err)
	}
	if second != first {
		t.Error("expected re-announcement to return the existing session")
	}
	if second.Label != "new-label" || second.Codec != protocol.CodecMulaw {
		t.Errorf("expected metadata refresh, got label=%q codec=%d", second.Label, second.Codec)
	}
	if mgr.GetActiveSessionCount() != 1 {
		t.Errorf("expected 1 session after re-announcement, got %d", mgr.GetActiveSessionCount())
	}
}

func TestAddAudio(t *testing.T) {
	mgr := testManager(t, testVADPipeline(t, 0.1), nil)
	session, _ := mgr.CreateSession(1, testSignaling("mic"), protocol.CodecPCM16)

	if err := session.AddAudio(1, pcm16Bytes(make([]float32, 100))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	info := session.GetSessionInfo()
	if info.PacketsReceived != 1 {
		t.Errorf("expected 1 packet received, got %d", info.PacketsReceived)
	}
	if info.SamplesIngested != 100 {
		t.Errorf("expected 100 samples ingested, got %d", info.SamplesIngested)
	}

	// Malformed payload for the codec
	if err := session.AddAudio(2, []byte{0x01}); err == nil {
		t.Error("expected error for odd-length pcm16 payload")
	}
}

func TestAddAudioSequenceGaps(t *testing.T) {
	mgr := testManager(t, testVADPipeline(t, 0.1), nil)
	session, _ := mgr.CreateSession(1, testSignaling("mic"), protocol.CodecPCM16)

	data := pcm16Bytes(make([]float32, 10))
	session.AddAudio(1, data)
	session.AddAudio(2, data)
	session.AddAudio(5, data) // 3 and 4 lost

	info := session.GetSessionInfo()
	if info.DroppedPackets != 2 {
		t.Errorf("expected 2 dropped packets, got %d", info.DroppedPackets)
	}
}

func TestSpeechEvents(t *testing.T) {
	// High score once, then low scores: one speech_start and, after the
	// hangover run of low windows, one speech_end.
	vadPipe := testVADPipeline(t, 0.9, 0.1)
	mgr := testManager(t, vadPipe, nil)
	sink := &captureSink{}
	mgr.SetEventSink(sink)

	session, _ := mgr.CreateSession(1, testSignaling("mic"), protocol.CodecPCM16)

	// 20 windows of 512 samples: 1 high + 19 low, enough to exhaust the
	// 12-window hangover.
	session.AddAudio(1, pcm16Bytes(make([]float32, 20*512)))

	if !waitFor(t, 2*time.Second, func() bool {
		return len(sink.byType(notify.EventSpeechEnd)) > 0
	}) {
		t.Fatal("expected speech_end event")
	}

	starts := sink.byType(notify.EventSpeechStart)
	if len(starts) != 1 {
		t.Fatalf("expected exactly 1 speech_start, got %d", len(starts))
	}
	if starts[0].StreamID != 1 || starts[0].SessionID != session.SessionID {
		t.Errorf("unexpected event identity: %+v", starts[0])
	}
	if starts[0].Score != 0.9 {
		t.Errorf("expected score 0.9 on speech_start, got %v", starts[0].Score)
	}

	info := session.GetSessionInfo()
	if info.SpeechSegments != 1 {
		t.Errorf("expected 1 speech segment, got %d", info.SpeechSegments)
	}
}

func TestWakewordTriggerEmitsSnapshot(t *testing.T) {
	mgr := testManager(t, testVADPipeline(t, 0.1), testWakewordPipeline(t, 0.9))
	sink := &captureSink{}
	mgr.SetEventSink(sink)

	session, _ := mgr.CreateSession(1, testSignaling("front-door"), protocol.CodecPCM16)

	// 16 wakeword chunks of 1280 samples accumulate the 76 mel frames the
	// embedder needs and produce the first live score.
	session.AddAudio(1, pcm16Bytes(make([]float32, 16*1280)))

	if !waitFor(t, 2*time.Second, func() bool {
		return len(sink.byType(notify.EventWakeword)) > 0
	}) {
		t.Fatal("expected wakeword event")
	}

	events := sink.byType(notify.EventWakeword)
	if events[0].Label != "front-door" {
		t.Errorf("expected label on wakeword event, got %q", events[0].Label)
	}
	if events[0].Score != 0.9 {
		t.Errorf("expected score 0.9, got %v", events[0].Score)
	}
	if len(events[0].Snapshot) == 0 {
		t.Error("expected WAV snapshot attached to wakeword event")
	}

	info := session.GetSessionInfo()
	if info.WakewordTriggers < 1 {
		t.Errorf("expected at least 1 trigger, got %d", info.WakewordTriggers)
	}
}

func TestRemoveSession(t *testing.T) {
	mgr := testManager(t, testVADPipeline(t, 0.1), nil)
	mgr.CreateSession(1, testSignaling("mic"), protocol.CodecPCM16)

	if !mgr.RemoveSession(1) {
		t.Error("expected RemoveSession to succeed")
	}
	if mgr.RemoveSession(1) {
		t.Error("expected second removal to report false")
	}
	if mgr.GetActiveSessionCount() != 0 {
		t.Errorf("expected 0 sessions, got %d", mgr.GetActiveSessionCount())
	}
}

func TestGetAllSessions(t *testing.T) {
	mgr := testManager(t, testVADPipeline(t, 0.1), nil)
	mgr.CreateSession(1, testSignaling("a"), protocol.CodecPCM16)
	mgr.CreateSession(2, testSignaling("b"), protocol.CodecPCM16)

	sessions := mgr.GetAllSessions()
	if len(sessions) != 2 {
		t.Errorf("expected 2 sessions, got %d", len(sessions))
	}
}

func TestSessionInfoFields(t *testing.T) {
	mgr := testManager(t, testVADPipeline(t, 0.1), nil)
	session, _ := mgr.CreateSession(3, testSignaling("porch"), protocol.CodecF32)

	info := session.GetSessionInfo()
	if info.StreamID != 3 {
		t.Errorf("expected stream ID 3, got %d", info.StreamID)
	}
	if info.Codec != "f32" {
		t.Errorf("expected codec name 'f32', got %q", info.Codec)
	}
	if info.SourceRate != 16000 {
		t.Errorf("expected source rate 16000, got %d", info.SourceRate)
	}
	if info.StartTime.IsZero() {
		t.Error("expected start time to be set")
	}
}
