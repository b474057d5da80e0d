package session

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/briefroom/scribe-gateway/internal/audio"
	"github.com/briefroom/scribe-gateway/internal/config"
	"github.com/briefroom/scribe-gateway/internal/orchestrator"
	"github.com/briefroom/scribe-gateway/internal/stt"
	"github.com/briefroom/scribe-gateway/internal/summarize"
)

type stubEngine struct {
	mu        sync.Mutex
	audioLens []int
	segments  []stt.Segment
}

func (e *stubEngine) Name() string { return "stub" }

func (e *stubEngine) Transcribe(ctx context.Context, pcm []byte, sampleRate int) (<-chan stt.Segment, <-chan error) {
	e.mu.Lock()
	e.audioLens = append(e.audioLens, len(pcm))
	e.mu.Unlock()

	out := make(chan stt.Segment, len(e.segments))
	errc := make(chan error, 1)
	for _, s := range e.segments {
		out <- s
	}
	close(out)
	close(errc)
	return out, errc
}

func (e *stubEngine) Close() error { return nil }

func (e *stubEngine) receivedLens() []int {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]int, len(e.audioLens))
	copy(out, e.audioLens)
	return out
}

type stubSummarizer struct {
	mu     sync.Mutex
	gate   chan struct{} // optional: hold summarization open
	result *summarize.Result
}

func (s *stubSummarizer) Summarize(ctx context.Context, transcript string) (*summarize.Result, error) {
	s.mu.Lock()
	gate := s.gate
	s.mu.Unlock()
	if gate != nil {
		<-gate
	}
	if s.result != nil {
		return s.result, nil
	}
	return summarize.EmptyResult(), nil
}

func sessionTestConfig() *config.Config {
	return &config.Config{
		IdleSessionTimeout: 30,
		MaxSessionSeconds:  60,
		WorkerPoolSize:     1,
		QueueCapacity:      4,
		JobTimeout:         30,
		VADEnergyThreshold: 500.0,
		VADSilenceFrames:   10,
	}
}

// speechFrame builds a PCM frame loud enough to pass the silence gate.
func speechFrame(samples int) []byte {
	buf := make([]int16, samples)
	for i := range buf {
		if i%2 == 0 {
			buf[i] = 12000
		} else {
			buf[i] = -12000
		}
	}
	return audio.EncodeSamples(buf)
}

func dialTestServer(t *testing.T, cfg *config.Config, o *orchestrator.Orchestrator) (*httptest.Server, *websocket.Conn) {
	t.Helper()
	srv := httptest.NewServer(HandleWS(cfg, o))
	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		srv.Close()
		t.Fatalf("Failed to dial test server: %v", err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	return srv, conn
}

func stopOrchestrator(t *testing.T, o *orchestrator.Orchestrator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := o.Shutdown(ctx); err != nil {
		t.Errorf("Orchestrator shutdown failed: %v", err)
	}
}

func sendControl(t *testing.T, conn *websocket.Conn, payload string) {
	t.Helper()
	if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
		t.Fatalf("Failed to send control message %s: %v", payload, err)
	}
}

func sendAudio(t *testing.T, conn *websocket.Conn, frame []byte) {
	t.Helper()
	if err := conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
		t.Fatalf("Failed to send audio frame: %v", err)
	}
}

// readUntilFinal collects server messages through the terminal message of
// the current capture cycle.
func readUntilFinal(t *testing.T, conn *websocket.Conn) []map[string]interface{} {
	t.Helper()
	var messages []map[string]interface{}
	deadline := time.Now().Add(5 * time.Second)
	for {
		_ = conn.SetReadDeadline(deadline)
		_, payload, err := conn.ReadMessage()
		if err != nil {
			t.Fatalf("Read failed before final message (%d received): %v", len(messages), err)
		}
		var msg map[string]interface{}
		if err := json.Unmarshal(payload, &msg); err != nil {
			t.Fatalf("Server sent invalid JSON %q: %v", payload, err)
		}
		messages = append(messages, msg)
		if msg["type"] == "final" {
			return messages
		}
	}
}

func messageStatuses(messages []map[string]interface{}) []string {
	var statuses []string
	for _, m := range messages {
		if m["type"] == "status" {
			statuses = append(statuses, m["status"].(string))
		}
	}
	return statuses
}

func TestSession_FullCycle(t *testing.T) {
	engine := &stubEngine{segments: []stt.Segment{{Text: "hello", Start: 0, End: 1.5, Seq: 0}}}
	summarizer := &stubSummarizer{result: &summarize.Result{
		Summary: "A short meeting.",
		Actions: []summarize.Action{{Task: "Follow up", Assignee: "Sam"}},
	}}
	cfg := sessionTestConfig()
	o := orchestrator.New(cfg, engine, nil, summarizer)
	o.Start()
	defer stopOrchestrator(t, o)

	srv, conn := dialTestServer(t, cfg, o)
	defer srv.Close()
	defer conn.Close()

	sendControl(t, conn, `{"type":"start","sampleRate":16000}`)
	sendAudio(t, conn, speechFrame(1600))
	sendControl(t, conn, `{"type":"stop"}`)

	messages := readUntilFinal(t, conn)

	if messages[0]["type"] != "status" || messages[0]["status"] != "queued" {
		t.Errorf("First message should be queued status, got %+v", messages[0])
	}
	statuses := messageStatuses(messages)
	want := []string{"queued", "transcribing", "summarizing"}
	if strings.Join(statuses, ",") != strings.Join(want, ",") {
		t.Errorf("Expected statuses %v, got %v", want, statuses)
	}

	var partials, finals int
	for _, m := range messages {
		switch m["type"] {
		case "partial_transcript":
			partials++
			if m["text"] != "hello" {
				t.Errorf("Unexpected partial transcript text: %v", m["text"])
			}
			if m["seq"].(float64) != 0 {
				t.Errorf("Unexpected partial transcript seq: %v", m["seq"])
			}
		case "final":
			finals++
		}
	}
	if partials != 1 {
		t.Errorf("Expected 1 partial transcript, got %d", partials)
	}
	if finals != 1 {
		t.Errorf("Expected exactly one final message, got %d", finals)
	}

	final := messages[len(messages)-1]
	if final["summary"] != "A short meeting." {
		t.Errorf("Unexpected final summary: %v", final["summary"])
	}
	if final["transcript"] != "hello" {
		t.Errorf("Unexpected final transcript: %v", final["transcript"])
	}
	if _, hasError := final["error"]; hasError {
		t.Errorf("Successful final should not carry an error: %+v", final)
	}
	actions, ok := final["actions"].([]interface{})
	if !ok || len(actions) != 1 {
		t.Fatalf("Expected one action in final, got %+v", final["actions"])
	}
}

func TestSession_MultiFrameCaptureOrderedPartials(t *testing.T) {
	engine := &stubEngine{segments: []stt.Segment{
		{Text: "first", Start: 0, End: 1, Seq: 0},
		{Text: "second", Start: 1.2, End: 2.1, Seq: 1},
		{Text: "third", Start: 2.4, End: 3, Seq: 2},
	}}
	summarizer := &stubSummarizer{result: &summarize.Result{Summary: "Three points were made."}}
	cfg := sessionTestConfig()
	o := orchestrator.New(cfg, engine, nil, summarizer)
	o.Start()
	defer stopOrchestrator(t, o)

	srv, conn := dialTestServer(t, cfg, o)
	defer srv.Close()
	defer conn.Close()

	sendControl(t, conn, `{"type":"start","sampleRate":16000}`)
	for i := 0; i < 3; i++ {
		sendAudio(t, conn, speechFrame(16000)) // 48000 samples in total
	}
	sendControl(t, conn, `{"type":"stop"}`)

	messages := readUntilFinal(t, conn)
	statuses := messageStatuses(messages)
	if len(statuses) < 2 || statuses[0] != "queued" || statuses[1] != "transcribing" {
		t.Errorf("Expected queued then transcribing before partials, got %v", statuses)
	}

	var starts []float64
	var seqs []float64
	for _, m := range messages {
		if m["type"] == "partial_transcript" {
			starts = append(starts, m["start"].(float64))
			seqs = append(seqs, m["seq"].(float64))
		}
	}
	if len(starts) == 0 {
		t.Fatal("Expected at least one partial transcript")
	}
	for i := 1; i < len(starts); i++ {
		if starts[i] <= starts[i-1] {
			t.Errorf("Partial starts must increase, got %v", starts)
		}
		if seqs[i] != seqs[i-1]+1 {
			t.Errorf("Partial seqs must increase without gaps, got %v", seqs)
		}
	}

	final := messages[len(messages)-1]
	summary, ok := final["summary"].(string)
	if !ok || summary == "" {
		t.Errorf("Expected a non-empty summary in the final, got %+v", final)
	}

	lens := engine.receivedLens()
	if len(lens) != 1 || lens[0] != 3*16000*2 {
		t.Errorf("Engine should receive all three frames as one snapshot, got %v", lens)
	}
}

func TestSession_OddFrameKeepsConnectionOpen(t *testing.T) {
	engine := &stubEngine{segments: []stt.Segment{{Text: "ok"}}}
	cfg := sessionTestConfig()
	o := orchestrator.New(cfg, engine, nil, &stubSummarizer{})
	o.Start()
	defer stopOrchestrator(t, o)

	srv, conn := dialTestServer(t, cfg, o)
	defer srv.Close()
	defer conn.Close()

	valid := speechFrame(800)
	sendControl(t, conn, `{"type":"start","sampleRate":16000}`)
	sendAudio(t, conn, []byte{0x01, 0x02, 0x03}) // not 16-bit aligned
	sendAudio(t, conn, valid)
	sendControl(t, conn, `{"type":"stop"}`)

	messages := readUntilFinal(t, conn)
	final := messages[len(messages)-1]
	if _, hasError := final["error"]; hasError {
		t.Errorf("Cycle should succeed despite a dropped frame: %+v", final)
	}

	lens := engine.receivedLens()
	if len(lens) != 1 || lens[0] != len(valid) {
		t.Errorf("Engine should only receive the aligned frame bytes, got %v", lens)
	}
}

func TestSession_FrameBeforeStartDropped(t *testing.T) {
	engine := &stubEngine{}
	cfg := sessionTestConfig()
	o := orchestrator.New(cfg, engine, nil, &stubSummarizer{})
	o.Start()
	defer stopOrchestrator(t, o)

	srv, conn := dialTestServer(t, cfg, o)
	defer srv.Close()
	defer conn.Close()

	stray := speechFrame(400)
	sendAudio(t, conn, stray) // no capture open yet

	captured := speechFrame(800)
	sendControl(t, conn, `{"type":"start","sampleRate":16000}`)
	sendAudio(t, conn, captured)
	sendControl(t, conn, `{"type":"stop"}`)

	readUntilFinal(t, conn)

	lens := engine.receivedLens()
	if len(lens) != 1 || lens[0] != len(captured) {
		t.Errorf("Expected only in-capture audio to reach the engine, got %v", lens)
	}
}

func TestSession_RestartDiscardsBuffer(t *testing.T) {
	engine := &stubEngine{}
	cfg := sessionTestConfig()
	o := orchestrator.New(cfg, engine, nil, &stubSummarizer{})
	o.Start()
	defer stopOrchestrator(t, o)

	srv, conn := dialTestServer(t, cfg, o)
	defer srv.Close()
	defer conn.Close()

	sendControl(t, conn, `{"type":"start","sampleRate":16000}`)
	sendAudio(t, conn, speechFrame(1600))
	sendControl(t, conn, `{"type":"start","sampleRate":16000}`) // discard and restart
	second := speechFrame(800)
	sendAudio(t, conn, second)
	sendControl(t, conn, `{"type":"stop"}`)

	readUntilFinal(t, conn)

	lens := engine.receivedLens()
	if len(lens) != 1 || lens[0] != len(second) {
		t.Errorf("Restart should discard earlier audio, engine got %v, want [%d]", lens, len(second))
	}
}

func TestSession_QueueFullFailsAndRearms(t *testing.T) {
	cfg := sessionTestConfig()
	cfg.QueueCapacity = 0
	// Workers never started, so every submission is rejected.
	o := orchestrator.New(cfg, &stubEngine{}, nil, &stubSummarizer{})

	srv, conn := dialTestServer(t, cfg, o)
	defer srv.Close()
	defer conn.Close()

	for cycle := 0; cycle < 2; cycle++ {
		sendControl(t, conn, `{"type":"start","sampleRate":16000}`)
		sendAudio(t, conn, speechFrame(400))
		sendControl(t, conn, `{"type":"stop"}`)

		messages := readUntilFinal(t, conn)
		final := messages[len(messages)-1]
		if final["error"] != "queue_full" {
			t.Fatalf("Cycle %d: expected queue_full final, got %+v", cycle, final)
		}
		if _, hasSummary := final["summary"]; hasSummary {
			t.Errorf("Cycle %d: failed final must not carry a summary", cycle)
		}
	}
}

func TestSession_StopWithoutStartIsDropped(t *testing.T) {
	cfg := sessionTestConfig()
	o := orchestrator.New(cfg, &stubEngine{segments: []stt.Segment{{Text: "hi"}}}, nil, &stubSummarizer{})
	o.Start()
	defer stopOrchestrator(t, o)

	srv, conn := dialTestServer(t, cfg, o)
	defer srv.Close()
	defer conn.Close()

	sendControl(t, conn, `{"type":"stop"}`) // idle: protocol error, no reply

	sendControl(t, conn, `{"type":"start","sampleRate":16000}`)
	sendAudio(t, conn, speechFrame(800))
	sendControl(t, conn, `{"type":"stop"}`)

	messages := readUntilFinal(t, conn)
	if messages[0]["type"] != "status" || messages[0]["status"] != "queued" {
		t.Errorf("Stray stop must produce no messages; first message was %+v", messages[0])
	}
}

func TestSession_MalformedControlDropped(t *testing.T) {
	cfg := sessionTestConfig()
	o := orchestrator.New(cfg, &stubEngine{segments: []stt.Segment{{Text: "hi"}}}, nil, &stubSummarizer{})
	o.Start()
	defer stopOrchestrator(t, o)

	srv, conn := dialTestServer(t, cfg, o)
	defer srv.Close()
	defer conn.Close()

	sendControl(t, conn, `this is not json`)
	sendControl(t, conn, `{"type":"bogus"}`)

	sendControl(t, conn, `{"type":"start","sampleRate":16000}`)
	sendAudio(t, conn, speechFrame(800))
	sendControl(t, conn, `{"type":"stop"}`)

	messages := readUntilFinal(t, conn)
	final := messages[len(messages)-1]
	if _, hasError := final["error"]; hasError {
		t.Errorf("Connection should survive malformed control messages, got %+v", final)
	}
}

func TestSession_EmptyCaptureSucceedsWithEmptyResult(t *testing.T) {
	engine := &stubEngine{}
	cfg := sessionTestConfig()
	o := orchestrator.New(cfg, engine, nil, &stubSummarizer{})
	o.Start()
	defer stopOrchestrator(t, o)

	srv, conn := dialTestServer(t, cfg, o)
	defer srv.Close()
	defer conn.Close()

	sendControl(t, conn, `{"type":"start","sampleRate":16000}`)
	sendControl(t, conn, `{"type":"stop"}`)

	messages := readUntilFinal(t, conn)
	final := messages[len(messages)-1]
	summary, hasSummary := final["summary"]
	if !hasSummary || summary != "" {
		t.Errorf("Empty capture should produce an empty summary, got %+v", final)
	}
	if _, hasError := final["error"]; hasError {
		t.Errorf("Empty capture is not a failure: %+v", final)
	}
	if final["transcript"] != "" {
		t.Errorf("Expected empty transcript, got %v", final["transcript"])
	}
	if len(engine.receivedLens()) != 0 {
		t.Errorf("Engine should not run for an empty capture, got %v", engine.receivedLens())
	}
}

func TestSession_StartWhileFinalizingDropped(t *testing.T) {
	gate := make(chan struct{})
	engine := &stubEngine{segments: []stt.Segment{{Text: "hi"}}}
	summarizer := &stubSummarizer{gate: gate}
	cfg := sessionTestConfig()
	o := orchestrator.New(cfg, engine, nil, summarizer)
	o.Start()
	defer stopOrchestrator(t, o)

	srv, conn := dialTestServer(t, cfg, o)
	defer srv.Close()
	defer conn.Close()

	sendControl(t, conn, `{"type":"start","sampleRate":16000}`)
	sendAudio(t, conn, speechFrame(800))
	sendControl(t, conn, `{"type":"stop"}`)

	// Cycle is held inside summarization; this start must be dropped.
	sendControl(t, conn, `{"type":"start","sampleRate":16000}`)
	time.Sleep(50 * time.Millisecond)
	close(gate)

	messages := readUntilFinal(t, conn)
	finals := 0
	for _, m := range messages {
		if m["type"] == "final" {
			finals++
		}
	}
	if finals != 1 {
		t.Fatalf("Expected exactly one final for the held cycle, got %d", finals)
	}

	// The connection re-arms normally after the terminal message.
	summarizer.mu.Lock()
	summarizer.gate = nil
	summarizer.mu.Unlock()
	sendControl(t, conn, `{"type":"start","sampleRate":16000}`)
	sendAudio(t, conn, speechFrame(800))
	sendControl(t, conn, `{"type":"stop"}`)
	second := readUntilFinal(t, conn)
	if second[len(second)-1]["type"] != "final" {
		t.Error("Second capture cycle did not complete")
	}
}

func TestSession_IdleTimeoutClosesConnection(t *testing.T) {
	cfg := sessionTestConfig()
	cfg.IdleSessionTimeout = 1
	o := orchestrator.New(cfg, &stubEngine{}, nil, &stubSummarizer{})

	srv, conn := dialTestServer(t, cfg, o)
	defer srv.Close()
	defer conn.Close()

	started := time.Now()
	_ = conn.SetReadDeadline(time.Now().Add(4 * time.Second))
	_, _, err := conn.ReadMessage()
	if err == nil {
		t.Fatal("Expected the server to close an idle connection")
	}
	if elapsed := time.Since(started); elapsed < 900*time.Millisecond {
		t.Errorf("Connection closed too early for an idle timeout: %v", elapsed)
	}
}
