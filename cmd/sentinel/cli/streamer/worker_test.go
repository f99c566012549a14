package streamer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/approval"
)

// fakeSender collects forwarded events and returns scripted errors.
type fakeSender struct {
	mu     sync.Mutex
	events []*approval.TranscriptEvent
	errs   []error
}

func (f *fakeSender) SendTranscript(_ context.Context, ev *approval.TranscriptEvent, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, ev)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return err
	}
	return nil
}

func (f *fakeSender) sent() []*approval.TranscriptEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*approval.TranscriptEvent(nil), f.events...)
}

func workerConfig(transcript string) WorkerConfig {
	return WorkerConfig{
		SessionID:      "session-1",
		RelayID:        "relay-1",
		TranscriptPath: transcript,
		DeviceID:       "device-1",
		Project:        "demo",
		IdleTimeout:    150 * time.Millisecond,
		SendTimeout:    time.Second,
		pollEvery:      10 * time.Millisecond,
	}
}

func TestRunWorkerForwardsBackfillAndIdlesOut(t *testing.T) {
	transcript := filepath.Join(t.TempDir(), "transcript.jsonl")
	content := `{"role":"user","content":"hi"}` + "\n" + `{"role":"assistant","content":"hello"}` + "\n"
	if err := os.WriteFile(transcript, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	handleDir := t.TempDir()
	send := &fakeSender{}

	if err := runWorker(context.Background(), workerConfig(transcript), handleDir, send); err != nil {
		t.Fatalf("runWorker() error = %v", err)
	}

	events := send.sent()
	if len(events) != 2 {
		t.Fatalf("sent %d events, want 2", len(events))
	}
	ev := events[0]
	if ev.DeviceID != "device-1" || ev.SessionID != "session-1" || ev.RelayID != "relay-1" || ev.Project != "demo" {
		t.Errorf("event metadata = %+v", ev)
	}
	if !json.Valid(ev.Data) {
		t.Errorf("event data is not valid JSON: %s", ev.Data)
	}
}

func TestRunWorkerForwardsAppendedLines(t *testing.T) {
	transcript := filepath.Join(t.TempDir(), "transcript.jsonl")
	if err := os.WriteFile(transcript, []byte(`{"n":1}`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	send := &fakeSender{}
	cfg := workerConfig(transcript)
	cfg.IdleTimeout = 500 * time.Millisecond

	go func() {
		time.Sleep(50 * time.Millisecond)
		f, err := os.OpenFile(transcript, os.O_APPEND|os.O_WRONLY, 0o600)
		if err != nil {
			return
		}
		defer f.Close()
		// Write a split line to exercise partial-line buffering.
		_, _ = f.WriteString(`{"n":`)
		time.Sleep(30 * time.Millisecond)
		_, _ = f.WriteString("2}\n")
	}()

	if err := runWorker(context.Background(), cfg, t.TempDir(), send); err != nil {
		t.Fatalf("runWorker() error = %v", err)
	}

	events := send.sent()
	if len(events) != 2 {
		t.Fatalf("sent %d events, want 2", len(events))
	}
	if string(events[1].Data) != `{"n":2}` {
		t.Errorf("second event data = %s, want {\"n\":2}", events[1].Data)
	}
}

func TestRunWorkerWrapsNonJSONLines(t *testing.T) {
	transcript := filepath.Join(t.TempDir(), "transcript.jsonl")
	if err := os.WriteFile(transcript, []byte("plain text line\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	send := &fakeSender{}
	if err := runWorker(context.Background(), workerConfig(transcript), t.TempDir(), send); err != nil {
		t.Fatalf("runWorker() error = %v", err)
	}

	events := send.sent()
	if len(events) != 1 {
		t.Fatalf("sent %d events, want 1", len(events))
	}
	var s string
	if err := json.Unmarshal(events[0].Data, &s); err != nil {
		t.Fatalf("data is not a JSON string: %s", events[0].Data)
	}
	if s != "plain text line" {
		t.Errorf("data = %q, want the original line", s)
	}
}

func TestRunWorkerStopsOnRejection(t *testing.T) {
	transcript := filepath.Join(t.TempDir(), "transcript.jsonl")
	content := `{"n":1}` + "\n" + `{"n":2}` + "\n"
	if err := os.WriteFile(transcript, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	send := &fakeSender{errs: []error{&approval.RejectedError{StatusCode: 400}}}
	err := runWorker(context.Background(), workerConfig(transcript), t.TempDir(), send)

	var rejected *approval.RejectedError
	if !errors.As(err, &rejected) {
		t.Fatalf("runWorker() error = %v, want RejectedError", err)
	}
	if len(send.sent()) != 1 {
		t.Errorf("sent %d events, want 1 (rejection is fatal)", len(send.sent()))
	}
}

func TestRunWorkerToleratesTransientSendErrors(t *testing.T) {
	transcript := filepath.Join(t.TempDir(), "transcript.jsonl")
	content := `{"n":1}` + "\n" + `{"n":2}` + "\n"
	if err := os.WriteFile(transcript, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	send := &fakeSender{errs: []error{fmt.Errorf("transcript rate limited (429)")}}
	if err := runWorker(context.Background(), workerConfig(transcript), t.TempDir(), send); err != nil {
		t.Fatalf("runWorker() error = %v", err)
	}

	if len(send.sent()) != 2 {
		t.Errorf("sent %d events, want 2 (transient failures skip the line only)", len(send.sent()))
	}
}

func TestRunWorkerReleasesHandleOnExit(t *testing.T) {
	transcript := filepath.Join(t.TempDir(), "transcript.jsonl")
	if err := os.WriteFile(transcript, []byte(`{"n":1}`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	handleDir := t.TempDir()
	if err := saveHandle(handleDir, &Handle{SessionID: "session-1", PID: os.Getpid()}); err != nil {
		t.Fatal(err)
	}

	if err := runWorker(context.Background(), workerConfig(transcript), handleDir, &fakeSender{}); err != nil {
		t.Fatalf("runWorker() error = %v", err)
	}

	if h, _ := loadHandle(handleDir, "session-1"); h != nil {
		t.Errorf("handle = %+v, want removed on worker exit", h)
	}
}

func TestRunWorkerLeavesSuccessorHandleAlone(t *testing.T) {
	transcript := filepath.Join(t.TempDir(), "transcript.jsonl")
	if err := os.WriteFile(transcript, []byte(`{"n":1}`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	// Handle already belongs to a newer worker, not this process.
	handleDir := t.TempDir()
	if err := saveHandle(handleDir, &Handle{SessionID: "session-1", PID: os.Getpid() + 1}); err != nil {
		t.Fatal(err)
	}

	if err := runWorker(context.Background(), workerConfig(transcript), handleDir, &fakeSender{}); err != nil {
		t.Fatalf("runWorker() error = %v", err)
	}

	if h, _ := loadHandle(handleDir, "session-1"); h == nil {
		t.Error("successor's handle was removed")
	}
}

func TestRunWorkerStopsOnCancellation(t *testing.T) {
	transcript := filepath.Join(t.TempDir(), "transcript.jsonl")
	if err := os.WriteFile(transcript, []byte(`{"n":1}`+"\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg := workerConfig(transcript)
	cfg.IdleTimeout = time.Hour

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- runWorker(ctx, cfg, t.TempDir(), &fakeSender{}) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("runWorker() error = %v, want nil on cancellation", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after cancellation")
	}
}

func TestRunWorkerMissingTranscript(t *testing.T) {
	cfg := workerConfig(filepath.Join(t.TempDir(), "missing.jsonl"))
	if err := runWorker(context.Background(), cfg, t.TempDir(), &fakeSender{}); err == nil {
		t.Fatal("runWorker() error = nil, want error for missing transcript")
	}
}

func TestTailReaderBackfillCap(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.jsonl")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	for i := range 10 {
		fmt.Fprintf(f, "line-%d\n", i)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	tail, err := openTail(path, 3)
	if err != nil {
		t.Fatalf("openTail() error = %v", err)
	}
	defer tail.Close()

	var got []string
	for {
		line, err := tail.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			t.Fatalf("Next() error = %v", err)
		}
		got = append(got, string(line))
	}

	want := []string{"line-7", "line-8", "line-9"}
	if len(got) != len(want) {
		t.Fatalf("backfill = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("backfill[%d] = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestTailReaderPartialLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "lines.jsonl")
	if err := os.WriteFile(path, []byte("complete\npart"), 0o600); err != nil {
		t.Fatal(err)
	}

	tail, err := openTail(path, 100)
	if err != nil {
		t.Fatalf("openTail() error = %v", err)
	}
	defer tail.Close()

	line, err := tail.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if string(line) != "complete" {
		t.Errorf("Next() = %q, want %q", line, "complete")
	}

	// The trailing fragment is held back until its newline arrives.
	if _, err := tail.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("Next() error = %v, want io.EOF", err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString("ial\n"); err != nil {
		t.Fatal(err)
	}
	if err := f.Close(); err != nil {
		t.Fatal(err)
	}

	line, err = tail.Next()
	if err != nil {
		t.Fatalf("Next() error = %v", err)
	}
	if string(line) != "partial" {
		t.Errorf("Next() = %q, want %q", line, "partial")
	}
}
