package streamer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/approval"
	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/logging"
	"github.com/sentinelhq/sentinel/redact"
)

// Worker tuning. The idle timeout treats extended silence as the transcript
// having gone away; the send timeout keeps one slow request from stalling
// the stream.
const (
	DefaultIdleTimeout = 30 * time.Minute
	DefaultSendTimeout = 10 * time.Second
	defaultPollEvery   = 500 * time.Millisecond
	backfillLines      = 100
)

// WorkerConfig describes one worker run. Everything arrives via flags on
// the hidden subcommand; the detached worker never reads repository state.
type WorkerConfig struct {
	SessionID      string
	RelayID        string
	TranscriptPath string
	DeviceID       string
	Project        string
	Server         string

	// IdleTimeout bounds the worker's lifetime with no new lines.
	// Zero means DefaultIdleTimeout.
	IdleTimeout time.Duration

	// SendTimeout bounds each per-line send. Zero means DefaultSendTimeout.
	SendTimeout time.Duration

	// pollEvery is the growth-check interval (overridable in tests).
	pollEvery time.Duration
}

// sender is the transcript wire call. Satisfied by *approval.Client.
type sender interface {
	SendTranscript(ctx context.Context, ev *approval.TranscriptEvent, timeout time.Duration) error
}

// RunWorker is the detached worker's entry point: tail the transcript and
// forward each non-empty line until cancelled, fatally rejected, or idle
// too long. The handle file is released on every exit path.
func RunWorker(ctx context.Context, cfg WorkerConfig, handleDir string) error {
	client := approval.NewClient(cfg.Server, "", 0)
	return runWorker(ctx, cfg, handleDir, client)
}

func runWorker(ctx context.Context, cfg WorkerConfig, handleDir string, send sender) error {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = DefaultIdleTimeout
	}
	if cfg.SendTimeout <= 0 {
		cfg.SendTimeout = DefaultSendTimeout
	}
	if cfg.pollEvery <= 0 {
		cfg.pollEvery = defaultPollEvery
	}

	pid := os.Getpid()

	// Scoped acquisition: the handle is released no matter how the loop
	// exits (end of input, idle timeout, cancellation, fatal rejection).
	defer func() {
		if err := removeHandleIfOwned(handleDir, cfg.SessionID, pid); err != nil {
			logging.Warn(ctx, "failed to release streamer handle", "error", err.Error())
		}
	}()

	tail, err := openTail(cfg.TranscriptPath, backfillLines)
	if err != nil {
		return fmt.Errorf("opening transcript: %w", err)
	}
	defer tail.Close()

	logging.Info(ctx, "streaming transcript",
		"transcript", cfg.TranscriptPath,
		"relay_id", cfg.RelayID,
		"pid", pid,
	)

	lastLineAt := time.Now()
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line, err := tail.Next()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				return fmt.Errorf("reading transcript: %w", err)
			}
			if time.Since(lastLineAt) > cfg.IdleTimeout {
				logging.Info(ctx, "transcript idle, stopping worker",
					"idle", cfg.IdleTimeout.String())
				return nil
			}
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(cfg.pollEvery):
			}
			continue
		}
		lastLineAt = time.Now()

		line = bytes.TrimSpace(line)
		if len(line) == 0 {
			continue
		}

		if err := forwardLine(ctx, send, cfg, line); err != nil {
			var rejected *approval.RejectedError
			if errors.As(err, &rejected) {
				// The server will never accept this stream; stop rather
				// than hammer it.
				logging.Warn(ctx, "transcript stream rejected, stopping worker",
					"status", rejected.StatusCode)
				return err
			}
			// Rate limits and server-side errors are swallowed; the next
			// line gets a fresh attempt.
			logging.Debug(ctx, "transcript send failed", "error", err.Error())
		}
	}
}

// forwardLine scrubs one transcript record and sends it.
func forwardLine(ctx context.Context, send sender, cfg WorkerConfig, line []byte) error {
	data := redact.Record(line)

	// The server expects data as a JSON value. Non-JSON lines are shipped
	// as JSON strings.
	if !json.Valid(data) {
		encoded, err := json.Marshal(string(data))
		if err != nil {
			return fmt.Errorf("encoding transcript line: %w", err)
		}
		data = encoded
	}

	return send.SendTranscript(ctx, &approval.TranscriptEvent{
		DeviceID:  cfg.DeviceID,
		SessionID: cfg.SessionID,
		Project:   cfg.Project,
		RelayID:   cfg.RelayID,
		Data:      data,
	}, cfg.SendTimeout)
}

// tailReader yields complete lines from a growing file: a bounded backfill
// of recent lines first, then every subsequently appended line. Next
// returns io.EOF when no complete line is available yet.
type tailReader struct {
	f        *os.File
	r        *bufio.Reader
	backfill [][]byte
	partial  []byte
}

// openTail opens the file and pre-reads the last maxBackfill non-empty
// lines so a freshly started worker gives the reviewer recent context.
func openTail(path string, maxBackfill int) (*tailReader, error) {
	f, err := os.Open(path) //nolint:gosec // path comes from the hook's transcript_path
	if err != nil {
		return nil, err
	}

	t := &tailReader{f: f, r: bufio.NewReader(f)}

	// One pass over the existing content, keeping only the tail.
	var recent [][]byte
	for {
		line, err := t.readLine()
		if err != nil {
			break
		}
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		recent = append(recent, line)
		if len(recent) > maxBackfill {
			recent = recent[1:]
		}
	}
	t.backfill = recent

	return t, nil
}

// Next returns the next complete line, serving backfill before new growth.
func (t *tailReader) Next() ([]byte, error) {
	if len(t.backfill) > 0 {
		line := t.backfill[0]
		t.backfill = t.backfill[1:]
		return line, nil
	}
	return t.readLine()
}

// readLine returns one complete newline-terminated line, buffering partial
// trailing data until the writer finishes the line.
func (t *tailReader) readLine() ([]byte, error) {
	chunk, err := t.r.ReadBytes('\n')
	if err == nil {
		line := append(t.partial, chunk...) //nolint:gocritic // partial is consumed here
		t.partial = nil
		return bytes.TrimRight(line, "\n"), nil
	}
	if errors.Is(err, io.EOF) {
		if len(chunk) > 0 {
			// Incomplete line: stash it and wait for the rest.
			t.partial = append(t.partial, chunk...)
		}
		return nil, io.EOF
	}
	return nil, err
}

// Close releases the underlying file.
func (t *tailReader) Close() error {
	return t.f.Close()
}
