// Package approval implements the wire protocol between the Sentinel hook
// and the remote approval server: synchronous decision requests with
// retry-on-unauthorized, session enrollment, and transcript forwarding.
package approval

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/sentinelhq/sentinel/cmd/sentinel/cli/logging"
)

// DefaultDecisionTimeout bounds the synchronous decision request. The action
// genuinely blocks the agent while a human responds remotely, so the bound
// is generous but finite.
const DefaultDecisionTimeout = 5 * time.Minute

// maxResponseBytes caps response body reads to prevent memory exhaustion.
const maxResponseBytes = 1 << 20

// ErrTransport marks failures where no decision reached us: connection
// errors, timeouts, and empty response bodies. Callers must treat it as
// deny (fail-closed).
var ErrTransport = errors.New("approval server unreachable")

// RejectedError indicates the server rejected a transcript payload itself
// (a 4xx other than 429). The streamer worker terminates on it; rate-limit
// and server-side errors are swallowed and streaming continues.
type RejectedError struct {
	StatusCode int
}

func (e *RejectedError) Error() string {
	return fmt.Sprintf("server rejected payload with status %d", e.StatusCode)
}

// Enroller re-establishes session enrollment when the server reports
// unauthorized. Implemented by the enrollment.Registry.
type Enroller interface {
	// EnsureEnrolled enrolls the relay ID if not already enrolled.
	EnsureEnrolled(ctx context.Context, relayID, deviceID string) (bool, error)
	// Invalidate discards any cached enrollment state for the relay ID.
	Invalidate(relayID string) error
}

// Client issues requests against the approval server.
type Client struct {
	baseURL    string
	agent      string
	httpClient *http.Client
	enroller   Enroller
}

// NewClient creates a client for the given server base URL. agent tags every
// decision request with the coding agent that produced it. A zero timeout
// means DefaultDecisionTimeout.
func NewClient(baseURL, agent string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultDecisionTimeout
	}
	return &Client{
		baseURL: baseURL,
		agent:   agent,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// SetEnroller wires the enrollment registry used by the retry-on-401 path.
// Without an enroller, a 401 surfaces as deny immediately.
func (c *Client) SetEnroller(e Enroller) {
	c.enroller = e
}

// retryState is the two-state machine behind the "retry at most once" rule.
type retryState int

const (
	stateFirstAttempt retryState = iota
	stateRetriedAfterEnroll
)

// Decide sends one synchronous decision request. The returned error is
// non-nil only for transport failures (it wraps ErrTransport); every
// response that reached us, including server-side rejections, is expressed
// as a *Decision. Callers must treat a non-nil error as deny.
//
// On a 401 with a known relay ID, the cached enrollment state is
// invalidated, enrollment is performed, and the exact same request is
// retried exactly once. A second 401 surfaces as deny without further
// retries.
func (c *Client) Decide(ctx context.Context, req *DecisionRequest) (*Decision, error) {
	// Tag a copy; the caller's request stays untouched.
	wireReq := *req
	wireReq.Agent = c.agent

	state := stateFirstAttempt
	for {
		decision, status, err := c.postDecision(ctx, &wireReq)
		if err != nil {
			return nil, err
		}

		if status == http.StatusUnauthorized {
			if state == stateFirstAttempt && wireReq.RelayID != "" && c.enroller != nil {
				state = stateRetriedAfterEnroll
				if enrolled := c.reenroll(ctx, &wireReq); enrolled {
					continue
				}
			}
			return &Decision{
				Behavior: BehaviorDeny,
				Message:  "session not enrolled with approval server",
			}, nil
		}

		if decision.Error != "" {
			// An explicit error field is always a deny with that message.
			return &Decision{
				Behavior:  BehaviorDeny,
				Message:   decision.Error,
				Interrupt: decision.Interrupt,
			}, nil
		}

		if status < 200 || status > 299 {
			return &Decision{
				Behavior: BehaviorDeny,
				Message:  fmt.Sprintf("approval server returned status %d", status),
			}, nil
		}

		if decision.Behavior == BehaviorAllow && len(decision.UpdatedInput) > 0 {
			logInputDiff(ctx, wireReq.ToolInput, decision.UpdatedInput)
		}

		return decision, nil
	}
}

// reenroll invalidates cached enrollment state and attempts enrollment.
// Returns true only when enrollment succeeded and the request may be retried.
func (c *Client) reenroll(ctx context.Context, req *DecisionRequest) bool {
	if err := c.enroller.Invalidate(req.RelayID); err != nil {
		logging.Warn(ctx, "failed to invalidate enrollment marker", "error", err.Error())
	}
	approved, err := c.enroller.EnsureEnrolled(ctx, req.RelayID, req.DeviceID)
	if err != nil {
		logging.Warn(ctx, "re-enrollment failed", "error", err.Error())
		return false
	}
	return approved
}

// postDecision performs one POST {server}/request round trip. A non-nil
// error always wraps ErrTransport.
func (c *Client) postDecision(ctx context.Context, req *DecisionRequest) (*Decision, int, error) {
	body, status, err := c.post(ctx, "/request", req, c.httpClient)
	if err != nil {
		return nil, 0, err
	}

	// 401 bodies are not decisions; skip parsing.
	if status == http.StatusUnauthorized {
		return nil, status, nil
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return nil, 0, fmt.Errorf("%w: empty response body", ErrTransport)
	}

	var decision Decision
	if err := json.Unmarshal(body, &decision); err != nil {
		return nil, 0, fmt.Errorf("%w: malformed response: %v", ErrTransport, err)
	}
	return &decision, status, nil
}

// Enroll performs one POST {server}/session/enroll round trip. This is the
// raw wire call; idempotency and marker persistence live in the enrollment
// registry.
func (c *Client) Enroll(ctx context.Context, deviceID, relayID string) (bool, error) {
	req := enrollRequest{DeviceID: deviceID, SessionID: relayID}
	body, status, err := c.post(ctx, "/session/enroll", req, c.httpClient)
	if err != nil {
		return false, err
	}
	if status < 200 || status > 299 {
		return false, fmt.Errorf("enrollment rejected with status %d", status)
	}

	var resp enrollResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return false, fmt.Errorf("parsing enrollment response: %w", err)
	}
	return resp.Approved, nil
}

// SendTranscript forwards one transcript record. The response body is
// ignored beyond the status code. Returns *RejectedError for 4xx other
// than 429 so the worker can terminate early; 429 and 5xx come back as
// plain errors the worker swallows.
func (c *Client) SendTranscript(ctx context.Context, ev *TranscriptEvent, timeout time.Duration) error {
	client := c.httpClient
	if timeout > 0 {
		// Per-line sends must not block the overall stream on slow network.
		client = &http.Client{Timeout: timeout, Transport: c.httpClient.Transport}
	}

	_, status, err := c.post(ctx, "/transcript", ev, client)
	if err != nil {
		return err
	}
	if status >= 200 && status <= 299 {
		return nil
	}
	if status >= 400 && status < 500 && status != http.StatusTooManyRequests {
		return &RejectedError{StatusCode: status}
	}
	return fmt.Errorf("transcript send returned status %d", status)
}

// post marshals v and POSTs it to the given path. A non-nil error always
// wraps ErrTransport.
func (c *Client) post(ctx context.Context, path string, v any, client *http.Client) ([]byte, int, error) {
	payload, err := json.Marshal(v)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: marshaling request: %v", ErrTransport, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: building request: %v", ErrTransport, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", "sentinel-cli")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrTransport, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, 0, fmt.Errorf("%w: reading response: %v", ErrTransport, err)
	}

	return body, resp.StatusCode, nil
}
