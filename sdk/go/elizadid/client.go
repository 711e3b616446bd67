// Package elizadid is a Go client for the ElizaDID admission API. It
// canonicalises task payloads the same way the agent does, signs them with
// the holder's key and submits them over HTTP.
package elizadid

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"
	"time"

	"ElizaDID/internal/task"
)

// DefaultHTTPTimeout defines the timeout used by clients created without a
// custom http.Client.
const DefaultHTTPTimeout = 15 * time.Second

// Signer produces signatures the agent's authorizer accepts for its DID.
// identity.Signer satisfies it.
type Signer interface {
	Sign(message []byte) ([]byte, error)
}

// Client wraps the HTTP interactions with the ElizaDID REST API.
type Client struct {
	baseURL    *url.URL
	httpClient *http.Client
	signer     Signer
}

// Submission describes a task before it is signed.
type Submission struct {
	Type     string         `json:"type"`
	Payload  map[string]any `json:"payload"`
	Priority int            `json:"priority,omitempty"`
}

type signedSubmission struct {
	Submission
	Signature string `json:"signature"`
}

// Receipt is returned once the agent admits a task.
type Receipt struct {
	ID          string    `json:"id"`
	Type        string    `json:"type"`
	Priority    int       `json:"priority"`
	Sequence    uint64    `json:"sequence"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// PendingTask is a queued task as reported by the agent.
type PendingTask struct {
	ID          string         `json:"id"`
	Type        string         `json:"type"`
	Priority    int            `json:"priority"`
	Sequence    uint64         `json:"sequence"`
	Payload     map[string]any `json:"payload"`
	SubmittedAt time.Time      `json:"submitted_at"`
}

// ChainSnapshot summarises the execution backend seen at initialization.
type ChainSnapshot struct {
	Chain       string `json:"chain,omitempty"`
	ChainID     string `json:"chain_id"`
	BlockNumber string `json:"block_number"`
}

// AgentStatus reports the agent lifecycle state.
type AgentStatus struct {
	DID           string        `json:"did"`
	State         string        `json:"state"`
	QueueLength   int           `json:"queue_length"`
	Closed        bool          `json:"closed"`
	Chain         ChainSnapshot `json:"chain"`
	InitializedAt time.Time     `json:"initialized_at"`
	Executors     []string      `json:"executors,omitempty"`
}

// Outcome is the recorded result of one dispatched task.
type Outcome struct {
	TaskID     string          `json:"task_id"`
	Type       string          `json:"type"`
	Priority   int             `json:"priority"`
	Sequence   uint64          `json:"sequence"`
	Status     string          `json:"status"`
	ErrorCode  string          `json:"error_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	FinishedAt time.Time       `json:"finished_at"`
}

// OutcomeStats aggregates outcomes matching a query.
type OutcomeStats struct {
	Total            int64 `json:"total"`
	Succeeded        int64 `json:"succeeded"`
	Failed           int64 `json:"failed"`
	Unsupported      int64 `json:"unsupported"`
	OldestFinishedAt int64 `json:"oldest_finished_at"`
	NewestFinishedAt int64 `json:"newest_finished_at"`
}

// OutcomeList is the response of Outcomes.
type OutcomeList struct {
	Outcomes []Outcome    `json:"outcomes"`
	Stats    OutcomeStats `json:"stats"`
}

// OutcomeQuery filters Outcomes. Zero values are omitted.
type OutcomeQuery struct {
	Statuses  []string
	Types     []string
	Since     time.Time
	Until     time.Time
	Limit     int
	Offset    int
	Ascending bool
}

func (q OutcomeQuery) values() url.Values {
	values := url.Values{}
	if len(q.Statuses) > 0 {
		values.Set("status", strings.Join(q.Statuses, ","))
	}
	if len(q.Types) > 0 {
		values.Set("type", strings.Join(q.Types, ","))
	}
	if !q.Since.IsZero() {
		values.Set("since", strconv.FormatInt(q.Since.UnixMilli(), 10))
	}
	if !q.Until.IsZero() {
		values.Set("until", strconv.FormatInt(q.Until.UnixMilli(), 10))
	}
	if q.Limit > 0 {
		values.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		values.Set("offset", strconv.Itoa(q.Offset))
	}
	if q.Ascending {
		values.Set("order", "asc")
	}
	return values
}

// APIError represents an error response from the agent.
type APIError struct {
	StatusCode int               `json:"-"`
	Code       string            `json:"code"`
	Message    string            `json:"message"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func (e *APIError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code != "" {
		return fmt.Sprintf("elizadid api error (%d): %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("elizadid api error (%d): %s", e.StatusCode, e.Message)
}

// IsUnauthorized reports whether err is a rejected signature.
func IsUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// IsNotReady reports whether the agent refused the task because of its state.
func IsNotReady(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusConflict
}

// NewClient instantiates a client. signer may be nil when only SubmitSigned
// and the read endpoints are used. When httpClient is nil, a default client
// with DefaultHTTPTimeout is used.
func NewClient(rawURL string, signer Signer, httpClient *http.Client) (*Client, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid base url: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("invalid base url: %q", rawURL)
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultHTTPTimeout}
	}
	return &Client{baseURL: parsed, httpClient: httpClient, signer: signer}, nil
}

// Sign returns the signature the agent expects for the submission.
func (c *Client) Sign(sub Submission) ([]byte, error) {
	if c.signer == nil {
		return nil, errors.New("elizadid: signer is not configured")
	}
	message, err := task.CanonicalMessage(task.Type(sub.Type), sub.Payload)
	if err != nil {
		return nil, fmt.Errorf("canonicalise payload: %w", err)
	}
	return c.signer.Sign(message)
}

// Submit signs the submission and sends it to the agent.
func (c *Client) Submit(ctx context.Context, sub Submission) (Receipt, error) {
	signature, err := c.Sign(sub)
	if err != nil {
		return Receipt{}, err
	}
	return c.SubmitSigned(ctx, sub, signature)
}

// SubmitSigned sends a submission with a signature produced elsewhere.
func (c *Client) SubmitSigned(ctx context.Context, sub Submission, signature []byte) (Receipt, error) {
	if sub.Payload == nil {
		sub.Payload = map[string]any{}
	}
	body := signedSubmission{Submission: sub, Signature: "0x" + hex.EncodeToString(signature)}
	var receipt Receipt
	if err := c.post(ctx, "/api/v1/tasks", body, &receipt); err != nil {
		return Receipt{}, err
	}
	return receipt, nil
}

// PendingTasks returns the queued tasks in dispatch order.
func (c *Client) PendingTasks(ctx context.Context) ([]PendingTask, error) {
	var resp struct {
		Tasks []PendingTask `json:"tasks"`
	}
	if err := c.get(ctx, "/api/v1/tasks", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Tasks, nil
}

// AgentStatus fetches the agent lifecycle state.
func (c *Client) AgentStatus(ctx context.Context) (AgentStatus, error) {
	var status AgentStatus
	if err := c.get(ctx, "/api/v1/agent", nil, &status); err != nil {
		return AgentStatus{}, err
	}
	return status, nil
}

// Outcomes lists recorded dispatch outcomes.
func (c *Client) Outcomes(ctx context.Context, query OutcomeQuery) (OutcomeList, error) {
	var list OutcomeList
	if err := c.get(ctx, "/api/v1/outcomes", query.values(), &list); err != nil {
		return OutcomeList{}, err
	}
	return list, nil
}

// Outcome fetches the outcome of a single task.
func (c *Client) Outcome(ctx context.Context, taskID string) (Outcome, error) {
	var outcome Outcome
	if err := c.get(ctx, "/api/v1/outcomes/"+url.PathEscape(taskID), nil, &outcome); err != nil {
		return Outcome{}, err
	}
	return outcome, nil
}

// WaitOutcome polls Outcome until the task has been dispatched or ctx ends.
func (c *Client) WaitOutcome(ctx context.Context, taskID string, interval time.Duration) (Outcome, error) {
	if interval <= 0 {
		interval = 200 * time.Millisecond
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		outcome, err := c.Outcome(ctx, taskID)
		if err == nil {
			return outcome, nil
		}
		var apiErr *APIError
		if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusNotFound {
			return Outcome{}, err
		}
		select {
		case <-ctx.Done():
			return Outcome{}, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) post(ctx context.Context, endpoint string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := c.newRequest(ctx, http.MethodPost, endpoint, nil, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) get(ctx context.Context, endpoint string, query url.Values, out any) error {
	req, err := c.newRequest(ctx, http.MethodGet, endpoint, query, nil)
	if err != nil {
		return err
	}
	return c.do(req, out)
}

func (c *Client) newRequest(ctx context.Context, method, endpoint string, query url.Values, body io.Reader) (*http.Request, error) {
	rel := &url.URL{Path: path.Join(c.baseURL.Path, endpoint)}
	if len(query) > 0 {
		rel.RawQuery = query.Encode()
	}
	u := c.baseURL.ResolveReference(rel)
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return req, nil
}

func (c *Client) do(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("perform request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("read error response: %w", err)
		}
		_ = json.Unmarshal(data, apiErr)
		if apiErr.Message == "" {
			apiErr.Message = string(bytes.TrimSpace(data))
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
