// Package remote talks to the remote project API. Responses are loosely
// typed JSON and are mapped onto the DTOs in this package before they
// reach the sync engine.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode/utf8"

	serrors "github.com/alexjbarnes/workspace-sync/internal/errors"
	"github.com/tidwall/gjson"
	"golang.org/x/time/rate"
)

// TransientError wraps an error that is likely temporary and safe to retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string { return e.Err.Error() }
func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err (or any error in its chain) is a
// TransientError. The Client already retries idempotent requests, so a
// transient error seen by a caller means those attempts ran out.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

const (
	// maxRedirects is the maximum number of HTTP redirects to follow
	// before giving up, matching the default net/http limit.
	maxRedirects = 10

	// httpClientTimeout is the timeout for the default HTTP client.
	httpClientTimeout = 30 * time.Second

	// maxAPIResponseBytes caps response body reads. Conversation
	// histories and file listings carry content inline, so this is far
	// larger than a typical JSON API cap.
	maxAPIResponseBytes = 16 * 1024 * 1024

	// DefaultRateLimit is the default number of requests per second.
	DefaultRateLimit = 5.0

	// maxAttempts bounds how often an idempotent request is sent when it
	// keeps failing with a transient error.
	maxAttempts = 3

	// retryBaseDelay is the backoff before the second attempt. It
	// doubles for each further attempt, plus up to half again as jitter.
	retryBaseDelay = 500 * time.Millisecond
)

// Client implements the remote store over the REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	limiter    *rate.Limiter
	retryDelay time.Duration
}

// Options configures a Client.
type Options struct {
	BaseURL string
	Token   string

	// RateLimit is requests per second. Zero uses DefaultRateLimit.
	RateLimit float64

	// HTTPClient overrides the default client (30 s timeout, same-host
	// redirects only).
	HTTPClient *http.Client
}

// sameHostRedirectPolicy follows redirects only when the target host
// matches the original request host so the bearer token never leaks to
// another domain.
func sameHostRedirectPolicy(req *http.Request, via []*http.Request) error {
	if len(via) >= maxRedirects {
		return errors.New("stopped after 10 redirects")
	}

	if len(via) > 0 {
		origHost := via[0].URL.Host
		if req.URL.Host != origHost {
			return fmt.Errorf("redirect to different host blocked: %s -> %s", origHost, req.URL.Host)
		}
	}

	return nil
}

// NewClient creates an API client.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("remote API base URL is required")
	}

	u, err := url.Parse(opts.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid remote API base URL %q", opts.BaseURL)
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout:       httpClientTimeout,
			CheckRedirect: sameHostRedirectPolicy,
		}
	}

	limit := opts.RateLimit
	if limit <= 0 {
		limit = DefaultRateLimit
	}

	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(opts.BaseURL, "/"),
		token:      opts.Token,
		limiter:    rate.NewLimiter(rate.Limit(limit), 1),
		retryDelay: retryBaseDelay,
	}, nil
}

// sanitizeResponseBody truncates and sanitizes a response body for
// inclusion in error messages. Limits to 256 bytes and replaces
// non-printable characters to prevent log injection.
func sanitizeResponseBody(body []byte) string {
	const maxLen = 256
	if len(body) > maxLen {
		body = body[:maxLen]
	}

	var clean []byte

	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		if r == utf8.RuneError && size <= 1 {
			clean = append(clean, '?')
			body = body[1:]

			continue
		}

		if r < 0x20 && r != '\n' && r != '\r' && r != '\t' {
			clean = append(clean, '?')
		} else {
			clean = append(clean, body[:size]...)
		}

		body = body[size:]
	}

	return string(clean)
}

// do sends a request with an optional JSON body and returns the raw
// response body of a 2xx response. GET, PUT and DELETE are retried with
// exponential backoff while they fail with a TransientError. POST is
// sent once since a lost response may still have created a document.
func (c *Client) do(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	attempts := 1
	if method != http.MethodPost {
		attempts = maxAttempts
	}

	delay := c.retryDelay

	for attempt := 1; ; attempt++ {
		respBody, err := c.doOnce(ctx, method, endpoint, body)
		if err == nil || attempt >= attempts || !IsTransient(err) {
			return respBody, err
		}

		wait := delay
		if half := int64(delay) / 2; half > 0 {
			wait += time.Duration(rand.Int64N(half))
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, err
		case <-timer.C:
		}

		delay *= 2
	}
}

// doOnce performs a single request attempt.
func (c *Client) doOnce(ctx context.Context, method, endpoint string, body interface{}) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}

	var reader io.Reader

	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshalling request body: %w", err)
		}

		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json")

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		wrapped := fmt.Errorf("%w: %s %s: %v", serrors.ErrAPIRequest, method, endpoint, err)
		// Network errors (timeouts, connection refused, DNS failures)
		// are transient by nature.
		return nil, &TransientError{Err: wrapped}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", endpoint, err)
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return respBody, nil
	}

	msg := gjson.GetBytes(respBody, "error.message").String()
	if msg == "" {
		msg = gjson.GetBytes(respBody, "error").String()
	}

	if msg == "" {
		msg = sanitizeResponseBody(respBody)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s %s", serrors.ErrNotFound, method, endpoint)
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: %s %s returned %d: %s", serrors.ErrAPIRequest, method, endpoint, resp.StatusCode, msg)
	case isTransientStatus(resp.StatusCode):
		return nil, &TransientError{Err: fmt.Errorf("%w: %s %s returned %d: %s", serrors.ErrAPIRequest, method, endpoint, resp.StatusCode, msg)}
	default:
		return nil, fmt.Errorf("%w: %s %s returned %d: %s", serrors.ErrAPIRequest, method, endpoint, resp.StatusCode, msg)
	}
}

// isTransientStatus returns true for HTTP status codes that indicate a
// temporary server-side problem worth retrying.
func isTransientStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}

	return false
}

func orgPath(orgID string) string {
	return "/api/organizations/" + url.PathEscape(orgID)
}

func projectPath(orgID, projectID string) string {
	return orgPath(orgID) + "/projects/" + url.PathEscape(projectID)
}

// ListProjects returns the organization's projects in server order.
func (c *Client) ListProjects(ctx context.Context, orgID string) ([]Project, error) {
	body, err := c.do(ctx, http.MethodGet, orgPath(orgID)+"/projects", nil)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	arr, err := jsonArray(body)
	if err != nil {
		return nil, fmt.Errorf("listing projects: %w", err)
	}

	projects := make([]Project, 0, len(arr))

	for _, item := range arr {
		p := Project{
			ID:        item.Get("uuid").String(),
			Name:      item.Get("name").String(),
			CreatedAt: parseTime(item.Get("created_at")),
			UpdatedAt: parseTime(item.Get("updated_at")),
		}
		if p.ID == "" {
			continue
		}

		projects = append(projects, p)
	}

	return projects, nil
}

// ListFiles returns a project's knowledge files including content.
func (c *Client) ListFiles(ctx context.Context, orgID, projectID string) ([]File, error) {
	body, err := c.do(ctx, http.MethodGet, projectPath(orgID, projectID)+"/docs", nil)
	if err != nil {
		return nil, fmt.Errorf("listing files of project %s: %w", projectID, err)
	}

	arr, err := jsonArray(body)
	if err != nil {
		return nil, fmt.Errorf("listing files of project %s: %w", projectID, err)
	}

	files := make([]File, 0, len(arr))

	for _, item := range arr {
		f := fileFromJSON(item)
		if f.ID == "" || f.Name == "" {
			continue
		}

		files = append(files, f)
	}

	return files, nil
}

// GetInstructions returns the project instructions document. An absent
// document is returned as "".
func (c *Client) GetInstructions(ctx context.Context, orgID, projectID string) (string, error) {
	body, err := c.do(ctx, http.MethodGet, projectPath(orgID, projectID), nil)
	if err != nil {
		return "", fmt.Errorf("reading instructions of project %s: %w", projectID, err)
	}

	if !gjson.ValidBytes(body) {
		return "", fmt.Errorf("reading instructions of project %s: %w", projectID, serrors.ErrAPIResponse)
	}

	return gjson.GetBytes(body, "prompt_template").String(), nil
}

// SetInstructions replaces the project instructions document.
func (c *Client) SetInstructions(ctx context.Context, orgID, projectID, content string) error {
	payload := map[string]string{"prompt_template": content}

	if _, err := c.do(ctx, http.MethodPut, projectPath(orgID, projectID), payload); err != nil {
		return fmt.Errorf("updating instructions of project %s: %w", projectID, err)
	}

	return nil
}

// UploadFile creates a knowledge file and returns the stored record.
func (c *Client) UploadFile(ctx context.Context, orgID, projectID, name, content string) (File, error) {
	payload := map[string]string{"file_name": name, "content": content}

	body, err := c.do(ctx, http.MethodPost, projectPath(orgID, projectID)+"/docs", payload)
	if err != nil {
		return File{}, fmt.Errorf("uploading %s: %w", name, err)
	}

	f := File{Name: name, Content: content}
	if gjson.ValidBytes(body) {
		parsed := fileFromJSON(gjson.ParseBytes(body))
		if parsed.ID != "" {
			f = parsed
		}
	}

	return f, nil
}

// DeleteFile deletes a knowledge file by id. A missing file yields an
// error wrapping ErrNotFound.
func (c *Client) DeleteFile(ctx context.Context, orgID, projectID, fileID string) error {
	endpoint := projectPath(orgID, projectID) + "/docs/" + url.PathEscape(fileID)

	if _, err := c.do(ctx, http.MethodDelete, endpoint, nil); err != nil {
		return fmt.Errorf("deleting file %s: %w", fileID, err)
	}

	return nil
}

// ListConversations returns every conversation in the organization.
func (c *Client) ListConversations(ctx context.Context, orgID string) ([]ConversationSummary, error) {
	body, err := c.do(ctx, http.MethodGet, orgPath(orgID)+"/chat_conversations", nil)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	arr, err := jsonArray(body)
	if err != nil {
		return nil, fmt.Errorf("listing conversations: %w", err)
	}

	convs := make([]ConversationSummary, 0, len(arr))

	for _, item := range arr {
		s := summaryFromJSON(item)
		if s.ID == "" {
			continue
		}

		convs = append(convs, s)
	}

	return convs, nil
}

// GetConversation returns a conversation with its full message history.
func (c *Client) GetConversation(ctx context.Context, orgID, conversationID string) (*Conversation, error) {
	endpoint := orgPath(orgID) + "/chat_conversations/" + url.PathEscape(conversationID) +
		"?tree=True&rendering_mode=messages"

	body, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("reading conversation %s: %w", conversationID, err)
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("reading conversation %s: %w", conversationID, serrors.ErrAPIResponse)
	}

	root := gjson.ParseBytes(body)

	conv := &Conversation{ConversationSummary: summaryFromJSON(root)}
	if conv.ID == "" {
		conv.ID = conversationID
	}

	root.Get("chat_messages").ForEach(func(_, m gjson.Result) bool {
		conv.Messages = append(conv.Messages, Message{
			ID:        m.Get("uuid").String(),
			Sender:    m.Get("sender").String(),
			Text:      messageText(m),
			CreatedAt: parseTime(m.Get("created_at")),
		})

		return true
	})

	return conv, nil
}

func fileFromJSON(item gjson.Result) File {
	return File{
		ID:        item.Get("uuid").String(),
		Name:      item.Get("file_name").String(),
		Content:   item.Get("content").String(),
		CreatedAt: parseTime(item.Get("created_at")),
		UpdatedAt: parseTime(item.Get("updated_at")),
	}
}

func summaryFromJSON(item gjson.Result) ConversationSummary {
	return ConversationSummary{
		ID:        item.Get("uuid").String(),
		Name:      item.Get("name").String(),
		ProjectID: item.Get("project_uuid").String(),
		CreatedAt: parseTime(item.Get("created_at")),
		UpdatedAt: parseTime(item.Get("updated_at")),
	}
}

// messageText prefers the flat "text" field and falls back to joining
// the text blocks of structured content.
func messageText(m gjson.Result) string {
	if text := m.Get("text").String(); text != "" {
		return text
	}

	var parts []string

	m.Get("content").ForEach(func(_, block gjson.Result) bool {
		if block.Get("type").String() == "text" {
			parts = append(parts, block.Get("text").String())
		}

		return true
	})

	return strings.Join(parts, "\n\n")
}

// jsonArray validates body as a JSON array and returns its elements.
func jsonArray(body []byte) ([]gjson.Result, error) {
	if !gjson.ValidBytes(body) {
		return nil, serrors.ErrAPIResponse
	}

	root := gjson.ParseBytes(body)
	if !root.IsArray() {
		return nil, fmt.Errorf("%w: expected a JSON array", serrors.ErrAPIResponse)
	}

	return root.Array(), nil
}

func parseTime(v gjson.Result) time.Time {
	if !v.Exists() || v.String() == "" {
		return time.Time{}
	}

	t, err := time.Parse(time.RFC3339Nano, v.String())
	if err != nil {
		return time.Time{}
	}

	return t.UTC()
}
