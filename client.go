package chatsync

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// ============================================================================
// Client
// ============================================================================

const (
	DefaultTimeout   = 15 * time.Second
	DefaultRateLimit = 10
	MaxUploadSize    = 10 * 1024 * 1024
)

// Client is the REST implementation of ChatGateway and MediaGateway.
type Client struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	log        zerolog.Logger

	mu    sync.RWMutex
	token string
}

var (
	_ ChatGateway  = (*Client)(nil)
	_ MediaGateway = (*Client)(nil)
)

type ClientOption func(*Client)

func WithToken(token string) ClientOption {
	return func(c *Client) { c.token = token }
}

func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) { c.httpClient.Timeout = timeout }
}

func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = client }
}

// WithRateLimit caps outgoing requests per second. rps <= 0 disables the cap.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

func WithClientLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log }
}

// NewClient creates a client for the backend at baseURL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: DefaultTimeout},
		limiter:    rate.NewLimiter(rate.Limit(DefaultRateLimit), DefaultRateLimit),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// SetToken updates the bearer token, e.g. after login. It is safe to call
// while requests are in flight.
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.token = token
	c.mu.Unlock()
}

func (c *Client) bearer() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.token
}

// ============================================================================
// Internal request helper
// ============================================================================

func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) ([]byte, error) {
	var (
		reader      io.Reader
		contentType string
	)
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, validationError(fmt.Sprintf("failed to marshal request: %v", err))
		}
		reader = bytes.NewReader(b)
		contentType = "application/json"
	}
	return c.send(ctx, method, path, reader, contentType)
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader, contentType string) ([]byte, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, networkError(err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, validationError(fmt.Sprintf("failed to create request: %v", err))
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token := c.bearer(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("method", method).Str("path", path).Msg("request failed")
		return nil, networkError(err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, networkError(fmt.Errorf("read response: %w", err))
	}
	c.log.Debug().
		Str("method", method).
		Str("path", path).
		Int("status", resp.StatusCode).
		Dur("took", time.Since(start)).
		Msg("request")

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, serverError(resp.StatusCode, errorMessage(data, resp.Status))
	}
	return data, nil
}

// errorMessage extracts a human readable message from an error body.
func errorMessage(data []byte, fallback string) string {
	var body Record
	if json.Unmarshal(data, &body) == nil {
		if msg := firstStr(body, "message", "error", "detail"); msg != "" {
			return msg
		}
		if inner := recordOf(body["error"]); inner != nil {
			if msg := strOr(inner, "message", ""); msg != "" {
				return msg
			}
		}
	}
	if s := strings.TrimSpace(string(data)); s != "" && len(s) < 200 {
		return s
	}
	return fallback
}

// unwrap returns the payload of a response that may be wrapped in
// {"success": ..., "data": ...}. A body that reports success=false is an error.
func unwrap(data []byte) (any, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, serverError(0, "invalid JSON response")
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return v, nil
	}
	if s, present := obj["success"]; present && s == false {
		return nil, serverError(0, errorMessage(data, "request failed"))
	}
	if inner, present := obj["data"]; present {
		return inner, nil
	}
	return obj, nil
}

// decodeList extracts a list of records from a payload that is either a bare
// array or an object holding the array under one of keys.
func decodeList(data []byte, keys ...string) ([]Record, error) {
	v, err := unwrap(data)
	if err != nil {
		return nil, err
	}
	if obj, ok := v.(map[string]any); ok {
		v = nil
		for _, k := range keys {
			if inner, present := obj[k]; present {
				v = inner
				break
			}
		}
	}
	items, _ := v.([]any)
	out := make([]Record, 0, len(items))
	for _, item := range items {
		if r, ok := item.(map[string]any); ok {
			out = append(out, r)
		}
	}
	return out, nil
}

func decodeRecord(data []byte, keys ...string) (Record, error) {
	v, err := unwrap(data)
	if err != nil {
		return nil, err
	}
	obj, _ := v.(map[string]any)
	for _, k := range keys {
		if inner := recordOf(obj[k]); inner != nil {
			return inner, nil
		}
	}
	return obj, nil
}

// ============================================================================
// ChatGateway
// ============================================================================

func (c *Client) FetchConversations(ctx context.Context) ([]Record, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/chat/conversations", nil)
	if err != nil {
		return nil, err
	}
	return decodeList(data, "conversations", "items")
}

func (c *Client) FetchAdmins(ctx context.Context) ([]Record, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/chat/admins", nil)
	if err != nil {
		return nil, err
	}
	return decodeList(data, "admins", "users", "items")
}

func (c *Client) FetchMessages(ctx context.Context, peerID string) ([]Record, error) {
	data, err := c.doRequest(ctx, http.MethodGet, "/api/chat/messages/"+url.PathEscape(peerID), nil)
	if err != nil {
		return nil, err
	}
	return decodeList(data, "messages", "items")
}

func (c *Client) SendMessage(ctx context.Context, peerID, body, imageURL string) (Record, error) {
	payload := map[string]interface{}{"receiverId": peerID, "message": body}
	if imageURL != "" {
		payload["imageUrl"] = imageURL
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/api/chat/messages", payload)
	if err != nil {
		return nil, err
	}
	return decodeRecord(data, "message")
}

func (c *Client) MarkRead(ctx context.Context, peerID string) error {
	return c.exec(ctx, http.MethodPut, "/api/chat/messages/"+url.PathEscape(peerID)+"/read")
}

func (c *Client) DeleteMessage(ctx context.Context, messageID string) error {
	return c.exec(ctx, http.MethodDelete, "/api/chat/messages/"+url.PathEscape(messageID))
}

func (c *Client) BlockUser(ctx context.Context, peerID string) error {
	return c.exec(ctx, http.MethodPost, "/api/chat/users/"+url.PathEscape(peerID)+"/block")
}

// exec runs a request whose response only matters for its success flag.
func (c *Client) exec(ctx context.Context, method, path string) error {
	data, err := c.doRequest(ctx, method, path, nil)
	if err != nil {
		return err
	}
	_, err = unwrap(data)
	return err
}

// ============================================================================
// MediaGateway
// ============================================================================

// UploadFile uploads data as a multipart form and returns the hosted URL.
func (c *Client) UploadFile(ctx context.Context, data []byte, name string) (string, error) {
	if len(data) == 0 {
		return "", validationError("upload is empty")
	}
	if len(data) > MaxUploadSize {
		return "", validationError("file exceeds maximum size of 10 MB")
	}
	if name == "" {
		name = "image.jpg"
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name="file"; filename=%q`, name))
	h.Set("Content-Type", guessMimeType(name))
	part, err := w.CreatePart(h)
	if err != nil {
		return "", validationError(fmt.Sprintf("failed to create form file: %v", err))
	}
	if _, err := part.Write(data); err != nil {
		return "", validationError(fmt.Sprintf("failed to write file data: %v", err))
	}
	if err := w.Close(); err != nil {
		return "", validationError(fmt.Sprintf("failed to finish form: %v", err))
	}

	resp, err := c.send(ctx, http.MethodPost, "/api/upload", &buf, w.FormDataContentType())
	if err != nil {
		return "", err
	}
	return uploadedURL(resp)
}

// UploadFromURL asks the media service to fetch and host a remote image.
func (c *Client) UploadFromURL(ctx context.Context, remote string) (string, error) {
	if _, err := url.ParseRequestURI(remote); err != nil {
		return "", validationError("invalid image url")
	}
	data, err := c.doRequest(ctx, http.MethodPost, "/api/upload/url", map[string]string{"url": remote})
	if err != nil {
		return "", err
	}
	return uploadedURL(data)
}

func uploadedURL(data []byte) (string, error) {
	v, err := unwrap(data)
	if err != nil {
		return "", err
	}
	switch t := v.(type) {
	case string:
		return t, nil
	case map[string]any:
		if u := firstStr(t, "url", "imageUrl", "secure_url", "location"); u != "" {
			return u, nil
		}
	}
	return "", serverError(0, "upload response has no url")
}

// guessMimeType returns the MIME type for a file name's extension.
func guessMimeType(fileName string) string {
	ext := strings.ToLower(filepath.Ext(fileName))
	if ext == "" {
		return "application/octet-stream"
	}
	fallback := map[string]string{
		".webp": "image/webp", ".heic": "image/heic", ".heif": "image/heif",
	}
	if m, ok := fallback[ext]; ok {
		return m
	}
	if t := mime.TypeByExtension(ext); t != "" {
		if idx := strings.Index(t, ";"); idx > 0 {
			t = strings.TrimSpace(t[:idx])
		}
		return t
	}
	return "application/octet-stream"
}

// IsNotFound reports whether err is a server error with status 404.
func IsNotFound(err error) bool {
	var ce *ChatError
	return errors.As(err, &ce) && ce.Kind == KindServer && ce.Status == http.StatusNotFound
}
