// Package apiclient calls the verification server on behalf of the capture
// agent. It authenticates with the session's capture token.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/example/idverify/internal/capture"
	"github.com/example/idverify/internal/session"
	"github.com/example/idverify/internal/usecase"
)

// StatusError is a non-2xx response from the server or the upload target.
type StatusError struct {
	Code    int
	Message string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.Code)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.Code, e.Message)
}

// Client is a capture-token scoped server client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient sets the HTTP client used for requests.
func WithHTTPClient(client *http.Client) Option {
	return func(c *Client) {
		c.http = client
	}
}

// WithLogger sets the client logger.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// New creates a client for baseURL authenticating with token.
func New(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    http.DefaultClient,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.http == nil {
		c.http = http.DefaultClient
	}
	c.logger = c.logger.Named("api_client")
	return c
}

var _ capture.Submitter = (*Client)(nil)

// Presign asks the server for an upload URL for one artifact.
func (c *Client) Presign(ctx context.Context, sessionID string, kind session.ArtifactKind, contentType string) (*usecase.PresignedUpload, error) {
	var out usecase.PresignedUpload
	body := map[string]string{"kind": string(kind), "content_type": contentType}
	if err := c.post(ctx, sessionPath(sessionID, "uploads"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Upload PUTs data to a presigned URL. The content type must match the one
// the URL was signed for.
func (c *Client) Upload(ctx context.Context, uploadURL, contentType string, data []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	req.ContentLength = int64(len(data))

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return &StatusError{Code: resp.StatusCode}
	}
	return nil
}

// Submit presigns and uploads a captured artifact, returning its key.
func (c *Client) Submit(ctx context.Context, sessionID string, artifact capture.Artifact) (string, error) {
	upload, err := c.Presign(ctx, sessionID, artifact.Kind, artifact.ContentType)
	if err != nil {
		return "", fmt.Errorf("presign %s: %w", artifact.Kind, err)
	}
	if err := c.Upload(ctx, upload.UploadURL, artifact.ContentType, artifact.Data); err != nil {
		return "", fmt.Errorf("upload %s: %w", artifact.Kind, err)
	}
	c.logger.Info("artifact uploaded",
		zap.String("session_id", sessionID),
		zap.String("key", upload.Key),
		zap.Int("bytes", len(artifact.Data)),
	)
	return upload.Key, nil
}

// SetStatus writes a client-settable status.
func (c *Client) SetStatus(ctx context.Context, sessionID string, status session.Status, reason string) (*usecase.SessionView, error) {
	var out usecase.SessionView
	body := map[string]string{"status": string(status), "reason": reason}
	if err := c.post(ctx, sessionPath(sessionID, "status"), body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreateLivenessSession opens a fresh liveness session and returns its handle.
func (c *Client) CreateLivenessSession(ctx context.Context, sessionID string) (string, error) {
	var out struct {
		LivenessSessionID string `json:"liveness_session_id"`
	}
	if err := c.post(ctx, sessionPath(sessionID, "liveness"), nil, &out); err != nil {
		return "", err
	}
	return out.LivenessSessionID, nil
}

// Verify runs the verification pipeline. Business rejections come back as
// an Outcome with Success false.
func (c *Client) Verify(ctx context.Context, req usecase.PipelineRequest) (*usecase.Outcome, error) {
	var out usecase.Outcome
	if err := c.post(ctx, sessionPath(req.SessionID, "verify"), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ReportVariance sends a sharpness sample to the server debug log.
func (c *Client) ReportVariance(ctx context.Context, sessionID string, side session.Side, variance float64, timestamp int64) error {
	body := map[string]interface{}{"variance": variance, "side": string(side), "timestamp": timestamp}
	return c.post(ctx, sessionPath(sessionID, "debug/variance"), body, nil)
}

func (c *Client) post(ctx context.Context, path string, body, out interface{}) error {
	var payload io.Reader = http.NoBody
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return err
		}
		payload = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, payload)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeError(resp)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeError(resp *http.Response) error {
	var body struct {
		Error string `json:"error"`
	}
	_ = json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body)
	return &StatusError{Code: resp.StatusCode, Message: body.Error}
}

func sessionPath(sessionID, action string) string {
	return "/sessions/" + sessionID + "/" + action
}
