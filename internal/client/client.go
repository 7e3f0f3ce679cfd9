// Package client talks to the chronicle backend. Every call is
// bounded by a 30-second timeout; a timed-out call surfaces as an
// ordinary transport error.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const requestTimeout = 30 * time.Second

// Client is a bearer-authenticated HTTP client for the backend.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	timeout time.Duration
}

// New creates a Client for the given server and API key.
func New(serverURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(serverURL, "/"),
		apiKey:  apiKey,
		http:    &http.Client{},
		timeout: requestTimeout,
	}
}

// Identity is the verified account behind an API key.
type Identity struct {
	Username    string
	DisplayName string
	AvatarURL   string
}

// DedupDecision is the server's answer to a hash check.
type DedupDecision struct {
	NeedsUpload bool `json:"needsUpload"`
}

// RepositoryMetadata describes where the transcript was produced.
type RepositoryMetadata struct {
	CWD                    string `json:"cwd"`
	GitRemoteURL           string `json:"gitRemoteUrl"`
	DetectedRepositoryType string `json:"detectedRepositoryType"`
}

// UploadRequest is the upload-v2 request body.
type UploadRequest struct {
	Provider           string             `json:"provider"`
	RepositoryName     string             `json:"repositoryName"`
	SessionID          string             `json:"sessionId"`
	FileName           string             `json:"fileName"`
	FileHash           string             `json:"fileHash"`
	Content            string             `json:"content"`
	ContentEncoding    string             `json:"contentEncoding"`
	FileSize           int64              `json:"fileSize"`
	GitBranch          string             `json:"gitBranch,omitempty"`
	LatestCommitHash   string             `json:"latestCommitHash,omitempty"`
	FirstCommitHash    string             `json:"firstCommitHash,omitempty"`
	RepositoryMetadata RepositoryMetadata `json:"repositoryMetadata"`
}

func (c *Client) newRequest(
	ctx context.Context, method, path string, body io.Reader,
) (*http.Request, error) {
	req, err := http.NewRequestWithContext(
		ctx, method, c.baseURL+path, body,
	)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req, nil
}

// Identity fetches and verifies the account for the client's key.
// Any failure, including an unauthenticated response, is an error.
func (c *Client) Identity(ctx context.Context) (*Identity, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(ctx, http.MethodGet, "/auth/session", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf(
			"identity fetch: server returned %s", resp.Status,
		)
	}

	var session struct {
		Authenticated bool `json:"authenticated"`
		User          struct {
			Username  string `json:"username"`
			Name      string `json:"name"`
			AvatarURL string `json:"avatarUrl"`
		} `json:"user"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("identity fetch: decoding: %w", err)
	}
	if !session.Authenticated {
		return nil, fmt.Errorf("identity fetch: key rejected")
	}
	return &Identity{
		Username:    session.User.Username,
		DisplayName: session.User.Name,
		AvatarURL:   session.User.AvatarURL,
	}, nil
}

// CheckHash asks whether the given content hash still needs an
// upload for this session. A non-2xx response is treated as
// "upload needed" rather than a failure; only transport errors are
// returned, and the caller must not upload when one occurs.
func (c *Client) CheckHash(
	ctx context.Context, sessionID, fileHash string,
) (DedupDecision, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	q := url.Values{}
	q.Set("sessionId", sessionID)
	q.Set("fileHash", fileHash)
	req, err := c.newRequest(
		ctx, http.MethodGet,
		"/api/agent-sessions/check-hash?"+q.Encode(), nil,
	)
	if err != nil {
		return DedupDecision{}, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return DedupDecision{}, fmt.Errorf("hash check: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return DedupDecision{NeedsUpload: true}, nil
	}

	var decision DedupDecision
	if err := json.NewDecoder(resp.Body).Decode(&decision); err != nil {
		return DedupDecision{NeedsUpload: true}, nil
	}
	return decision, nil
}

// Upload sends a prepared transcript artifact. A non-2xx response
// is an error carrying the response body.
func (c *Client) Upload(
	ctx context.Context, upload UploadRequest,
) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(upload)
	if err != nil {
		return fmt.Errorf("upload: encoding: %w", err)
	}
	req, err := c.newRequest(
		ctx, http.MethodPost,
		"/api/agent-sessions/upload-v2", bytes.NewReader(payload),
	)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf(
			"upload: server returned %s: %s",
			resp.Status, strings.TrimSpace(string(body)),
		)
	}
	return nil
}

// TriggerProcessing requests server-side post-processing for a
// session. Callers treat failure as a warning; the primary
// operation has already succeeded or been correctly skipped.
func (c *Client) TriggerProcessing(
	ctx context.Context, sessionID string,
) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := c.newRequest(
		ctx, http.MethodPost,
		"/api/session-processing/process/"+url.PathEscape(sessionID),
		strings.NewReader("{}"),
	)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("processing trigger: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf(
			"processing trigger: server returned %s", resp.Status,
		)
	}
	return nil
}

// SubmitIssue posts a single-shot issue report.
func (c *Client) SubmitIssue(
	ctx context.Context, title, body, cwd string,
) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	payload, err := json.Marshal(map[string]string{
		"title": title,
		"body":  body,
		"cwd":   cwd,
	})
	if err != nil {
		return fmt.Errorf("issue report: encoding: %w", err)
	}
	req, err := c.newRequest(
		ctx, http.MethodPost, "/api/issues",
		bytes.NewReader(payload),
	)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("issue report: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf(
			"issue report: server returned %s", resp.Status,
		)
	}
	return nil
}
