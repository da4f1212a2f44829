package content

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"time"
)

// Client talks to an IPFS-compatible HTTP API. Record payloads are added
// through /api/v0/add and retrieved through /api/v0/cat.
type Client struct {
	endpoint string
	http     *http.Client
}

// NewClient creates a client for the node at endpoint.
func NewClient(endpoint string, timeout time.Duration) *Client {
	return &Client{
		endpoint: endpoint,
		http:     &http.Client{Timeout: timeout},
	}
}

type addResponse struct {
	Hash string `json:"Hash"`
	Name string `json:"Name"`
	Size string `json:"Size"`
}

// Put uploads content and returns its content hash.
func (c *Client) Put(ctx context.Context, content io.Reader) (string, error) {
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)

	part, err := writer.CreateFormFile("file", "record")
	if err != nil {
		return "", fmt.Errorf("failed to build upload form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return "", fmt.Errorf("failed to buffer upload content: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("failed to finalize upload form: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint+"/api/v0/add", &body)
	if err != nil {
		return "", fmt.Errorf("failed to build upload request: %w", err)
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("content store request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("content store returned status %d", resp.StatusCode)
	}

	var result addResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to decode content store response: %w", err)
	}
	if result.Hash == "" {
		return "", fmt.Errorf("content store returned an empty hash")
	}
	return result.Hash, nil
}

// Get streams the content for the given hash. The caller owns the
// returned reader and must close it.
func (c *Client) Get(ctx context.Context, ref string) (io.ReadCloser, error) {
	target := fmt.Sprintf("%s/api/v0/cat?arg=%s", c.endpoint, url.QueryEscape(ref))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build retrieval request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("content store request failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("content store returned status %d", resp.StatusCode)
	}
	return resp.Body, nil
}
