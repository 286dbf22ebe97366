// Package backend is the HTTP client for the external speech backend
// that runs the heavy models: speech-to-text, forced alignment,
// synthesis/splicing and final export. All calls are safe to retry
// manually; the backend only overwrites a job's working state.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/redub/redub-engine/internal/eta"
)

// Client talks to one speech backend instance.
type Client struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewClient creates a backend client. timeout bounds each call; slow
// model work is the common case, so callers should pass minutes, not
// seconds.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

// Transcribe uploads media and returns a job with its word-timed
// transcript. Uses multipart/form-data so the backend can stream the
// file to disk.
func (c *Client) Transcribe(ctx context.Context, filename string, data []byte) (*TranscribeResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write audio data: %w", err)
	}
	w.WriteField("response_format", "words")
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/transcribe", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var result TranscribeResult
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("transcribe: %w", err)
	}
	return &result, nil
}

// AlignFull re-runs forced alignment over the whole transcript.
func (c *Client) AlignFull(ctx context.Context, jobID string) (*AlignResult, error) {
	var result AlignResult
	err := c.postJSON(ctx, "/v1/align", map[string]any{"job_id": jobID}, &result)
	if err != nil {
		return nil, fmt.Errorf("align full: %w", err)
	}
	return &result, nil
}

// AlignRegion re-runs forced alignment over a bounded window plus
// margin, for speed. Words outside the window keep their timings.
func (c *Client) AlignRegion(ctx context.Context, jobID string, start, end, margin float64) (*AlignResult, error) {
	var result AlignResult
	err := c.postJSON(ctx, "/v1/align", map[string]any{
		"job_id": jobID,
		"start":  start,
		"end":    end,
		"margin": margin,
	}, &result)
	if err != nil {
		return nil, fmt.Errorf("align region: %w", err)
	}
	return &result, nil
}

// EstimateSource asks the backend about a remote media URL.
func (c *Client) EstimateSource(ctx context.Context, url string) (*SourceEstimate, error) {
	var result SourceEstimate
	err := c.postJSON(ctx, "/v1/estimate", map[string]any{"url": url}, &result)
	if err != nil {
		return nil, fmt.Errorf("estimate source: %w", err)
	}
	return &result, nil
}

// ProbeUpload uploads a file for container inspection only.
func (c *Client) ProbeUpload(ctx context.Context, filename string, data []byte) (*ProbeResult, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("file", filename)
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return nil, fmt.Errorf("write data: %w", err)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/probe", &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	var result ProbeResult
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("probe upload: %w", err)
	}
	return &result, nil
}

// ReplacePreview synthesizes replacement speech and splices it into a
// preview artifact.
func (c *Client) ReplacePreview(ctx context.Context, r ReplaceRequest) (*ReplaceResult, error) {
	var result ReplaceResult
	if err := c.postJSON(ctx, "/v1/replace", r, &result); err != nil {
		return nil, fmt.Errorf("replace preview: %w", err)
	}
	return &result, nil
}

// Apply bakes the current preview into a final container.
func (c *Client) Apply(ctx context.Context, jobID string) (*ApplyResult, error) {
	var result ApplyResult
	err := c.postJSON(ctx, "/v1/apply", map[string]any{"job_id": jobID}, &result)
	if err != nil {
		return nil, fmt.Errorf("apply: %w", err)
	}
	return &result, nil
}

// GetStats returns the backend's rolling throughput averages.
func (c *Client) GetStats(ctx context.Context) (*ServiceStats, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/stats", nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	var result ServiceStats
	if err := c.do(req, &result); err != nil {
		return nil, fmt.Errorf("get stats: %w", err)
	}
	return &result, nil
}

// Fetch downloads an artifact the backend linked in a response, for
// mirroring into the engine's own store.
func (c *Client) Fetch(ctx context.Context, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch artifact: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch artifact: status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("read artifact: %w", err)
	}
	return body, resp.Header.Get("Content-Type"), nil
}

// AverageRTF implements eta.RTFSource over GetStats.
func (c *Client) AverageRTF(ctx context.Context) (map[eta.Operation]float64, error) {
	stats, err := c.GetStats(ctx)
	if err != nil {
		return nil, err
	}
	return map[eta.Operation]float64{
		eta.OpTranscribe:  stats.Transcribe.AvgRTF,
		eta.OpAlignFull:   stats.AlignFull.AvgRTF,
		eta.OpAlignRegion: stats.AlignRegion.AvgRTF,
	}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, payload any, out any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.do(req, out)
}

func (c *Client) do(req *http.Request, out any) error {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("backend error (status %d): %s", resp.StatusCode, truncate(body, 300))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
