package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// DownloadRequest is the payload of the external download action.
type DownloadRequest struct {
	Action        string `json:"action"`
	MessageID     string `json:"messageId"`
	InstanceID    string `json:"instanceId"`
	InstanceToken string `json:"instanceToken"`
}

// DownloadResult is the external action's response.
type DownloadResult struct {
	Success bool   `json:"success"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Downloader triggers the server-mediated media download.
type Downloader interface {
	Download(ctx context.Context, req DownloadRequest) (DownloadResult, error)
}

// HTTPDownloader posts download actions to an HTTP endpoint.
type HTTPDownloader struct {
	endpoint string
	client   *http.Client
}

// NewHTTPDownloader creates a downloader against the given endpoint.
func NewHTTPDownloader(endpoint string) *HTTPDownloader {
	return &HTTPDownloader{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 60 * time.Second},
	}
}

func (d *HTTPDownloader) Download(ctx context.Context, req DownloadRequest) (DownloadResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return DownloadResult{}, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, d.endpoint, bytes.NewReader(body))
	if err != nil {
		return DownloadResult{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return DownloadResult{}, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return DownloadResult{}, fmt.Errorf("download action: http %d", resp.StatusCode)
	}
	var result DownloadResult
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return DownloadResult{}, fmt.Errorf("download action: decode response: %w", err)
	}
	return result, nil
}
