package perms

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type roleRequest struct {
	Action string `json:"action"`
	UserID string `json:"userId"`
}

type roleResponse struct {
	Success      bool     `json:"success"`
	Role         string   `json:"role,omitempty"`
	Capabilities []string `json:"capabilities,omitempty"`
	Error        string   `json:"error,omitempty"`
}

// HTTPFetcher resolves roles through the backend's get-role action.
type HTTPFetcher struct {
	endpoint string
	client   *http.Client
}

// NewHTTPFetcher creates a fetcher against the given endpoint.
func NewHTTPFetcher(endpoint string) *HTTPFetcher {
	return &HTTPFetcher{
		endpoint: endpoint,
		client:   &http.Client{Timeout: 15 * time.Second},
	}
}

func (f *HTTPFetcher) FetchRole(ctx context.Context, userID string) (*Role, error) {
	body, err := json.Marshal(roleRequest{Action: "get-role", UserID: userID})
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("get-role action: http %d", resp.StatusCode)
	}
	var decoded roleResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("get-role action: decode response: %w", err)
	}
	if !decoded.Success {
		return nil, fmt.Errorf("get-role action: %s", decoded.Error)
	}
	return &Role{UserID: userID, Name: decoded.Role, Capabilities: decoded.Capabilities}, nil
}
