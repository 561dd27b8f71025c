package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// AttestationClient performs the independent bot-attestation check (app or
// device integrity token) for a named action.
type AttestationClient struct {
	url        string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewAttestationClient creates a new AttestationClient. An empty URL disables
// the check: CheckForAction then always reports success.
func NewAttestationClient(url string, logger *slog.Logger) *AttestationClient {
	return &AttestationClient{
		url:        url,
		httpClient: &http.Client{Timeout: 5 * time.Second},
		logger:     logger,
	}
}

type attestationResponse struct {
	Success bool `json:"success"`
}

// CheckForAction runs the attestation check for an action name
func (c *AttestationClient) CheckForAction(ctx context.Context, action string) (bool, error) {
	if c.url == "" {
		return true, nil
	}

	body, err := json.Marshal(map[string]string{"action": action})
	if err != nil {
		return false, fmt.Errorf("failed to encode attestation request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("failed to build attestation request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("attestation service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("attestation service returned status %d", resp.StatusCode)
	}

	var verdict attestationResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return false, fmt.Errorf("failed to decode attestation response: %w", err)
	}

	return verdict.Success, nil
}
