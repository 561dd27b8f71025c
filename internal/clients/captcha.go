package clients

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// CaptchaResult is the CAPTCHA service's verdict on a challenge token
type CaptchaResult struct {
	Success     bool
	ErrorDetail string
}

// CaptchaClient verifies challenge tokens against the external CAPTCHA
// service (siteverify-style endpoint).
type CaptchaClient struct {
	verifyURL  string
	secret     string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewCaptchaClient creates a new CaptchaClient
func NewCaptchaClient(verifyURL, secret string, logger *slog.Logger) *CaptchaClient {
	return &CaptchaClient{
		verifyURL:  verifyURL,
		secret:     secret,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type captchaVerifyResponse struct {
	Success    bool     `json:"success"`
	Action     string   `json:"action"`
	ErrorCodes []string `json:"error-codes"`
}

// Verify checks a challenge token for the given action context
func (c *CaptchaClient) Verify(ctx context.Context, token, action, remoteIP string) (*CaptchaResult, error) {
	form := url.Values{}
	form.Set("secret", c.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.verifyURL,
		strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to build captcha request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("captcha service unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("captcha service returned status %d", resp.StatusCode)
	}

	var verdict captchaVerifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&verdict); err != nil {
		return nil, fmt.Errorf("failed to decode captcha response: %w", err)
	}

	result := &CaptchaResult{Success: verdict.Success}
	if !verdict.Success {
		result.ErrorDetail = strings.Join(verdict.ErrorCodes, ", ")
	}

	// The action echoed by the service must match the requested context,
	// otherwise a token minted for another form could be replayed here
	if verdict.Success && action != "" && verdict.Action != "" && verdict.Action != action {
		result.Success = false
		result.ErrorDetail = "action mismatch"
	}

	return result, nil
}
