package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/danharlow/trellis/internal/models"
	"github.com/golang-jwt/jwt/v5"
)

// VerifiedIdentity is the credential verifier's response. When Success is
// false, ErrorCode and ErrorMessage carry the provider-reported failure.
type VerifiedIdentity struct {
	Success       bool
	AccountID     string
	Email         string
	DisplayName   string
	EmailVerified bool
	AvatarURL     *string
	SessionToken  string
	ErrorCode     string
	ErrorMessage  string
}

// IdentityClient talks to the external identity provider: credential
// verification and session-claims storage.
type IdentityClient struct {
	baseURL    string
	serviceKey string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewIdentityClient creates a new IdentityClient
func NewIdentityClient(baseURL, serviceKey string, logger *slog.Logger) *IdentityClient {
	return &IdentityClient{
		baseURL:    baseURL,
		serviceKey: serviceKey,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		logger:     logger,
	}
}

type passwordGrantRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordGrantResponse struct {
	AccessToken string `json:"access_token"`
	User        struct {
		ID               string     `json:"id"`
		Email            string     `json:"email"`
		EmailConfirmedAt *time.Time `json:"email_confirmed_at"`
		UserMetadata     struct {
			FullName  string  `json:"full_name"`
			AvatarURL *string `json:"avatar_url"`
		} `json:"user_metadata"`
	} `json:"user"`
	ErrorCode        string `json:"error_code"`
	ErrorDescription string `json:"error_description"`
	Message          string `json:"msg"`
}

// VerifyPassword validates credentials against the identity provider.
// A rejected credential is not an error: it returns Success=false with the
// provider's code and message. Errors mean the provider was unreachable or
// answered with something other than an auth verdict.
func (c *IdentityClient) VerifyPassword(ctx context.Context, email, password string) (*VerifiedIdentity, error) {
	body, err := json.Marshal(passwordGrantRequest{Email: email, Password: password})
	if err != nil {
		return nil, fmt.Errorf("failed to encode credential request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/token?grant_type=password", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build credential request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity provider unreachable: %w", err)
	}
	defer resp.Body.Close()

	var grant passwordGrantResponse
	if err := json.NewDecoder(resp.Body).Decode(&grant); err != nil {
		return nil, fmt.Errorf("failed to decode identity provider response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusOK:
		verified := &VerifiedIdentity{
			Success:       true,
			AccountID:     grant.User.ID,
			Email:         grant.User.Email,
			DisplayName:   grant.User.UserMetadata.FullName,
			EmailVerified: grant.User.EmailConfirmedAt != nil,
			AvatarURL:     grant.User.UserMetadata.AvatarURL,
			SessionToken:  grant.AccessToken,
		}
		return verified, nil
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnauthorized:
		code := grant.ErrorCode
		if code == "" {
			code = "invalid_credentials"
		}
		message := grant.ErrorDescription
		if message == "" {
			message = grant.Message
		}
		if message == "" {
			message = "Invalid login credentials"
		}
		return &VerifiedIdentity{Success: false, ErrorCode: code, ErrorMessage: message}, nil
	default:
		return nil, fmt.Errorf("identity provider returned status %d", resp.StatusCode)
	}
}

// PushSessionClaims stores the derived authorization payload on the account's
// identity record so subsequent requests carry it without a database lookup
func (c *IdentityClient) PushSessionClaims(ctx context.Context, accountID string, claims models.SessionClaims) error {
	body, err := json.Marshal(map[string]interface{}{"app_metadata": claims})
	if err != nil {
		return fmt.Errorf("failed to encode session claims: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut,
		c.baseURL+"/admin/users/"+accountID, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build claims request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.serviceKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to push session claims: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("claims push returned status %d", resp.StatusCode)
	}
	return nil
}

// SessionTokenExpiry extracts the expiry claim from a provider-issued session
// token. The signature is not checked here; only the provider's key can do
// that, and the value is used solely to bound the cookie lifetime.
func SessionTokenExpiry(token string) (time.Time, bool) {
	parser := jwt.NewParser()
	claims := jwt.MapClaims{}
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}
