package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/danharlow/trellis/internal/clients"
	"github.com/danharlow/trellis/internal/config"
	"github.com/danharlow/trellis/internal/models"
	"github.com/danharlow/trellis/internal/services"
	pkghttp "github.com/danharlow/trellis/pkg/http"
	pkglogger "github.com/danharlow/trellis/pkg/logger"
	"github.com/go-playground/validator/v10"
)

// LoginService runs the full login pipeline for one request
type LoginService interface {
	Login(ctx context.Context, input services.LoginInput) (*services.LoginResult, error)
}

// AuthHandler serves the authentication endpoints
type AuthHandler struct {
	loginService LoginService
	validator    *validator.Validate
	session      config.SessionConfig
	ipConfig     *pkghttp.IPConfig
	env          string
	logger       *slog.Logger
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(
	loginService LoginService,
	session config.SessionConfig,
	ipConfig *pkghttp.IPConfig,
	env string,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		loginService: loginService,
		validator:    validator.New(),
		session:      session,
		ipConfig:     ipConfig,
		env:          env,
		logger:       logger,
	}
}

type loginRequest struct {
	Identifier   string `json:"identifier" validate:"required,email,max=254"`
	Secret       string `json:"secret" validate:"required,min=1,max=128"`
	CaptchaToken string `json:"captchaToken" validate:"omitempty,max=4096"`
}

// captchaRequiredResponse tells the client to retry with a challenge token
type captchaRequiredResponse struct {
	Error           string `json:"error"`
	Message         string `json:"message"`
	RequiresCaptcha bool   `json:"requiresCaptcha"`
}

// Login handles POST /api/v1/auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteValidationError(w, "invalid request body")
		return
	}

	if err := h.validator.Struct(req); err != nil {
		pkghttp.WriteValidationError(w, validationMessage(err))
		return
	}

	input := services.LoginInput{
		Email:          strings.ToLower(strings.TrimSpace(req.Identifier)),
		Password:       req.Secret,
		CaptchaToken:   req.CaptchaToken,
		IPAddress:      pkghttp.ExtractClientIP(r, h.ipConfig),
		UserAgent:      r.UserAgent(),
		AcceptLanguage: r.Header.Get("Accept-Language"),
	}

	result, err := h.loginService.Login(r.Context(), input)
	if err != nil {
		h.writeLoginError(w, input, err)
		return
	}

	h.setSessionCookie(w, result.SessionToken)
	pkghttp.WriteJSON(w, http.StatusOK, result)
}

func (h *AuthHandler) writeLoginError(w http.ResponseWriter, input services.LoginInput, err error) {
	var authErr *services.AuthFailure

	switch {
	case errors.Is(err, models.ErrCaptchaRequired):
		pkghttp.WriteJSON(w, http.StatusTooManyRequests, captchaRequiredResponse{
			Error:           "CAPTCHA_REQUIRED",
			Message:         "Please complete the verification challenge and try again",
			RequiresCaptcha: true,
		})
	case errors.Is(err, models.ErrCaptchaFailed):
		pkghttp.WriteCaptchaFailed(w, "Verification challenge could not be validated")
	case errors.As(err, &authErr):
		pkghttp.WriteUnauthorized(w, authErr.Code, authErr.Message)
	default:
		h.logger.Error("login request failed",
			slog.String("email", pkglogger.SanitizedEmail(input.Email)),
			slog.String("ip_address", input.IPAddress),
			slog.Any("error", err))
		pkghttp.WriteInternalError(w, "An unexpected error occurred")
	}
}

// setSessionCookie delivers the provider-issued session token. Lifetime
// follows the token's own expiry, bounded by the configured maximum.
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, token string) {
	expires := time.Now().Add(h.session.CookieMaxAge)
	if exp, ok := clients.SessionTokenExpiry(token); ok && exp.Before(expires) {
		expires = exp
	}

	http.SetCookie(w, &http.Cookie{
		Name:     h.session.CookieName,
		Value:    token,
		Path:     "/",
		Domain:   h.session.CookieDomain,
		Expires:  expires,
		HttpOnly: true,
		Secure:   h.env != "development",
		SameSite: http.SameSiteLaxMode,
	})
}
