package models

import "errors"

// Sentinel errors for common failure conditions
var (
	ErrNotFound       = errors.New("resource not found")
	ErrConflict       = errors.New("resource already exists")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrBadRequest     = errors.New("bad request")
	ErrInternalServer = errors.New("internal server error")

	// Challenge gate outcomes
	ErrCaptchaRequired = errors.New("captcha challenge required")
	ErrCaptchaFailed   = errors.New("captcha verification failed")
)
