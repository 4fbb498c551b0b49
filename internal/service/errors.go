// Package service holds the account lifecycle and the gated search flow.
// Handlers and the queue consumer call into it; it never reads the
// environment and never retries a collaborator.
package service

import "errors"

var (
	ErrInvalidInput       = errors.New("invalid input")
	ErrAlreadyExists      = errors.New("account already exists")
	ErrNotFound           = errors.New("account not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrQuotaExceeded      = errors.New("monthly search quota exceeded")
	ErrUpstream           = errors.New("upstream service failed")
	ErrConfiguration      = errors.New("service not configured")
)
