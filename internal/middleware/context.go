package middleware

import (
	"context"
)

type contextKey string

const (
	NonceKey     contextKey = "csp_nonce"
	CSRFTokenKey contextKey = "csrf_token"
)

// GetNonce returns the CSP nonce the gate generated for this request
func GetNonce(ctx context.Context) (string, bool) {
	nonce, ok := ctx.Value(NonceKey).(string)
	return nonce, ok
}

// GetCSRFToken returns the token attached to the response cookie
func GetCSRFToken(ctx context.Context) (string, bool) {
	token, ok := ctx.Value(CSRFTokenKey).(string)
	return token, ok
}

func WithNonce(ctx context.Context, nonce string) context.Context {
	return context.WithValue(ctx, NonceKey, nonce)
}

func WithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, CSRFTokenKey, token)
}
