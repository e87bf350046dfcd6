// Package auth defines the token verification boundary for terminal
// connections. Verification itself lives outside this service; callers
// inject a TokenVerifier backed by their identity provider.
package auth

import "context"

// TokenVerifier checks a connection token and resolves its owner.
type TokenVerifier interface {
	// Verify returns the owner ID for a valid token. A non-nil error
	// rejects the connection.
	Verify(ctx context.Context, token string) (ownerID string, err error)
}

// Permissive accepts every token and uses the token itself as the owner
// ID. It is the development default; production deployments inject a real
// verifier.
type Permissive struct{}

func (Permissive) Verify(_ context.Context, token string) (string, error) {
	if token == "" {
		return "anonymous", nil
	}
	return token, nil
}

// VerifierFunc adapts a function to the TokenVerifier interface.
type VerifierFunc func(ctx context.Context, token string) (string, error)

func (f VerifierFunc) Verify(ctx context.Context, token string) (string, error) {
	return f(ctx, token)
}
