// Package auth provides the credential-check capability adapter: a single
// Verify operation backed by a directory service, with a development
// fallback when no directory is configured.
package auth

import "context"

// Verifier checks a username/password pair against whatever directory this
// adapter fronts. Implementations must never leak credentials into logs.
type Verifier interface {
	Verify(ctx context.Context, user, password string) (bool, error)
}
