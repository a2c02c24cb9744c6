package auth

import (
	"context"
	"regexp"

	"golang.org/x/crypto/bcrypt"

	"github.com/nextgendem/slicehub/internal/logger"
)

// DevVerifier accepts any username matching pattern with one fixed
// password, hashed with bcrypt exactly as the teacher hashes user
// passwords in internal/db/database.go. cmd/hub selects it only when
// AUTH_MODE=dev; under AUTH_MODE=ldap an unreachable directory service
// makes the LDAP verifier return an error and this verifier is not tried.
// Never intended for a public deployment.
type DevVerifier struct {
	pattern        *regexp.Regexp
	hashedPassword []byte
}

// NewDevVerifier builds a verifier accepting usernames matching pattern
// (a regular expression) with plainPassword as the single shared password.
func NewDevVerifier(pattern string, plainPassword string) (*DevVerifier, error) {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(plainPassword), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	return &DevVerifier{pattern: re, hashedPassword: hashed}, nil
}

func (v *DevVerifier) Verify(ctx context.Context, user, password string) (bool, error) {
	if !v.pattern.MatchString(user) {
		logger.Auth().Debug().Str("user", user).Msg("credential check failed: username does not match dev pattern")
		return false, nil
	}
	if err := bcrypt.CompareHashAndPassword(v.hashedPassword, []byte(password)); err != nil {
		logger.Auth().Debug().Str("user", user).Msg("credential check failed: password mismatch")
		return false, nil
	}
	return true, nil
}
