package auth

import (
	"context"
	"fmt"

	"github.com/go-ldap/ldap/v3"

	"github.com/nextgendem/slicehub/internal/logger"
)

// LDAPVerifier authenticates against a directory service by attempting a
// simple bind as the supplied user. This is the primary credential adapter;
// §4.5 requires it be configured via OPENLDAP_NAME/OPENLDAP_PORT.
type LDAPVerifier struct {
	host       string
	port       int
	baseDN     string
	userFilter string
}

// NewLDAPVerifier builds a verifier bound to host:port. baseDN is the
// search base for resolving a username to a full DN before the bind
// attempt (e.g. "dc=slicehub,dc=local").
func NewLDAPVerifier(host string, port int, baseDN string) *LDAPVerifier {
	return &LDAPVerifier{
		host:       host,
		port:       port,
		baseDN:     baseDN,
		userFilter: "(uid=%s)",
	}
}

func (v *LDAPVerifier) Verify(ctx context.Context, user, password string) (bool, error) {
	addr := fmt.Sprintf("%s:%d", v.host, v.port)
	conn, err := ldap.DialURL(fmt.Sprintf("ldap://%s", addr))
	if err != nil {
		return false, fmt.Errorf("failed to dial directory service: %w", err)
	}
	defer conn.Close()

	searchRequest := ldap.NewSearchRequest(
		v.baseDN,
		ldap.ScopeWholeSubtree, ldap.NeverDerefAliases, 0, 0, false,
		fmt.Sprintf(v.userFilter, ldap.EscapeFilter(user)),
		[]string{"dn"},
		nil,
	)

	result, err := conn.Search(searchRequest)
	if err != nil {
		return false, fmt.Errorf("directory search failed: %w", err)
	}
	if len(result.Entries) != 1 {
		logger.Auth().Debug().Str("user", user).Msg("credential check failed: user not found or ambiguous")
		return false, nil
	}

	userDN := result.Entries[0].DN
	if err := conn.Bind(userDN, password); err != nil {
		logger.Auth().Debug().Str("user", user).Msg("credential check failed: bind rejected")
		return false, nil
	}
	return true, nil
}
