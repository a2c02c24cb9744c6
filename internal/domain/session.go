// Package domain holds the hub's core types, shared by the store,
// orchestrator, proxy reconciler, and reaper.
package domain

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

// ContainerPrefix namespaces every container this hub creates, so the
// reaper's "managed container" scan never touches anything else on the
// host or cluster.
const ContainerPrefix = "slicehub-"

// Session is a bound (user, container) pair with associated proxy routing.
// It mirrors the session table exactly: there is no in-memory shadow.
type Session struct {
	ID             string
	User           string
	CreatedAt      time.Time
	LastActivity   time.Time
	URLPath        string
	ServiceAddress string // host:port once the container is reachable; "" before that
	ContainerName  string
	Restart        bool
	GPU            bool
	Shared         bool
	CPUPercent     float64
}

// HasAddress reports whether the session's container is currently reachable
// by the proxy, i.e. whether it belongs in the generated proxy config.
func (s *Session) HasAddress() bool {
	return s.ServiceAddress != ""
}

var unsafeNameChars = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// NormalizeUser turns a raw user identity into a string safe to embed in a
// container name for any backend: lowercased, with each character outside
// [a-zA-Z0-9_-] replaced by a hyphen, and leading and trailing hyphens
// trimmed.
func NormalizeUser(user string) string {
	normalized := unsafeNameChars.ReplaceAllString(strings.ToLower(user), "-")
	return strings.Trim(normalized, "-")
}

// ContainerNameFor derives the deterministic container name for a user.
// Two sessions for the same user always resolve to the same name, and no
// other component is allowed to mint names in this namespace.
func ContainerNameFor(user string) string {
	return ContainerPrefix + NormalizeUser(user)
}

// URLPathFor derives a session's public routing prefix from its id.
func URLPathFor(id string) string {
	return fmt.Sprintf("/%s/", id)
}

// WebSocketPathFor derives a session's public websocket routing path.
func WebSocketPathFor(id string) string {
	return fmt.Sprintf("/%s-ws", id)
}

// IsGPUUser reports whether a user identity requests GPU scheduling, by
// convention a trailing "_gpu" suffix on the username.
func IsGPUUser(user string) bool {
	return strings.HasSuffix(user, "_gpu")
}
