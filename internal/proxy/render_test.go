package proxy

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRender_EmptySessionsHasRootLocationOnly(t *testing.T) {
	doc := string(Render(nil, "hub:8080"))
	assert.Contains(t, doc, "proxy_pass http://hub:8080")
	assert.NotContains(t, doc, "-ws")
}

func TestRender_IncludesLocationsForReachableSessions(t *testing.T) {
	sessions := []SessionSnapshot{
		{ID: "abc123", ServiceAddress: "10.0.0.2:6080"},
	}
	doc := string(Render(sessions, "hub:8080"))
	assert.Contains(t, doc, "location /abc123/")
	assert.Contains(t, doc, "location /abc123-ws")
	assert.Contains(t, doc, "proxy_set_header Upgrade $http_upgrade")
}

func TestRender_SkipsSessionsWithoutAddress(t *testing.T) {
	sessions := []SessionSnapshot{
		{ID: "pending", ServiceAddress: ""},
	}
	doc := string(Render(sessions, "hub:8080"))
	assert.NotContains(t, doc, "pending")
}

func TestRender_IdempotentModuloOrder(t *testing.T) {
	sessions := []SessionSnapshot{
		{ID: "bbb", ServiceAddress: "10.0.0.3:6080"},
		{ID: "aaa", ServiceAddress: "10.0.0.2:6080"},
	}
	first := Render(sessions, "hub:8080")
	second := Render([]SessionSnapshot{sessions[1], sessions[0]}, "hub:8080")
	assert.Equal(t, first, second)
}
