package proxy

import (
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestRender_WebSocketUpgradeHeadersSurviveAnEchoRoundTrip round-trips a
// message through a real gorilla/websocket echo server, grounded on the
// teacher's api/internal/handlers/websocket.go Upgrader usage, and then
// checks that the -ws location Render emits for a session at that server's
// address carries the Upgrade, Connection and proxy_http_version
// directives. The client dials the echo server directly: nginx and the
// rendered config are not exercised on the wire (§8 Non-goals), so the
// directives are checked as text.
func TestRender_WebSocketUpgradeHeadersSurviveAnEchoRoundTrip(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		require.NoError(t, err)
		defer conn.Close()

		msgType, msg, err := conn.ReadMessage()
		require.NoError(t, err)
		require.NoError(t, conn.WriteMessage(msgType, msg))
	}))
	defer server.Close()

	wsURL := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("ping")))
	_, echoed, err := conn.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, "ping", string(echoed))

	parsed, err := url.Parse(server.URL)
	require.NoError(t, err)
	doc := string(Render([]SessionSnapshot{{ID: "abc123", ServiceAddress: parsed.Host}}, "hub:8080"))

	assert.Contains(t, doc, "proxy_set_header Upgrade $http_upgrade")
	assert.Contains(t, doc, `proxy_set_header Connection "upgrade"`)
	assert.Contains(t, doc, "proxy_http_version 1.1")
}
