package session

import (
	"context"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextgendem/slicehub/internal/config"
	"github.com/nextgendem/slicehub/internal/domain"
	"github.com/nextgendem/slicehub/internal/proxy"
	"github.com/nextgendem/slicehub/internal/store"
)

// normalizingBackend wraps fakeBackend but, like the Kubernetes backend,
// replaces underscores with hyphens — the case blocking comment 1's fix
// guards against regressing: launchSession must mint container names via
// Backend.NormalizeName, never via the pure domain-level helper that
// leaves underscores intact.
type normalizingBackend struct {
	*fakeBackend
}

func (b *normalizingBackend) NormalizeName(user string) string {
	return strings.ReplaceAll(domain.NormalizeUser(user), "_", "-")
}

func TestLaunchSession_ContainerNameUsesBackendNormalization(t *testing.T) {
	backend := &normalizingBackend{fakeBackend: newFakeBackend()}

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	sessionStore := store.NewSessionStore(store.NewDatabaseForTesting(db))
	cfg := &config.Config{NetworkName: "slicehub-net", SlicerImage: "slicer:latest"}
	reconciler := proxy.New(backend, t.TempDir()+"/nginx.conf", "slicehub-nginx", "hub:8000")

	h := New(cfg, sessionStore, backend, nil, reconciler)

	mock.ExpectExec("INSERT INTO sessions").WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectExec("UPDATE sessions SET service_address").WillReturnResult(sqlmock.NewResult(0, 1))

	sess, err := h.launchSession(context.Background(), "free_user")
	require.NoError(t, err)

	assert.Equal(t, "slicehub-free-user", sess.ContainerName)
	assert.NotContains(t, sess.ContainerName, "_")
	assert.True(t, backend.running["slicehub-free-user"])
	require.NoError(t, mock.ExpectationsWereMet())
}
