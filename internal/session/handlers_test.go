package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nextgendem/slicehub/internal/config"
	"github.com/nextgendem/slicehub/internal/orchestrator"
	"github.com/nextgendem/slicehub/internal/proxy"
	"github.com/nextgendem/slicehub/internal/store"
)

type fakeVerifier struct {
	allow map[string]string
}

func (f *fakeVerifier) Verify(ctx context.Context, user, password string) (bool, error) {
	return f.allow[user] == password, nil
}

// fakeBackend is a minimal in-memory stand-in for orchestrator.Backend,
// used to exercise Hub handlers without a real Docker or Kubernetes
// connection.
type fakeBackend struct {
	running map[string]bool
}

func newFakeBackend() *fakeBackend { return &fakeBackend{running: map[string]bool{}} }

func (f *fakeBackend) NormalizeName(user string) string { return user }
func (f *fakeBackend) ListManagedContainers(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}
func (f *fakeBackend) EnsureNetwork(ctx context.Context, name string) (string, error) { return name, nil }
func (f *fakeBackend) EnsureVolume(ctx context.Context, user, kind string) error       { return nil }
func (f *fakeBackend) EnsureImage(ctx context.Context, name, tag string) error         { return nil }
func (f *fakeBackend) StartContainer(ctx context.Context, opts orchestrator.StartOptions) error {
	f.running[opts.Name] = true
	return nil
}
func (f *fakeBackend) StopContainer(ctx context.Context, name string) (orchestrator.OpResult, error) {
	delete(f.running, name)
	return orchestrator.OpStopped, nil
}
func (f *fakeBackend) RemoveContainer(ctx context.Context, name string) (orchestrator.OpResult, error) {
	return orchestrator.OpRemoved, nil
}
func (f *fakeBackend) ContainerStatus(ctx context.Context, name string) (orchestrator.ContainerState, error) {
	if f.running[name] {
		return orchestrator.StateRunning, nil
	}
	return orchestrator.StateAbsent, nil
}
func (f *fakeBackend) ContainerActivity(ctx context.Context, name string) (float64, error) {
	return 0, nil
}
func (f *fakeBackend) ContainerAddress(ctx context.Context, name, network string) (string, error) {
	return "10.0.0.5:6080", nil
}
func (f *fakeBackend) ExecInProxy(ctx context.Context, name string, cmd []string) (string, error) {
	return "", nil
}
func (f *fakeBackend) BringUpBase(ctx context.Context) error { return nil }

func newTestHub(t *testing.T) (*Hub, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	database := store.NewDatabaseForTesting(db)
	sessionStore := store.NewSessionStore(database)

	cfg, err := config.Load()
	require.NoError(t, err)
	cfg.MaxSessions = 1000

	backend := newFakeBackend()
	verifier := &fakeVerifier{allow: map[string]string{"free_user": "test"}}
	reconciler := proxy.New(backend, t.TempDir()+"/nginx.conf", "slicehub-nginx", "hub:8000")

	return New(cfg, sessionStore, backend, verifier, reconciler), mock
}

func TestLogin_RejectsWrongPassword(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHub(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	form := url.Values{"username": {"free_user"}, "password": {"wrong"}}
	c.Request = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(form.Encode()))
	c.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	h.Login(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestLogin_MissingFieldsIsBadRequest(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, _ := newTestHub(t)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/login", strings.NewReader(""))
	c.Request.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	h.Login(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetSession_NotFoundIs404(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, mock := newTestHub(t)

	emptyRows := sqlmock.NewRows([]string{
		"id", "user_name", "url_path", "service_address", "container_name",
		"restart", "gpu", "shared", "cpu_percent", "created_at", "last_activity",
	})
	mock.ExpectQuery("SELECT (.+) FROM sessions WHERE id = ?").
		WithArgs("missing").
		WillReturnRows(emptyRows)

	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/sessions/missing", nil)
	c.Params = gin.Params{{Key: "id", Value: "missing"}}

	h.GetSession(c)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
