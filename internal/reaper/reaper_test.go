package reaper

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/nextgendem/slicehub/internal/config"
	"github.com/nextgendem/slicehub/internal/domain"
	"github.com/nextgendem/slicehub/internal/orchestrator"
	"github.com/nextgendem/slicehub/internal/proxy"
	"github.com/nextgendem/slicehub/internal/store"
)

type fakeBackend struct {
	activity   map[string]float64
	stopped    map[string]bool
	removed    map[string]bool
	startCalls int
	lastStart  orchestrator.StartOptions
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{activity: map[string]float64{}, stopped: map[string]bool{}, removed: map[string]bool{}}
}

func (f *fakeBackend) NormalizeName(user string) string { return user }
func (f *fakeBackend) ListManagedContainers(ctx context.Context, prefix string) ([]string, error) {
	return nil, nil
}
func (f *fakeBackend) EnsureNetwork(ctx context.Context, name string) (string, error) { return name, nil }
func (f *fakeBackend) EnsureVolume(ctx context.Context, user, kind string) error       { return nil }
func (f *fakeBackend) EnsureImage(ctx context.Context, name, tag string) error         { return nil }
func (f *fakeBackend) StartContainer(ctx context.Context, opts orchestrator.StartOptions) error {
	f.startCalls++
	f.lastStart = opts
	return nil
}
func (f *fakeBackend) StopContainer(ctx context.Context, name string) (orchestrator.OpResult, error) {
	f.stopped[name] = true
	return orchestrator.OpStopped, nil
}
func (f *fakeBackend) RemoveContainer(ctx context.Context, name string) (orchestrator.OpResult, error) {
	f.removed[name] = true
	return orchestrator.OpRemoved, nil
}
func (f *fakeBackend) ContainerStatus(ctx context.Context, name string) (orchestrator.ContainerState, error) {
	return orchestrator.StateRunning, nil
}
func (f *fakeBackend) ContainerActivity(ctx context.Context, name string) (float64, error) {
	if v, ok := f.activity[name]; ok {
		return v, nil
	}
	return orchestrator.ContainerActivityAbsent, nil
}
func (f *fakeBackend) ContainerAddress(ctx context.Context, name, network string) (string, error) {
	return "10.0.0.5:6080", nil
}
func (f *fakeBackend) ExecInProxy(ctx context.Context, name string, cmd []string) (string, error) {
	return "", nil
}
func (f *fakeBackend) BringUpBase(ctx context.Context) error { return nil }

func newTestReaper(t *testing.T, backend *fakeBackend) (*Reaper, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	database := store.NewDatabaseForTesting(db)
	sessionStore := store.NewSessionStore(database)
	reconciler := proxy.New(backend, t.TempDir()+"/nginx.conf", "slicehub-nginx", "hub:8000")

	cfg := &config.Config{
		ActivityThreshold: 10.0,
		InactivityTimeout: 300 * time.Second,
		ReaperPeriod:      60 * time.Second,
		SlicerImage:       "slicehub/slicer:latest",
		NetworkName:       "slicehub-net",
	}

	return New(sessionStore, backend, reconciler, cfg), mock
}

func TestSteadyStateTick_RetiresIdleSession(t *testing.T) {
	backend := newFakeBackend()
	backend.activity["slicehub-alice"] = 0

	r, mock := newTestReaper(t, backend)

	rows := sqlmock.NewRows([]string{
		"id", "user_name", "url_path", "service_address", "container_name",
		"restart", "gpu", "shared", "cpu_percent", "created_at", "last_activity",
	}).AddRow("sess-1", "alice", "/sess-1/", "10.0.0.5:6080", "slicehub-alice",
		false, false, false, 0.0, time.Now().Add(-time.Hour), time.Now().Add(-time.Hour))
	mock.ExpectQuery("SELECT (.+) FROM sessions").WillReturnRows(rows)
	mock.ExpectExec("UPDATE sessions SET cpu_percent").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("DELETE FROM sessions").WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery("SELECT (.+) FROM sessions").WillReturnRows(sqlmock.NewRows([]string{
		"id", "user_name", "url_path", "service_address", "container_name",
		"restart", "gpu", "shared", "cpu_percent", "created_at", "last_activity",
	}))

	err := r.SteadyStateTick(context.Background())
	require.NoError(t, err)

	require.True(t, backend.stopped["slicehub-alice"])
	require.True(t, backend.removed["slicehub-alice"])
}

func TestSteadyStateTick_KeepsActiveSession(t *testing.T) {
	backend := newFakeBackend()
	backend.activity["slicehub-bob"] = 50

	r, mock := newTestReaper(t, backend)

	rows := sqlmock.NewRows([]string{
		"id", "user_name", "url_path", "service_address", "container_name",
		"restart", "gpu", "shared", "cpu_percent", "created_at", "last_activity",
	}).AddRow("sess-2", "bob", "/sess-2/", "10.0.0.6:6080", "slicehub-bob",
		false, false, false, 0.0, time.Now(), time.Now())
	mock.ExpectQuery("SELECT (.+) FROM sessions").WillReturnRows(rows)
	mock.ExpectExec("UPDATE sessions SET cpu_percent").WillReturnResult(sqlmock.NewResult(0, 1))

	err := r.SteadyStateTick(context.Background())
	require.NoError(t, err)

	require.False(t, backend.stopped["slicehub-bob"])
}

func TestRelaunch_PopulatesFullStartOptions(t *testing.T) {
	backend := newFakeBackend()
	r, _ := newTestReaper(t, backend)

	sess := &domain.Session{
		ID:            "sess-3",
		User:          "alice",
		ContainerName: "slicehub-alice",
		GPU:           true,
	}

	err := r.relaunch(context.Background(), sess)
	require.NoError(t, err)

	require.Equal(t, 1, backend.startCalls)
	require.Equal(t, "slicehub-alice", backend.lastStart.Name)
	require.Equal(t, "slicehub/slicer:latest", backend.lastStart.Image)
	require.Equal(t, "slicehub-net", backend.lastStart.Network)
	require.True(t, backend.lastStart.GPU)
	require.Equal(t, orchestrator.VolumeBindingsFor("alice"), backend.lastStart.VolumeBindings)
}
