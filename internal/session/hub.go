// Package session implements the Session Manager: the HTTP surface that
// creates, authenticates, shares, and terminates per-user sessions.
package session

import (
	"context"
	"fmt"

	"github.com/nextgendem/slicehub/internal/auth"
	"github.com/nextgendem/slicehub/internal/config"
	"github.com/nextgendem/slicehub/internal/domain"
	"github.com/nextgendem/slicehub/internal/orchestrator"
	"github.com/nextgendem/slicehub/internal/proxy"
	"github.com/nextgendem/slicehub/internal/store"
)

// Hub is the single explicit context threaded through every handler,
// replacing the process-wide globals the original implementation relied on
// for session maker, orchestrator, domain, and config (§9 Design Notes). It
// is constructed once at startup and never duplicated. The reaper does not
// take a Hub: it is built from the same store, backend, reconciler, and
// config values passed to it individually.
type Hub struct {
	Config       *config.Config
	Store        *store.SessionStore
	Backend      orchestrator.Backend
	Verifier     auth.Verifier
	Reconciler   *proxy.Reconciler
}

// New builds a Hub from its already-constructed collaborators.
func New(cfg *config.Config, sessionStore *store.SessionStore, backend orchestrator.Backend, verifier auth.Verifier, reconciler *proxy.Reconciler) *Hub {
	return &Hub{
		Config:     cfg,
		Store:      sessionStore,
		Backend:    backend,
		Verifier:   verifier,
		Reconciler: reconciler,
	}
}

// reconcileProxy re-reads the full session set and regenerates the proxy
// configuration. Best-effort: failures are logged by the caller, never
// surfaced as the triggering request's own error (§7 ProxyReloadFailed).
func (h *Hub) reconcileProxy(ctx context.Context) error {
	sessions, err := h.Store.ListSessions(ctx)
	if err != nil {
		return fmt.Errorf("failed to list sessions for proxy reconciliation: %w", err)
	}
	return h.Reconciler.ReconcileSessions(ctx, sessions)
}

// launchSession creates and persists a new session for user, starts its
// container, and populates the store with its reachable address. On any
// failure after the container has started, it stops and removes the
// container and leaves no session row behind (§4.2 step 3).
func (h *Hub) launchSession(ctx context.Context, user string) (*domain.Session, error) {
	gpu := domain.IsGPUUser(user)
	containerName := domain.ContainerPrefix + h.Backend.NormalizeName(user)

	newSession := &domain.Session{
		ID:            newSessionID(),
		User:          user,
		GPU:           gpu,
		ContainerName: containerName,
	}
	newSession.URLPath = domain.URLPathFor(newSession.ID)

	if err := h.Store.CreateSession(ctx, newSession); err != nil {
		return nil, err
	}

	if err := h.provisionVolumes(ctx, user); err != nil {
		_ = h.Store.DeleteSession(ctx, newSession.ID)
		return nil, fmt.Errorf("failed to provision volumes for %s: %w", user, err)
	}

	volumeBindings := orchestrator.VolumeBindingsFor(user)
	startErr := h.Backend.StartContainer(ctx, orchestrator.StartOptions{
		Name:           containerName,
		Image:          h.Config.SlicerImage,
		Network:        h.Config.NetworkName,
		VolumeBindings: volumeBindings,
		SessionID:      newSession.ID,
		GPU:            gpu,
	})
	if startErr != nil {
		_, _ = h.Backend.StopContainer(ctx, containerName)
		_, _ = h.Backend.RemoveContainer(ctx, containerName)
		_ = h.Store.DeleteSession(ctx, newSession.ID)
		return nil, fmt.Errorf("container launch failed for %s: %w", user, startErr)
	}

	address, err := h.Backend.ContainerAddress(ctx, containerName, h.Config.NetworkName)
	if err != nil {
		_, _ = h.Backend.StopContainer(ctx, containerName)
		_, _ = h.Backend.RemoveContainer(ctx, containerName)
		_ = h.Store.DeleteSession(ctx, newSession.ID)
		return nil, fmt.Errorf("container address unavailable for %s: %w", user, err)
	}

	if err := h.Store.UpdateServiceAddress(ctx, newSession.ID, address); err != nil {
		_, _ = h.Backend.StopContainer(ctx, containerName)
		_, _ = h.Backend.RemoveContainer(ctx, containerName)
		_ = h.Store.DeleteSession(ctx, newSession.ID)
		return nil, fmt.Errorf("failed to persist service address for %s: %w", user, err)
	}
	newSession.ServiceAddress = address

	return newSession, nil
}

func (h *Hub) provisionVolumes(ctx context.Context, user string) error {
	if _, err := h.Backend.EnsureNetwork(ctx, h.Config.NetworkName); err != nil {
		return err
	}
	for _, kind := range orchestrator.VolumeKinds {
		if err := h.Backend.EnsureVolume(ctx, user, kind); err != nil {
			return err
		}
	}
	return nil
}

