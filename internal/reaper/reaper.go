// Package reaper implements the Background Reaper: a startup reconciliation
// pass followed by a steady-state idle/orphan retirement loop, grounded on
// original_source/tsliceh/main.py's BackgroundRunner.sessions_checker.
package reaper

import (
	"context"
	"time"

	"github.com/nextgendem/slicehub/internal/cache"
	"github.com/nextgendem/slicehub/internal/config"
	"github.com/nextgendem/slicehub/internal/domain"
	"github.com/nextgendem/slicehub/internal/logger"
	"github.com/nextgendem/slicehub/internal/orchestrator"
	"github.com/nextgendem/slicehub/internal/proxy"
	"github.com/nextgendem/slicehub/internal/store"
)

// Reaper holds everything the two phases need: the store, the active
// orchestrator backend, the proxy reconciler, and the configured
// thresholds.
type Reaper struct {
	store             *store.SessionStore
	backend           orchestrator.Backend
	reconciler        *proxy.Reconciler
	activityThreshold float64
	inactivityTimeout time.Duration
	period            time.Duration
	slicerImage       string
	networkName       string
	cache             *cache.DebounceCache
}

// New builds a Reaper from its collaborators and the hub configuration.
func New(sessionStore *store.SessionStore, backend orchestrator.Backend, reconciler *proxy.Reconciler, cfg *config.Config) *Reaper {
	return &Reaper{
		store:             sessionStore,
		backend:           backend,
		reconciler:        reconciler,
		activityThreshold: cfg.ActivityThreshold,
		inactivityTimeout: cfg.InactivityTimeout,
		period:            cfg.ReaperPeriod,
		slicerImage:       cfg.SlicerImage,
		networkName:       cfg.NetworkName,
		cache:             cache.NewDebounceCache(cfg),
	}
}

// Close releases the reaper's debounce cache connection, if any.
func (r *Reaper) Close() error {
	return r.cache.Close()
}

// Run executes the startup reconciliation once, then the steady-state loop
// until ctx is cancelled. Intended to run in its own goroutine, started
// from cmd/hub/main.go alongside the HTTP server and stopped via context
// cancellation during graceful shutdown.
func (r *Reaper) Run(ctx context.Context) {
	if err := r.StartupReconcile(ctx); err != nil {
		logger.Reaper().Error().Err(err).Msg("startup reconciliation failed")
	}

	ticker := time.NewTicker(r.period)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Reaper().Info().Msg("reaper stopping")
			return
		case <-ticker.C:
			if err := r.SteadyStateTick(ctx); err != nil {
				logger.Reaper().Error().Err(err).Msg("steady-state tick failed")
			}
		}
	}
}

// StartupReconcile implements §4.4 Phase A: reconcile every known session
// against the orchestrator's actual container state, then sweep any
// container left unassociated with a session.
func (r *Reaper) StartupReconcile(ctx context.Context) error {
	managed, err := r.backend.ListManagedContainers(ctx, domain.ContainerPrefix)
	if err != nil {
		return err
	}
	associated := make(map[string]bool, len(managed))

	sessions, err := r.store.ListSessions(ctx)
	if err != nil {
		return err
	}

	for _, sess := range sessions {
		activity, err := r.backend.ContainerActivity(ctx, sess.ContainerName)
		if err != nil {
			logger.Reaper().Warn().Err(err).Str("container", sess.ContainerName).Msg("failed to read container activity")
			continue
		}

		if activity == orchestrator.ContainerActivityAbsent {
			if sess.Restart {
				if err := r.relaunch(ctx, sess); err != nil {
					logger.Reaper().Error().Err(err).Str("user", sess.User).Msg("failed to relaunch restart-flagged session")
				} else {
					associated[sess.ContainerName] = true
					if err := r.store.TouchActivity(ctx, sess.ID, r.activityThreshold+1, true); err != nil {
						logger.Reaper().Warn().Err(err).Str("session", sess.ID).Msg("failed to refresh activity hint for relaunched session")
					}
				}
				continue
			}
			if err := r.store.DeleteSession(ctx, sess.ID); err != nil {
				logger.Reaper().Error().Err(err).Str("session", sess.ID).Msg("failed to delete absent session")
			}
			continue
		}

		associated[sess.ContainerName] = true
		if sess.Restart {
			if err := r.store.TouchActivity(ctx, sess.ID, r.activityThreshold+1, true); err != nil {
				logger.Reaper().Warn().Err(err).Str("session", sess.ID).Msg("failed to refresh activity hint for restart session")
			}
			continue
		}
		if _, err := r.backend.StopContainer(ctx, sess.ContainerName); err != nil {
			logger.Reaper().Warn().Err(err).Str("container", sess.ContainerName).Msg("failed to stop container during startup reconcile")
		}
		if _, err := r.backend.RemoveContainer(ctx, sess.ContainerName); err != nil {
			logger.Reaper().Warn().Err(err).Str("container", sess.ContainerName).Msg("failed to remove container during startup reconcile")
		}
		if err := r.store.DeleteSession(ctx, sess.ID); err != nil {
			logger.Reaper().Error().Err(err).Str("session", sess.ID).Msg("failed to delete non-restart session")
		}
	}

	if err := r.reconcileProxy(ctx); err != nil {
		logger.Proxy().Warn().Err(err).Msg("proxy reconciliation failed after startup reconcile")
	}

	for _, name := range managed {
		if associated[name] {
			continue
		}
		if _, err := r.backend.StopContainer(ctx, name); err != nil {
			logger.Reaper().Warn().Err(err).Str("container", name).Msg("failed to stop orphan container")
		}
		if _, err := r.backend.RemoveContainer(ctx, name); err != nil {
			logger.Reaper().Warn().Err(err).Str("container", name).Msg("failed to remove orphan container")
		}
	}

	return nil
}

func (r *Reaper) relaunch(ctx context.Context, sess *domain.Session) error {
	return r.backend.StartContainer(ctx, orchestrator.StartOptions{
		Name:           sess.ContainerName,
		Image:          r.slicerImage,
		Network:        r.networkName,
		VolumeBindings: orchestrator.VolumeBindingsFor(sess.User),
		SessionID:      sess.ID,
		GPU:            sess.GPU,
	})
}

// SteadyStateTick implements §4.4 Phase B: sample activity for every
// session, refresh last_activity where busy, and retire sessions idle past
// the configured inactivity timeout.
func (r *Reaper) SteadyStateTick(ctx context.Context) error {
	sessions, err := r.store.ListSessions(ctx)
	if err != nil {
		return err
	}

	var retiredAny bool
	for _, sess := range sessions {
		activity, err := r.backend.ContainerActivity(ctx, sess.ContainerName)
		if err != nil {
			logger.Reaper().Warn().Err(err).Str("container", sess.ContainerName).Msg("failed to sample container activity")
			continue
		}

		active := orchestrator.IsActive(activity, r.activityThreshold)
		if err := r.store.TouchActivity(ctx, sess.ID, activity, active); err != nil {
			logger.Reaper().Warn().Err(err).Str("session", sess.ID).Msg("failed to persist activity sample")
		}
		if active {
			continue
		}

		idleFor := time.Since(sess.LastActivity)
		if idleFor <= r.inactivityTimeout {
			continue
		}

		logger.Reaper().Info().Str("session", sess.ID).Dur("idle_for", idleFor).Msg("retiring idle session")
		if _, err := r.backend.StopContainer(ctx, sess.ContainerName); err != nil {
			logger.Reaper().Warn().Err(err).Str("container", sess.ContainerName).Msg("failed to stop idle container")
		}
		if _, err := r.backend.RemoveContainer(ctx, sess.ContainerName); err != nil {
			logger.Reaper().Warn().Err(err).Str("container", sess.ContainerName).Msg("failed to remove idle container")
		}
		if err := r.store.DeleteSession(ctx, sess.ID); err != nil {
			logger.Reaper().Error().Err(err).Str("session", sess.ID).Msg("failed to delete idle session")
			continue
		}
		retiredAny = true
	}

	if retiredAny {
		if err := r.reconcileProxy(ctx); err != nil {
			logger.Proxy().Warn().Err(err).Msg("proxy reconciliation failed after retirement")
		}
	}
	return nil
}

// reconcileProxy regenerates the proxy configuration, coalescing reloads
// that land within the same debounce window across reaper instances via
// r.cache. If the cache reports the window is still held by a recent
// reload, reconciliation is skipped entirely.
func (r *Reaper) reconcileProxy(ctx context.Context) error {
	acquired, err := r.cache.AcquireReload(ctx)
	if err != nil {
		logger.Proxy().Warn().Err(err).Msg("reload debounce cache unavailable, reconciling without coalescing")
	} else if !acquired {
		logger.Proxy().Debug().Msg("proxy reconciliation debounced by cache")
		return nil
	}

	sessions, err := r.store.ListSessions(ctx)
	if err != nil {
		return err
	}
	return r.reconciler.ReconcileSessions(ctx, sessions)
}
