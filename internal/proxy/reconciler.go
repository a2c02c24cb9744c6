// Package proxy renders the reverse-proxy configuration from the current
// session set and commands the proxy to reload it.
package proxy

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/nextgendem/slicehub/internal/domain"
	"github.com/nextgendem/slicehub/internal/logger"
	"github.com/nextgendem/slicehub/internal/orchestrator"
)

// SessionSnapshot is the subset of session state the config renderer needs.
// Decoupling it from internal/domain.Session lets this package be tested
// without a store.
type SessionSnapshot struct {
	ID             string
	ServiceAddress string
}

// Backend is the subset of orchestrator.Backend the reconciler needs to
// bring the proxy up and command a reload.
type Backend interface {
	ContainerStatus(ctx context.Context, name string) (orchestrator.ContainerState, error)
	ExecInProxy(ctx context.Context, name string, cmd []string) (string, error)
	BringUpBase(ctx context.Context) error
}

// Reconciler owns the proxy configuration file. All writes are serialized by
// mu, and the file is replaced atomically — never opened for writing at its
// final path directly. This is a deliberate REDESIGN relative to
// original_source/tsliceh/main.py:refresh_nginx, whose generate_nginx_conf
// writes the target path directly with open(path, "wt"): a crash or a
// concurrent reader mid-write would observe a torn file.
type Reconciler struct {
	mu            sync.Mutex
	configPath    string
	proxyName     string
	hubSelfAddr   string
	reloadCmd     []string
	pollAttempts  int
	pollInterval  time.Duration
	backend       Backend
}

// New builds a Reconciler. hubSelfAddr is the hub's own internal address,
// forwarded to by the proxy's root location block.
func New(backend Backend, configPath, proxyName, hubSelfAddr string) *Reconciler {
	return &Reconciler{
		configPath:   configPath,
		proxyName:    proxyName,
		hubSelfAddr:  hubSelfAddr,
		reloadCmd:    []string{"nginx", "-s", "reload"},
		pollAttempts: 10,
		pollInterval: 2 * time.Second,
		backend:      backend,
	}
}

// Reconcile renders the config for the given sessions, atomically replaces
// the configured file, and instructs the proxy to reload. Best-effort: a
// failure is returned to the caller for logging, but the reaper's next tick
// will re-attempt.
func (r *Reconciler) Reconcile(ctx context.Context, sessions []SessionSnapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	doc := Render(sessions, r.hubSelfAddr)
	if err := atomicWrite(r.configPath, doc); err != nil {
		return fmt.Errorf("failed to write proxy config: %w", err)
	}

	if err := r.reload(ctx); err != nil {
		return fmt.Errorf("failed to reload proxy: %w", err)
	}
	return nil
}

func (r *Reconciler) reload(ctx context.Context) error {
	for attempt := 0; attempt < r.pollAttempts; attempt++ {
		status, err := r.backend.ContainerStatus(ctx, r.proxyName)
		if err != nil {
			logger.Proxy().Warn().Err(err).Msg("failed to check proxy status")
		}

		switch status {
		case orchestrator.StateRunning:
			_, err := r.backend.ExecInProxy(ctx, r.proxyName, r.reloadCmd)
			if err != nil {
				return fmt.Errorf("reload command failed: %w", err)
			}
			return nil
		case orchestrator.StateAbsent:
			if err := r.backend.BringUpBase(ctx); err != nil {
				logger.Proxy().Warn().Err(err).Msg("failed to bring up base services")
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(r.pollInterval):
		}
	}
	return fmt.Errorf("proxy %s did not become ready after %d attempts", r.proxyName, r.pollAttempts)
}

// atomicWrite writes data to a temp file in the same directory as path,
// then renames it into place. Rename is atomic on the same filesystem, so
// readers always see either the old or the new file in full.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".proxy-conf-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}

// fromDomain adapts domain.Session values into the snapshot this package
// renders from, filtering out sessions not yet reachable.
func fromDomain(sessions []*domain.Session) []SessionSnapshot {
	var out []SessionSnapshot
	for _, s := range sessions {
		if !s.HasAddress() {
			continue
		}
		out = append(out, SessionSnapshot{ID: s.ID, ServiceAddress: s.ServiceAddress})
	}
	return out
}

// ReconcileSessions is a convenience wrapper that filters a full domain
// session list down to the proxy-relevant snapshot before rendering.
func (r *Reconciler) ReconcileSessions(ctx context.Context, sessions []*domain.Session) error {
	return r.Reconcile(ctx, fromDomain(sessions))
}
