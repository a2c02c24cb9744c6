// Package orchestrator defines the container-orchestrator capability set
// and its two backends: a single-host Docker engine and a cluster
// scheduler. Callers depend only on the Backend interface; the Session
// Manager and Reaper never branch on which backend is active.
package orchestrator

import (
	"context"
	"errors"

	"github.com/nextgendem/slicehub/internal/domain"
)

// ErrProxyNotUp is returned by ExecInProxy when the proxy container/pod is
// not currently running; callers should invoke BringUpBase and retry.
var ErrProxyNotUp = errors.New("proxy is not up")

// ContainerState is the coarse lifecycle state of a managed container.
type ContainerState string

const (
	StateRunning ContainerState = "running"
	StateExited  ContainerState = "exited"
	StateAbsent  ContainerState = "absent"
	StateOther   ContainerState = "other"
)

// OpResult reports the outcome of a best-effort stop or remove operation
// against a container that may already be gone.
type OpResult string

const (
	OpStopped  OpResult = "stopped"
	OpRemoved  OpResult = "removed"
	OpFailed   OpResult = "failed"
	OpAbsent   OpResult = "absent"
)

// ContainerActivityAbsent is the sentinel returned by ContainerActivity
// when the container does not exist.
const ContainerActivityAbsent = -1.0

// StartOptions carries everything a backend needs to launch one session's
// container; it is the union of what both backends can use, with backend-
// specific fields documented as ignored where they don't apply.
type StartOptions struct {
	Name           string // deterministic container name, domain.ContainerPrefix + Backend.NormalizeName(user)
	Image          string
	Tag            string
	Network        string
	VolumeBindings map[string]string // mount path -> volume name
	SessionID      string
	GPU            bool
}

// Backend is the capability set every orchestrator implementation provides.
// Operations and contracts are specified exhaustively; the cluster backend's
// scale-to-zero/scale-to-one model must preserve the same observable
// contracts as the single-host backend's stop/start.
type Backend interface {
	// NormalizeName is deterministic, idempotent, and backend-safe.
	NormalizeName(user string) string

	// ListManagedContainers returns every container whose name starts with
	// prefix, used by the reaper to find orphans.
	ListManagedContainers(ctx context.Context, prefix string) ([]string, error)

	// EnsureNetwork is idempotent; if multiple networks with the same name
	// exist and some are empty, empty ones are removed; it fails if more
	// than one non-empty network remains.
	EnsureNetwork(ctx context.Context, name string) (string, error)

	// EnsureVolume is idempotent: it creates the named volume only if absent.
	EnsureVolume(ctx context.Context, user, kind string) error

	// EnsureImage is idempotent. The Docker backend pulls the image from a
	// registry when it is not present locally; the cluster backend leaves
	// pulls to the kubelet. Neither backend builds an image from a source
	// reference.
	EnsureImage(ctx context.Context, name, tag string) error

	// StartContainer launches one container bound to the given network and
	// volumes. It blocks cooperatively up to a bounded time until the
	// container reports running, returning early on exited. It must set
	// environment to disable container-internal auth. GPU is advisory.
	StartContainer(ctx context.Context, opts StartOptions) error

	StopContainer(ctx context.Context, name string) (OpResult, error)
	RemoveContainer(ctx context.Context, name string) (OpResult, error)
	ContainerStatus(ctx context.Context, name string) (ContainerState, error)

	// ContainerActivity returns ContainerActivityAbsent when the container
	// is absent; otherwise the instantaneous CPU percentage (§4.1).
	ContainerActivity(ctx context.Context, name string) (float64, error)

	// ContainerAddress returns a host:port reachable by the proxy.
	ContainerAddress(ctx context.Context, name, network string) (string, error)

	// ExecInProxy commands the proxy to reload configuration, or returns
	// ErrProxyNotUp if the proxy is not yet running.
	ExecInProxy(ctx context.Context, name string, cmd []string) (string, error)

	// BringUpBase idempotently ensures the proxy and directory-service base
	// services are running.
	BringUpBase(ctx context.Context) error
}

// VolumeKinds enumerates the fixed volume set bound into every session's
// container (§3 Volume Set), in the order they should be mounted.
var VolumeKinds = []string{"cache", "logs", "workspace"}

// VolumeName derives the {user}_{kind} volume name shared by both backends.
func VolumeName(user, kind string) string {
	return domain.NormalizeUser(user) + "_" + kind
}

// sessionMountPoints is the fixed in-container mount point for each volume
// kind (§3 Volume Set), shared by every caller that builds StartOptions.
var sessionMountPoints = map[string]string{
	"cache":     "/var/cache/app",
	"logs":      "/var/log/app",
	"workspace": "/home/researcher/workspace",
}

// VolumeBindingsFor builds the mount path -> volume name map for user,
// covering every kind in VolumeKinds. Both launchSession and the reaper's
// relaunch path use this so a restarted session binds the same volumes it
// was created with.
func VolumeBindingsFor(user string) map[string]string {
	bindings := make(map[string]string, len(sessionMountPoints))
	for kind, mountPoint := range sessionMountPoints {
		bindings[mountPoint] = VolumeName(user, kind)
	}
	return bindings
}
