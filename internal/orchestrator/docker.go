package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/mount"
	"github.com/docker/docker/api/types/network"
	"github.com/docker/docker/api/types/volume"
	"github.com/docker/docker/client"
	"github.com/docker/go-connections/nat"

	"github.com/nextgendem/slicehub/internal/domain"
	"github.com/nextgendem/slicehub/internal/logger"
)

// DockerBackend is the single-host orchestrator backend: it talks to the
// local Docker Engine, places containers on one named bridge network, and
// represents the per-user Volume Set as daemon-managed named volumes.
type DockerBackend struct {
	client *client.Client

	// containerPort is the single VNC/web port every session container
	// exposes; the proxy reaches it through the published host port.
	containerPort string

	// launchTimeout bounds how long StartContainer waits for "running".
	launchTimeout time.Duration
}

// NewDockerBackend wraps a Docker Engine client configured from the
// environment (DOCKER_HOST etc., the client library's own convention).
func NewDockerBackend(containerPort string) (*DockerBackend, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerBackend{
		client:        cli,
		containerPort: containerPort,
		launchTimeout: 60 * time.Second,
	}, nil
}

func (b *DockerBackend) NormalizeName(user string) string {
	return domain.NormalizeUser(user)
}

func (b *DockerBackend) ListManagedContainers(ctx context.Context, prefix string) ([]string, error) {
	containers, err := b.client.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var names []string
	for _, c := range containers {
		for _, rawName := range c.Names {
			name := strings.TrimPrefix(rawName, "/")
			if strings.HasPrefix(name, prefix) {
				names = append(names, name)
			}
		}
	}
	return names, nil
}

// EnsureNetwork is idempotent. If more than one network shares the name,
// empty ones are removed; it is an error for more than one non-empty
// network to remain, since there would be no deterministic choice of which
// one to attach containers to. Grounded on original_source's
// create_docker_network dedup logic.
func (b *DockerBackend) EnsureNetwork(ctx context.Context, name string) (string, error) {
	networks, err := b.client.NetworkList(ctx, types.NetworkListOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to list networks: %w", err)
	}

	var matches []types.NetworkResource
	for _, n := range networks {
		if n.Name == name {
			matches = append(matches, n)
		}
	}

	var nonEmpty []types.NetworkResource
	for _, n := range matches {
		inspected, err := b.client.NetworkInspect(ctx, n.ID, types.NetworkInspectOptions{})
		if err != nil {
			return "", fmt.Errorf("failed to inspect network %s: %w", n.ID, err)
		}
		if len(inspected.Containers) == 0 {
			if err := b.client.NetworkRemove(ctx, n.ID); err != nil {
				logger.Orchestrator().Warn().Err(err).Str("network", n.ID).Msg("failed to remove empty duplicate network")
				continue
			}
			continue
		}
		nonEmpty = append(nonEmpty, n)
	}

	if len(nonEmpty) > 1 {
		return "", fmt.Errorf("ensure_network: %d non-empty networks named %q, cannot pick one", len(nonEmpty), name)
	}
	if len(nonEmpty) == 1 {
		return nonEmpty[0].ID, nil
	}

	created, err := b.client.NetworkCreate(ctx, name, types.NetworkCreate{
		Driver: "bridge",
		Labels: map[string]string{"app": "slicehub", "component": "session-network"},
	})
	if err != nil {
		return "", fmt.Errorf("failed to create network %s: %w", name, err)
	}
	return created.ID, nil
}

// EnsureVolume creates the named volume only if it does not already exist.
func (b *DockerBackend) EnsureVolume(ctx context.Context, user, kind string) error {
	name := VolumeName(user, kind)
	_, err := b.client.VolumeInspect(ctx, name)
	if err == nil {
		return nil
	}
	if !client.IsErrNotFound(err) {
		return fmt.Errorf("failed to inspect volume %s: %w", name, err)
	}
	if _, err := b.client.VolumeCreate(ctx, volume.CreateOptions{Name: name, Driver: "local"}); err != nil {
		return fmt.Errorf("failed to create volume %s: %w", name, err)
	}
	return nil
}

// EnsureImage pulls name:tag from a registry unless the image is already
// present locally. It does not build images: a locally managed image name
// is pulled like any other.
func (b *DockerBackend) EnsureImage(ctx context.Context, name, tag string) error {
	ref := name
	if tag != "" {
		ref = name + ":" + tag
	}

	_, _, err := b.client.ImageInspectWithRaw(ctx, ref)
	if err == nil {
		return nil
	}

	reader, err := b.client.ImagePull(ctx, ref, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", ref, err)
	}
	defer reader.Close()
	if _, err := io.Copy(io.Discard, reader); err != nil {
		return fmt.Errorf("failed to read pull response for %s: %w", ref, err)
	}
	return nil
}

func (b *DockerBackend) StartContainer(ctx context.Context, opts StartOptions) error {
	if err := b.EnsureImage(ctx, opts.Image, opts.Tag); err != nil {
		return err
	}

	ref := opts.Image
	if opts.Tag != "" {
		ref = opts.Image + ":" + opts.Tag
	}

	natPort := nat.Port(b.containerPort + "/tcp")
	cfg := &container.Config{
		Image: ref,
		Env: []string{
			// Auth is performed upstream by the Session Manager; the
			// container must never run its own auth layer.
			"DISABLE_CONTAINER_AUTH=1",
			fmt.Sprintf("SESSION_ID=%s", opts.SessionID),
		},
		Labels: map[string]string{
			"app":        "slicehub",
			"component":  "session",
			"session-id": opts.SessionID,
		},
		ExposedPorts: nat.PortSet{natPort: struct{}{}},
	}

	var mounts []mount.Mount
	for mountPath, volumeName := range opts.VolumeBindings {
		mounts = append(mounts, mount.Mount{
			Type:   mount.TypeVolume,
			Source: volumeName,
			Target: mountPath,
		})
	}

	hostCfg := &container.HostConfig{
		PortBindings: nat.PortMap{natPort: []nat.PortBinding{{HostIP: "0.0.0.0"}}},
		Mounts:       mounts,
		Resources:    containerResources(opts.GPU),
	}

	netCfg := &network.NetworkingConfig{
		EndpointsConfig: map[string]*network.EndpointSettings{
			opts.Network: {},
		},
	}

	resp, err := b.client.ContainerCreate(ctx, cfg, hostCfg, netCfg, nil, opts.Name)
	if err != nil {
		return fmt.Errorf("failed to create container %s: %w", opts.Name, err)
	}

	if err := b.client.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		return fmt.Errorf("failed to start container %s: %w", opts.Name, err)
	}

	return b.waitForRunning(ctx, resp.ID)
}

// waitForRunning polls cooperatively, via a short sleep between checks,
// until the container reaches running, returning early on exited.
func (b *DockerBackend) waitForRunning(ctx context.Context, containerID string) error {
	deadline := time.Now().Add(b.launchTimeout)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		inspect, err := b.client.ContainerInspect(ctx, containerID)
		if err != nil {
			return fmt.Errorf("failed to inspect container %s: %w", containerID, err)
		}
		if inspect.State.Running {
			return nil
		}
		if inspect.State.Status == "exited" || inspect.State.Status == "dead" {
			return fmt.Errorf("container exited before reaching running (status=%s, exit=%d)",
				inspect.State.Status, inspect.State.ExitCode)
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for container %s to reach running", containerID)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (b *DockerBackend) StopContainer(ctx context.Context, name string) (OpResult, error) {
	id, status, err := b.lookupByName(ctx, name)
	if err != nil {
		return OpFailed, err
	}
	if id == "" {
		return OpAbsent, nil
	}
	if status != "running" {
		return OpStopped, nil
	}

	timeoutSeconds := 60
	if err := b.client.ContainerStop(ctx, id, container.StopOptions{Timeout: &timeoutSeconds}); err != nil {
		return OpFailed, fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	return OpStopped, nil
}

func (b *DockerBackend) RemoveContainer(ctx context.Context, name string) (OpResult, error) {
	id, _, err := b.lookupByName(ctx, name)
	if err != nil {
		return OpFailed, err
	}
	if id == "" {
		return OpAbsent, nil
	}

	if err := b.client.ContainerRemove(ctx, id, types.ContainerRemoveOptions{Force: true}); err != nil {
		return OpFailed, fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return OpRemoved, nil
}

func (b *DockerBackend) ContainerStatus(ctx context.Context, name string) (ContainerState, error) {
	_, status, err := b.lookupByName(ctx, name)
	if err != nil {
		return StateOther, err
	}
	switch status {
	case "":
		return StateAbsent, nil
	case "running":
		return StateRunning, nil
	case "exited", "dead":
		return StateExited, nil
	default:
		return StateOther, nil
	}
}

// ContainerActivity samples the Docker stats API twice, one second apart,
// and reports the instantaneous CPU percentage, or ContainerActivityAbsent
// if the container does not exist or is not running.
func (b *DockerBackend) ContainerActivity(ctx context.Context, name string) (float64, error) {
	id, status, err := b.lookupByName(ctx, name)
	if err != nil {
		return 0, err
	}
	if id == "" || status != "running" {
		return ContainerActivityAbsent, nil
	}

	first, err := b.sampleStats(ctx, id)
	if err != nil {
		return 0, err
	}

	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(time.Second):
	}

	second, err := b.sampleStats(ctx, id)
	if err != nil {
		return 0, err
	}

	return PercentFromSamples(first, second), nil
}

func (b *DockerBackend) sampleStats(ctx context.Context, containerID string) (CPUSample, error) {
	resp, err := b.client.ContainerStats(ctx, containerID, false)
	if err != nil {
		return CPUSample{}, fmt.Errorf("failed to read stats for %s: %w", containerID, err)
	}
	defer resp.Body.Close()

	var stats dockerStatsResponse
	if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
		return CPUSample{}, fmt.Errorf("failed to decode stats for %s: %w", containerID, err)
	}

	return CPUSample{
		ContainerCPUTime: stats.CPUStats.CPUUsage.TotalUsage,
		SystemCPUTime:    stats.CPUStats.SystemUsage,
		OnlineCPUs:       stats.CPUStats.OnlineCPUs,
	}, nil
}

func (b *DockerBackend) ContainerAddress(ctx context.Context, name, networkName string) (string, error) {
	id, _, err := b.lookupByName(ctx, name)
	if err != nil {
		return "", err
	}
	if id == "" {
		return "", fmt.Errorf("container %s not found", name)
	}

	inspect, err := b.client.ContainerInspect(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to inspect container %s: %w", name, err)
	}

	endpoint, ok := inspect.NetworkSettings.Networks[networkName]
	if !ok || endpoint.IPAddress == "" {
		return "", fmt.Errorf("container %s has no address on network %s", name, networkName)
	}

	return fmt.Sprintf("%s:%s", endpoint.IPAddress, b.containerPort), nil
}

// ExecInProxy runs cmd inside the named proxy container (an nginx -s reload
// equivalent), returning ErrProxyNotUp if it is not running.
func (b *DockerBackend) ExecInProxy(ctx context.Context, name string, cmd []string) (string, error) {
	id, status, err := b.lookupByName(ctx, name)
	if err != nil {
		return "", err
	}
	if id == "" || status != "running" {
		return "", ErrProxyNotUp
	}

	execResp, err := b.client.ContainerExecCreate(ctx, id, types.ExecConfig{
		Cmd:          cmd,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create exec in %s: %w", name, err)
	}

	attach, err := b.client.ContainerExecAttach(ctx, execResp.ID, types.ExecStartCheck{})
	if err != nil {
		return "", fmt.Errorf("failed to attach exec in %s: %w", name, err)
	}
	defer attach.Close()

	output, err := io.ReadAll(attach.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to read exec output from %s: %w", name, err)
	}
	return string(output), nil
}

// BringUpBase idempotently starts the proxy and directory-service base
// containers if they are not already running. Those containers are
// provisioned out-of-band (compose file, bootstrap script); this only
// covers restarting them if they were stopped.
func (b *DockerBackend) BringUpBase(ctx context.Context) error {
	for _, name := range []string{"nginx", "openldap"} {
		id, status, err := b.lookupByName(ctx, name)
		if err != nil {
			return err
		}
		if id == "" {
			logger.Orchestrator().Warn().Str("service", name).Msg("base service container not found; cannot bring up")
			continue
		}
		if status == "running" {
			continue
		}
		if err := b.client.ContainerStart(ctx, id, types.ContainerStartOptions{}); err != nil {
			return fmt.Errorf("failed to start base service %s: %w", name, err)
		}
	}
	return nil
}

// lookupByName returns the container id and status for a name, or ("", "",
// nil) if no such container exists.
func (b *DockerBackend) lookupByName(ctx context.Context, name string) (id string, status string, err error) {
	containers, err := b.client.ContainerList(ctx, types.ContainerListOptions{All: true})
	if err != nil {
		return "", "", fmt.Errorf("failed to list containers: %w", err)
	}
	for _, c := range containers {
		for _, rawName := range c.Names {
			if strings.TrimPrefix(rawName, "/") == name {
				return c.ID, c.State, nil
			}
		}
	}
	return "", "", nil
}

func containerResources(gpu bool) container.Resources {
	// GPU scheduling is advisory: request it via device requests when asked,
	// but never fail the launch if the daemon has no GPU runtime configured.
	if !gpu {
		return container.Resources{}
	}
	return container.Resources{
		DeviceRequests: []container.DeviceRequest{
			{Count: -1, Capabilities: [][]string{{"gpu"}}},
		},
	}
}

// dockerStatsResponse is the minimal shape of the Docker stats API this
// backend reads; the client library's own types.StatsJSON would also work
// but duplicating the three fields we need keeps decode failures obvious.
type dockerStatsResponse struct {
	CPUStats struct {
		CPUUsage struct {
			TotalUsage uint64 `json:"total_usage"`
		} `json:"cpu_usage"`
		SystemUsage uint64 `json:"system_cpu_usage"`
		OnlineCPUs  uint64 `json:"online_cpus"`
	} `json:"cpu_stats"`
}
