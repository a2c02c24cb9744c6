package orchestrator

// CPUSample is the subset of the Docker Engine stats API consumed by the
// activity calculation: two successive samples of cumulative CPU time for
// the container and for the whole system.
type CPUSample struct {
	ContainerCPUTime uint64
	SystemCPUTime    uint64
	OnlineCPUs       uint64
}

// PercentFromSamples computes instantaneous CPU percentage from two
// successive samples: (Δ_container / Δ_system) × 100 × online_cpus.
//
// Mirrors the Docker stats delta calculation bit for bit: cpu_stats minus
// precpu_stats for both the container and system counters, scaled by the
// number of CPUs the container sees. Returns 0 when the system delta is
// non-positive (first sample, or a clock anomaly) rather than dividing by
// zero.
func PercentFromSamples(prev, cur CPUSample) float64 {
	cpuDelta := float64(cur.ContainerCPUTime) - float64(prev.ContainerCPUTime)
	systemDelta := float64(cur.SystemCPUTime) - float64(prev.SystemCPUTime)
	if systemDelta <= 0 {
		return 0
	}
	return cpuDelta / systemDelta * 100.0 * float64(cur.OnlineCPUs)
}

// PercentFromMillicores converts a cluster scheduler's millicore reading
// into the same "higher means busier" percentage scale the reaper consumes
// from the single-host backend.
func PercentFromMillicores(millicores int64) float64 {
	return float64(millicores) / 1000.0 * 100.0
}

// IsActive reports whether a CPU percentage counts as activity under the
// configured threshold. A negative percentage (container absent) is never
// active.
func IsActive(percent, threshold float64) bool {
	return percent >= 0 && percent > threshold
}
