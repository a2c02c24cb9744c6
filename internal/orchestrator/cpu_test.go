package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPercentFromSamples(t *testing.T) {
	cases := []struct {
		name string
		prev CPUSample
		cur  CPUSample
		want float64
	}{
		{
			name: "half utilization on two cpus",
			prev: CPUSample{ContainerCPUTime: 1000, SystemCPUTime: 10000},
			cur:  CPUSample{ContainerCPUTime: 2000, SystemCPUTime: 12000, OnlineCPUs: 2},
			want: (1000.0 / 2000.0) * 100 * 2,
		},
		{
			name: "zero system delta returns zero",
			prev: CPUSample{ContainerCPUTime: 1000, SystemCPUTime: 10000},
			cur:  CPUSample{ContainerCPUTime: 1500, SystemCPUTime: 10000, OnlineCPUs: 4},
			want: 0,
		},
		{
			name: "negative system delta returns zero",
			prev: CPUSample{ContainerCPUTime: 1000, SystemCPUTime: 10000},
			cur:  CPUSample{ContainerCPUTime: 1500, SystemCPUTime: 9000, OnlineCPUs: 4},
			want: 0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.InDelta(t, tc.want, PercentFromSamples(tc.prev, tc.cur), 0.0001)
		})
	}
}

func TestPercentFromMillicores(t *testing.T) {
	assert.InDelta(t, 150.0, PercentFromMillicores(1500), 0.0001)
	assert.InDelta(t, 0.0, PercentFromMillicores(0), 0.0001)
}

func TestIsActive(t *testing.T) {
	assert.True(t, IsActive(11, 10))
	assert.False(t, IsActive(10, 10))
	assert.False(t, IsActive(ContainerActivityAbsent, 10))
}

func TestVolumeName(t *testing.T) {
	assert.Equal(t, "free-user_workspace", VolumeName("Free User", "workspace"))
}
