package admission

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanfgv/firecrest-v2/internal/clustercfg"
	"github.com/germanfgv/firecrest-v2/internal/ferrors"
	"github.com/germanfgv/firecrest-v2/internal/health"
)

func testCluster(name string) clustercfg.Cluster {
	return clustercfg.Cluster{
		Name: name,
		SSH: clustercfg.SSHEndpoint{
			Host:           "login.example.com",
			Port:           22,
			MaxClients:     10,
			ConnectTimeout: 5 * time.Second,
			LoginTimeout:   5 * time.Second,
			ExecuteTimeout: 10 * time.Second,
			IdleTimeout:    60 * time.Second,
			KeepAlive:      5 * time.Second,
		},
	}
}

func TestAdmit_UnknownClusterReturns404(t *testing.T) {
	registry, err := clustercfg.NewRegistry([]clustercfg.Cluster{testCluster("daint")})
	require.NoError(t, err)
	g := &Gate{Clusters: registry, Health: health.NewRegistry()}

	_, err = g.Admit(Request{ClusterName: "nonexistent"})
	require.Error(t, err)
	assert.Equal(t, ferrors.NotFound, ferrors.KindOf(err))
}

func TestAdmit_NoRequirementSkipsHealthCheck(t *testing.T) {
	registry, err := clustercfg.NewRegistry([]clustercfg.Cluster{testCluster("daint")})
	require.NoError(t, err)
	g := &Gate{Clusters: registry, Health: health.NewRegistry()}

	cluster, err := g.Admit(Request{ClusterName: "daint"})
	require.NoError(t, err)
	assert.Equal(t, "daint", cluster.Name)
}

func TestBestFilesystemMatch_PicksLongestPrefix(t *testing.T) {
	samples := []health.Sample{
		{Type: health.ServiceFilesystem, Path: "/scratch", Healthy: true},
		{Type: health.ServiceFilesystem, Path: "/scratch/project", Healthy: true},
	}
	sample, found := bestFilesystemMatch(samples, "/scratch/project/data.csv")
	require.True(t, found)
	assert.Equal(t, "/scratch/project", sample.Path)
}

func TestBestFilesystemMatch_NoMatch(t *testing.T) {
	samples := []health.Sample{
		{Type: health.ServiceFilesystem, Path: "/scratch", Healthy: true},
	}
	_, found := bestFilesystemMatch(samples, "/home/alice")
	assert.False(t, found)
}

func TestSingleSample_Found(t *testing.T) {
	samples := []health.Sample{
		{Type: health.ServiceScheduler, Healthy: true},
	}
	s, found := singleSample(samples, health.ServiceScheduler)
	require.True(t, found)
	assert.True(t, s.Healthy)
}

type fixedChecker struct {
	samples []health.Sample
}

func (f fixedChecker) Check(ctx context.Context) []health.Sample { return f.samples }

// TestAdmit_UnhealthyFilesystemReturnsServiceUnavailable exercises
// scenario S5 (GET /ls?path=/scratch/x -> 503): a probed-unhealthy
// filesystem sample must be distinguished from an unreachable upstream
// (ferrors.UpstreamUnavailable, which maps to 424), per spec.md §6.
func TestAdmit_UnhealthyFilesystemReturnsServiceUnavailable(t *testing.T) {
	registry, err := clustercfg.NewRegistry([]clustercfg.Cluster{testCluster("daint")})
	require.NoError(t, err)

	healthRegistry := health.NewRegistry()
	m := &health.ClusterMonitor{
		Cluster:    &clustercfg.Cluster{Name: "daint"},
		Interval:   time.Hour,
		Timeout:    time.Second,
		Filesystem: fixedChecker{[]health.Sample{{Type: health.ServiceFilesystem, Path: "/scratch", Healthy: false}}},
	}
	healthRegistry.Register(m)
	defer healthRegistry.StopAll()
	require.Eventually(t, func() bool { return len(healthRegistry.Samples("daint")) == 1 }, time.Second, 10*time.Millisecond)

	g := &Gate{Clusters: registry, Health: healthRegistry}
	_, err = g.Admit(Request{
		ClusterName: "daint",
		Requirement: &ServiceRequirement{Type: Filesystem, Path: "/scratch/x"},
	})
	require.Error(t, err)
	assert.Equal(t, ferrors.ServiceUnavailable, ferrors.KindOf(err))
}

// TestAdmit_UnhealthySchedulerReturnsServiceUnavailable mirrors the same
// distinction for the non-filesystem (single-sample) admission branch.
func TestAdmit_UnhealthySchedulerReturnsServiceUnavailable(t *testing.T) {
	registry, err := clustercfg.NewRegistry([]clustercfg.Cluster{testCluster("daint")})
	require.NoError(t, err)

	healthRegistry := health.NewRegistry()
	m := &health.ClusterMonitor{
		Cluster:   &clustercfg.Cluster{Name: "daint"},
		Interval:  time.Hour,
		Timeout:   time.Second,
		Scheduler: fixedChecker{[]health.Sample{{Type: health.ServiceScheduler, Healthy: false}}},
	}
	healthRegistry.Register(m)
	defer healthRegistry.StopAll()
	require.Eventually(t, func() bool { return len(healthRegistry.Samples("daint")) == 1 }, time.Second, 10*time.Millisecond)

	g := &Gate{Clusters: registry, Health: healthRegistry}
	_, err = g.Admit(Request{
		ClusterName: "daint",
		Requirement: &ServiceRequirement{Type: Scheduler},
	})
	require.Error(t, err)
	assert.Equal(t, ferrors.ServiceUnavailable, ferrors.KindOf(err))
}
