// Package health implements the Health Checker (spec.md §4.5): for every
// configured cluster, a background task probes the scheduler, SSH,
// filesystem mounts, and object store concurrently on a fixed interval
// and atomically publishes the resulting sample list.
//
// Grounded on the teacher's pkg/health (Checker interface, Result,
// Status.Update retry/threshold state machine), generalized from
// container liveness checks to this domain's four service types, and on
// pkg/manager/metrics_collector.go's background-ticker-collects-then-
// publishes pattern for the atomic sample-list replacement.
package health

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/germanfgv/firecrest-v2/internal/clustercfg"
	"github.com/germanfgv/firecrest-v2/internal/obslog"
)

// ServiceType names the four kinds of probe spec.md §4.5 requires, plus
// the synthetic exception type carried by samples from a panicking probe
// or run.
type ServiceType string

const (
	ServiceScheduler   ServiceType = "scheduler"
	ServiceSSH         ServiceType = "ssh"
	ServiceFilesystem  ServiceType = "filesystem"
	ServiceObjectStore ServiceType = "storage"
	ServiceException   ServiceType = "exception"
)

// Sample is one HealthSample (spec.md §3): the admission gate matches
// requests against these by ServiceType (and, for filesystem samples,
// by Path prefix).
type Sample struct {
	Type      ServiceType
	Path      string // set only for ServiceFilesystem samples; the mount root
	Healthy   bool
	Message   string
	CheckedAt time.Time
}

// Checker performs one probe and returns the Sample(s) it produced. Most
// checkers return exactly one; the filesystem checker returns one per
// configured mount.
type Checker interface {
	Check(ctx context.Context) []Sample
}

// CheckFunc adapts a plain function to Checker.
type CheckFunc func(ctx context.Context) []Sample

func (f CheckFunc) Check(ctx context.Context) []Sample { return f(ctx) }

// exceptionSample builds the synthetic sample spec.md §4.5 mandates when
// a checker panics or a catastrophic error escapes the run loop. Its
// Message is "exception: " followed by the error text; it does not name
// the error's type.
func exceptionSample(svc ServiceType, err error) Sample {
	return Sample{
		Type:      svc,
		Healthy:   false,
		Message:   fmt.Sprintf("exception: %v", err),
		CheckedAt: time.Now(),
	}
}

// ClusterMonitor runs the four checks for one cluster on Interval and
// atomically publishes the resulting sample list.
type ClusterMonitor struct {
	Cluster  *clustercfg.Cluster
	Interval time.Duration
	Timeout  time.Duration

	Scheduler  Checker
	SSH        Checker
	Filesystem Checker
	ObjectStore Checker

	samples atomic.Pointer[[]Sample]
	stopCh  chan struct{}
	once    sync.Once
}

// Samples returns the most recently published sample list. Safe for
// concurrent use; readers never observe a torn list (spec.md §5).
func (m *ClusterMonitor) Samples() []Sample {
	p := m.samples.Load()
	if p == nil {
		return nil
	}
	return *p
}

// Start begins the periodic probe loop in a new goroutine, mirroring the
// teacher's MetricsCollector.Start: collect immediately, then on every
// tick, until Stop is called.
func (m *ClusterMonitor) Start() {
	m.stopCh = make(chan struct{})
	ticker := time.NewTicker(m.Interval)
	go func() {
		m.runOnce()
		for {
			select {
			case <-ticker.C:
				m.runOnce()
			case <-m.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the probe loop. Safe to call multiple times.
func (m *ClusterMonitor) Stop() {
	m.once.Do(func() {
		close(m.stopCh)
	})
}

func (m *ClusterMonitor) runOnce() {
	defer func() {
		if r := recover(); r != nil {
			log := obslog.WithCluster(m.Cluster.Name)
			log.Error().Interface("panic", r).Msg("health monitor run panicked")
			all := []Sample{exceptionSample(ServiceException, fmt.Errorf("%v", r))}
			m.samples.Store(&all)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), m.Timeout)
	defer cancel()

	type namedChecker struct {
		svc Checker
	}
	checkers := []namedChecker{{m.Scheduler}, {m.SSH}, {m.Filesystem}, {m.ObjectStore}}

	var wg sync.WaitGroup
	results := make([][]Sample, len(checkers))
	for i, c := range checkers {
		if c.svc == nil {
			continue
		}
		wg.Add(1)
		go func(i int, c Checker) {
			defer wg.Done()
			results[i] = safeCheck(ctx, c)
		}(i, c.svc)
	}
	wg.Wait()

	var all []Sample
	for _, r := range results {
		all = append(all, r...)
	}
	m.samples.Store(&all)
}

// safeCheck recovers from a panicking Checker and turns it into an
// exception sample, so one misbehaving probe can never take down the
// whole run (spec.md §4.5: "the whole run never raises").
func safeCheck(ctx context.Context, c Checker) (out []Sample) {
	defer func() {
		if r := recover(); r != nil {
			out = []Sample{exceptionSample(ServiceException, fmt.Errorf("%v", r))}
		}
	}()
	return c.Check(ctx)
}

// Registry owns one ClusterMonitor per cluster and serves as the read
// side for the admission gate.
type Registry struct {
	mu       sync.RWMutex
	monitors map[string]*ClusterMonitor
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{monitors: make(map[string]*ClusterMonitor)}
}

// Register adds and starts a monitor for a cluster.
func (r *Registry) Register(m *ClusterMonitor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.monitors[m.Cluster.Name] = m
	m.Start()
}

// Samples returns the current sample list for a cluster, or nil if the
// cluster has no registered monitor.
func (r *Registry) Samples(clusterName string) []Sample {
	r.mu.RLock()
	m, ok := r.monitors[clusterName]
	r.mu.RUnlock()
	if !ok {
		return nil
	}
	return m.Samples()
}

// StopAll stops every registered monitor, for graceful shutdown.
func (r *Registry) StopAll() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, m := range r.monitors {
		m.Stop()
	}
}
