// Package admission implements the Request Admission Gate (spec.md
// §4.6): a pre-handler check that resolves the named cluster, matches
// the request against the cluster's current health samples, and fails
// closed when the matching service is missing or unhealthy.
//
// No teacher package addresses this domain directly; shaped after the
// general "decide before calling the handler, short-circuit with a
// typed failure" form of pkg/api/interceptor.go's ReadOnlyInterceptor,
// translated from a gRPC unary interceptor into a plain callable gate
// since the gRPC server stack itself was dropped (see DESIGN.md).
package admission

import (
	"github.com/germanfgv/firecrest-v2/internal/clustercfg"
	"github.com/germanfgv/firecrest-v2/internal/ferrors"
	"github.com/germanfgv/firecrest-v2/internal/health"
)

// ServiceRequirement names what a request needs to be admitted, mirroring
// spec.md §4.6's rules 2(a)/2(b).
type ServiceRequirement struct {
	Type ServiceKind
	// Path is the filesystem path carried by the request (query or
	// body). Only meaningful when Type is Filesystem.
	Path string
}

// ServiceKind is the admission-relevant subset of health.ServiceType:
// scheduler/ssh need a single matching sample, filesystem needs a
// prefix match, and storage is never gated at the request level.
type ServiceKind string

const (
	Scheduler  ServiceKind = ServiceKind(health.ServiceScheduler)
	SSH        ServiceKind = ServiceKind(health.ServiceSSH)
	Filesystem ServiceKind = ServiceKind(health.ServiceFilesystem)
)

// Request is the minimal shape the gate needs from an inbound call.
type Request struct {
	ClusterName  string
	Requirement  *ServiceRequirement // nil when the endpoint names no serviceType
	IgnoreHealth bool                // bypasses health matching for diagnostic routes
}

// Gate resolves clusters and health samples to admit or reject a request.
type Gate struct {
	Clusters *clustercfg.Registry
	Health   *health.Registry
}

// Admit runs the three admission rules spec.md §4.6 lists in order and
// returns the resolved cluster on success, or a typed error on failure.
func (g *Gate) Admit(req Request) (*clustercfg.Cluster, error) {
	cluster, ok := g.Clusters.Get(req.ClusterName)
	if !ok {
		return nil, ferrors.NotFoundf("unknown cluster %q", req.ClusterName)
	}

	if req.Requirement == nil || req.IgnoreHealth {
		return cluster, nil
	}

	samples := g.Health.Samples(req.ClusterName)

	switch req.Requirement.Type {
	case Filesystem:
		sample, found := bestFilesystemMatch(samples, req.Requirement.Path)
		if !found {
			return nil, ferrors.PreconditionRequiredf("no health sample covers path %q", req.Requirement.Path)
		}
		if !sample.Healthy {
			return nil, ferrors.ServiceUnavailablef("filesystem %s is unhealthy", sample.Path)
		}
		return cluster, nil

	default: // Scheduler, SSH
		sample, found := singleSample(samples, health.ServiceType(req.Requirement.Type))
		if !found {
			return nil, ferrors.PreconditionRequiredf("%s health sample missing", req.Requirement.Type)
		}
		if !sample.Healthy {
			return nil, ferrors.ServiceUnavailablef("%s is unhealthy", req.Requirement.Type)
		}
		return cluster, nil
	}
}

// bestFilesystemMatch picks the filesystem sample whose Path is the
// longest prefix of requestPath, per spec.md §4.6 ("the most specific
// matching one wins") and Testable Property #7.
func bestFilesystemMatch(samples []health.Sample, requestPath string) (health.Sample, bool) {
	var best health.Sample
	found := false
	for _, s := range samples {
		if s.Type != health.ServiceFilesystem {
			continue
		}
		if !hasPathPrefix(requestPath, s.Path) {
			continue
		}
		if !found || len(s.Path) > len(best.Path) {
			best = s
			found = true
		}
	}
	return best, found
}

func hasPathPrefix(requestPath, mountPath string) bool {
	if len(requestPath) < len(mountPath) {
		return false
	}
	return requestPath[:len(mountPath)] == mountPath
}

func singleSample(samples []health.Sample, want health.ServiceType) (health.Sample, bool) {
	for _, s := range samples {
		if s.Type == want {
			return s, true
		}
	}
	return health.Sample{}, false
}
