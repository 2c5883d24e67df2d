// Package servicecontext wires the process-wide dependencies the
// gateway's handlers share: one SSH pool and one health monitor per
// cluster, the scheduler clients each cluster routes through, the S3
// client pair that backs the transfer orchestrator, and the credential
// provider that mints SSH key material.
//
// Grounded on the teacher's manager wiring sequence
// (cmd/warren/main.go's clusterInitCmd: build config, build AWS-style
// clients, build the manager, start background loops) and
// gurre-ddb-pitr/cmd/ddb-pitr/main.go's
// "LoadDefaultConfig -> s3.NewFromConfig -> NewS3Client" construction
// order for the object-store side.
package servicecontext

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/germanfgv/firecrest-v2/internal/admission"
	"github.com/germanfgv/firecrest-v2/internal/clustercfg"
	"github.com/germanfgv/firecrest-v2/internal/config"
	"github.com/germanfgv/firecrest-v2/internal/credential"
	"github.com/germanfgv/firecrest-v2/internal/health"
	"github.com/germanfgv/firecrest-v2/internal/obslog"
	"github.com/germanfgv/firecrest-v2/internal/scheduler"
	"github.com/germanfgv/firecrest-v2/internal/sshpool"
	"github.com/germanfgv/firecrest-v2/internal/transfer"
)

// reapInterval is how often idle SSH sessions are swept across every
// cluster pool (spec.md §5: "idle reap every 5 s").
const reapInterval = 5 * time.Second

// keyMintTimeout bounds the shared HTTP client used to reach a remote
// key-mint service (spec.md §5: "key-mint 5 s").
const keyMintTimeout = credential.DefaultMintTimeout

// ClusterContext bundles everything built per configured cluster.
type ClusterContext struct {
	Cluster   *clustercfg.Cluster
	Pool      *sshpool.Pool
	Scheduler scheduler.Client
	Monitor   *health.ClusterMonitor
	Transfer  *transfer.Orchestrator
}

// ServiceContext is the single process-wide object built once at
// startup from a loaded config.Document. Handlers reach all
// per-request dependencies through it; nothing here is rebuilt per
// request.
type ServiceContext struct {
	Clusters   *clustercfg.Registry
	Credential credential.Provider
	Health     *health.Registry
	Admission  *admission.Gate

	perCluster map[string]*ClusterContext

	s3Client   *s3.Client
	presign    *s3.PresignClient
	httpClient *http.Client

	stopReap chan struct{}
	reapOnce sync.Once
}

// Build constructs a ServiceContext from a loaded configuration
// document. It dials no SSH connections and starts no health probes
// itself beyond what Start does; Build only assembles the wiring.
func Build(ctx context.Context, doc *config.Document) (*ServiceContext, error) {
	clusters, err := doc.ClusterRegistry()
	if err != nil {
		return nil, fmt.Errorf("servicecontext: %w", err)
	}

	httpClient := &http.Client{Timeout: keyMintTimeout}

	credProvider, err := doc.CredentialProvider(httpClient)
	if err != nil {
		return nil, fmt.Errorf("servicecontext: %w", err)
	}

	s3Client, presignClient, err := buildS3Clients(ctx, doc.Storage)
	if err != nil {
		return nil, fmt.Errorf("servicecontext: %w", err)
	}

	healthRegistry := health.NewRegistry()
	transferCfg := doc.TransferConfig()

	sc := &ServiceContext{
		Clusters:   clusters,
		Credential: credProvider,
		Health:     healthRegistry,
		Admission:  &admission.Gate{Clusters: clusters, Health: healthRegistry},
		perCluster: make(map[string]*ClusterContext, len(clusters.All())),
		s3Client:   s3Client,
		presign:    presignClient,
		httpClient: httpClient,
	}

	for _, cluster := range clusters.All() {
		cc := sc.buildCluster(cluster, transferCfg)
		sc.perCluster[cluster.Name] = cc
	}

	return sc, nil
}

func (sc *ServiceContext) buildCluster(cluster *clustercfg.Cluster, transferCfg transfer.Config) *ClusterContext {
	pool := sshpool.New(cluster, sc.Credential)

	var client scheduler.Client
	switch cluster.Scheduler.Type {
	case clustercfg.SchedulerSlurm:
		shell := &scheduler.ShellClient{
			Pool:           pool,
			ExecuteTimeout: cluster.SSH.ExecuteTimeout,
			BufferLimit:    sshpool.DefaultBufferLimit,
			SlurmVersion:   cluster.Scheduler.Version,
		}
		client = shell
		if cluster.Scheduler.HasREST() {
			client = &scheduler.CompositeClient{
				REST: &scheduler.RESTClient{
					BaseURL:    cluster.Scheduler.RESTBaseURL,
					APIVersion: cluster.Scheduler.RESTAPIVersion,
					HTTPClient: sc.httpClient,
				},
				Shell: shell,
			}
		}
	default:
		client = &scheduler.UnsupportedClient{SchedulerType: string(cluster.Scheduler.Type)}
	}

	monitor := &health.ClusterMonitor{
		Cluster:  cluster,
		Interval: cluster.ProbeInterval,
		Timeout:  cluster.ProbeTimeout,
		Scheduler: health.NewSchedulerChecker(
			cluster, client, cluster.Scheduler.RESTBaseURL, sc.httpClient,
		),
		SSH: &health.SSHChecker{
			Pool:    pool,
			Account: cluster.ServiceAccount,
			Timeout: cluster.ProbeTimeout,
		},
		Filesystem: &health.FilesystemChecker{
			Pool:    pool,
			Account: cluster.ServiceAccount,
			Mounts:  cluster.Filesystems,
			Timeout: cluster.ProbeTimeout,
		},
		ObjectStore: &health.ObjectStoreChecker{S3: sc.s3Client},
	}

	orchestrator := &transfer.Orchestrator{
		Cluster:   cluster,
		Config:    transferCfg,
		S3:        sc.s3Client,
		Presign:   sc.presign,
		Scheduler: client,
	}

	return &ClusterContext{
		Cluster:   cluster,
		Pool:      pool,
		Scheduler: client,
		Monitor:   monitor,
		Transfer:  orchestrator,
	}
}

// Cluster resolves the per-cluster wiring by name.
func (sc *ServiceContext) Cluster(name string) (*ClusterContext, bool) {
	cc, ok := sc.perCluster[name]
	return cc, ok
}

// Start registers every cluster's health monitor (which starts its own
// probe loop) and begins the shared idle-reap ticker.
func (sc *ServiceContext) Start() {
	for _, cc := range sc.perCluster {
		sc.Health.Register(cc.Monitor)
	}
	sc.startReaper()
}

// Stop halts every health monitor and the idle reaper. Safe to call
// once; a second call is a no-op.
func (sc *ServiceContext) Stop() {
	sc.Health.StopAll()
	sc.reapOnce.Do(func() {
		if sc.stopReap != nil {
			close(sc.stopReap)
		}
	})
}

// startReaper runs a single ticker that prunes idle sessions across
// every cluster pool, mirroring the teacher's
// MetricsCollector.Start/Stop ticker shape.
func (sc *ServiceContext) startReaper() {
	sc.stopReap = make(chan struct{})
	ticker := time.NewTicker(reapInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				for _, cc := range sc.perCluster {
					cc.Pool.Prune(now)
				}
			case <-sc.stopReap:
				return
			}
		}
	}()
}

func buildS3Clients(ctx context.Context, storage config.Storage) (*s3.Client, *s3.PresignClient, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(storage.Region),
		awsconfig.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(
			storage.AccessKeyID, string(storage.SecretAccessKey), "",
		)),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if storage.PrivateURL != "" {
			o.BaseEndpoint = &storage.PrivateURL
		}
		o.UsePathStyle = true
	})
	presignClient := s3.NewPresignClient(client)

	obslog.WithComponent("servicecontext").Info().
		Str("bucket_name", storage.Name).
		Msg("object store client initialized")

	return client, presignClient, nil
}
