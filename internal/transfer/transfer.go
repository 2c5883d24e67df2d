// Package transfer implements the Large-File Transfer Orchestrator
// (spec.md §4.4): it mints S3 presigned URLs sized for multipart
// transfer, renders a Bash script that does the actual data motion on a
// cluster node, and submits that script as a scheduler job under the
// user's identity — the gateway itself never proxies file bytes above
// the small-ops threshold.
//
// Grounded on _examples/gurre-ddb-pitr/aws/interfaces.go (a thin
// interface wrapping the AWS SDK v2 client for testability, here
// narrowed to the S3 operations this package needs) and
// checkpoint/checkpoint.go (bucket/key derivation from a config value,
// typed State round-tripped through the client).
package transfer

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"

	"github.com/germanfgv/firecrest-v2/internal/clustercfg"
	"github.com/germanfgv/firecrest-v2/internal/ferrors"
	"github.com/germanfgv/firecrest-v2/internal/scheduler"
)

// S3API is the subset of the AWS SDK v2 S3 client this package drives,
// narrowed from gurre-ddb-pitr's aws.S3Client the same way that file
// narrows the full SDK surface to only what its checkpoint store needs.
type S3API interface {
	CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error)
	HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error)
	PutBucketLifecycleConfiguration(ctx context.Context, params *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error)
	CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error)
}

// Presigner is the subset of *s3.PresignClient this package needs,
// narrowed the same way S3API is.
type Presigner interface {
	PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignHeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignUploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
	PresignCompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

var (
	_ S3API     = (*s3.Client)(nil)
	_ Presigner = (*s3.PresignClient)(nil)
)

// Config holds the per-cluster transfer settings spec.md §4.4 names.
type Config struct {
	PublicEndpoint    string
	PrivateEndpoint   string
	Tenant            string // rewrites bucket names to "tenant:bucket" when set
	LifecycleDays     int32
	PartSizeBytes     int64 // default 2 GiB
	SmallOpsThreshold int64 // default 5 MiB
	DownloadConcurrency int
}

const (
	defaultPartSize     = 2 * 1024 * 1024 * 1024
	defaultSmallOpsSize = 5 * 1024 * 1024
)

func (c Config) partSize() int64 {
	if c.PartSizeBytes > 0 {
		return c.PartSizeBytes
	}
	return defaultPartSize
}

// bucketName rewrites b to "tenant:bucket" when a tenant is configured,
// to accommodate Ceph-style multi-tenancy (spec.md §4.4).
func (c Config) bucketName(b string) string {
	if c.Tenant == "" {
		return b
	}
	return c.Tenant + ":" + b
}

// TransferJob is the scheduler job handle returned for every transfer
// operation (spec.md §3's TransferJob).
type TransferJob struct {
	JobID     string
	LogPath   string
	ErrLogPath string
}

// PartsURLs is what Upload returns for the caller to PUT parts against.
type PartsURLs struct {
	UploadID    string
	ObjectKey   string
	PartURLs    []string
	CompleteURL string
	MaxPartSize int64
	Job         TransferJob
}

// Orchestrator ties the S3 client, presigner, and scheduler adapter
// together per cluster.
type Orchestrator struct {
	Cluster   *clustercfg.Cluster
	Config    Config
	S3        S3API
	Presign   Presigner
	Scheduler scheduler.Client
}

// ensureUserBucket creates a per-user bucket with the configured
// lifecycle policy if it doesn't already exist (spec.md §4.4 step 1).
func (o *Orchestrator) ensureUserBucket(ctx context.Context, user string) (string, error) {
	bucket := o.Config.bucketName(user)
	_, err := o.S3.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &bucket})
	if err == nil {
		return bucket, nil
	}

	if _, err := o.S3.CreateBucket(ctx, &s3.CreateBucketInput{Bucket: &bucket}); err != nil {
		return "", ferrors.Wrap(ferrors.UpstreamUnavailable, "create transfer bucket", err)
	}

	days := o.Config.LifecycleDays
	if days <= 0 {
		days = 7
	}
	_, err = o.S3.PutBucketLifecycleConfiguration(ctx, &s3.PutBucketLifecycleConfigurationInput{
		Bucket: &bucket,
		LifecycleConfiguration: &types.BucketLifecycleConfiguration{
			Rules: []types.LifecycleRule{
				{
					ID:         strPtr("firecrest-transfer-expiry"),
					Status:     types.ExpirationStatusEnabled,
					Filter:     &types.LifecycleRuleFilter{Prefix: strPtr("")},
					Expiration: &types.LifecycleExpiration{Days: days},
				},
			},
		},
	})
	if err != nil {
		return "", ferrors.Wrap(ferrors.UpstreamUnavailable, "apply bucket lifecycle policy", err)
	}
	return bucket, nil
}

func strPtr(s string) *string { return &s }

// rewriteHost substitutes endpoint's scheme+host into a presigned URL,
// since the SDK signs against whatever endpoint the S3 client was
// constructed with but FirecREST needs to hand out a URL reachable from
// wherever the caller (public) or the cluster node (private) actually
// sits (spec.md §4.4). A no-op when endpoint is empty.
func (o *Orchestrator) rewriteHost(rawURL, endpoint string) string {
	if endpoint == "" {
		return rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}
	ep, err := url.Parse(endpoint)
	if err != nil {
		return rawURL
	}
	u.Scheme = ep.Scheme
	u.Host = ep.Host
	return u.String()
}

// logPaths renders the job log/err-log paths spec.md §4.4 names:
// {defaultWorkDir}/{user}/.f7t_file_handling_job_{uuid}.{log,err.log}.
func logPaths(workDir, user, jobUUID string) (string, string) {
	base := fmt.Sprintf("%s/%s/.f7t_file_handling_job_%s", workDir, user, jobUUID)
	return base + ".log", base + ".err.log"
}

// submitTransferScript prepends the cluster's transfer directives
// template and submits script as a named job (spec.md §4.4 step 5).
func (o *Orchestrator) submitTransferScript(ctx context.Context, name, script, user, token, account string) (TransferJob, error) {
	directives, err := o.Cluster.RenderDirectives(account)
	if err != nil {
		return TransferJob{}, err
	}

	jobUUID := uuid.NewString()
	workDir := o.Cluster.DefaultWorkDir()
	logPath, errLogPath := logPaths(workDir, user, jobUUID)

	fullScript := directives + "\n" + script

	desc := scheduler.JobDescription{
		Name:    name,
		WorkDir: workDir,
		Script:  fullScript,
		StdOut:  logPath,
		StdErr:  errLogPath,
		Account: account,
	}
	jobID, err := o.Scheduler.SubmitJob(ctx, desc, user, token)
	if err != nil {
		return TransferJob{}, err
	}
	return TransferJob{JobID: jobID, LogPath: logPath, ErrLogPath: errLogPath}, nil
}
