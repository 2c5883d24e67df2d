package transfer

import (
	"context"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanfgv/firecrest-v2/internal/clustercfg"
	"github.com/germanfgv/firecrest-v2/internal/scheduler"
)

type fakeS3 struct {
	headBucketErr error
	buckets       map[string]bool
}

func (f *fakeS3) CreateBucket(ctx context.Context, params *s3.CreateBucketInput, optFns ...func(*s3.Options)) (*s3.CreateBucketOutput, error) {
	f.buckets[*params.Bucket] = true
	return &s3.CreateBucketOutput{}, nil
}

func (f *fakeS3) HeadBucket(ctx context.Context, params *s3.HeadBucketInput, optFns ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	if f.buckets[*params.Bucket] {
		return &s3.HeadBucketOutput{}, nil
	}
	return nil, assertNotFound{}
}

func (f *fakeS3) PutBucketLifecycleConfiguration(ctx context.Context, params *s3.PutBucketLifecycleConfigurationInput, optFns ...func(*s3.Options)) (*s3.PutBucketLifecycleConfigurationOutput, error) {
	return &s3.PutBucketLifecycleConfigurationOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(ctx context.Context, params *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	id := "upload-1"
	return &s3.CreateMultipartUploadOutput{UploadId: &id}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	return &s3.ListBucketsOutput{}, nil
}

type assertNotFound struct{}

func (assertNotFound) Error() string { return "NoSuchBucket" }

type fakePresigner struct{}

func (fakePresigner) PresignGetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://signed.example.com/get", Method: "GET"}, nil
}

func (fakePresigner) PresignHeadObject(ctx context.Context, params *s3.HeadObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://signed.example.com/head", Method: "HEAD"}, nil
}

func (fakePresigner) PresignUploadPart(ctx context.Context, params *s3.UploadPartInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://signed.example.com/part", Method: "PUT"}, nil
}

func (fakePresigner) PresignCompleteMultipartUpload(ctx context.Context, params *s3.CompleteMultipartUploadInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	return &v4.PresignedHTTPRequest{URL: "https://signed.example.com/complete", Method: "POST"}, nil
}

type fakeScheduler struct {
	lastDesc scheduler.JobDescription
}

func (f *fakeScheduler) SubmitJob(ctx context.Context, desc scheduler.JobDescription, user, token string) (string, error) {
	f.lastDesc = desc
	return "42", nil
}
func (f *fakeScheduler) AttachCommand(ctx context.Context, cmd, jobID, user, token string) error {
	return nil
}
func (f *fakeScheduler) GetJob(ctx context.Context, jobID, user, token string) ([]scheduler.Job, error) {
	return nil, nil
}
func (f *fakeScheduler) GetJobs(ctx context.Context, user, token string, allUsers bool) ([]scheduler.Job, error) {
	return nil, nil
}
func (f *fakeScheduler) GetJobMetadata(ctx context.Context, jobID, user, token string) ([]scheduler.JobMetadata, error) {
	return nil, nil
}
func (f *fakeScheduler) CancelJob(ctx context.Context, jobID, user, token string) (bool, error) {
	return true, nil
}
func (f *fakeScheduler) GetNodes(ctx context.Context, user, token string) ([]scheduler.Node, error) {
	return nil, nil
}
func (f *fakeScheduler) GetPartitions(ctx context.Context, user, token string) ([]scheduler.Partition, error) {
	return nil, nil
}
func (f *fakeScheduler) GetReservations(ctx context.Context, user, token string) ([]scheduler.Reservation, error) {
	return nil, nil
}
func (f *fakeScheduler) Ping(ctx context.Context, user, token string) (scheduler.PingResult, error) {
	return scheduler.PingResult{}, nil
}

func testOrchestrator() (*Orchestrator, *fakeScheduler) {
	sched := &fakeScheduler{}
	cluster := &clustercfg.Cluster{
		Name: "daint",
		Filesystems: []clustercfg.FilesystemMount{
			{Path: "/scratch", DefaultWorkDir: true},
		},
		TransferDirectives: "#!/bin/bash\n#SBATCH --job-name=transfer\n",
	}
	o := &Orchestrator{
		Cluster: cluster,
		Config: Config{
			PublicEndpoint:  "https://public.example.com",
			PrivateEndpoint: "https://private.example.com",
			PartSizeBytes:   10,
		},
		S3:        &fakeS3{buckets: map[string]bool{}},
		Presign:   fakePresigner{},
		Scheduler: sched,
	}
	return o, sched
}

func TestUpload_MultiplePartsAndEndpointRewrite(t *testing.T) {
	o, sched := testOrchestrator()
	parts, err := o.Upload(context.Background(), "/scratch/alice", "data.bin", 25, "alice", "tok", "")
	require.NoError(t, err)

	assert.Equal(t, "upload-1", parts.UploadID)
	assert.Len(t, parts.PartURLs, 3) // ceil(25/10)
	for _, u := range parts.PartURLs {
		assert.Contains(t, u, "public.example.com")
	}
	assert.Contains(t, parts.CompleteURL, "public.example.com")
	assert.Equal(t, "IngressFileTransfer", sched.lastDesc.Name)
	assert.Contains(t, sched.lastDesc.Script, "private.example.com")
}

func TestDownload_ReturnsPublicGetURL(t *testing.T) {
	o, sched := testOrchestrator()
	job, getURL, err := o.Download(context.Background(), "/scratch/alice/report.csv", 35, "alice", "tok", "")
	require.NoError(t, err)

	assert.Equal(t, "42", job.JobID)
	assert.Contains(t, getURL, "public.example.com")
	assert.Equal(t, "OutgressFileTransfer", sched.lastDesc.Name)
	assert.Contains(t, sched.lastDesc.Script, "private.example.com")
}

func TestMove_SubmitsMvCommand(t *testing.T) {
	o, sched := testOrchestrator()
	_, err := o.Move(context.Background(), "/scratch/a", "/scratch/b", "alice", "tok", "")
	require.NoError(t, err)
	assert.Contains(t, sched.lastDesc.Script, "mv --")
	assert.Equal(t, "MoveFileTransfer", sched.lastDesc.Name)
}

func TestCompress_WithMatchPattern(t *testing.T) {
	o, sched := testOrchestrator()
	_, err := o.Compress(context.Background(), "/scratch/a", "/scratch/a.tar.gz", ".*\\.csv", false, "alice", "tok", "")
	require.NoError(t, err)
	assert.Contains(t, sched.lastDesc.Script, "find . -regextype posix-extended")
	assert.Equal(t, "CompressFileTransfer", sched.lastDesc.Name)
}

func TestRemove_SubmitsRmCommand(t *testing.T) {
	o, sched := testOrchestrator()
	_, err := o.Remove(context.Background(), "/scratch/old", "alice", "tok", "")
	require.NoError(t, err)
	assert.Contains(t, sched.lastDesc.Script, "rm -r --interactive=never")
	assert.Equal(t, "DeleteFileTransfer", sched.lastDesc.Name)
}

func TestSubmitTransferScript_PrependsDirectivesAndSetsLogPaths(t *testing.T) {
	o, sched := testOrchestrator()
	job, err := o.Extract(context.Background(), "/scratch/a.tar.gz", "/scratch/out", "alice", "tok", "")
	require.NoError(t, err)
	assert.NotEmpty(t, job.LogPath)
	assert.NotEmpty(t, job.ErrLogPath)
	assert.Contains(t, sched.lastDesc.Script, "#SBATCH --job-name=transfer")
	assert.Equal(t, "/scratch", sched.lastDesc.WorkDir)
}
