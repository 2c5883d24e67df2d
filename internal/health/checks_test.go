package health

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/germanfgv/firecrest-v2/internal/clustercfg"
)

type fakeListBuckets struct {
	err error
}

func (f fakeListBuckets) ListBuckets(ctx context.Context, params *s3.ListBucketsInput, optFns ...func(*s3.Options)) (*s3.ListBucketsOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &s3.ListBucketsOutput{}, nil
}

func TestObjectStoreChecker_Healthy(t *testing.T) {
	c := &ObjectStoreChecker{S3: fakeListBuckets{}}
	samples := c.Check(context.Background())
	require.Len(t, samples, 1)
	assert.True(t, samples[0].Healthy)
	assert.Equal(t, ServiceObjectStore, samples[0].Type)
}

func TestObjectStoreChecker_Unhealthy(t *testing.T) {
	c := &ObjectStoreChecker{S3: fakeListBuckets{err: errors.New("connection refused")}}
	samples := c.Check(context.Background())
	require.Len(t, samples, 1)
	assert.False(t, samples[0].Healthy)
	assert.Contains(t, samples[0].Message, "connection refused")
}

func TestSchedulerChecker_TokenMintFailure(t *testing.T) {
	c := &SchedulerChecker{
		Cluster:     &clustercfg.Cluster{ServiceAccount: clustercfg.ServiceAccount{Username: "svc"}},
		TokenMinter: failingMinter{},
	}
	samples := c.Check(context.Background())
	require.Len(t, samples, 1)
	assert.False(t, samples[0].Healthy)
}

type failingMinter struct{}

func (failingMinter) mint(ctx context.Context, account clustercfg.ServiceAccount) (string, error) {
	return "", errors.New("token endpoint unreachable")
}

func TestShQuote_EscapesEmbeddedQuote(t *testing.T) {
	assert.Equal(t, `'it'\''s'`, shQuote("it's"))
}
