package scheduler

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnsupportedClient_EveryMethodWrapsErrUnsupported(t *testing.T) {
	c := &UnsupportedClient{SchedulerType: "pbs"}
	ctx := context.Background()

	_, err := c.SubmitJob(ctx, JobDescription{}, "alice", "token")
	assert.True(t, errors.Is(err, errors.ErrUnsupported))

	_, err = c.GetJobs(ctx, "alice", "token", false)
	assert.True(t, errors.Is(err, errors.ErrUnsupported))

	_, err = c.Ping(ctx, "alice", "token")
	assert.True(t, errors.Is(err, errors.ErrUnsupported))
}
