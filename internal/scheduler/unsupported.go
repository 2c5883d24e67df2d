package scheduler

import (
	"context"
	"errors"
	"fmt"
)

// UnsupportedClient backs any cluster configured with a scheduler type
// this gateway does not yet implement (clustercfg.SchedulerPBS is
// declared but "planned, not implemented"). Every call fails with
// errors.ErrUnsupported so the gateway maps it to the
// not-implemented-scheduler->501 status spec.md §6 names, instead of
// silently routing PBS clusters through Slurm-shaped commands.
type UnsupportedClient struct {
	SchedulerType string
}

func (c *UnsupportedClient) err() error {
	return fmt.Errorf("scheduler type %q is not implemented: %w", c.SchedulerType, errors.ErrUnsupported)
}

func (c *UnsupportedClient) SubmitJob(ctx context.Context, desc JobDescription, user, token string) (string, error) {
	return "", c.err()
}

func (c *UnsupportedClient) AttachCommand(ctx context.Context, cmd, jobID, user, token string) error {
	return c.err()
}

func (c *UnsupportedClient) GetJob(ctx context.Context, jobID, user, token string) ([]Job, error) {
	return nil, c.err()
}

func (c *UnsupportedClient) GetJobs(ctx context.Context, user, token string, allUsers bool) ([]Job, error) {
	return nil, c.err()
}

func (c *UnsupportedClient) GetJobMetadata(ctx context.Context, jobID, user, token string) ([]JobMetadata, error) {
	return nil, c.err()
}

func (c *UnsupportedClient) CancelJob(ctx context.Context, jobID, user, token string) (bool, error) {
	return false, c.err()
}

func (c *UnsupportedClient) GetNodes(ctx context.Context, user, token string) ([]Node, error) {
	return nil, c.err()
}

func (c *UnsupportedClient) GetPartitions(ctx context.Context, user, token string) ([]Partition, error) {
	return nil, c.err()
}

func (c *UnsupportedClient) GetReservations(ctx context.Context, user, token string) ([]Reservation, error) {
	return nil, c.err()
}

func (c *UnsupportedClient) Ping(ctx context.Context, user, token string) (PingResult, error) {
	return PingResult{}, c.err()
}

var _ Client = (*UnsupportedClient)(nil)
