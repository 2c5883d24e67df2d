package scheduler

import "context"

// CompositeClient holds a REST client (when the cluster names a REST URL)
// and always a shell client, routing each call per spec.md §4.3's rules.
type CompositeClient struct {
	REST  Client // nil if the cluster has no REST endpoint configured
	Shell Client
}

func (c *CompositeClient) defaultClient() Client {
	if c.REST != nil {
		return c.REST
	}
	return c.Shell
}

// SubmitJob routes to shell whenever a pre-existing script file is
// referenced, since REST cannot submit a script it cannot read itself.
func (c *CompositeClient) SubmitJob(ctx context.Context, desc JobDescription, user, token string) (string, error) {
	if desc.ScriptPath != "" {
		return c.Shell.SubmitJob(ctx, desc, user, token)
	}
	return c.defaultClient().SubmitJob(ctx, desc, user, token)
}

func (c *CompositeClient) AttachCommand(ctx context.Context, cmd, jobID, user, token string) error {
	return c.defaultClient().AttachCommand(ctx, cmd, jobID, user, token)
}

func (c *CompositeClient) GetJob(ctx context.Context, jobID, user, token string) ([]Job, error) {
	return c.defaultClient().GetJob(ctx, jobID, user, token)
}

func (c *CompositeClient) GetJobs(ctx context.Context, user, token string, allUsers bool) ([]Job, error) {
	return c.defaultClient().GetJobs(ctx, user, token, allUsers)
}

// GetJobMetadata always routes to shell: REST does not expose
// stdout/stderr/script paths (spec.md §4.3).
func (c *CompositeClient) GetJobMetadata(ctx context.Context, jobID, user, token string) ([]JobMetadata, error) {
	return c.Shell.GetJobMetadata(ctx, jobID, user, token)
}

func (c *CompositeClient) CancelJob(ctx context.Context, jobID, user, token string) (bool, error) {
	return c.defaultClient().CancelJob(ctx, jobID, user, token)
}

func (c *CompositeClient) GetNodes(ctx context.Context, user, token string) ([]Node, error) {
	return c.defaultClient().GetNodes(ctx, user, token)
}

func (c *CompositeClient) GetPartitions(ctx context.Context, user, token string) ([]Partition, error) {
	return c.defaultClient().GetPartitions(ctx, user, token)
}

func (c *CompositeClient) GetReservations(ctx context.Context, user, token string) ([]Reservation, error) {
	return c.defaultClient().GetReservations(ctx, user, token)
}

func (c *CompositeClient) Ping(ctx context.Context, user, token string) (PingResult, error) {
	return c.defaultClient().Ping(ctx, user, token)
}

var (
	_ Client = (*RESTClient)(nil)
	_ Client = (*ShellClient)(nil)
	_ Client = (*CompositeClient)(nil)
)
