// Package scheduler implements the Scheduler Adapter (spec.md §4.3): a
// scheduler-neutral interface with two Slurm backends (REST and
// shell-over-SSH) and a composite client that routes each call to
// whichever backend can serve it.
//
// The shell backend is grounded on other_examples'
// e3c88dfb_virtengine-virtengine__pkg-slurm_adapter-ssh_client.go.go
// (SubmitJob/GetJobStatus/parseSacctOutput/ListNodes/ListPartitions),
// reworked onto this repo's own internal/sshpool instead of a private
// connection pool. The REST backend follows the teacher's pattern of a
// single process-wide *http.Client with typed request/response structs
// (pkg/client/client.go), adapted to Slurm's version-sensitive payload
// shapes described in original_source/src/firecrest/config.py.
package scheduler

import (
	"context"
	"time"
)

// JobDescription is what a caller submits to the scheduler, mirroring
// spec.md §3's JobDescription.
type JobDescription struct {
	Name        string
	WorkDir     string
	Script      string
	ScriptPath  string
	Environment map[string]string
	Partition   string
	Constraint  string
	StdIn       string
	StdOut      string
	StdErr      string
	Account     string
}

// TaskState is a scheduler-neutral job/task state.
type TaskState string

const (
	StatePending   TaskState = "PENDING"
	StateRunning   TaskState = "RUNNING"
	StateCompleted TaskState = "COMPLETED"
	StateCancelled TaskState = "CANCELLED"
	StateFailed    TaskState = "FAILED"
	StateTimeout   TaskState = "TIMEOUT"
	StateUnknown   TaskState = "UNKNOWN"
)

// Task is one step of a job (e.g. a Slurm job-array element or batch step).
type Task struct {
	ID         string
	State      TaskState
	ExitCode   *int
	StartTime  *time.Time
	EndTime    *time.Time
	ElapsedSec int64
}

// Job is a scheduler job, with its steps/array-elements as Tasks so
// duplicate rows (e.g. a Slurm job array) can be represented without
// losing any of them (spec.md §4.3: "list to handle duplicates").
type Job struct {
	ID        string
	Name      string
	State     TaskState
	Partition string
	NodeList  []string
	User      string
	WorkDir   string
	SubmitAt  *time.Time
	StartAt   *time.Time
	EndAt     *time.Time
	Tasks     []Task
}

// JobMetadata carries the stdout/stderr/stdin/script paths and raw batch
// script text for a job, only obtainable from the shell backend (spec.md
// §4.3: "REST does not expose stdout/stderr paths").
type JobMetadata struct {
	JobID      string
	StdIn      string
	StdOut     string
	StdErr     string
	ScriptPath string
	Script     string
}

// Node describes one compute node, merged from sinfo's per-partition rows
// by node name (spec.md §4.3).
type Node struct {
	Name        string
	State       string
	Partitions  []string
	CPUs        int
	CPUsLoad    string
	FreeMem     string
	Features    string
	Weight      string
	Reason      string
	RealMemory  string
	CoresPerSocket string
	Sockets     string
}

// Partition mirrors `scontrol show -o partitions`' key=value fields.
type Partition struct {
	Name      string
	State     string
	TotalCPUs string
	TotalNodes string
	Nodes     string
}

// Reservation mirrors `scontrol show -o reservations`' key=value fields.
type Reservation struct {
	Name      string
	StartTime string
	EndTime   string
	Nodes     string
	State     string
}

// ControllerStatus is one reported Slurm controller's reachability.
type ControllerStatus struct {
	Name string
	Up   bool
}

// PingResult is the result of adapter.ping: a ping is healthy iff every
// reported controller is UP (spec.md §4.5).
type PingResult struct {
	Controllers []ControllerStatus
}

func (p PingResult) Healthy() bool {
	if len(p.Controllers) == 0 {
		return false
	}
	for _, c := range p.Controllers {
		if !c.Up {
			return false
		}
	}
	return true
}

// Client is the scheduler-neutral interface spec.md §4.3 names. Every
// call is user-scoped: implementations forward (user, accessToken) to
// authenticate and to attribute resource usage to the right identity.
type Client interface {
	SubmitJob(ctx context.Context, desc JobDescription, user, token string) (string, error)
	AttachCommand(ctx context.Context, cmd, jobID, user, token string) error
	GetJob(ctx context.Context, jobID, user, token string) ([]Job, error)
	GetJobs(ctx context.Context, user, token string, allUsers bool) ([]Job, error)
	GetJobMetadata(ctx context.Context, jobID, user, token string) ([]JobMetadata, error)
	CancelJob(ctx context.Context, jobID, user, token string) (bool, error)
	GetNodes(ctx context.Context, user, token string) ([]Node, error)
	GetPartitions(ctx context.Context, user, token string) ([]Partition, error)
	GetReservations(ctx context.Context, user, token string) ([]Reservation, error)
	Ping(ctx context.Context, user, token string) (PingResult, error)
}
