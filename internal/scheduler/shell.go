package scheduler

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/germanfgv/firecrest-v2/internal/ferrors"
	"github.com/germanfgv/firecrest-v2/internal/sshpool"
)

// ShellClient talks to Slurm by running its CLI tools over an SSH
// session. Grounded on other_examples'
// e3c88dfb_virtengine-virtengine__pkg-slurm_adapter-ssh_client.go.go
// (SubmitJob/CancelJob/GetJobStatus/parseSacctOutput/ListNodes/
// ListPartitions), extended to the full command set spec.md §4.3 names
// (scontrol metadata/reservations/partitions/ping, srun attach).
type ShellClient struct {
	Pool           *sshpool.Pool
	ExecuteTimeout time.Duration
	BufferLimit    int
	SlurmVersion   string // e.g. "24.05.0"; "" means assume pre-24.05
}

func (c *ShellClient) run(ctx context.Context, user, token, cmd string) (sshpool.ExecResult, error) {
	var res sshpool.ExecResult
	err := c.Pool.WithSession(ctx, user, token, func(ctx context.Context, sess *sshpool.PooledSession) error {
		r, err := sshpool.Exec(ctx, sess, cmd, nil, c.ExecuteTimeout, c.BufferLimit)
		res = r
		return err
	})
	return res, err
}

// sacctFormat is the fixed 20-field pipe-delimited format string spec.md
// §4.3 names for getJobs/getJob.
const sacctFormat = "JobID,JobName,State,ExitCode,Start,End,Elapsed,Partition,NodeList,User,WorkDir,Submit,AllocCPUS,ReqMem,MaxRSS,NNodes,Account,Priority,Reason,Comment"

var jobIDSubmittedRe = regexp.MustCompile(`Submitted batch job (\d+)`)

// SubmitJob renders and runs `sbatch`, grounded on the teacher's
// SubmitJob (minus its heredoc trick, since this repo has an explicit
// ScriptPath/stdin split to honor, per spec.md §4.3).
func (c *ShellClient) SubmitJob(ctx context.Context, desc JobDescription, user, token string) (string, error) {
	var b strings.Builder
	b.WriteString("sbatch ")

	// Kept as the documented default rather than silently narrowed: a
	// full environment export is what the original shell submission path
	// does, at the cost of leaking the gateway process's own environment
	// into the job unless overridden per-variable below (see DESIGN.md
	// Open Question #1).
	exportVal := "ALL"
	for k, v := range desc.Environment {
		if v == "" {
			exportVal += "," + k
		} else {
			exportVal += "," + k + "=" + v
		}
	}
	fmt.Fprintf(&b, "--export=%s ", exportVal)

	if desc.WorkDir != "" {
		fmt.Fprintf(&b, "--chdir=%s ", shQuote(desc.WorkDir))
	}
	if desc.Name != "" {
		fmt.Fprintf(&b, "--job-name=%s ", shQuote(desc.Name))
	}
	if desc.StdErr != "" {
		fmt.Fprintf(&b, "--error=%s ", shQuote(desc.StdErr))
	}
	if desc.StdOut != "" {
		fmt.Fprintf(&b, "--output=%s ", shQuote(desc.StdOut))
	}
	if desc.StdIn != "" {
		fmt.Fprintf(&b, "--input=%s ", shQuote(desc.StdIn))
	}
	if desc.Constraint != "" {
		fmt.Fprintf(&b, "--constraint=%s ", shQuote(desc.Constraint))
	}
	if desc.Partition != "" {
		fmt.Fprintf(&b, "--partition=%s ", shQuote(desc.Partition))
	}
	if desc.Account != "" {
		fmt.Fprintf(&b, "--account=%s ", shQuote(desc.Account))
	}

	var stdin []byte
	if desc.ScriptPath != "" {
		fmt.Fprintf(&b, "-- %s", shQuote(desc.ScriptPath))
	} else {
		stdin = []byte(desc.Script)
	}

	var res sshpool.ExecResult
	err := c.Pool.WithSession(ctx, user, token, func(ctx context.Context, sess *sshpool.PooledSession) error {
		r, err := sshpool.Exec(ctx, sess, b.String(), stdin, c.ExecuteTimeout, c.BufferLimit)
		res = r
		return err
	})
	if err != nil {
		return "", err
	}
	if res.ExitStatus != 0 {
		return "", ferrors.New(ferrors.SchedulerInternal, fmt.Sprintf("sbatch failed: %s", string(res.Stderr)))
	}

	m := jobIDSubmittedRe.FindStringSubmatch(string(res.Stdout))
	if m == nil {
		return "", ferrors.New(ferrors.SchedulerInternal, fmt.Sprintf("could not parse sbatch output: %s", string(res.Stdout)))
	}
	return m[1], nil
}

// AttachCommand runs cmd inside jobID's allocation via `srun --overlap`.
func (c *ShellClient) AttachCommand(ctx context.Context, cmd, jobID, user, token string) error {
	res, err := c.run(ctx, user, token, fmt.Sprintf("srun --jobid=%s --overlap %s", jobID, cmd))
	if err != nil {
		return err
	}
	if res.ExitStatus != 0 {
		return ferrors.New(ferrors.SchedulerInternal, fmt.Sprintf("srun failed: %s", string(res.Stderr)))
	}
	return nil
}

// GetJob and GetJobs both go through sacct; GetJob filters to one id.
func (c *ShellClient) GetJob(ctx context.Context, jobID, user, token string) ([]Job, error) {
	cmd := fmt.Sprintf("sacct -j %s --format=%s --parsable2 --noheader", jobID, sacctFormat)
	return c.sacctJobs(ctx, user, token, cmd)
}

func (c *ShellClient) GetJobs(ctx context.Context, user, token string, allUsers bool) ([]Job, error) {
	cmd := fmt.Sprintf("sacct --format=%s --parsable2 --noheader", sacctFormat)
	if allUsers {
		cmd += " --allusers"
	} else {
		cmd += fmt.Sprintf(" --user=%s", user)
	}
	return c.sacctJobs(ctx, user, token, cmd)
}

func (c *ShellClient) sacctJobs(ctx context.Context, user, token, cmd string) ([]Job, error) {
	res, err := c.run(ctx, user, token, cmd)
	if err != nil {
		return nil, err
	}
	if res.ExitStatus != 0 {
		return nil, ferrors.New(ferrors.SchedulerInternal, fmt.Sprintf("sacct failed: %s", string(res.Stderr)))
	}
	return parseSacct(string(res.Stdout)), nil
}

// parseSacct decodes sacctFormat rows, attaching step rows (JobID
// containing ".") to their owning job as Tasks (spec.md §4.3).
func parseSacct(output string) []Job {
	byID := make(map[string]*Job)
	var order []string

	for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		if line == "" {
			continue
		}
		f := strings.Split(line, "|")
		if len(f) < 20 {
			continue
		}
		rawID := f[0]
		baseID, isStep := splitStepID(rawID)

		job, ok := byID[baseID]
		if !ok {
			job = &Job{ID: baseID}
			byID[baseID] = job
			order = append(order, baseID)
		}

		state := mapSlurmState(f[2])
		exitCode := parseExitCode(f[3])
		start := parseSlurmTime(f[4])
		end := parseSlurmTime(f[5])
		elapsed := parseSlurmDuration(f[6])

		if isStep {
			job.Tasks = append(job.Tasks, Task{
				ID: rawID, State: state, ExitCode: exitCode,
				StartTime: start, EndTime: end, ElapsedSec: elapsed,
			})
			continue
		}

		job.Name = f[1]
		job.State = state
		job.Partition = f[7]
		if f[8] != "" && f[8] != "None assigned" {
			job.NodeList = expandNodeList(f[8])
		}
		job.User = f[9]
		job.WorkDir = f[10]
		job.SubmitAt = parseSlurmTime(f[11])
		job.StartAt = start
		job.EndAt = end
	}

	jobs := make([]Job, 0, len(order))
	for _, id := range order {
		jobs = append(jobs, *byID[id])
	}
	return jobs
}

func splitStepID(rawID string) (string, bool) {
	if i := strings.Index(rawID, "."); i >= 0 {
		return rawID[:i], true
	}
	return rawID, false
}

func parseExitCode(s string) *int {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) == 0 {
		return nil
	}
	v, err := strconv.Atoi(parts[0])
	if err != nil {
		return nil
	}
	return &v
}

func parseSlurmTime(s string) *time.Time {
	if s == "" || s == "Unknown" || s == "None" {
		return nil
	}
	t, err := time.Parse("2006-01-02T15:04:05", s)
	if err != nil {
		return nil
	}
	return &t
}

// parseSlurmDuration parses [DD-]HH:MM:SS[.ms] into seconds.
func parseSlurmDuration(s string) int64 {
	s = strings.SplitN(s, ".", 2)[0]
	var days int64
	if i := strings.Index(s, "-"); i >= 0 {
		days, _ = strconv.ParseInt(s[:i], 10, 64)
		s = s[i+1:]
	}
	parts := strings.Split(s, ":")
	var h, m, sec int64
	switch len(parts) {
	case 3:
		h, _ = strconv.ParseInt(parts[0], 10, 64)
		m, _ = strconv.ParseInt(parts[1], 10, 64)
		sec, _ = strconv.ParseInt(parts[2], 10, 64)
	case 2:
		m, _ = strconv.ParseInt(parts[0], 10, 64)
		sec, _ = strconv.ParseInt(parts[1], 10, 64)
	case 1:
		sec, _ = strconv.ParseInt(parts[0], 10, 64)
	}
	return days*86400 + h*3600 + m*60 + sec
}

func mapSlurmState(state string) TaskState {
	state = strings.ToUpper(strings.SplitN(state, " ", 2)[0])
	switch {
	case strings.HasPrefix(state, "PENDING"):
		return StatePending
	case strings.HasPrefix(state, "RUNNING"), strings.HasPrefix(state, "CONFIGURING"):
		return StateRunning
	case strings.HasPrefix(state, "COMPLETED"):
		return StateCompleted
	case strings.HasPrefix(state, "CANCELLED"):
		return StateCancelled
	case strings.HasPrefix(state, "TIMEOUT"):
		return StateTimeout
	case strings.HasPrefix(state, "FAILED"), strings.HasPrefix(state, "NODE_FAIL"), strings.HasPrefix(state, "OUT_OF_MEMORY"):
		return StateFailed
	default:
		return StateUnknown
	}
}

// GetJobMetadata runs `scontrol show -o job` and `scontrol write
// batch_script -` in parallel to recover stdout/stderr/stdin/script paths
// and the script text (spec.md §4.3). If scontrol fails and the Slurm
// version is >= 24.05.0, it falls back to an sacct query for the
// stdin/stdout/stderr paths.
func (c *ShellClient) GetJobMetadata(ctx context.Context, jobID, user, token string) ([]JobMetadata, error) {
	var (
		showRes, scriptRes sshpool.ExecResult
		showErr, scriptErr error
		wg                 sync.WaitGroup
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		showRes, showErr = c.run(ctx, user, token, fmt.Sprintf("scontrol show -o job %s", jobID))
	}()
	go func() {
		defer wg.Done()
		scriptRes, scriptErr = c.run(ctx, user, token, fmt.Sprintf("scontrol write batch_script %s -", jobID))
	}()
	wg.Wait()

	if showErr == nil && showRes.ExitStatus == 0 {
		meta := parseScontrolJobMetadata(string(showRes.Stdout), jobID)
		if scriptErr == nil && scriptRes.ExitStatus == 0 {
			meta.Script = string(scriptRes.Stdout)
		}
		return []JobMetadata{meta}, nil
	}

	if isVersionAtLeast(c.SlurmVersion, "24.05.0") {
		cmd := fmt.Sprintf("sacct -j %s --format=JobID,StdIn,StdOut,StdErr --parsable2 --noheader", jobID)
		res, err := c.run(ctx, user, token, cmd)
		if err == nil && res.ExitStatus == 0 {
			meta := parseSacctJobMetadata(string(res.Stdout), jobID)
			scriptRes2, err2 := c.run(ctx, user, token, fmt.Sprintf("sacct -j %s --batch-script", jobID))
			if err2 == nil && scriptRes2.ExitStatus == 0 {
				meta.Script = string(scriptRes2.Stdout)
			}
			return []JobMetadata{meta}, nil
		}
	}

	return nil, ferrors.New(ferrors.SchedulerInternal, fmt.Sprintf("could not fetch metadata for job %s", jobID))
}

var scontrolFieldRe = regexp.MustCompile(`(\S+)=("[^"]*"|\S*)`)

func parseScontrolKV(s string) map[string]string {
	out := make(map[string]string)
	for _, m := range scontrolFieldRe.FindAllStringSubmatch(s, -1) {
		out[m[1]] = strings.Trim(m[2], `"`)
	}
	return out
}

func parseScontrolJobMetadata(output, jobID string) JobMetadata {
	kv := parseScontrolKV(output)
	return JobMetadata{
		JobID:      jobID,
		StdIn:      kv["StdIn"],
		StdOut:     kv["StdOut"],
		StdErr:     kv["StdErr"],
		ScriptPath: kv["Command"],
	}
}

func parseSacctJobMetadata(output, jobID string) JobMetadata {
	for _, line := range strings.Split(strings.TrimRight(output, "\n"), "\n") {
		f := strings.Split(line, "|")
		if len(f) < 4 {
			continue
		}
		if base, _ := splitStepID(f[0]); base != jobID {
			continue
		}
		return JobMetadata{JobID: jobID, StdIn: f[1], StdOut: f[2], StdErr: f[3]}
	}
	return JobMetadata{JobID: jobID}
}

// CancelJob runs `scancel --verbose`; any "error:" line in stderr is a
// failure even when the exit status is 0 (spec.md §4.3).
//
// scancel --user is left unused here: operators decide per deployment
// whether non-owners may cancel another user's job, and spec.md frames
// re-enabling it as an operational Slurm-configuration choice rather than
// something this adapter should default to (see DESIGN.md Open Question
// #2).
func (c *ShellClient) CancelJob(ctx context.Context, jobID, user, token string) (bool, error) {
	res, err := c.run(ctx, user, token, fmt.Sprintf("scancel --verbose %s", jobID))
	if err != nil {
		return false, err
	}
	if strings.Contains(string(res.Stderr), "error:") {
		return false, ferrors.New(ferrors.SchedulerInternal, fmt.Sprintf("scancel failed: %s", string(res.Stderr)))
	}
	if res.ExitStatus != 0 {
		return false, ferrors.New(ferrors.SchedulerInternal, fmt.Sprintf("scancel failed: %s", string(res.Stderr)))
	}
	return true, nil
}

const sinfoFormat = "%z|%c|%O|%e|%f|%N|%o|%n|%T|%R|%w|%v|%m|%C"

// GetNodes runs `sinfo -N` and merges rows by node name, since sinfo
// emits one row per (node, partition) pair (spec.md §4.3).
func (c *ShellClient) GetNodes(ctx context.Context, user, token string) ([]Node, error) {
	cmd := fmt.Sprintf("sinfo -N --format=%s", sinfoFormat)
	res, err := c.run(ctx, user, token, cmd)
	if err != nil {
		return nil, err
	}
	if res.ExitStatus != 0 {
		return nil, ferrors.New(ferrors.SchedulerInternal, fmt.Sprintf("sinfo failed: %s", string(res.Stderr)))
	}

	byName := make(map[string]*Node)
	var order []string
	for _, line := range strings.Split(strings.TrimRight(string(res.Stdout), "\n"), "\n") {
		if line == "" {
			continue
		}
		f := strings.Split(line, "|")
		if len(f) < 14 {
			continue
		}
		name := f[7]
		n, ok := byName[name]
		if !ok {
			cpus, _ := strconv.Atoi(f[1])
			n = &Node{
				Name: name, Sockets: f[0], CPUs: cpus, CoresPerSocket: f[2],
				FreeMem: f[3], Features: f[4], Weight: f[6],
				State: f[8], Reason: f[9], RealMemory: f[12], CPUsLoad: f[13],
			}
			byName[name] = n
			order = append(order, name)
		}
		partition := strings.TrimSuffix(f[5], "*")
		n.Partitions = append(n.Partitions, partition)
	}

	nodes := make([]Node, 0, len(order))
	for _, name := range order {
		nodes = append(nodes, *byName[name])
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Name < nodes[j].Name })
	return nodes, nil
}

// GetPartitions and GetReservations both parse scontrol's `show -o`
// key=value line format.
func (c *ShellClient) GetPartitions(ctx context.Context, user, token string) ([]Partition, error) {
	res, err := c.run(ctx, user, token, "scontrol show -o partitions")
	if err != nil {
		return nil, err
	}
	var out []Partition
	for _, line := range strings.Split(strings.TrimRight(string(res.Stdout), "\n"), "\n") {
		if line == "" {
			continue
		}
		kv := parseScontrolKV(line)
		out = append(out, Partition{
			Name: kv["PartitionName"], State: kv["State"],
			TotalCPUs: kv["TotalCPUs"], TotalNodes: kv["TotalNodes"], Nodes: kv["Nodes"],
		})
	}
	return out, nil
}

func (c *ShellClient) GetReservations(ctx context.Context, user, token string) ([]Reservation, error) {
	res, err := c.run(ctx, user, token, "scontrol show -o reservations")
	if err != nil {
		return nil, err
	}
	var out []Reservation
	for _, line := range strings.Split(strings.TrimRight(string(res.Stdout), "\n"), "\n") {
		if line == "" {
			continue
		}
		kv := parseScontrolKV(line)
		out = append(out, Reservation{
			Name: kv["ReservationName"], StartTime: kv["StartTime"],
			EndTime: kv["EndTime"], Nodes: kv["Nodes"], State: kv["State"],
		})
	}
	return out, nil
}

// Ping runs `scontrol ping`, whose output lists one controller per line
// as "Slurmctld(primary/backup) at HOST is UP/DOWN".
func (c *ShellClient) Ping(ctx context.Context, user, token string) (PingResult, error) {
	res, err := c.run(ctx, user, token, "scontrol ping")
	if err != nil {
		return PingResult{}, err
	}
	var result PingResult
	for _, line := range strings.Split(strings.TrimRight(string(res.Stdout), "\n"), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		up := strings.Contains(line, " is UP") || strings.HasSuffix(line, "UP")
		result.Controllers = append(result.Controllers, ControllerStatus{Name: line, Up: up})
	}
	return result, nil
}

// expandNodeList expands a Slurm hostlist expression. Only the common
// comma-separated-literal form is handled directly; bracketed ranges
// (e.g. "node[01-04]") are passed through as a single entry rather than
// expanded, since this adapter never needs individual node identities for
// anything beyond display.
func expandNodeList(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

// shQuote single-quotes an sbatch flag value the same way internal/command
// quotes paths: embedded quotes are closed, escaped, and reopened.
func shQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// isVersionAtLeast compares two dotted version strings; an empty actual
// version is treated as older than any requirement.
func isVersionAtLeast(actual, required string) bool {
	if actual == "" {
		return false
	}
	a := strings.Split(actual, ".")
	r := strings.Split(required, ".")
	for i := 0; i < len(r); i++ {
		var av, rv int
		if i < len(a) {
			av, _ = strconv.Atoi(a[i])
		}
		rv, _ = strconv.Atoi(r[i])
		if av != rv {
			return av > rv
		}
	}
	return true
}
