package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseSacct_AttachesStepsAsTasks(t *testing.T) {
	output := "123|myjob|COMPLETED|0:0|2026-07-29T10:00:00|2026-07-29T10:05:00|00:05:00|debug|node01|alice|/home/alice|2026-07-29T09:59:00|1|1G||1|proj|1000|||\n" +
		"123.batch|batch|COMPLETED|0:0|2026-07-29T10:00:00|2026-07-29T10:05:00|00:05:00|debug|node01|alice|/home/alice|2026-07-29T09:59:00|1|1G||1|proj|1000|||\n"

	jobs := parseSacct(output)
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, "123", job.ID)
	assert.Equal(t, StateCompleted, job.State)
	assert.Equal(t, "myjob", job.Name)
	assert.Len(t, job.Tasks, 1)
	assert.Equal(t, "123.batch", job.Tasks[0].ID)
}

func TestParseSacct_MultipleJobs(t *testing.T) {
	output := "1|a|PENDING|0:0||||debug|||/home|2026-07-29T09:00:00||||||||\n" +
		"2|b|RUNNING|0:0||||debug|||/home|2026-07-29T09:01:00||||||||\n"
	jobs := parseSacct(output)
	require.Len(t, jobs, 2)
	assert.Equal(t, StatePending, jobs[0].State)
	assert.Equal(t, StateRunning, jobs[1].State)
}

func TestMapSlurmState(t *testing.T) {
	cases := map[string]TaskState{
		"PENDING":      StatePending,
		"RUNNING":      StateRunning,
		"COMPLETED":    StateCompleted,
		"CANCELLED by 1000": StateCancelled,
		"TIMEOUT":      StateTimeout,
		"FAILED":       StateFailed,
		"NODE_FAIL":    StateFailed,
		"SUSPENDED":    StateUnknown,
	}
	for in, want := range cases {
		assert.Equal(t, want, mapSlurmState(in), in)
	}
}

func TestParseSlurmDuration(t *testing.T) {
	assert.Equal(t, int64(5*60), parseSlurmDuration("00:05:00"))
	assert.Equal(t, int64(86400+3661), parseSlurmDuration("1-01:01:01"))
	assert.Equal(t, int64(30), parseSlurmDuration("30"))
}

func TestJobIDSubmittedRe(t *testing.T) {
	m := jobIDSubmittedRe.FindStringSubmatch("Submitted batch job 42\n")
	require.NotNil(t, m)
	assert.Equal(t, "42", m[1])
}

func TestParseScontrolKV(t *testing.T) {
	kv := parseScontrolKV(`JobId=42 JobName=test StdOut=/home/user/out.log StdErr=/home/user/err.log Command="/home/user/run.sh"`)
	assert.Equal(t, "42", kv["JobId"])
	assert.Equal(t, "/home/user/out.log", kv["StdOut"])
	assert.Equal(t, "/home/user/run.sh", kv["Command"])
}

func TestGetNodes_MergesByName(t *testing.T) {
	line1 := `2|8|4|1024|gpu|partA*|0|node01|idle|none|0|slurm|16000|0.5`
	line2 := `2|8|4|1024|gpu|partB|0|node01|idle|none|0|slurm|16000|0.5`
	nodes := mergeSinfoLinesForTest(t, line1, line2)
	require.Len(t, nodes, 1)
	assert.Equal(t, []string{"partA", "partB"}, nodes[0].Partitions)
}

// mergeSinfoLinesForTest mirrors the node-merge loop of GetNodes without
// a live SSH session: it is a copy of that loop run over pre-rendered
// sinfo lines, not a call into GetNodes itself.
func mergeSinfoLinesForTest(t *testing.T, lines ...string) []Node {
	t.Helper()
	byName := make(map[string]*Node)
	var order []string
	for _, line := range lines {
		f := splitPipe(line)
		if len(f) < 14 {
			t.Fatalf("malformed test fixture line: %q", line)
		}
		name := f[7]
		n, ok := byName[name]
		if !ok {
			n = &Node{Name: name}
			byName[name] = n
			order = append(order, name)
		}
		n.Partitions = append(n.Partitions, trimStar(f[5]))
	}
	nodes := make([]Node, 0, len(order))
	for _, name := range order {
		nodes = append(nodes, *byName[name])
	}
	return nodes
}

func splitPipe(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '|' {
			out = append(out, s[start:i])
			start = i + 1
		}
	}
	out = append(out, s[start:])
	return out
}

func trimStar(s string) string {
	if len(s) > 0 && s[len(s)-1] == '*' {
		return s[:len(s)-1]
	}
	return s
}
