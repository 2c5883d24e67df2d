// Package command implements the Command Set (spec.md §4.2): typed values
// that render a shell command line and parse its textual stdout/stderr/exit
// status into either a result or a typed failure.
//
// Every concrete command here is grounded on one of
// original_source/src/firecrest/filesystem/ops/commands/*.py, translated
// from a Python class hierarchy into a flat set of Go value types
// implementing the same renderCommandLine/parseOutput split. Shell text is
// built by hand (single-quoted paths, `--` option/path separators) rather
// than via a quoting library, matching every example repo in the pack:
// none of them import a shell-quoting dependency, they all construct argv
// or command strings directly.
package command

import (
	"fmt"
	"strings"

	"github.com/germanfgv/firecrest-v2/internal/ferrors"
)

// UtilitiesTimeout bounds small utility commands independent of the SSH
// channel's own executeTimeout (spec.md §4.2 "Utility wrapping").
const UtilitiesTimeout = 5

// Command renders a command line to execute over a PooledSession and
// parses the three-part result of running it.
type Command interface {
	RenderCommandLine() string
	ParseOutput(stdout, stderr string, exitStatus int) (any, error)
}

// quote single-quotes s for embedding in a shell command line. Paths coming
// from request input must never be interpolated unquoted (spec.md §4.2).
// Embedded single quotes are closed, escaped, and reopened, the same
// trick every POSIX shell-quoting routine uses.
func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// Quote exposes the same shell single-quoting rule to callers outside this
// package that render their own command lines around a Command's output
// (the transfer orchestrator's data-motion scripts).
func Quote(s string) string {
	return quote(s)
}

// withTimeout prefixes cmd with the utility timeout wrapper.
func withTimeout(cmd string) string {
	return fmt.Sprintf("timeout %d %s", UtilitiesTimeout, cmd)
}

func internalf(format string, a ...any) error {
	return ferrors.New(ferrors.Internal, fmt.Sprintf(format, a...))
}

// mapError applies the shared error mapping policy of spec.md §4.2: exit
// 124 is always a timeout; otherwise stderr substrings pick the error
// kind, in the same priority order as
// base_command_error_handling.BaseCommandErrorHandling.error_handling.
func mapError(stderr string, exitStatus int) error {
	msg := fmt.Sprintf("remote process failed with exit status %d", exitStatus)
	if stderr != "" {
		msg += ": " + strings.TrimSpace(stderr)
	}

	if exitStatus == 124 {
		return ferrors.Timeoutf("%s", msg)
	}
	switch {
	case strings.Contains(stderr, "No such file or directory"):
		return ferrors.NotFoundf("%s", msg)
	case strings.Contains(stderr, "Permission denied"):
		return ferrors.Forbiddenf("%s", msg)
	case strings.Contains(stderr, "Operation not permitted"):
		return ferrors.Forbiddenf("%s", msg)
	case strings.Contains(stderr, "File exists"):
		return ferrors.Conflictf("%s", msg)
	case strings.Contains(stderr, "invalid user"):
		return ferrors.BadRequestf("%s", msg)
	default:
		return ferrors.New(ferrors.Internal, msg)
	}
}
