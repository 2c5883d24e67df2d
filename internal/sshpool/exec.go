package sshpool

import (
	"bytes"
	"context"
	"errors"
	"io"
	"time"

	"github.com/germanfgv/firecrest-v2/internal/ferrors"
	"github.com/germanfgv/firecrest-v2/internal/metrics"
	"golang.org/x/crypto/ssh"
)

// DefaultBufferLimit is the default cap on stdout/stderr capture, per
// spec.md §4.1 ("bufferLimit (default 5 MiB)").
const DefaultBufferLimit = 5 * 1024 * 1024

// ExecResult carries the outcome of a single remote command execution.
type ExecResult struct {
	Stdout     []byte
	Stderr     []byte
	ExitStatus int
}

// Exec runs cmd on the session's underlying SSH client, enforcing
// executeTimeout, capping stdout/stderr at bufferLimit, and optionally
// feeding a single stdin payload before closing it (spec.md §4.1
// "Command execution").
func Exec(ctx context.Context, sess *PooledSession, cmd string, stdin []byte, executeTimeout time.Duration, bufferLimit int) (ExecResult, error) {
	if bufferLimit <= 0 {
		bufferLimit = DefaultBufferLimit
	}

	timer := metrics.NewTimer()

	session, err := sess.client.NewSession()
	if err != nil {
		return ExecResult{}, connectionLostError()
	}
	defer session.Close()

	stdoutPipe, err := session.StdoutPipe()
	if err != nil {
		return ExecResult{}, connectionError(err)
	}
	stderrPipe, err := session.StderrPipe()
	if err != nil {
		return ExecResult{}, connectionError(err)
	}

	var stdinPipe io.WriteCloser
	if stdin != nil {
		stdinPipe, err = session.StdinPipe()
		if err != nil {
			return ExecResult{}, connectionError(err)
		}
	}

	if err := session.Start(cmd); err != nil {
		return ExecResult{}, connectionError(err)
	}

	type readOutcome struct {
		buf     []byte
		limited bool
	}

	readCapped := func(r io.Reader) <-chan readOutcome {
		ch := make(chan readOutcome, 1)
		go func() {
			buf, limited := readWithCap(r, bufferLimit)
			ch <- readOutcome{buf: buf, limited: limited}
		}()
		return ch
	}

	stdoutCh := readCapped(stdoutPipe)
	stderrCh := readCapped(stderrPipe)

	if stdinPipe != nil {
		_, werr := stdinPipe.Write(stdin)
		stdinPipe.Close()
		if werr != nil && !errors.Is(werr, io.ErrClosedPipe) {
			return ExecResult{}, connectionError(werr)
		}
	}

	waitDone := make(chan error, 1)
	go func() { waitDone <- session.Wait() }()

	var waitErr error
	select {
	case waitErr = <-waitDone:
	case <-time.After(executeTimeout):
		session.Close()
		return ExecResult{}, timeoutError("command execution")
	case <-ctx.Done():
		session.Close()
		return ExecResult{}, ctx.Err()
	}

	stdoutOutcome := <-stdoutCh
	stderrOutcome := <-stderrCh

	timer.ObserveDurationVec(metrics.SSHCommandDuration, "")

	if stdoutOutcome.limited || stderrOutcome.limited {
		return ExecResult{}, ferrors.New(ferrors.OutputTooLarge, "remote command output exceeded buffer limit")
	}

	exitStatus := 0
	if waitErr != nil {
		var exitErr *ssh.ExitError
		if errors.As(waitErr, &exitErr) {
			exitStatus = exitErr.ExitStatus()
		} else if errors.Is(waitErr, io.EOF) {
			return ExecResult{}, connectionLostError()
		} else {
			return ExecResult{}, connectionError(waitErr)
		}
	}

	return ExecResult{
		Stdout:     stdoutOutcome.buf,
		Stderr:     stderrOutcome.buf,
		ExitStatus: exitStatus,
	}, nil
}

// readWithCap reads r to completion (or EOF), returning at most limit
// bytes and reporting whether the limit was reached before EOF.
func readWithCap(r io.Reader, limit int) ([]byte, bool) {
	var buf bytes.Buffer
	lr := io.LimitReader(r, int64(limit)+1)
	n, _ := io.Copy(&buf, lr)
	if n > int64(limit) {
		return buf.Bytes()[:limit], true
	}
	return buf.Bytes(), false
}
