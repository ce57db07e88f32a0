// Package shellapplier is a reference implementation of the Applier
// outbound contract ("apply(repository, commit) -> ok|failed{kind,
// message}, may stream progress events"). It shells out to a configured
// command, treating the target-service application/reload mechanism as an
// opaque external process, wrapping the call behind a narrow interface with
// a timeout and a structured error — the same shape an RPC client would use,
// generalized from an RPC call to a subprocess invocation.
package shellapplier

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/festion/homelab-gitops-auditor/internal/svcerr"
)

// result is the trailing JSON line a well-behaved apply command prints on
// its last line of stdout, e.g. {"ok":true} or
// {"ok":false,"kind":"apply_failed","message":"template render error"}.
type result struct {
	OK      bool   `json:"ok"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ProgressFunc receives each stdout line the apply command emits before its
// trailing result line, i.e. the "may stream progress events" half of the
// contract.
type ProgressFunc func(line string)

// Applier runs a configured shell command per apply, passing repository and
// commit as positional arguments.
type Applier struct {
	command []string
	timeout time.Duration
	onLine  ProgressFunc
}

// Option configures an Applier.
type Option func(*Applier)

// WithTimeout bounds a single apply invocation. Zero means no additional
// timeout beyond the caller's context.
func WithTimeout(d time.Duration) Option {
	return func(a *Applier) { a.timeout = d }
}

// WithProgress registers a callback invoked for each non-final stdout line.
func WithProgress(fn ProgressFunc) Option {
	return func(a *Applier) { a.onLine = fn }
}

// New constructs an Applier. command is the executable and leading
// arguments; repository and commit are appended for each invocation.
func New(command []string, opts ...Option) *Applier {
	a := &Applier{command: command}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Apply runs the configured command as `<command...> <repository> <commit>`
// and interprets its exit status and trailing JSON result line.
func (a *Applier) Apply(ctx context.Context, repository, commit string) error {
	if len(a.command) == 0 {
		return svcerr.New(svcerr.ApplyFailed, "no apply command configured")
	}

	runCtx := ctx
	var cancel context.CancelFunc
	if a.timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	args := append(append([]string{}, a.command[1:]...), repository, commit)
	cmd := exec.CommandContext(runCtx, a.command[0], args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return svcerr.Wrap(svcerr.ApplyFailed, "failed to attach to apply command stdout", err)
	}
	var stderr strings.Builder
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return svcerr.Wrap(svcerr.ApplyFailed, "failed to start apply command", err)
	}

	var last string
	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		if last != "" && a.onLine != nil {
			a.onLine(last)
		}
		last = line
	}

	waitErr := cmd.Wait()

	if runCtx.Err() != nil {
		return svcerr.Wrap(svcerr.Timeout, "apply command exceeded its timeout", runCtx.Err())
	}
	if waitErr != nil {
		return svcerr.Wrap(svcerr.ApplyFailed, "apply command exited with an error: "+stderr.String(), waitErr)
	}

	var res result
	if err := json.Unmarshal([]byte(strings.TrimSpace(last)), &res); err != nil {
		return svcerr.Wrap(svcerr.ApplyFailed, "apply command did not emit a result line", err)
	}
	if !res.OK {
		kind := res.Kind
		if kind == "" {
			kind = "apply_failed"
		}
		return svcerr.New(svcerr.ApplyFailed, fmt.Sprintf("%s: %s", kind, res.Message))
	}
	return nil
}
