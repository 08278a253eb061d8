// Package sandbox executes tool commands inside a per-twin, per-execution
// isolated working directory (§4.9). It never reaches for a container
// runtime: isolation is directory scoping plus an optional bubblewrap
// (bwrap) namespace wrapper, never Docker, Firecracker, or a microVM.
//
// Authorization is a twin-scoped policy table grounded on the teacher's
// internal/tools/policy.Resolver: each twin id maps to a Rule (an
// allow-list with an optional "*" wildcard, a disallow-list that always
// wins, and a safe-mode flag that additionally blocks a fixed set of
// destructive verbs), with a Default rule applied to any twin with no
// entry of its own.
package sandbox

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	defaultTimeout  = 10 * time.Second
	maxOutputLines  = 200
	maxOutputBytes  = 32 * 1024
	maxHistoryItems = 1000

	exitSpawnNotFound   = 127
	exitSpawnNoPerm     = 126
	exitSpawnOtherError = 1
	exitTimeout         = 124

	// sharedTwinDir is used for tool calls with no twin id (e.g. a node
	// operator driving the admin API directly rather than through a twin).
	sharedTwinDir = "_shared"
)

// destructiveVerbs are logical names or leading shell tokens a safe-mode
// Rule refuses regardless of Allow, covering the disallow-list spec.md
// §4.9 calls for irrespective of what a twin's allow-list otherwise grants.
var destructiveVerbs = []string{
	"rm", "rm -rf", "rmdir", "dd", "mkfs", "shutdown", "reboot", "halt",
	"kill", "pkill", "killall", "shred", "format", ":(){:|:&};:",
}

// Rule is one twin's tool-execution policy. Deny always takes precedence
// over Allow. An empty Allow means "allow anything not denied"; "*" in
// Allow or Deny matches every logical name.
type Rule struct {
	Allow    []string
	Deny     []string
	SafeMode bool
}

func (r Rule) permits(logicalName string, shellArgs []string) bool {
	if matchesAny(r.Deny, logicalName) {
		return false
	}
	if len(r.Allow) > 0 && !matchesAny(r.Allow, logicalName) {
		return false
	}
	if r.SafeMode && isDestructive(logicalName, shellArgs) {
		return false
	}
	return true
}

func matchesAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if p == "*" || p == name {
			return true
		}
	}
	return false
}

func isDestructive(logicalName string, shellArgs []string) bool {
	candidates := []string{strings.ToLower(logicalName)}
	if logicalName == "command_exec" && len(shellArgs) == 1 {
		candidates = append(candidates, strings.ToLower(strings.TrimSpace(shellArgs[0])))
	}
	for _, candidate := range candidates {
		for _, verb := range destructiveVerbs {
			if candidate == verb || strings.HasPrefix(candidate, verb+" ") {
				return true
			}
		}
	}
	return false
}

// Policy is the twin id → Rule table §4.9 requires.
type Policy struct {
	// Default applies to any twin id with no entry in ByTwin.
	Default Rule
	// ByTwin overrides Default for specific twin ids.
	ByTwin map[string]Rule

	// Bubblewrap enables namespace isolation via bwrap when true and the
	// binary is present on PATH. It is silently skipped (not an error)
	// when unavailable, since directory isolation alone still holds.
	Bubblewrap bool
	Timeout    time.Duration
}

func (p Policy) ruleFor(twinID string) Rule {
	if rule, ok := p.ByTwin[twinID]; ok {
		return rule
	}
	return p.Default
}

// Result is one execution's outcome.
type Result struct {
	ID        string
	TwinID    string
	Command   string
	Args      []string
	Cwd       string
	Stdout    string
	Stderr    string
	ExitCode  int
	Truncated bool
	StartedAt time.Time
	Duration  time.Duration
}

// ErrCommandNotAllowed is returned when a twin's rule denies a logical
// name (by an explicit Deny, a non-matching Allow, or safe-mode).
var ErrCommandNotAllowed = errors.New("sandbox: command not permitted by policy")

// Executor runs policy-checked commands under a shared sandbox root and
// retains a bounded execution history.
type Executor struct {
	mu      sync.Mutex
	root    string
	policy  Policy
	history []Result
}

// New builds an executor rooted at sandboxRoot. Each execution gets its
// own `<sandboxRoot>/<twin_id>/<exec_id>/` working directory.
func New(sandboxRoot string, policy Policy) *Executor {
	if policy.Timeout <= 0 {
		policy.Timeout = defaultTimeout
	}
	return &Executor{root: sandboxRoot, policy: policy}
}

// Run executes a logical command on behalf of twinID. "command_exec" is
// special-cased: a single string argument is run through the platform
// shell (/bin/sh -c on POSIX, cmd /C on Windows) so shell pipelines and
// redirection keep working; every other logical name runs its argv
// directly with no shell interpretation.
func (e *Executor) Run(ctx context.Context, twinID, logicalName string, args []string) (Result, error) {
	rule := e.policy.ruleFor(twinID)
	if !rule.permits(logicalName, args) {
		return Result{}, fmt.Errorf("%w: %s", ErrCommandNotAllowed, logicalName)
	}

	execID := uuid.NewString()
	execDir, err := e.prepareExecDir(twinID, execID)
	if err != nil {
		return Result{}, fmt.Errorf("sandbox: prepare exec dir: %w", err)
	}

	runCtx, cancel := context.WithTimeout(ctx, e.policy.Timeout)
	defer cancel()

	cmd := e.buildCommand(runCtx, execDir, logicalName, args)
	cmd.Dir = execDir

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	start := time.Now()
	runErr := cmd.Run()
	duration := time.Since(start)

	exitCode, spawnErr := classifyError(runCtx, runErr)

	out, outTrunc := truncateOutput(stdout.String())
	errOut, errTrunc := truncateOutput(stderr.String())

	result := Result{
		ID:        execID,
		TwinID:    twinID,
		Command:   logicalName,
		Args:      args,
		Cwd:       execDir,
		Stdout:    out,
		Stderr:    errOut,
		ExitCode:  exitCode,
		Truncated: outTrunc || errTrunc,
		StartedAt: start,
		Duration:  duration,
	}

	e.record(result)
	return result, spawnErr
}

func (e *Executor) prepareExecDir(twinID, execID string) (string, error) {
	if twinID == "" {
		twinID = sharedTwinDir
	}
	dir := filepath.Join(e.root, twinID, execID)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return "", err
	}
	return dir, nil
}

func (e *Executor) buildCommand(ctx context.Context, execDir, logicalName string, args []string) *exec.Cmd {
	if logicalName == "command_exec" && len(args) == 1 {
		if runtime.GOOS == "windows" {
			return e.wrap(ctx, execDir, exec.CommandContext(ctx, "cmd", "/C", args[0]))
		}
		return e.wrap(ctx, execDir, exec.CommandContext(ctx, "/bin/sh", "-c", args[0]))
	}
	return e.wrap(ctx, execDir, exec.CommandContext(ctx, logicalName, args...))
}

// wrap optionally re-executes the built command under bubblewrap for
// namespace isolation, binding only this execution's own directory. It
// only rewrites argv; it never swaps in a container runtime.
func (e *Executor) wrap(ctx context.Context, execDir string, cmd *exec.Cmd) *exec.Cmd {
	if !e.policy.Bubblewrap {
		return cmd
	}
	bwrapPath, err := exec.LookPath("bwrap")
	if err != nil {
		return cmd
	}
	bwrapArgs := []string{
		"--ro-bind", "/usr", "/usr",
		"--ro-bind", "/bin", "/bin",
		"--ro-bind", "/lib", "/lib",
		"--bind", execDir, execDir,
		"--dev", "/dev",
		"--proc", "/proc",
		"--unshare-all",
		"--die-with-parent",
		"--chdir", execDir,
	}
	bwrapArgs = append(bwrapArgs, cmd.Path)
	bwrapArgs = append(bwrapArgs, cmd.Args[1:]...)
	return exec.CommandContext(ctx, bwrapPath, bwrapArgs...)
}

func classifyError(ctx context.Context, err error) (exitCode int, spawnErr error) {
	if err == nil {
		return 0, nil
	}
	if ctx.Err() == context.DeadlineExceeded {
		return exitTimeout, fmt.Errorf("sandbox: command timed out")
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if errors.Is(err, os.ErrNotExist) || errors.Is(err, exec.ErrNotFound) {
		return exitSpawnNotFound, err
	}
	if errors.Is(err, os.ErrPermission) {
		return exitSpawnNoPerm, err
	}
	return exitSpawnOtherError, err
}

func truncateOutput(s string) (string, bool) {
	truncated := false
	if len(s) > maxOutputBytes {
		s = s[:maxOutputBytes]
		truncated = true
	}
	lines := splitLines(s)
	if len(lines) > maxOutputLines {
		lines = lines[:maxOutputLines]
		truncated = true
	}
	return joinLines(lines), truncated
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			lines = append(lines, s[start:i])
			start = i + 1
		}
	}
	lines = append(lines, s[start:])
	return lines
}

func joinLines(lines []string) string {
	var out bytes.Buffer
	for i, l := range lines {
		if i > 0 {
			out.WriteByte('\n')
		}
		out.WriteString(l)
	}
	return out.String()
}

func (e *Executor) record(r Result) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, r)
	if len(e.history) > maxHistoryItems {
		e.history = e.history[len(e.history)-maxHistoryItems:]
	}
}

// History returns a copy of the bounded execution ring, oldest first.
func (e *Executor) History() []Result {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Result, len(e.history))
	copy(out, e.history)
	return out
}
