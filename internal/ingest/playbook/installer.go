package playbook

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/phoenixmesh/phoenix/internal/sandbox"
)

// allowedInstallers whitelists package managers a playbook's install
// command may name, and the subcommands allowed for each. Recovered from
// original_source's safe_installer tool, which validated installation
// commands before handing them to a shell.
var allowedInstallers = map[string][]string{
	"pip":     {"install", "uninstall", "upgrade"},
	"pip3":    {"install", "uninstall", "upgrade"},
	"cargo":   {"install", "add", "update"},
	"npm":     {"install", "i", "add", "global"},
	"yarn":    {"add", "global", "install"},
	"brew":    {"install", "upgrade", "tap"},
	"apt-get": {"install", "update", "upgrade"},
	"apt":     {"install", "update", "upgrade"},
	"dnf":     {"install", "update", "upgrade"},
	"yum":     {"install", "update", "upgrade"},
	"pacman":  {"-S", "-U", "-Sy"},
	"git":     {"clone"},
}

// dangerousChars rejects an install command outright if any shell
// metacharacter is present, since ValidateInstallCommand's result is run
// as a bare argv rather than through a shell.
const dangerousChars = ";&|`$()<>\n\r"

// ErrInstallCommandUnsafe is returned by ValidateInstallCommand when a
// command fails the package-manager whitelist or metacharacter check.
type ErrInstallCommandUnsafe struct {
	Command string
	Reason  string
}

func (e *ErrInstallCommandUnsafe) Error() string {
	return fmt.Sprintf("playbook: install command %q rejected: %s", e.Command, e.Reason)
}

// ValidateInstallCommand parses an install command string into a
// program and argv, refusing anything outside the package-manager
// whitelist, any action not registered for that program, and any command
// carrying shell metacharacters or output redirection.
func ValidateInstallCommand(command string) (program string, argv []string, err error) {
	trimmed := strings.TrimSpace(command)
	if trimmed == "" {
		return "", nil, &ErrInstallCommandUnsafe{Command: command, Reason: "empty command"}
	}
	if strings.ContainsAny(trimmed, dangerousChars) {
		return "", nil, &ErrInstallCommandUnsafe{Command: command, Reason: "shell metacharacters are not allowed"}
	}

	parts := strings.Fields(trimmed)
	name := strings.ToLower(parts[0])
	actions, ok := allowedInstallers[name]
	if !ok {
		return "", nil, &ErrInstallCommandUnsafe{Command: command, Reason: fmt.Sprintf("package manager %q is not whitelisted", name)}
	}
	if len(parts) < 2 {
		return "", nil, &ErrInstallCommandUnsafe{Command: command, Reason: fmt.Sprintf("%q requires at least one argument", name)}
	}

	action := strings.ToLower(parts[1])
	allowed := false
	for _, a := range actions {
		if strings.HasPrefix(action, a) {
			allowed = true
			break
		}
	}
	if !allowed {
		return "", nil, &ErrInstallCommandUnsafe{Command: command, Reason: fmt.Sprintf("action %q is not allowed for %q", action, name)}
	}

	return name, parts[1:], nil
}

// Installer runs a Playbook's install and verification commands through
// the mesh's sandbox executor and folds the outcome into the playbook's
// reliability stats. Unlike a twin's ordinary command_exec calls, an
// install command is validated against the package-manager whitelist
// before it ever reaches the sandbox, since it runs unattended from a
// stored recipe rather than an approved twin tool call.
type Installer struct {
	exec *sandbox.Executor
}

// NewInstaller builds an Installer over an existing sandbox executor.
func NewInstaller(exec *sandbox.Executor) *Installer {
	return &Installer{exec: exec}
}

// Install runs pb's install command for twinID, verifies the result if
// pb has a verification command, and records the attempt via
// UpdatePlaybookStats. The returned error, if any, is the install or
// verification failure; stats are updated regardless of outcome.
func (in *Installer) Install(ctx context.Context, twinID string, pb *Playbook) (sandbox.Result, error) {
	program, argv, err := ValidateInstallCommand(pb.InstallCommand)
	if err != nil {
		UpdatePlaybookStats(pb, false)
		return sandbox.Result{}, err
	}

	result, err := in.exec.Run(ctx, twinID, program, argv)
	if err != nil {
		UpdatePlaybookStats(pb, false)
		return result, fmt.Errorf("playbook: install %s: %w", pb.ToolName, err)
	}
	if result.ExitCode != 0 {
		UpdatePlaybookStats(pb, false)
		return result, fmt.Errorf("playbook: install %s exited %d", pb.ToolName, result.ExitCode)
	}

	if pb.VerificationCommand == "" {
		UpdatePlaybookStats(pb, true)
		return result, nil
	}

	verifyParts := strings.Fields(pb.VerificationCommand)
	if len(verifyParts) == 0 {
		UpdatePlaybookStats(pb, true)
		return result, nil
	}
	verify, err := in.exec.Run(ctx, twinID, verifyParts[0], verifyParts[1:])
	success := err == nil && verify.ExitCode == 0
	UpdatePlaybookStats(pb, success)
	if !success {
		if err == nil {
			err = fmt.Errorf("playbook: verification of %s exited %d", pb.ToolName, verify.ExitCode)
		}
		return verify, err
	}

	now := time.Now()
	pb.VerifiedAt = &now
	return verify, nil
}
