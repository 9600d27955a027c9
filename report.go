package ldapauth

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
)

// FailureReason says which phase rejected the request. Only debug logging
// exposes it; callers see success or failure.
type FailureReason string

const (
	ReasonNone              FailureReason = ""
	ReasonConfig            FailureReason = "config"
	ReasonCredentials       FailureReason = "credentials"
	ReasonUnsupportedClient FailureReason = "unsupported_client"
	ReasonBind              FailureReason = "bind"
	ReasonIdentityNotFound  FailureReason = "identity_not_found"
	ReasonAuthorization     FailureReason = "authorization"
)

// Outcome is the result of one invocation.
type Outcome struct {
	Username   string
	Success    bool
	EntryCount int
	RawOutput  string
	Reason     FailureReason
	Err        error
}

// ExitCode maps the outcome to the process status.
func (o *Outcome) ExitCode() ExitCode {
	if o.Success {
		return ExitSuccess
	}
	if o.Err == nil {
		return ExitFailure
	}
	return ExitCodeFor(o.Err)
}

// Hook is run once after the decision, with the raw directory output.
type Hook interface {
	Run(ctx context.Context, outcome *Outcome) error
}

// HookFunc adapts a function to Hook.
type HookFunc func(ctx context.Context, outcome *Outcome) error

func (f HookFunc) Run(ctx context.Context, outcome *Outcome) error {
	return f(ctx, outcome)
}

// Hooks runs each hook in order and stops at the first error.
type Hooks []Hook

func (h Hooks) Run(ctx context.Context, outcome *Outcome) error {
	for _, hook := range h {
		if err := hook.Run(ctx, outcome); err != nil {
			return err
		}
	}
	return nil
}

// CommandHook runs a shell command with the raw directory output on stdin.
// The password is removed from the command's environment.
type CommandHook struct {
	Command string
	Stdout  io.Writer
	Stderr  io.Writer
}

func (h *CommandHook) Run(ctx context.Context, outcome *Outcome) error {
	cmd := exec.CommandContext(ctx, "sh", "-c", h.Command)
	cmd.Stdin = strings.NewReader(outcome.RawOutput)
	cmd.Stdout = h.Stdout
	cmd.Stderr = h.Stderr
	cmd.Env = append(hookEnv(os.Environ()), "username="+outcome.Username)
	if err := cmd.Run(); err != nil {
		return errors.Wrapf(err, "hook %q failed", h.Command)
	}
	return nil
}

func hookEnv(environ []string) []string {
	env := make([]string, 0, len(environ))
	for _, kv := range environ {
		name, _, _ := strings.Cut(kv, "=")
		switch name {
		case "password", "PASSWORD", "username", "USERNAME":
			continue
		}
		env = append(env, kv)
	}
	return env
}

// OutputAttr prints an attribute of the authenticated entry as
// "Key = value". With CN set, DN values are shortened to their CN.
type OutputAttr struct {
	Attr string
	Key  string
	CN   bool
}

// parseOutputAttr parses "attr", "attr:key" or "attr:key:cn".
func parseOutputAttr(s string) (OutputAttr, error) {
	parts := strings.Split(s, ":")
	if len(parts) > 3 || parts[0] == "" {
		return OutputAttr{}, errors.Errorf("malformed output attribute %q", s)
	}
	attr := OutputAttr{Attr: parts[0], Key: parts[0]}
	if len(parts) > 1 && parts[1] != "" {
		attr.Key = parts[1]
	}
	if len(parts) == 3 {
		if !strings.EqualFold(parts[2], "cn") {
			return OutputAttr{}, errors.Errorf("unknown modifier %q in %q", parts[2], s)
		}
		attr.CN = true
	}
	return attr, nil
}

// ParseOutputAttrs parses OUTPUT_ATTRS entries.
func ParseOutputAttrs(values []string) ([]OutputAttr, error) {
	attrs := make([]OutputAttr, 0, len(values))
	for _, value := range values {
		attr, err := parseOutputAttr(value)
		if err != nil {
			return nil, err
		}
		attrs = append(attrs, attr)
	}
	return attrs, nil
}

// AttributeHook prints selected attributes of the single returned entry as
// "key = value" lines, the meta format Home Assistant reads.
type AttributeHook struct {
	Attrs  []OutputAttr
	Stdout io.Writer
}

func (h *AttributeHook) Run(_ context.Context, outcome *Outcome) error {
	records, err := ParseOutput(outcome.RawOutput)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		return nil
	}
	record := records[0]
	for _, attr := range h.Attrs {
		for _, value := range record.GetAll(attr.Attr) {
			if attr.CN {
				value = parseCN(value)
			}
			if _, err := fmt.Fprintf(h.Stdout, "%s = %s\n", attr.Key, value); err != nil {
				return errors.Wrap(err, "cannot write attribute output")
			}
		}
	}
	return nil
}

// Reporter logs the decision, runs the matching hook and returns the exit
// code. Usage errors skip the hooks.
type Reporter struct {
	OnSuccess Hook
	OnFailure Hook
	Logger    *slog.Logger
}

func (r *Reporter) Report(ctx context.Context, outcome *Outcome) ExitCode {
	logger := r.Logger
	if logger == nil {
		logger = discardLogger()
	}
	code := outcome.ExitCode()

	switch {
	case code == ExitSuccess:
		logger.Info("auth_succeeded", slog.String("username", outcome.Username))
	case code == ExitUsage:
		logger.Error("auth_rejected_usage",
			slog.String("username", outcome.Username),
			slog.String("error", errString(outcome.Err)))
		return code
	default:
		logger.Info("auth_failed", slog.String("username", outcome.Username))
		logger.Debug("auth_failure_detail",
			slog.String("reason", string(outcome.Reason)),
			slog.Int("entries", outcome.EntryCount),
			slog.String("error", errString(outcome.Err)))
	}
	if outcome.RawOutput != "" {
		logger.Debug("directory_output", slog.String("output", outcome.RawOutput))
	}

	hook := r.OnFailure
	if code == ExitSuccess {
		hook = r.OnSuccess
	}
	if hook != nil {
		if err := hook.Run(ctx, outcome); err != nil {
			logger.Warn("hook_failed", slog.String("error", err.Error()))
		}
	}
	return code
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
