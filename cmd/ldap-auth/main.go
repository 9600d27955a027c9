// Command ldap-auth checks the username and password found in the
// environment against an LDAP directory. It exits 0 when access is granted,
// 1 when it is denied and 2 on configuration or usage errors.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"

	ldapauth "github.com/xonoko/ldap-auth"
)

const defaultConfigPath = "/etc/ldap-auth.conf"

func main() {
	os.Exit(int(run(os.Args[1:], os.Stdout, os.Stderr)))
}

func run(args []string, stdout, stderr io.Writer) ldapauth.ExitCode {
	flags := flag.NewFlagSet("ldap-auth", flag.ContinueOnError)
	flags.SetOutput(stderr)
	configPath := flags.String("c", defaultConfigPath, "path of the configuration file")
	flags.Usage = func() {
		fmt.Fprintf(stderr, "Usage: %s [-c CONFIG] [CONFIG]\n\n", flags.Name())
		fmt.Fprintln(stderr, "Reads username and password from the environment.")
		flags.PrintDefaults()
	}
	if err := flags.Parse(args); err != nil {
		return ldapauth.ExitUsage
	}
	switch flags.NArg() {
	case 0:
	case 1:
		*configPath = flags.Arg(0)
	default:
		flags.Usage()
		return ldapauth.ExitUsage
	}

	logger := newLogger(stderr, false)

	config, err := ldapauth.LoadConfig(*configPath)
	if err == nil {
		err = config.Validate()
	}
	if err != nil {
		logger.Error("config_invalid", slog.String("path", *configPath), slog.String("error", err.Error()))
		return ldapauth.ExitCodeFor(err)
	}
	logger = newLogger(stderr, config.Debug)

	authenticator, err := ldapauth.NewAuthenticator(config, ldapauth.WithLogger(logger))
	if err != nil {
		logger.Error("config_invalid", slog.String("path", *configPath), slog.String("error", err.Error()))
		return ldapauth.ExitCodeFor(err)
	}

	ctx := context.Background()
	outcome := authenticator.Authenticate(ctx, ldapauth.CredentialsFromEnv())

	reporter := newReporter(config, logger, stdout, stderr)
	return reporter.Report(ctx, outcome)
}

// newLogger writes to stderr only; stdout is reserved for hook output.
func newLogger(w io.Writer, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{Level: level})
	return slog.New(handler).With(slog.String("invocation_id", uuid.NewString()))
}

func newReporter(config *ldapauth.Config, logger *slog.Logger, stdout, stderr io.Writer) *ldapauth.Reporter {
	reporter := &ldapauth.Reporter{Logger: logger}

	var onSuccess ldapauth.Hooks
	if len(config.OutputAttrs) > 0 {
		attrs, err := ldapauth.ParseOutputAttrs(config.OutputAttrs)
		if err == nil {
			onSuccess = append(onSuccess, &ldapauth.AttributeHook{Attrs: attrs, Stdout: stdout})
		}
	}
	if config.OnAuthSuccess != "" {
		onSuccess = append(onSuccess, &ldapauth.CommandHook{Command: config.OnAuthSuccess, Stdout: stdout, Stderr: stderr})
	}
	if len(onSuccess) > 0 {
		reporter.OnSuccess = onSuccess
	}
	if config.OnAuthFailure != "" {
		reporter.OnFailure = &ldapauth.CommandHook{Command: config.OnAuthFailure, Stdout: stdout, Stderr: stderr}
	}
	return reporter
}
