package ldapauth

import (
	"fmt"

	"github.com/pkg/errors"
)

// ExitCode is the process status reported to the calling application.
type ExitCode int

const (
	ExitSuccess ExitCode = 0
	ExitFailure ExitCode = 1
	ExitUsage   ExitCode = 2
)

// ErrIdentityNotFound is returned when the service-account lookup does not
// yield exactly one entry for the username.
var ErrIdentityNotFound = errors.New("identity not found")

var errNotBound = errors.New("not bound")

// ConfigError reports an incomplete or inconsistent configuration.
type ConfigError struct {
	Key    string
	Reason string
}

func (e *ConfigError) Error() string {
	if e.Key == "" {
		return "invalid configuration: " + e.Reason
	}
	return fmt.Sprintf("invalid configuration: %s: %s", e.Key, e.Reason)
}

// CredentialError reports missing or malformed credentials.
type CredentialError struct {
	Reason string
}

func (e *CredentialError) Error() string {
	return "invalid credentials: " + e.Reason
}

// UnsupportedClientError is returned for an unknown CLIENT selection.
type UnsupportedClientError struct {
	Kind string
}

func (e *UnsupportedClientError) Error() string {
	return fmt.Sprintf("unsupported client %q", e.Kind)
}

// BindError covers wrong credentials, unreachable servers and timeouts.
type BindError struct {
	DN    string
	Cause error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("bind failed for %q: %v", e.DN, e.Cause)
}

func (e *BindError) Unwrap() error {
	return e.Cause
}

// AuthorizationError is returned when the authorization search does not
// return exactly one entry.
type AuthorizationError struct {
	Entries int
}

// Ambiguous reports whether the search matched more than one entry.
func (e *AuthorizationError) Ambiguous() bool {
	return e.Entries > 1
}

func (e *AuthorizationError) Error() string {
	if e.Ambiguous() {
		return fmt.Sprintf("authorization search is ambiguous: %d entries", e.Entries)
	}
	return "authorization search returned no entry"
}

// ExitCodeFor maps an error returned by the authenticator to the process
// exit code. Usage errors are distinct from authentication failures.
func ExitCodeFor(err error) ExitCode {
	if err == nil {
		return ExitSuccess
	}
	var (
		configErr *ConfigError
		credErr   *CredentialError
		clientErr *UnsupportedClientError
	)
	switch {
	case errors.As(err, &configErr), errors.As(err, &credErr), errors.As(err, &clientErr):
		return ExitUsage
	default:
		return ExitFailure
	}
}

// reasonFor classifies err for the Outcome.
func reasonFor(err error) FailureReason {
	var (
		configErr *ConfigError
		credErr   *CredentialError
		clientErr *UnsupportedClientError
		bindErr   *BindError
		authzErr  *AuthorizationError
	)
	switch {
	case err == nil:
		return ReasonNone
	case errors.As(err, &configErr):
		return ReasonConfig
	case errors.As(err, &credErr):
		return ReasonCredentials
	case errors.As(err, &clientErr):
		return ReasonUnsupportedClient
	case errors.Is(err, ErrIdentityNotFound):
		return ReasonIdentityNotFound
	case errors.As(err, &authzErr):
		return ReasonAuthorization
	case errors.As(err, &bindErr):
		return ReasonBind
	default:
		return ReasonBind
	}
}
