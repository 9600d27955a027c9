package ldapauth

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestExitCodeFor(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ExitCode
		reason   FailureReason
	}{
		{name: "nil", err: nil, expected: ExitSuccess, reason: ReasonNone},
		{name: "config", err: &ConfigError{Key: "SERVER", Reason: "must be set"}, expected: ExitUsage, reason: ReasonConfig},
		{name: "credentials", err: &CredentialError{Reason: "username is empty"}, expected: ExitUsage, reason: ReasonCredentials},
		{name: "unsupported client", err: &UnsupportedClientError{Kind: "wget"}, expected: ExitUsage, reason: ReasonUnsupportedClient},
		{name: "bind", err: &BindError{DN: "uid=jdoe", Cause: errors.New("invalid credentials")}, expected: ExitFailure, reason: ReasonBind},
		{name: "authorization", err: &AuthorizationError{Entries: 0}, expected: ExitFailure, reason: ReasonAuthorization},
		{name: "identity", err: errors.Wrap(ErrIdentityNotFound, "lookup"), expected: ExitFailure, reason: ReasonIdentityNotFound},
		{name: "wrapped config", err: errors.Wrap(&ConfigError{Key: "FILTER"}, "render"), expected: ExitUsage, reason: ReasonConfig},
		{
			name:     "config error behind bind error",
			err:      &BindError{Cause: &ConfigError{Key: "TLS_CA_CERT", Reason: "missing"}},
			expected: ExitUsage,
			reason:   ReasonConfig,
		},
		{name: "unknown", err: errors.New("boom"), expected: ExitFailure, reason: ReasonBind},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ExitCodeFor(tt.err))
			assert.Equal(t, tt.reason, reasonFor(tt.err))
		})
	}
}

func TestErrorMessages(t *testing.T) {
	assert.Equal(t, "invalid configuration: TIMEOUT: must be positive", (&ConfigError{Key: "TIMEOUT", Reason: "must be positive"}).Error())
	assert.Equal(t, "invalid configuration: cannot read x", (&ConfigError{Reason: "cannot read x"}).Error())
	assert.Equal(t, `unsupported client "wget"`, (&UnsupportedClientError{Kind: "wget"}).Error())
	assert.Equal(t, "authorization search returned no entry", (&AuthorizationError{}).Error())
	assert.Equal(t, "authorization search is ambiguous: 3 entries", (&AuthorizationError{Entries: 3}).Error())

	cause := errors.New("invalid credentials")
	bindErr := &BindError{DN: "uid=jdoe", Cause: cause}
	assert.Equal(t, `bind failed for "uid=jdoe": invalid credentials`, bindErr.Error())
	assert.True(t, errors.Is(bindErr, cause))
}
