package main

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	ldapauth "github.com/xonoko/ldap-auth"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "ldap-auth.conf")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

const baseConfig = `SERVER=ldap://127.0.0.1:1
USERDN='uid={{.Username}},ou=people,dc=example,dc=com'
TIMEOUT=1
USERNAME_PATTERN='[a-z]+'
ON_AUTH_FAILURE='echo failure-hook'
`

func TestRun_Usage(t *testing.T) {
	tests := []struct {
		name   string
		args   func(t *testing.T) []string
		user   string
		stderr string
	}{
		{
			name:   "missing config file",
			args:   func(t *testing.T) []string { return []string{filepath.Join(t.TempDir(), "missing.conf")} },
			user:   "jdoe",
			stderr: "config_invalid",
		},
		{
			name:   "too many arguments",
			args:   func(t *testing.T) []string { return []string{"a", "b"} },
			user:   "jdoe",
			stderr: "Usage:",
		},
		{
			name:   "unknown flag",
			args:   func(t *testing.T) []string { return []string{"-x"} },
			user:   "jdoe",
			stderr: "flag provided but not defined",
		},
		{
			name:   "invalid config",
			args:   func(t *testing.T) []string { return []string{writeConfig(t, "SERVER=ldap://127.0.0.1:1\nTIMEOUT=1\n")} },
			user:   "jdoe",
			stderr: "USERDN or BINDDN",
		},
		{
			name:   "unsupported client",
			args:   func(t *testing.T) []string { return []string{"-c", writeConfig(t, baseConfig+"CLIENT=wget\n")} },
			user:   "jdoe",
			stderr: "unsupported client",
		},
		{
			name:   "malformed username",
			args:   func(t *testing.T) []string { return []string{writeConfig(t, baseConfig)} },
			user:   "jdoe,ou=admins",
			stderr: "auth_rejected_usage",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("username", tt.user)
			t.Setenv("password", "secret")

			var stdout, stderr bytes.Buffer
			code := run(tt.args(t), &stdout, &stderr)

			assert.Equal(t, ldapauth.ExitUsage, code)
			assert.Empty(t, stdout.String(), "no hook may run")
			assert.Contains(t, stderr.String(), tt.stderr)
			assert.NotContains(t, stderr.String(), "secret")
		})
	}
}

func TestRun_UnreachableServerFails(t *testing.T) {
	t.Setenv("username", "jdoe")
	t.Setenv("password", "secret")

	var stdout, stderr bytes.Buffer
	code := run([]string{writeConfig(t, baseConfig)}, &stdout, &stderr)

	assert.Equal(t, ldapauth.ExitFailure, code)
	assert.Equal(t, "failure-hook\n", stdout.String())
	assert.Contains(t, stderr.String(), "msg=auth_failed")
	assert.Contains(t, stderr.String(), "username=jdoe")
	assert.Contains(t, stderr.String(), "invocation_id=")
}
