package ldapauth

import (
	"log/slog"
	"os"
)

// Credentials are supplied once per invocation and never persisted.
type Credentials struct {
	Username string
	Password string
}

// LogValue keeps the password out of log output.
func (c Credentials) LogValue() slog.Value {
	return slog.GroupValue(slog.String("username", c.Username))
}

// CredentialsFromEnv reads the username and password from the environment,
// the way OpenVPN (via-env) and Home Assistant pass them.
func CredentialsFromEnv() Credentials {
	return Credentials{
		Username: firstEnv("username", "USERNAME"),
		Password: firstEnv("password", "PASSWORD"),
	}
}

func firstEnv(keys ...string) string {
	for _, key := range keys {
		if value, ok := os.LookupEnv(key); ok {
			return value
		}
	}
	return ""
}

// ValidateCredentials checks presence and format only. pattern, when not
// empty, must match the whole username.
func ValidateCredentials(creds Credentials, pattern string) error {
	if creds.Username == "" {
		return &CredentialError{Reason: "username is empty"}
	}
	if creds.Password == "" {
		return &CredentialError{Reason: "password is empty"}
	}
	if pattern == "" {
		return nil
	}
	re, err := compileUsernamePattern(pattern)
	if err != nil {
		return &ConfigError{Key: "USERNAME_PATTERN", Reason: err.Error()}
	}
	if !re.MatchString(creds.Username) {
		return &CredentialError{Reason: "username does not match USERNAME_PATTERN"}
	}
	return nil
}
